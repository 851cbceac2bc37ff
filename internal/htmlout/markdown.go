package htmlout

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	whitespace   = regexp.MustCompile(`\s+`)
	spacedBreaks = regexp.MustCompile(` *\n *`)
)

var blockTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.P: true, atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Blockquote: true,
	atom.Pre: true, atom.Hr: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true,
}

// Markdown converts cleaned HTML to markdown. Tables become pipe tables.
func Markdown(clean string) (string, error) {
	root, err := parseFragment(clean)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	renderBlocks(&b, root)
	return tidyMarkdown(b.String()), nil
}

func renderBlocks(b *strings.Builder, n *html.Node) {
	var inline strings.Builder
	flush := func() {
		if s := paragraph(inline.String()); s != "" {
			b.WriteString(s)
			b.WriteString("\n\n")
		}
		inline.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && blockTags[c.DataAtom] {
			flush()
			renderBlock(b, c)
			continue
		}
		inline.WriteString(renderInline(c))
	}
	flush()
}

func renderBlock(b *strings.Builder, n *html.Node) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		if s := paragraph(inlineChildren(n)); s != "" {
			level := int(n.Data[1] - '0')
			fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", level), strings.ReplaceAll(s, "\n", " "))
		}
	case atom.P:
		if s := paragraph(inlineChildren(n)); s != "" {
			b.WriteString(s)
			b.WriteString("\n\n")
		}
	case atom.Ul, atom.Ol:
		renderList(b, n, 0)
		b.WriteString("\n")
	case atom.Table:
		renderTable(b, n)
	case atom.Blockquote:
		var inner strings.Builder
		renderBlocks(&inner, n)
		for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
			b.WriteString(strings.TrimRight("> "+line, " "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	case atom.Pre:
		fmt.Fprintf(b, "```\n%s\n```\n\n", strings.Trim(textContent(n), "\n"))
	case atom.Hr:
		b.WriteString("---\n\n")
	default:
		renderBlocks(b, n)
	}
}

func renderList(b *strings.Builder, list *html.Node, depth int) {
	i := 0
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		i++
		marker := "-"
		if list.DataAtom == atom.Ol {
			marker = fmt.Sprintf("%d.", i)
		}
		var text strings.Builder
		var nested []*html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) {
				nested = append(nested, c)
				continue
			}
			text.WriteString(renderInline(c))
		}
		item := strings.ReplaceAll(paragraph(text.String()), "\n", " ")
		fmt.Fprintf(b, "%s%s %s\n", strings.Repeat("  ", depth), marker, item)
		for _, sub := range nested {
			renderList(b, sub, depth+1)
		}
	}
}

func renderTable(b *strings.Builder, table *html.Node) {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Tr:
				rows = append(rows, tableCells(c))
			case atom.Thead, atom.Tbody, atom.Tfoot:
				walk(c)
			}
		}
	}
	walk(table)

	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return
	}
	writeRow := func(r []string) {
		for len(r) < cols {
			r = append(r, "")
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(r, " | "))
		b.WriteString(" |\n")
	}
	writeRow(rows[0])
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, r := range rows[1:] {
		writeRow(r)
	}
	b.WriteString("\n")
}

func tableCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		s := strings.ReplaceAll(paragraph(inlineChildren(c)), "\n", " ")
		cells = append(cells, strings.ReplaceAll(s, "|", `\|`))
	}
	return cells
}

func renderInline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return whitespace.ReplaceAllString(n.Data, " ")
	case html.ElementNode:
	default:
		return ""
	}
	switch n.DataAtom {
	case atom.Br:
		return "\n"
	case atom.Strong, atom.B:
		return emphasis("**", inlineChildren(n))
	case atom.Em, atom.I:
		return emphasis("*", inlineChildren(n))
	case atom.Code:
		return "`" + textContent(n) + "`"
	case atom.A:
		text := strings.TrimSpace(inlineChildren(n))
		if href := attr(n, "href"); href != "" {
			return "[" + text + "](" + href + ")"
		}
		return text
	case atom.Img:
		return "![" + attr(n, "alt") + "](" + attr(n, "src") + ")"
	case atom.Ul, atom.Ol, atom.Table:
		var b strings.Builder
		renderBlock(&b, n)
		return " " + strings.TrimSpace(b.String()) + " "
	}
	return inlineChildren(n)
}

func inlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(renderInline(c))
	}
	return b.String()
}

func emphasis(marker, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return marker + s + marker
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func paragraph(s string) string {
	return strings.TrimSpace(spacedBreaks.ReplaceAllString(s, "\n"))
}

func tidyMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		empty := line == ""
		if empty && prevEmpty {
			continue
		}
		out = append(out, line)
		prevEmpty = empty
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
