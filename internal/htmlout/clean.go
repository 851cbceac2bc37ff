package htmlout

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var droppedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Meta: true, atom.Link: true, atom.Noscript: true,
	atom.Svg: true, atom.Iframe: true, atom.Button: true, atom.Input: true, atom.Form: true,
	atom.Nav: true, atom.Footer: true, atom.Aside: true, atom.Header: true, atom.Head: true,
	atom.Canvas: true, atom.Video: true, atom.Audio: true, atom.Embed: true, atom.Object: true,
}

var keptAttrs = map[string]bool{"rowspan": true, "colspan": true, "href": true, "src": true, "alt": true}

// elements that may legitimately be empty
var voidOK = map[atom.Atom]bool{atom.Img: true, atom.Br: true, atom.Hr: true, atom.Td: true, atom.Th: true}

var (
	blankRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
	betweenTag = regexp.MustCompile(`>\s+<`)
)

// parseFragment parses s as the content of a <body> and returns a detached
// container holding the resulting nodes.
func parseFragment(s string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// Clean strips a fragment down to structure and text for downstream models:
// noise elements, comments and presentational attributes are removed, images
// become their alt text and empty wrappers disappear.
func Clean(fragment string) (string, error) {
	root, err := parseFragment(fragment)
	if err != nil {
		return "", err
	}
	cleanChildren(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	out := blankRun.ReplaceAllString(buf.String(), " ")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	out = betweenTag.ReplaceAllString(out, ">\n<")
	return strings.TrimSpace(out), nil
}

func cleanChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(c)
		case html.ElementNode:
			switch {
			case droppedTags[c.DataAtom]:
				n.RemoveChild(c)
			case c.DataAtom == atom.Img:
				if alt := strings.TrimSpace(attr(c, "alt")); alt != "" {
					n.InsertBefore(&html.Node{Type: html.TextNode, Data: "[image: " + alt + "]"}, c)
				}
				n.RemoveChild(c)
			default:
				keep := c.Attr[:0]
				for _, a := range c.Attr {
					if keptAttrs[a.Key] {
						keep = append(keep, a)
					}
				}
				c.Attr = keep
				cleanChildren(c)
				if !voidOK[c.DataAtom] && isEmpty(c) {
					n.RemoveChild(c)
				}
			}
		}
		c = next
	}
}

func isEmpty(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// CleanDocument wraps a cleaned fragment in a minimal HTML document.
func CleanDocument(clean string) string {
	return "<!DOCTYPE html>\n<html lang=\"ko\">\n<head>\n<meta charset=\"UTF-8\">\n<title>AI Ready Document</title>\n</head>\n<body>\n" +
		clean + "\n</body>\n</html>\n"
}
