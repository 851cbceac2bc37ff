package extract

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

var spaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)

// PDF renders the text layer of a digital PDF, one block per page.
func PDF(path string) (Result, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var out strings.Builder
	out.WriteString("<div class=\"pdf-document\">\n")
	n := doc.NumPage()
	for i := 0; i < n; i++ {
		pageNum := i + 1
		fmt.Fprintf(&out, "<div class=\"pdf-page\" data-page=\"%d\">\n", pageNum)
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", pageNum).Str("pdf", path).Msg("failed to extract page text")
			out.WriteString("<p>[page extraction failed]</p>\n")
		} else {
			for _, para := range pageParagraphs(text, pageNum) {
				out.WriteString("<p>" + html.EscapeString(para) + "</p>\n")
			}
		}
		out.WriteString("</div>\n<hr class=\"page-break\"/>\n")
	}
	out.WriteString("</div>\n")
	return Result{HTML: out.String(), Units: n}, nil
}

// pageParagraphs splits page text on blank lines, joins wrapped lines and drops
// bare page-number lines.
func pageParagraphs(text string, pageNum int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
			if line == "" || isPageNumber(line, pageNum) {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			paras = append(paras, strings.Join(lines, " "))
		}
	}
	return paras
}

func isPageNumber(line string, pageNum int) bool {
	n := strconv.Itoa(pageNum)
	switch line {
	case n, "- " + n + " -", "[" + n + "]", "-" + n + "-":
		return true
	}
	return strings.EqualFold(line, "page "+n)
}
