package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

var docxFlow = flowSpec{
	para:       "p",
	text:       "t",
	table:      "tbl",
	row:        "tr",
	cell:       "tc",
	tab:        "tab",
	brk:        "br",
	tableClass: "bordered",
	onStart: func(se xml.StartElement, st *flowState) {
		if se.Name.Local != "pStyle" {
			return
		}
		st.heading = headingLevel(attr(se, "val"))
	},
}

// headingLevel maps Word style ids such as "Heading1" or "Title" to h1-h3.
func headingLevel(style string) int {
	s := strings.ToLower(style)
	switch {
	case s == "title":
		return 1
	case strings.HasPrefix(s, "heading"):
		switch strings.TrimPrefix(s, "heading") {
		case "1":
			return 1
		case "2":
			return 2
		default:
			return 3
		}
	}
	return 0
}

// DOCX converts the main document part of a Word file.
func DOCX(path string) (Result, error) {
	zr, err := openZip(path)
	if err != nil {
		return Result{}, err
	}
	defer zr.Close()

	data, err := readFile(zr, "word/document.xml")
	if err != nil {
		return Result{}, err
	}
	var out strings.Builder
	if err := renderFlow(bytes.NewReader(data), docxFlow, &out); err != nil {
		return Result{}, fmt.Errorf("parse document.xml: %w", err)
	}
	return Result{HTML: out.String(), Units: 1}, nil
}
