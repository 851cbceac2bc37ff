package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

var hwpxFlow = flowSpec{
	para:       "p",
	text:       "t",
	table:      "tbl",
	row:        "tr",
	cell:       "tc",
	tab:        "tab",
	brk:        "lineBreak",
	tableClass: "hwp-table",
}

// HWPX converts the body sections of an HWPX (OWPML) document.
func HWPX(path string) (Result, error) {
	zr, err := openZip(path)
	if err != nil {
		return Result{}, err
	}
	defer zr.Close()

	var sections []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "Contents/section") && strings.HasSuffix(f.Name, ".xml") {
			sections = append(sections, f.Name)
		}
	}
	if len(sections) == 0 {
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, ".xml") && strings.Contains(strings.ToLower(f.Name), "section") {
				sections = append(sections, f.Name)
			}
		}
	}
	if len(sections) == 0 {
		return Result{}, fmt.Errorf("no section parts found")
	}
	sort.Strings(sections)

	var out strings.Builder
	for _, name := range sections {
		data, err := readFile(zr, name)
		if err != nil {
			return Result{}, err
		}
		if err := renderFlow(bytes.NewReader(data), hwpxFlow, &out); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return Result{HTML: out.String(), Units: len(sections)}, nil
}
