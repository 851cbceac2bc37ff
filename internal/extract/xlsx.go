package extract

import (
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"
)

type workbookXML struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type sharedStringsXML struct {
	Items []struct {
		T    string `xml:"t"`
		Runs []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type worksheetXML struct {
	Rows []struct {
		R     int `xml:"r,attr"`
		Cells []struct {
			Ref    string `xml:"r,attr"`
			Type   string `xml:"t,attr"`
			Value  string `xml:"v"`
			Inline struct {
				T string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
	Merges []struct {
		Ref string `xml:"ref,attr"`
	} `xml:"mergeCells>mergeCell"`
}

// XLSX renders every worksheet as a table, honouring merged ranges.
func XLSX(path string) (Result, error) {
	zr, err := openZip(path)
	if err != nil {
		return Result{}, err
	}
	defer zr.Close()

	var wb workbookXML
	data, err := readFile(zr, "xl/workbook.xml")
	if err != nil {
		return Result{}, err
	}
	if err := xml.Unmarshal(data, &wb); err != nil {
		return Result{}, fmt.Errorf("parse workbook.xml: %w", err)
	}
	var rels relationshipsXML
	if data, err := readFile(zr, "xl/_rels/workbook.xml.rels"); err == nil {
		_ = xml.Unmarshal(data, &rels)
	}
	targets := map[string]string{}
	for _, r := range rels.Rels {
		targets[r.ID] = resolveTarget("xl", r.Target)
	}

	var shared []string
	if data, err := readFile(zr, "xl/sharedStrings.xml"); err == nil {
		var sst sharedStringsXML
		if err := xml.Unmarshal(data, &sst); err != nil {
			return Result{}, fmt.Errorf("parse sharedStrings.xml: %w", err)
		}
		for _, si := range sst.Items {
			if len(si.Runs) == 0 {
				shared = append(shared, si.T)
				continue
			}
			var b strings.Builder
			for _, r := range si.Runs {
				b.WriteString(r.T)
			}
			shared = append(shared, b.String())
		}
	}

	var out strings.Builder
	for i, sh := range wb.Sheets {
		part, ok := targets[sh.RID]
		if !ok {
			part = fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
		}
		data, err := readFile(zr, part)
		if err != nil {
			return Result{}, err
		}
		var ws worksheetXML
		if err := xml.Unmarshal(data, &ws); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", part, err)
		}
		name := html.EscapeString(sh.Name)
		fmt.Fprintf(&out, "<div class=\"sheet\" data-sheet=\"%s\">\n<h2 class=\"sheet-title\">%s</h2>\n", name, name)
		renderSheet(&out, ws, shared)
		out.WriteString("</div>\n")
	}
	return Result{HTML: out.String(), Units: len(wb.Sheets)}, nil
}

type span struct{ rows, cols int }

func renderSheet(out *strings.Builder, ws worksheetXML, shared []string) {
	grid := map[[2]int]string{}
	maxRow, maxCol := 0, 0
	for ri, row := range ws.Rows {
		r := row.R
		if r == 0 {
			r = ri + 1
		}
		for ci, c := range row.Cells {
			col, rr := ci+1, r
			if c.Ref != "" {
				if cc, rowFromRef, ok := splitRef(c.Ref); ok {
					col, rr = cc, rowFromRef
				}
			}
			grid[[2]int{rr, col}] = cellText(c.Type, c.Value, c.Inline.T, shared)
			if rr > maxRow {
				maxRow = rr
			}
			if col > maxCol {
				maxCol = col
			}
		}
	}

	origins := map[[2]int]span{}
	covered := map[[2]int]bool{}
	for _, m := range ws.Merges {
		parts := strings.Split(m.Ref, ":")
		if len(parts) != 2 {
			continue
		}
		c1, r1, ok1 := splitRef(parts[0])
		c2, r2, ok2 := splitRef(parts[1])
		if !ok1 || !ok2 {
			continue
		}
		origins[[2]int{r1, c1}] = span{rows: r2 - r1 + 1, cols: c2 - c1 + 1}
		for r := r1; r <= r2; r++ {
			for c := c1; c <= c2; c++ {
				if r != r1 || c != c1 {
					covered[[2]int{r, c}] = true
				}
			}
		}
		if r2 > maxRow {
			maxRow = r2
		}
		if c2 > maxCol {
			maxCol = c2
		}
	}

	out.WriteString("<table class=\"excel-table\">\n")
	for r := 1; r <= maxRow; r++ {
		out.WriteString("<tr>")
		for c := 1; c <= maxCol; c++ {
			key := [2]int{r, c}
			if covered[key] {
				continue
			}
			attrs := ""
			if sp, ok := origins[key]; ok {
				attrs = fmt.Sprintf(" rowspan=\"%d\" colspan=\"%d\"", sp.rows, sp.cols)
			}
			fmt.Fprintf(out, "<td%s>%s</td>", attrs, html.EscapeString(grid[key]))
		}
		out.WriteString("</tr>\n")
	}
	out.WriteString("</table>\n")
}

func cellText(typ, value, inline string, shared []string) string {
	switch typ {
	case "s":
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "inlineStr":
		return inline
	case "b":
		if value == "1" {
			return "TRUE"
		}
		return "FALSE"
	}
	return value
}

// splitRef parses an A1-style reference into 1-based column and row.
func splitRef(ref string) (col, row int, ok bool) {
	ref = strings.ReplaceAll(strings.ToUpper(ref), "$", "")
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, false
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil {
		return 0, 0, false
	}
	return col, row, true
}
