package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

var pptxFlow = flowSpec{
	para:       "p",
	text:       "t",
	table:      "tbl",
	row:        "tr",
	cell:       "tc",
	tab:        "tab",
	brk:        "br",
	tableClass: "bordered",
	onStart: func(se xml.StartElement, st *flowState) {
		switch se.Name.Local {
		case "sp", "graphicFrame":
			st.shapeTitle = false
		case "ph":
			switch attr(se, "type") {
			case "title", "ctrTitle":
				st.shapeTitle = true
			}
		}
	},
}

type presentationXML struct {
	Slides []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationshipsXML struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// PPTX converts each slide to a slide block, in presentation order.
func PPTX(p string) (Result, error) {
	zr, err := openZip(p)
	if err != nil {
		return Result{}, err
	}
	defer zr.Close()

	slides := slideOrder(zr)
	if len(slides) == 0 {
		return Result{}, fmt.Errorf("no slides found")
	}
	var out strings.Builder
	for i, name := range slides {
		data, err := readFile(zr, name)
		if err != nil {
			return Result{}, err
		}
		n := i + 1
		fmt.Fprintf(&out, "<div class=\"slide\" data-slide=\"%d\">\n<h2 class=\"slide-number\">Slide %d</h2>\n", n, n)
		if err := renderFlow(bytes.NewReader(data), pptxFlow, &out); err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", name, err)
		}
		out.WriteString("</div><hr class=\"slide-divider\"/>\n")
	}
	return Result{HTML: out.String(), Units: len(slides)}, nil
}

// slideOrder resolves slides through presentation.xml, falling back to numeric file order.
func slideOrder(zr *zip.ReadCloser) []string {
	var pres presentationXML
	var rels relationshipsXML
	pdata, perr := readFile(zr, "ppt/presentation.xml")
	rdata, rerr := readFile(zr, "ppt/_rels/presentation.xml.rels")
	if perr == nil && rerr == nil && xml.Unmarshal(pdata, &pres) == nil && xml.Unmarshal(rdata, &rels) == nil {
		targets := map[string]string{}
		for _, r := range rels.Rels {
			targets[r.ID] = resolveTarget("ppt", r.Target)
		}
		var out []string
		for _, s := range pres.Slides {
			if t, ok := targets[s.RID]; ok && findFile(zr, t) != nil {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	type numbered struct {
		name string
		n    int
	}
	var found []numbered
	for _, f := range zr.File {
		dir, base := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(base, "slide") || !strings.HasSuffix(base, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "slide"), ".xml"))
		if err != nil {
			continue
		}
		found = append(found, numbered{f.Name, n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out
}
