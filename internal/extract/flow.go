package extract

import (
	"encoding/xml"
	"html"
	"io"
	"strings"
)

// flowSpec names the elements of a paragraph/table flow vocabulary.
// docx, pptx and hwpx all share this shape with different local names.
type flowSpec struct {
	para  string
	text  string
	table string
	row   string
	cell  string
	tab   string
	brk   string
	// tableClass is the class attribute for emitted tables.
	tableClass string
	// onStart may adjust the heading level of the paragraph being built.
	onStart func(se xml.StartElement, st *flowState)
}

type flowState struct {
	heading    int
	shapeTitle bool
	inText     bool
	para       strings.Builder
	cellDepth  int
	cellUsed   []bool
}

// renderFlow streams r and writes HTML for paragraphs and tables to out.
func renderFlow(r io.Reader, spec flowSpec, out *strings.Builder) error {
	dec := xml.NewDecoder(r)
	st := &flowState{}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch name {
			case spec.para:
				st.para.Reset()
				st.heading = 0
				if st.shapeTitle {
					st.heading = 3
				}
			case spec.text:
				st.inText = true
			case spec.tab:
				st.para.WriteString(" ")
			case spec.brk:
				st.para.WriteString("<br/>")
			case spec.table:
				out.WriteString(`<table class="` + spec.tableClass + `">` + "\n")
			case spec.row:
				out.WriteString("<tr>")
			case spec.cell:
				out.WriteString("<td>")
				st.cellDepth++
				st.cellUsed = append(st.cellUsed, false)
			}
			if spec.onStart != nil {
				spec.onStart(t, st)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case spec.text:
				st.inText = false
			case spec.para:
				flushPara(st, out)
			case spec.cell:
				out.WriteString("</td>")
				st.cellDepth--
				st.cellUsed = st.cellUsed[:len(st.cellUsed)-1]
			case spec.row:
				out.WriteString("</tr>\n")
			case spec.table:
				out.WriteString("</table>\n")
			}
		case xml.CharData:
			if st.inText {
				st.para.WriteString(html.EscapeString(string(t)))
			}
		}
	}
}

func flushPara(st *flowState, out *strings.Builder) {
	text := strings.TrimSpace(st.para.String())
	st.para.Reset()
	if text == "" {
		return
	}
	if st.cellDepth > 0 {
		i := len(st.cellUsed) - 1
		if st.cellUsed[i] {
			out.WriteString("<br/>")
		}
		st.cellUsed[i] = true
		out.WriteString(text)
		return
	}
	switch st.heading {
	case 1, 2, 3:
		tag := "h" + string(rune('0'+st.heading))
		out.WriteString("<" + tag + ">" + text + "</" + tag + ">\n")
	default:
		out.WriteString("<p>" + text + "</p>\n")
	}
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
