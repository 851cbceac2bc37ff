package patterns

import (
	"fmt"
	"strings"
)

const perSourcePromptRows = 25

var sourceTitles = map[string]string{
	SourceImagePDF:   "scanned PDF recognition",
	SourceDigitalDoc: "digital document conversion",
}

// PromptText renders patterns as markdown tables grouped by source, in the
// order sources first appear. At most 25 rows are written per source.
func PromptText(patterns []Pattern) string {
	if len(patterns) == 0 {
		return ""
	}
	var order []string
	bySource := map[string][]Pattern{}
	for _, p := range patterns {
		if _, ok := bySource[p.Source]; !ok {
			order = append(order, p.Source)
		}
		bySource[p.Source] = append(bySource[p.Source], p)
	}

	sections := make([]string, 0, len(order))
	for _, src := range order {
		title := sourceTitles[src]
		if title == "" {
			title = src
		}
		var b strings.Builder
		fmt.Fprintf(&b, "\n### Learned error patterns (%s)\n", title)
		b.WriteString("| Error | Correct | Frequency |\n")
		b.WriteString("|------|------|----------|\n")
		rows := bySource[src]
		if len(rows) > perSourcePromptRows {
			rows = rows[:perSourcePromptRows]
		}
		for _, p := range rows {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", cell(p.Original), cell(p.Corrected), p.Frequency)
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
