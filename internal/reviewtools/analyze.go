package reviewtools

import (
	"regexp"
)

const maxFindings = 50

// confusion maps a correct glyph to the strings OCR commonly produces for it.
type confusion struct {
	correct string
	wrong   []string
}

// Order matters: findings are reported in this order.
var ocrConfusions = []confusion{
	// Hangul syllables read as Latin letters or digits.
	{"을", []string{"Z", "z", "2", "ㅡ"}},
	{"를", []string{"Z", "z", "2"}},
	{"은", []string{"E", "e", "ㅡ"}},
	{"의", []string{"9", "Q", "q"}},
	{"이", []string{"0", "O", "o", "l", "1"}},
	{"가", []string{"7", "71", "7l"}},
	{"에", []string{"M", "m"}},
	{"로", []string{"P", "p"}},
	{"하", []string{"8", "아"}},
	{"다", []string{"cl", "c1"}},
	{"와", []string{"9", "q"}},
	{"한", []string{"8"}},
	{"것", []string{"갓", "겄"}},
	{"수", []string{"子", "于"}},

	// Digits and letters.
	{"0", []string{"O", "o", "Q"}},
	{"1", []string{"l", "I", "|", "!"}},
	{"2", []string{"Z", "z"}},
	{"5", []string{"S", "s"}},
	{"6", []string{"G", "b"}},
	{"8", []string{"B", "&"}},

	// Legal terms.
	{"조", []string{"초", "소"}},
	{"항", []string{"향", "왕"}},
	{"호", []string{"효", "후"}},
	{"법", []string{"벌", "범"}},
	{"제", []string{"게", "재"}},
	{"원", []string{"웬", "윈"}},
	{"권", []string{"컨"}},
	{"자", []string{"차", "사"}},
}

type confusionRule struct {
	correct string
	wrong   string
	re      *regexp.Regexp
}

var (
	tagRE = regexp.MustCompile(`<[^>]+>`)

	confusionRules = func() []confusionRule {
		var rules []confusionRule
		for _, c := range ocrConfusions {
			for _, w := range c.wrong {
				rules = append(rules, confusionRule{
					correct: c.correct,
					wrong:   w,
					re:      regexp.MustCompile(`([가-힣])(` + regexp.QuoteMeta(w) + `)([가-힣])`),
				})
			}
		}
		return rules
	}()
)

// Finding is one suspected OCR confusion between two Hangul syllables.
type Finding struct {
	Found      string `json:"found"`
	Expected   string `json:"expected"`
	Context    string `json:"context"`
	Suggestion string `json:"suggestion"`
}

// Analysis is the result of AnalyzeOCRErrors.
type Analysis struct {
	Document   string    `json:"filename"`
	Findings   []Finding `json:"potential_errors"`
	TotalFound int       `json:"total_found"`
}

// AnalyzeText scans the visible text of an HTML document for known OCR
// confusions surrounded by Hangul. Findings are unique by (found, context)
// and capped at 50; TotalFound counts all unique findings.
func AnalyzeText(html string) ([]Finding, int) {
	text := tagRE.ReplaceAllString(html, " ")
	type key struct{ found, context string }
	seen := map[key]bool{}
	var out []Finding
	total := 0
	for _, r := range confusionRules {
		for _, m := range r.re.FindAllStringSubmatch(text, -1) {
			ctx := m[1] + m[2] + m[3]
			k := key{r.wrong, ctx}
			if seen[k] {
				continue
			}
			seen[k] = true
			total++
			if len(out) < maxFindings {
				out = append(out, Finding{
					Found:      r.wrong,
					Expected:   r.correct,
					Context:    ctx,
					Suggestion: m[1] + r.correct + m[3],
				})
			}
		}
	}
	return out, total
}

// AnalyzeOCRErrors runs AnalyzeText over a stored document.
func (w *Workspace) AnalyzeOCRErrors(name string) (Analysis, error) {
	html, err := w.ReadDocument(name)
	if err != nil {
		return Analysis{}, err
	}
	findings, total := AnalyzeText(html)
	return Analysis{Document: name, Findings: findings, TotalFound: total}, nil
}
