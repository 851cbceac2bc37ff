package corrector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/ai"
	"github.com/local/docconvert/internal/patterns"
)

// Tier splits candidates into auto-applied and human-reviewed.
type Tier string

const (
	TierCertain   Tier = "certain"
	TierUncertain Tier = "uncertain"
)

// Candidate is one machine-proposed fix.
type Candidate struct {
	ID         string  `json:"id"`
	Location   string  `json:"location"`
	Original   string  `json:"original"`
	Proposed   string  `json:"proposed"`
	Category   string  `json:"category"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Tier       Tier    `json:"tier"`
}

// PatternSource is the part of the pattern store the corrector needs.
type PatternSource interface {
	BuildPrompt(ctx context.Context, source string, limit int) ([]patterns.Pattern, error)
	LogCorrection(ctx context.Context, e patterns.LogEntry) error
	MarkUsedByText(ctx context.Context, original, corrected, source string) (int, error)
}

var ErrNoClient = errors.New("corrector: no ai client configured")

type Corrector struct {
	client    ai.Client
	store     PatternSource
	threshold float64
	timeout   time.Duration
}

// New returns a corrector. Candidates with confidence >= threshold are certain.
func New(client ai.Client, store PatternSource, threshold float64, timeout time.Duration) *Corrector {
	return &Corrector{client: client, store: store, threshold: threshold, timeout: timeout}
}

const systemPrompt = `You review documents produced by OCR and office-format conversion and find conversion errors.

Look for:
- Hangul/Latin confusions (e.g. "을" read as "Z", "이" read as "0" or "l")
- digit/letter confusions (0/O, 1/l/I, 2/Z, 5/S)
- dropped particles or endings, wrong spacing
- look-alike syllables (e.g. "가"/"71", "의"/"9", "제"/"게")

Never propose changes to HTML tags or attributes. Only text content.

Answer with a JSON array and nothing else. Each element:
{"location": "<nearest heading, table cell or paragraph>", "original": "<exact text as it appears>", "proposed": "<corrected text>", "category": "<ocr|spacing|typo|other>", "reason": "<short reason>", "confidence": <0.0-1.0>}
Return [] when nothing needs fixing.`

// Propose asks the model for corrections to text, a converted document.
// Learned patterns for source are included in the prompt.
func (c *Corrector) Propose(ctx context.Context, docID, source, text string) ([]Candidate, error) {
	if c.client == nil {
		return nil, ErrNoClient
	}
	var prompt strings.Builder
	if c.store != nil {
		learned, err := c.store.BuildPrompt(ctx, source, 0)
		if err != nil {
			log.Warn().Err(err).Str("doc", docID).Msg("learned patterns unavailable")
		} else if section := patterns.PromptText(learned); section != "" {
			prompt.WriteString("Known recurring errors for this kind of document:\n")
			prompt.WriteString(section)
			prompt.WriteString("\n\n")
		}
	}
	prompt.WriteString("Document:\n")
	prompt.WriteString(text)

	resp, err := c.client.Do(ctx, ai.Request{SystemPrompt: systemPrompt, Prompt: prompt.String(), Timeout: c.timeout})
	if err != nil {
		return nil, fmt.Errorf("%s correction call: %w", c.client.Name(), err)
	}
	cands, err := Parse(resp.Text)
	if err != nil {
		return nil, err
	}

	out := cands[:0]
	for _, cand := range cands {
		if !strings.Contains(text, cand.Original) {
			log.Debug().Str("doc", docID).Str("original", cand.Original).Msg("dropping candidate not found in document")
			continue
		}
		cand.Tier = TierUncertain
		if cand.Confidence >= c.threshold {
			cand.Tier = TierCertain
		}
		cand.ID = fmt.Sprintf("c%d", len(out)+1)
		out = append(out, cand)
	}
	log.Info().
		Str("doc", docID).
		Str("provider", c.client.Name()).
		Int("candidates", len(out)).
		Int("tokens_in", resp.TokensIn).
		Msg("correction candidates proposed")
	return out, nil
}

// Parse decodes a model reply into candidates. Code fences and prose around
// the JSON array are ignored. Entries without an original, or whose proposal
// equals the original, are dropped.
func Parse(raw string) ([]Candidate, error) {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in model reply")
	}
	var cands []Candidate
	if err := json.Unmarshal([]byte(s[start:end+1]), &cands); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	out := cands[:0]
	for _, c := range cands {
		if c.Original == "" || c.Original == c.Proposed {
			continue
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		} else if c.Confidence > 1 {
			c.Confidence = 1
		}
		out = append(out, c)
	}
	return out, nil
}

// Split separates certain and uncertain candidates, keeping order.
func Split(cands []Candidate) (certain, uncertain []Candidate) {
	for _, c := range cands {
		if c.Tier == TierCertain {
			certain = append(certain, c)
		} else {
			uncertain = append(uncertain, c)
		}
	}
	return certain, uncertain
}

// Apply substitutes each certain candidate's first occurrence in the text of
// doc, logs it as auto_applied and credits matching learned patterns with a
// use. Markup, attributes and comments are never rewritten. It returns the
// corrected document and how many candidates were applied.
func (c *Corrector) Apply(ctx context.Context, docID, source, doc string, certain []Candidate) (string, int) {
	root, err := parseFragment(doc)
	if err != nil {
		log.Warn().Err(err).Str("doc", docID).Msg("document not parseable, corrections skipped")
		return doc, 0
	}
	var applied []Candidate
	for _, cand := range certain {
		if replaceFirstText(root, cand.Original, cand.Proposed) {
			applied = append(applied, cand)
		}
	}
	if len(applied) == 0 {
		return doc, 0
	}
	out, err := renderChildren(root)
	if err != nil {
		log.Warn().Err(err).Str("doc", docID).Msg("corrected document not rendered, corrections skipped")
		return doc, 0
	}

	for _, cand := range applied {
		if c.store == nil {
			continue
		}
		if err := c.store.LogCorrection(ctx, patterns.LogEntry{
			DocID:     docID,
			Source:    source,
			Original:  cand.Original,
			Corrected: cand.Proposed,
			Context:   cand.Location,
			Category:  cand.Category,
			Reason:    cand.Reason,
			Decision:  patterns.DecisionAutoApplied,
		}); err != nil {
			log.Warn().Err(err).Str("doc", docID).Msg("auto-applied correction not logged")
		}
		if _, err := c.store.MarkUsedByText(ctx, cand.Original, cand.Proposed, source); err != nil {
			log.Warn().Err(err).Str("doc", docID).Msg("pattern usage not recorded")
		}
	}
	return out, len(applied)
}
