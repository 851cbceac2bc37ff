package reviewtools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/local/docconvert/internal/patterns"
)

// PatternPrompter supplies learned patterns to append to the review guide.
type PatternPrompter interface {
	BuildPrompt(ctx context.Context, source string, limit int) ([]patterns.Pattern, error)
}

const reviewGuide = `# Document review guide

## Role
You review legal documents that were converted to HTML by OCR. Find recognition
errors in the text and correct them.

## Common OCR errors

### 1. Hangul read as Latin letters
- "을" becomes "Z" or "z" (e.g. "계약Z 체결" should be "계약을 체결")
- "를" becomes "Z" (e.g. "권리Z" should be "권리를")
- "은" becomes "E" (e.g. "것E" should be "것은")
- "이" becomes "0", "O", "l" or "1" (e.g. "권l" should be "권이")

### 2. Digits and letters
- "0" and "O", "o"
- "1" and "l", "I", "|"
- "2" and "Z"
- "5" and "S"

### 3. Legal terms
- "제1조" read as "게1초" or "게1조"
- "제2항" read as "게2향"
- "법률" read as "벌률"
- "권리" read as "컨리"

## Procedure
1. List pending documents with ` + "`list_documents(status=\"pending\")`" + `
2. Read a document with ` + "`read_document(name)`" + `
3. Look for likely errors with ` + "`analyze_ocr_errors(name)`" + `
4. Save the corrected HTML with ` + "`save_reviewed_document(name, content)`" + `

## Rules
- Never change HTML tags
- Keep the original text when the meaning is unclear
- Review legal terms with particular care
- Do not change proper nouns such as company or person names
`

// SystemPrompt is the short role description used when a model drives the
// review tools.
const SystemPrompt = `You review OCR-converted legal documents.

1. Find and fix OCR errors in the converted documents.
2. Focus on Hangul/Latin and digit/letter confusions.
3. Change text only and keep the HTML structure.

Tools: list_documents, read_document, analyze_ocr_errors,
save_reviewed_document, get_review_stats.

Start by calling list_documents().`

// ReviewPrompt returns the review guide with the learned scanned-PDF patterns
// appended. format is "markdown" (default) or "html".
func (w *Workspace) ReviewPrompt(ctx context.Context, format string) (string, error) {
	var b strings.Builder
	b.WriteString(reviewGuide)
	if w.prompts != nil {
		learned, err := w.prompts.BuildPrompt(ctx, patterns.SourceImagePDF, 0)
		if err != nil {
			return "", fmt.Errorf("load learned patterns: %w", err)
		}
		if len(learned) > 0 {
			b.WriteString("\n")
			b.WriteString(patterns.PromptText(learned))
		}
	}

	switch format {
	case "", "markdown", "md":
		return b.String(), nil
	case "html":
		md := goldmark.New(goldmark.WithExtensions(extension.Table))
		var buf bytes.Buffer
		if err := md.Convert([]byte(b.String()), &buf); err != nil {
			return "", fmt.Errorf("render review guide: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unknown prompt format %q", format)
	}
}
