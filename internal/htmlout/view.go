package htmlout

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"
	"time"
)

// Artifact file names inside a document's output folder.
const (
	ViewFile     = "view.html"
	CleanFile    = "clean_ai.html"
	MarkdownFile = "content.md"
)

const generator = "docconvert"

var viewTemplate = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="generator" content="{{.Generator}}">
<meta name="source-file" content="{{.Source}}">
<meta name="converted-at" content="{{.ConvertedAt}}">
<title>{{.Title}}</title>
<style>
* { box-sizing: border-box; }
body { font-family: 'Malgun Gothic', 'Apple SD Gothic Neo', sans-serif; line-height: 1.6; max-width: 1200px; margin: 0 auto; padding: 20px; background: #fff; color: #333; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { padding: 8px 12px; vertical-align: top; }
table.bordered td, table.bordered th, table.excel-table td, table.excel-table th { border: 1px solid #333; }
table.borderless td, table.borderless th { border: none; }
.sheet, .slide, .pdf-page { margin-bottom: 2em; padding-bottom: 1em; border-bottom: 1px dashed #ccc; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// ViewData feeds the view.html template.
type ViewData struct {
	Title       string
	Source      string
	Generator   string
	ConvertedAt string
	Body        template.HTML
}

// View renders a complete, styled HTML page around a trusted fragment.
func View(fragment, sourceName string) ([]byte, error) {
	data := ViewData{
		Title:       sourceName,
		Source:      sourceName,
		Generator:   generator,
		ConvertedAt: time.Now().UTC().Format(time.RFC3339),
		Body:        template.HTML(fragment),
	}
	var buf bytes.Buffer
	if err := viewTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Options selects which artifacts Write produces besides view.html.
type Options struct {
	Clean    bool
	Markdown bool
}

// Write produces the artifact set for one document in dir and returns the
// file names written, view.html first.
func Write(dir, fragment, sourceName string, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	view, err := View(fragment, sourceName)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ViewFile), view, 0o644); err != nil {
		return nil, err
	}
	outputs := []string{ViewFile}
	if !opts.Clean && !opts.Markdown {
		return outputs, nil
	}

	clean, err := Clean(fragment)
	if err != nil {
		return outputs, err
	}
	if opts.Clean {
		if err := os.WriteFile(filepath.Join(dir, CleanFile), []byte(CleanDocument(clean)), 0o644); err != nil {
			return outputs, err
		}
		outputs = append(outputs, CleanFile)
	}
	if opts.Markdown {
		md, err := Markdown(clean)
		if err != nil {
			return outputs, err
		}
		if err := os.WriteFile(filepath.Join(dir, MarkdownFile), []byte(md), 0o644); err != nil {
			return outputs, err
		}
		outputs = append(outputs, MarkdownFile)
	}
	return outputs, nil
}
