package htmlout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanStripsNoiseAndKeepsStructure(t *testing.T) {
	in := `<div class="x" style="color:red"><script>bad()</script><p id="p1">Hello <b>world</b></p>` +
		`<!-- Pages 1-2 --><table><tr><td rowspan="2" style="c">A</td><td></td></tr></table>` +
		`<img src="a.png" alt="logo"><span></span><a href="http://e.com" class="l">e</a></div>`

	got, err := Clean(in)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	for _, bad := range []string{"script", "bad()", "style=", "class=", "id=", "Pages 1-2", "<span>", "<img"} {
		if strings.Contains(got, bad) {
			t.Fatalf("clean output still contains %q:\n%s", bad, got)
		}
	}
	for _, want := range []string{
		"<p>Hello <b>world</b></p>",
		`<td rowspan="2">A</td><td></td>`,
		"[image: logo]",
		`<a href="http://e.com">e</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("clean output missing %q:\n%s", want, got)
		}
	}
}

func TestCleanRemovesNestedEmptyWrappers(t *testing.T) {
	got, err := Clean(`<div><div><span> </span></div></div><p>kept</p>`)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if got != "<p>kept</p>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestMarkdownConversion(t *testing.T) {
	in := `<h1>Title</h1><p>Hello <strong>big</strong> <a href="http://x">link</a></p>` +
		`<ul><li>one</li><li>two</li></ul>` +
		`<table><tr><th>a|b</th><th>c</th></tr><tr><td>1</td><td>2</td></tr></table>`
	got, err := Markdown(in)
	if err != nil {
		t.Fatalf("Markdown failed: %v", err)
	}
	want := "# Title\n\nHello **big** [link](http://x)\n\n- one\n- two\n\n| a\\|b | c |\n| --- | --- |\n| 1 | 2 |"
	if got != want {
		t.Fatalf("unexpected markdown:\n%q\nwant\n%q", got, want)
	}
}

func TestMarkdownOrderedNestedListAndRaggedTable(t *testing.T) {
	in := `<ol><li>first<ul><li>inner</li></ul></li><li>second</li></ol>` +
		`<table><tr><td>x</td></tr><tr><td>y</td><td>z</td></tr></table>`
	got, err := Markdown(in)
	if err != nil {
		t.Fatalf("Markdown failed: %v", err)
	}
	want := "1. first\n  - inner\n2. second\n\n| x |  |\n| --- | --- |\n| y | z |"
	if got != want {
		t.Fatalf("unexpected markdown:\n%q\nwant\n%q", got, want)
	}
}

func TestWriteProducesArtifactSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "report")
	outputs, err := Write(dir, `<h2>Heading</h2><p>Body &amp; more</p>`, "report.pdf", Options{Clean: true, Markdown: true})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if strings.Join(outputs, ",") != "view.html,clean_ai.html,content.md" {
		t.Fatalf("unexpected outputs %v", outputs)
	}

	view, err := os.ReadFile(filepath.Join(dir, ViewFile))
	if err != nil {
		t.Fatalf("read view failed: %v", err)
	}
	for _, want := range []string{`<meta name="generator" content="docconvert">`, `<meta name="source-file" content="report.pdf">`, "<h2>Heading</h2>", "<title>report.pdf</title>"} {
		if !strings.Contains(string(view), want) {
			t.Fatalf("view.html missing %q", want)
		}
	}

	md, err := os.ReadFile(filepath.Join(dir, MarkdownFile))
	if err != nil {
		t.Fatalf("read markdown failed: %v", err)
	}
	if string(md) != "## Heading\n\nBody & more" {
		t.Fatalf("unexpected markdown %q", md)
	}

	clean, err := os.ReadFile(filepath.Join(dir, CleanFile))
	if err != nil {
		t.Fatalf("read clean failed: %v", err)
	}
	if !strings.HasPrefix(string(clean), "<!DOCTYPE html>") || !strings.Contains(string(clean), "<h2>Heading</h2>") {
		t.Fatalf("unexpected clean document:\n%s", clean)
	}
}

func TestWriteViewOnly(t *testing.T) {
	dir := t.TempDir()
	outputs, err := Write(dir, "<p>x</p>", "a.docx", Options{})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(outputs) != 1 || outputs[0] != ViewFile {
		t.Fatalf("unexpected outputs %v", outputs)
	}
	if _, err := os.Stat(filepath.Join(dir, CleanFile)); !os.IsNotExist(err) {
		t.Fatalf("clean_ai.html should not exist")
	}
}
