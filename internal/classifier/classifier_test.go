package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type fakeOpener struct {
	pages []string
	err   error
}

func (f fakeOpener) Open(string) (Doc, error) {
	if f.err != nil {
		return nil, f.err
	}
	return fakeDoc(f.pages), nil
}

type fakeDoc []string

func (d fakeDoc) NumPage() int             { return len(d) }
func (d fakeDoc) Page(i int) (Page, error) { return textPage(d[i]), nil }
func (d fakeDoc) Close() error             { return nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return p
}

const pdfHeader = "%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"

func TestClassifyPDFThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scan.pdf", pdfHeader)

	cases := []struct {
		name  string
		pages []string
		kind  Kind
		route Route
	}{
		{"empty", []string{"", "", ""}, KindImagePDF, RouteRemote},
		{"exactly threshold", []string{strings.Repeat("a", 60), strings.Repeat("b", 40)}, KindImagePDF, RouteRemote},
		{"one over threshold", []string{strings.Repeat("a", 60), strings.Repeat("b", 41)}, KindDigitalPDF, RouteLocal},
		{"whitespace is trimmed", []string{"   " + strings.Repeat("x", 100) + "\n\n"}, KindImagePDF, RouteRemote},
		{"only first three pages count", []string{"a", "b", "c", strings.Repeat("z", 500)}, KindImagePDF, RouteRemote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New().WithOpener(fakeOpener{pages: tc.pages})
			job, err := c.Classify(path)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if job.Kind != tc.kind || job.Route != tc.route {
				t.Fatalf("expected %s/%s, got %s/%s", tc.kind, tc.route, job.Kind, job.Route)
			}
			if job.Pages != len(tc.pages) {
				t.Fatalf("expected pages=%d, got %d", len(tc.pages), job.Pages)
			}
		})
	}
}

func TestClassifyPDFExtractionErrorFallsBackToRemote(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", pdfHeader)
	c := New().WithOpener(fakeOpener{err: errors.New("encrypted")})

	job, err := c.Classify(path)
	if err != nil {
		t.Fatalf("expected no error on extraction failure, got %v", err)
	}
	if job.Kind != KindImagePDF || job.Route != RouteRemote {
		t.Fatalf("expected image-pdf/remote fallback, got %s/%s", job.Kind, job.Route)
	}
}

func TestClassifyNonPDFContentWithPDFExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fake.pdf", "just some text, not a pdf at all")
	c := New().WithOpener(fakeOpener{pages: []string{strings.Repeat("a", 500)}})

	job, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if job.Route != RouteRemote {
		t.Fatalf("expected remote route for non-pdf content, got %s", job.Route)
	}
}

func TestClassifyByExtension(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		kind  Kind
		route Route
	}{
		"budget.xlsx":   {KindSpreadsheet, RouteLocal},
		"memo.DOCX":     {KindWordDocument, RouteLocal},
		"deck.pptx":     {KindPresentation, RouteLocal},
		"contract.hwpx": {KindWordDocument, RouteLocal},
		"old.hwp":       {KindLegacy, RouteRemote},
		"old.doc":       {KindLegacy, RouteRemote},
		"old.xls":       {KindLegacy, RouteRemote},
		"old.ppt":       {KindLegacy, RouteRemote},
	}
	c := New().WithOpener(fakeOpener{err: errors.New("must not be called")})
	for name, want := range cases {
		path := writeFile(t, dir, name, "irrelevant")
		for i := 0; i < 2; i++ {
			job, err := c.Classify(path)
			if err != nil {
				t.Fatalf("Classify(%s) failed: %v", name, err)
			}
			if job.Kind != want.kind || job.Route != want.route {
				t.Fatalf("%s: expected %s/%s, got %s/%s", name, want.kind, want.route, job.Kind, job.Route)
			}
		}
	}
}

func TestClassifyUnsupported(t *testing.T) {
	path := writeFile(t, t.TempDir(), "image.png", "png")
	_, err := New().Classify(path)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestClassifyMissingFile(t *testing.T) {
	if _, err := New().Classify(filepath.Join(t.TempDir(), "nope.docx")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCollectFilesSkipsOutputAndHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", pdfHeader)
	writeFile(t, dir, "sub/b.docx", "x")
	writeFile(t, dir, "sub/notes.txt", "x")
	writeFile(t, dir, ".hidden.pdf", "x")
	writeFile(t, dir, "~$lock.docx", "x")
	writeFile(t, dir, "Converted_HTML/a/view.pdf", "x")
	writeFile(t, dir, "Final_Reviewed_OpenAI/c.pdf", "x")
	writeFile(t, dir, "Archive/d.xlsx", "x")

	got, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "sub", "b.docx")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected files: %v", got)
	}
}

func TestJobDocName(t *testing.T) {
	j := Job{Name: "report.final.pdf"}
	if j.DocName() != "report.final" {
		t.Fatalf("unexpected doc name %q", j.DocName())
	}
}
