package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind is the detected document kind.
type Kind string

const (
	KindSpreadsheet  Kind = "spreadsheet"
	KindWordDocument Kind = "word-document"
	KindPresentation Kind = "presentation"
	KindDigitalPDF   Kind = "digital-pdf"
	KindImagePDF     Kind = "image-pdf"
	KindLegacy       Kind = "legacy-format"
)

// Route is the processing path chosen for one document.
type Route string

const (
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

const (
	// SamplePages is how many leading PDF pages are sampled for text.
	SamplePages = 3
	// TextThreshold is the sampled character count a PDF must exceed to be treated as digital.
	TextThreshold = 100
)

// ErrUnsupported is returned for extensions no extractor or route exists for.
var ErrUnsupported = errors.New("unsupported file format")

// Job describes one input file. It is created by Classify and not modified afterwards.
type Job struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Ext         string `json:"ext"`
	Kind        Kind   `json:"kind"`
	Route       Route  `json:"route"`
	Pages       int    `json:"pages"`
	MIME        string `json:"mime,omitempty"`
	SampleChars int    `json:"sample_chars,omitempty"`
}

// DocName is the file name without extension, used for the output folder.
func (j Job) DocName() string {
	return strings.TrimSuffix(j.Name, filepath.Ext(j.Name))
}

type extRoute struct {
	kind  Kind
	route Route
}

var extensions = map[string]extRoute{
	".xlsx": {KindSpreadsheet, RouteLocal},
	".xlsm": {KindSpreadsheet, RouteLocal},
	".docx": {KindWordDocument, RouteLocal},
	".hwpx": {KindWordDocument, RouteLocal},
	".pptx": {KindPresentation, RouteLocal},
	".hwp":  {KindLegacy, RouteRemote},
	".doc":  {KindLegacy, RouteRemote},
	".xls":  {KindLegacy, RouteRemote},
	".ppt":  {KindLegacy, RouteRemote},
}

// Supported reports whether the extension of name can be classified.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return true
	}
	_, ok := extensions[ext]
	return ok
}

// ByExtension maps a non-PDF file name to its kind and route. It does no I/O.
func ByExtension(name string) (Kind, Route, error) {
	ext := strings.ToLower(filepath.Ext(name))
	r, ok := extensions[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	return r.kind, r.route, nil
}

// Classifier decides kind and route for input files.
type Classifier struct {
	opener    Opener
	threshold int
	pages     int
}

// New returns a Classifier using the default go-fitz opener.
func New() *Classifier {
	return &Classifier{opener: defaultOpener, threshold: TextThreshold, pages: SamplePages}
}

// WithOpener returns a copy of c that opens PDFs through o.
func (c *Classifier) WithOpener(o Opener) *Classifier {
	cp := *c
	cp.opener = o
	return &cp
}

// Classify inspects path. PDFs are sampled; everything else is decided by extension.
// PDF problems never fail classification: they fall back to image-pdf on the remote route.
func (c *Classifier) Classify(path string) (Job, error) {
	if _, err := os.Stat(path); err != nil {
		return Job{}, fmt.Errorf("stat %s: %w", path, err)
	}
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	job := Job{Path: path, Name: name, Ext: ext}

	if ext != ".pdf" {
		kind, route, err := ByExtension(name)
		if err != nil {
			return Job{}, err
		}
		job.Kind, job.Route = kind, route
		return job, nil
	}

	job.Kind, job.Route = KindImagePDF, RouteRemote
	if mt, err := mimetype.DetectFile(path); err == nil {
		job.MIME = mt.String()
		if !mt.Is("application/pdf") {
			log.Warn().Str("file", name).Str("mime", job.MIME).Msg("pdf extension but content is not pdf; routing remote")
			return job, nil
		}
	}

	sample, err := SampleText(c.opener, path, c.pages)
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("pdf text sampling failed; routing remote")
		return job, nil
	}
	job.Pages = sample.TotalPages
	job.SampleChars = sample.Chars
	if sample.Chars > c.threshold {
		job.Kind, job.Route = KindDigitalPDF, RouteLocal
	}
	log.Debug().Str("file", name).Int("chars", sample.Chars).Int("pages", sample.TotalPages).Str("kind", string(job.Kind)).Msg("pdf classified")
	return job, nil
}
