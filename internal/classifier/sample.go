package classifier

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Doc abstracts a PDF document for text extraction.
type Doc interface {
	NumPage() int
	Page(i int) (Page, error)
	Close() error
}

// Page abstracts a single PDF page for text extraction.
type Page interface {
	Text() (string, error)
	Close()
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// defaultOpener is set in open_fitz.go.
var defaultOpener Opener

// Sample is the outcome of reading the leading pages of a PDF.
type Sample struct {
	TotalPages int
	Sampled    int
	Chars      int
}

// SampleText opens path and counts trimmed characters on the first n pages.
// Any page error aborts the sample so the caller can fall back conservatively.
func SampleText(o Opener, path string, n int) (Sample, error) {
	if o == nil {
		return Sample{}, errors.New("no PDF opener configured")
	}
	d, err := o.Open(path)
	if err != nil {
		return Sample{}, fmt.Errorf("open pdf: %w", err)
	}
	defer d.Close()

	s := Sample{TotalPages: d.NumPage()}
	if s.TotalPages <= 0 {
		return s, nil
	}
	if n > s.TotalPages {
		n = s.TotalPages
	}
	for i := 0; i < n; i++ {
		p, err := d.Page(i)
		if err != nil {
			return s, fmt.Errorf("page %d: %w", i, err)
		}
		text, err := p.Text()
		p.Close()
		if err != nil {
			return s, fmt.Errorf("page %d text: %w", i, err)
		}
		s.Chars += utf8.RuneCountInString(strings.TrimSpace(text))
		s.Sampled++
	}
	return s, nil
}
