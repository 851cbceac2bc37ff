package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/classifier"
)

// Result is the HTML fragment produced for one document.
type Result struct {
	HTML string
	// Units is the number of pages, sheets or slides found.
	Units int
}

// Local runs the local extractor matching the job's extension.
func Local(ctx context.Context, job classifier.Job) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log.Debug().Str("file", job.Name).Str("kind", string(job.Kind)).Msg("local extraction")
	switch job.Ext {
	case ".xlsx", ".xlsm":
		return XLSX(job.Path)
	case ".docx":
		return DOCX(job.Path)
	case ".pptx":
		return PPTX(job.Path)
	case ".hwpx":
		return HWPX(job.Path)
	case ".pdf":
		return PDF(job.Path)
	}
	return Result{}, fmt.Errorf("no local extractor for %s", job.Ext)
}

// openZip opens an OOXML/HWPX container after confirming the content is a zip archive.
func openZip(path string) (*zip.ReadCloser, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect type: %w", err)
	}
	if !isZip(mt) {
		return nil, fmt.Errorf("not a zip container (detected %s)", mt.String())
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func findFile(zr *zip.ReadCloser, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readFile(zr *zip.ReadCloser, name string) ([]byte, error) {
	f := findFile(zr, name)
	if f == nil {
		return nil, fmt.Errorf("%s: missing from archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resolveTarget joins a relationship target onto the directory of its source part.
func resolveTarget(baseDir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	parts := strings.Split(baseDir, "/")
	for _, seg := range strings.Split(target, "/") {
		switch seg {
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		case ".", "":
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}
