package splitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPages is the largest page range sent in one recognition call.
const DefaultMaxPages = 10

// Chunk is a contiguous 1-based inclusive page range of a document.
type Chunk struct {
	Index int // 1-based position within the document
	From  int
	To    int
	// Path is the file holding exactly these pages.
	Path string
}

func (c Chunk) Pages() int { return c.To - c.From + 1 }

// Part is the recognised output for one chunk.
type Part struct {
	Index int
	From  int
	To    int
	HTML  string
}

// ChunkError reports the chunk whose failure failed the whole document.
type ChunkError struct {
	Index int
	From  int
	To    int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (pages %d-%d): %v", e.Index, e.From, e.To, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Plan partitions total pages into ranges of at most maxPages.
func Plan(total, maxPages int) []Chunk {
	if total <= 0 {
		return nil
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	chunks := make([]Chunk, 0, (total+maxPages-1)/maxPages)
	for from := 1; from <= total; from += maxPages {
		to := from + maxPages - 1
		if to > total {
			to = total
		}
		chunks = append(chunks, Chunk{Index: len(chunks) + 1, From: from, To: to})
	}
	return chunks
}

// PageCount returns the number of pages in a PDF file.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Split writes one chunk_NNN.pdf per planned range into workDir. A document
// that fits in one chunk is not copied; its chunk points at pdfPath.
func Split(ctx context.Context, pdfPath, workDir string, maxPages int) ([]Chunk, error) {
	total, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	chunks := Plan(total, maxPages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if len(chunks) == 1 {
		chunks[0].Path = pdfPath
		return chunks, nil
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &chunks[i]
		c.Path = filepath.Join(workDir, fmt.Sprintf("chunk_%03d.pdf", c.Index))
		sel := []string{fmt.Sprintf("%d-%d", c.From, c.To)}
		if err := api.TrimFile(pdfPath, c.Path, sel, nil); err != nil {
			return nil, fmt.Errorf("extract pages %d-%d: %w", c.From, c.To, err)
		}
	}
	log.Debug().Str("pdf", filepath.Base(pdfPath)).Int("pages", total).Int("chunks", len(chunks)).Msg("pdf split")
	return chunks, nil
}

// Dispatch runs fn for every chunk with at most limit in flight. Results are
// returned in chunk order regardless of completion order. The first real
// failure cancels the rest; the returned *ChunkError names the lowest failing
// chunk index seen.
func Dispatch(ctx context.Context, chunks []Chunk, limit int, fn func(context.Context, Chunk) (string, error)) ([]Part, error) {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	parts := make([]Part, len(chunks))
	var mu sync.Mutex
	var failed *ChunkError

	for i, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			html, err := fn(gctx, c)
			if err != nil {
				// siblings cancelled by an earlier failure are not the cause
				if gctx.Err() != nil && errors.Is(err, context.Canceled) {
					return err
				}
				ce := &ChunkError{Index: c.Index, From: c.From, To: c.To, Err: err}
				mu.Lock()
				if failed == nil || ce.Index < failed.Index {
					failed = ce
				}
				mu.Unlock()
				return ce
			}
			parts[i] = Part{Index: c.Index, From: c.From, To: c.To, HTML: html}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if failed != nil {
			return nil, failed
		}
		return nil, err
	}
	return parts, nil
}

// Merge concatenates parts in page order, each preceded by a page-range marker.
// A single part is returned unchanged.
func Merge(parts []Part) string {
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0].HTML
	}
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<!-- Pages %d-%d -->\n", p.From, p.To)
		b.WriteString(p.HTML)
	}
	return b.String()
}
