package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/classifier"
	"github.com/local/docconvert/internal/corrector"
	"github.com/local/docconvert/internal/credits"
	"github.com/local/docconvert/internal/extract"
	"github.com/local/docconvert/internal/htmlout"
	"github.com/local/docconvert/internal/metrics"
	"github.com/local/docconvert/internal/patterns"
	"github.com/local/docconvert/internal/recognition"
	"github.com/local/docconvert/internal/splitter"
)

// Ledger authorizes and charges remote recognition.
type Ledger interface {
	Check(pages int) credits.Estimate
	Debit(pages int, filename string) (int64, error)
}

// Corrector proposes and applies machine corrections.
type Corrector interface {
	Propose(ctx context.Context, docID, source, text string) ([]corrector.Candidate, error)
	Apply(ctx context.Context, docID, source, html string, certain []corrector.Candidate) (string, int)
}

// Uploader copies a finished document directory elsewhere.
type Uploader interface {
	UploadDir(ctx context.Context, localDir, keyPrefix string) ([]string, error)
}

// LegacyConverter turns legacy office files into PDF.
type LegacyConverter interface {
	Available() bool
	ConvertToPDF(ctx context.Context, input, outDir string) (string, error)
}

// Deps are the collaborators of a Converter. Only Recognizer is needed for
// remote-route jobs; the rest are optional and may be left nil.
type Deps struct {
	Recognizer recognition.Recognizer
	Ledger     Ledger
	Corrector  Corrector
	Uploader   Uploader
	Legacy     LegacyConverter
}

// ConverterOptions tunes chunking and outputs.
type ConverterOptions struct {
	ChunkMaxPages    int
	ChunkConcurrency int
	Outputs          htmlout.Options
	// UploadPrefix is prepended to <docname>/ in uploaded object keys.
	UploadPrefix string
}

// Converter is the Processor that runs local extraction or remote
// recognition and writes the artifact set.
type Converter struct {
	deps Deps
	opts ConverterOptions

	local     func(ctx context.Context, job classifier.Job) (extract.Result, error)
	pageCount func(path string) (int, error)
	split     func(ctx context.Context, pdfPath, workDir string, maxPages int) ([]splitter.Chunk, error)
}

func NewConverter(deps Deps, opts ConverterOptions) *Converter {
	if opts.ChunkMaxPages <= 0 {
		opts.ChunkMaxPages = splitter.DefaultMaxPages
	}
	if opts.ChunkConcurrency <= 0 {
		opts.ChunkConcurrency = 4
	}
	return &Converter{
		deps:      deps,
		opts:      opts,
		local:     extract.Local,
		pageCount: splitter.PageCount,
		split:     splitter.Split,
	}
}

// SourceFor is the pattern provenance of a route.
func SourceFor(route classifier.Route) string {
	if route == classifier.RouteRemote {
		return patterns.SourceImagePDF
	}
	return patterns.SourceDigitalDoc
}

func (c *Converter) Process(ctx context.Context, t Task, emit func(Event)) Result {
	start := time.Now()
	job := t.Job
	res := Result{File: job.Name, Method: string(job.Route)}
	fail := func(err error) Result {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		log.Warn().Err(err).Str("file", job.Name).Str("method", res.Method).Msg("conversion failed")
		return res
	}

	var (
		html string
		err  error
	)
	if job.Route == classifier.RouteLocal {
		var r extract.Result
		r, err = c.local(ctx, job)
		html = r.HTML
	} else {
		html, err = c.remote(ctx, job, emit)
	}
	if err != nil {
		return fail(err)
	}

	docID := filepath.Base(t.OutDir)
	source := SourceFor(job.Route)
	var uncertain []corrector.Candidate
	if c.deps.Corrector != nil {
		html, uncertain = c.correct(ctx, job, docID, source, html, emit)
	}

	outputs, err := htmlout.Write(t.OutDir, html, job.Name, c.opts.Outputs)
	if err != nil {
		return fail(fmt.Errorf("write outputs: %w", err))
	}
	if len(uncertain) > 0 {
		wrote, err := corrector.WriteCandidates(t.OutDir, docID, source, uncertain)
		switch {
		case err != nil:
			emit(Event{Type: EventWarning, File: job.Name, Message: "review candidates not saved: " + err.Error()})
		case wrote:
			outputs = append(outputs, corrector.CandidatesFile)
		}
	}

	if c.deps.Uploader != nil {
		prefix := path.Join(c.opts.UploadPrefix, docID)
		if _, err := c.deps.Uploader.UploadDir(ctx, t.OutDir, prefix); err != nil {
			emit(Event{Type: EventWarning, File: job.Name, Message: "upload failed: " + err.Error()})
		}
	}

	res.Status = StatusSuccess
	res.Outputs = outputs
	res.Elapsed = time.Since(start)
	log.Info().Str("file", job.Name).Str("method", res.Method).Dur("elapsed", res.Elapsed).Msg("conversion succeeded")
	return res
}

func (c *Converter) correct(ctx context.Context, job classifier.Job, docID, source, html string, emit func(Event)) (string, []corrector.Candidate) {
	cands, err := c.deps.Corrector.Propose(ctx, docID, source, html)
	if err != nil {
		emit(Event{Type: EventWarning, File: job.Name, Message: "correction skipped: " + err.Error()})
		return html, nil
	}
	certain, uncertain := corrector.Split(cands)
	if len(certain) > 0 {
		var n int
		html, n = c.deps.Corrector.Apply(ctx, docID, source, html, certain)
		emit(Event{Type: EventLog, File: job.Name, Message: fmt.Sprintf("applied %d corrections", n)})
	}
	return html, uncertain
}

// remote recognises job page range by page range. Credits are checked for
// the whole document first and again for each chunk right before its call;
// the single debit follows a successful merge.
func (c *Converter) remote(ctx context.Context, job classifier.Job, emit func(Event)) (string, error) {
	if c.deps.Recognizer == nil {
		return "", errors.New("remote recognition is not configured")
	}
	workDir, err := os.MkdirTemp("", "docconvert-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath := job.Path
	pages := job.Pages
	whole := false
	if job.Kind == classifier.KindLegacy {
		if c.deps.Legacy != nil && c.deps.Legacy.Available() {
			emit(Event{Type: EventLog, File: job.Name, Message: "converting to pdf"})
			pdfPath, err = c.deps.Legacy.ConvertToPDF(ctx, job.Path, workDir)
			if err != nil {
				return "", fmt.Errorf("libreoffice: %w", err)
			}
			pages = 0
		} else {
			whole = true
			pages = 1
		}
	}
	if pages <= 0 {
		if pages, err = c.pageCount(pdfPath); err != nil {
			return "", err
		}
	}

	if err := c.authorize(pages); err != nil {
		return "", err
	}

	var chunks []splitter.Chunk
	if whole || pages <= c.opts.ChunkMaxPages {
		chunks = []splitter.Chunk{{Index: 1, From: 1, To: pages, Path: pdfPath}}
	} else {
		chunks, err = c.split(ctx, pdfPath, filepath.Join(workDir, "chunks"), c.opts.ChunkMaxPages)
		if err != nil {
			return "", err
		}
		emit(Event{Type: EventLog, File: job.Name, Message: fmt.Sprintf("splitting into %d chunks", len(chunks))})
	}

	parts, err := splitter.Dispatch(ctx, chunks, c.opts.ChunkConcurrency, func(ctx context.Context, ch splitter.Chunk) (string, error) {
		if err := c.authorize(ch.Pages()); err != nil {
			return "", err
		}
		resp, err := c.deps.Recognizer.Recognize(ctx, recognition.Request{
			Path:     ch.Path,
			FromPage: ch.From,
			ToPage:   ch.To,
		})
		if err != nil {
			return "", err
		}
		return resp.HTML, nil
	})
	if err != nil {
		return "", err
	}
	html := splitter.Merge(parts)

	if c.deps.Ledger != nil {
		cost, err := c.deps.Ledger.Debit(pages, job.Name)
		if err != nil {
			emit(Event{Type: EventWarning, File: job.Name, Message: "credits not debited: " + err.Error()})
		} else {
			metrics.AddDebited(int(cost))
		}
	}
	return html, nil
}

func (c *Converter) authorize(pages int) error {
	if c.deps.Ledger == nil {
		return nil
	}
	if err := c.deps.Ledger.Check(pages).Err(); err != nil {
		metrics.IncCreditDenial()
		return err
	}
	return nil
}
