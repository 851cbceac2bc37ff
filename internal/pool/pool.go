package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/classifier"
	"github.com/local/docconvert/internal/config"
	"github.com/local/docconvert/internal/metrics"
)

// Task is one classified input and where its artifacts go. A task with a
// non-empty Skip is reported as skipped without being processed.
type Task struct {
	Job    classifier.Job
	OutDir string
	Skip   string
}

// Result is the outcome of one task.
type Result struct {
	File    string
	Status  Status
	Method  string
	Elapsed time.Duration
	Outputs []string
	Error   string
}

// Event converts r into its progress event.
func (r Result) Event() Event {
	return Event{
		Type:    EventProgress,
		File:    r.File,
		Status:  r.Status,
		Method:  r.Method,
		Time:    roundSeconds(r.Elapsed),
		Outputs: r.Outputs,
		Error:   r.Error,
	}
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}

// Processor converts one task. It must not panic across the pool boundary;
// the pool recovers anyway and reports a failed result.
type Processor interface {
	Process(ctx context.Context, t Task, emit func(Event)) Result
}

// Pool runs tasks with bounded parallelism.
type Pool struct {
	proc    Processor
	workers int
	now     func() time.Time
}

// New returns a pool running at most workers tasks at once. A non-positive
// worker count uses min(32, 2×NumCPU).
func New(proc Processor, workers int) *Pool {
	if workers <= 0 {
		workers = config.DefaultConcurrency()
	}
	return &Pool{proc: proc, workers: workers, now: time.Now}
}

// Workers returns the configured concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Run processes every task and emits init, one progress event per task in
// completion order, and a final complete event. emit is called from several
// goroutines at once. Cancelling ctx stops new tasks from starting; those
// are reported as skipped.
func (p *Pool) Run(ctx context.Context, tasks []Task, outputFolder string, emit func(Event)) Summary {
	start := p.now()
	workers := p.workers
	if len(tasks) < workers {
		workers = len(tasks)
	}
	emit(Event{Type: EventInit, Total: len(tasks), Workers: workers})
	log.Info().Int("total", len(tasks)).Int("workers", workers).Str("output", outputFolder).Msg("batch started")

	var (
		mu  sync.Mutex
		sum = Summary{OutputFolder: outputFolder}
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.workers)
	)
	record := func(r Result) {
		mu.Lock()
		switch r.Status {
		case StatusSuccess:
			sum.Success++
		case StatusFailed:
			sum.Fail++
		default:
			sum.Skip++
		}
		mu.Unlock()
		metrics.ObserveJob(string(r.Status), r.Method, r.Elapsed)
		emit(r.Event())
	}

	for _, t := range tasks {
		if t.Skip != "" {
			record(Result{File: t.Job.Name, Status: StatusSkipped, Error: t.Skip})
			continue
		}
		if !acquire(ctx, sem) {
			record(Result{File: t.Job.Name, Status: StatusSkipped, Error: "batch cancelled"})
			continue
		}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()
			record(p.runOne(ctx, t, emit))
		}(t)
	}
	wg.Wait()

	sum.TotalTime = roundSeconds(p.now().Sub(start))
	log.Info().
		Int("success", sum.Success).
		Int("fail", sum.Fail).
		Int("skip", sum.Skip).
		Float64("total_time", sum.TotalTime).
		Msg("batch complete")
	final := sum
	emit(Event{Type: EventComplete, Summary: &final})
	return sum
}

// Stream runs the batch in the background and returns its events. The
// channel is closed after the complete event; the caller must drain it.
func (p *Pool) Stream(ctx context.Context, tasks []Task, outputFolder string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		p.Run(ctx, tasks, outputFolder, func(ev Event) { ch <- ev })
	}()
	return ch
}

func acquire(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case sem <- struct{}{}:
		if ctx.Err() != nil {
			<-sem
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) runOne(ctx context.Context, t Task, emit func(Event)) (res Result) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("file", t.Job.Name).Msg("conversion panicked")
			res = Result{
				File:    t.Job.Name,
				Status:  StatusFailed,
				Method:  string(t.Job.Route),
				Elapsed: p.now().Sub(start),
				Error:   fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	res = p.proc.Process(ctx, t, emit)
	if res.File == "" {
		res.File = t.Job.Name
	}
	if res.Elapsed == 0 {
		res.Elapsed = p.now().Sub(start)
	}
	return res
}
