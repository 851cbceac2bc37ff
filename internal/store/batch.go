package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/local/docconvert/internal/pool"
)

// Batch states.
const (
	StateRunning  = "running"
	StateComplete = "complete"
)

// Batch is the aggregated status of one conversion batch.
type Batch struct {
	ID           string       `json:"id"`
	Folder       string       `json:"folder"`
	State        string       `json:"state"`
	Total        int          `json:"total"`
	Workers      int          `json:"workers"`
	Processed    int          `json:"processed"`
	Success      int          `json:"success"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	TotalTime    float64      `json:"total_time,omitempty"`
	OutputFolder string       `json:"output_folder,omitempty"`
	Started      time.Time    `json:"started"`
	Finished     *time.Time   `json:"finished,omitempty"`
	Results      []pool.Event `json:"results"`
	Warnings     []string     `json:"warnings,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
}

// BatchStore keeps batch status for the HTTP surface.
type BatchStore interface {
	Create(ctx context.Context, id, folder string) error
	Apply(ctx context.Context, id string, ev pool.Event) error
	Get(ctx context.Context, id string) (Batch, bool, error)
}

// apply folds one event into b.
func apply(b *Batch, ev pool.Event, now time.Time) {
	switch ev.Type {
	case pool.EventInit:
		b.Total = ev.Total
		b.Workers = ev.Workers
	case pool.EventProgress:
		b.Processed++
		switch ev.Status {
		case pool.StatusSuccess:
			b.Success++
		case pool.StatusFailed:
			b.Failed++
		case pool.StatusSkipped:
			b.Skipped++
		}
		b.Results = append(b.Results, ev)
	case pool.EventWarning:
		b.Warnings = append(b.Warnings, eventText(ev))
	case pool.EventError:
		b.Errors = append(b.Errors, eventText(ev))
	case pool.EventComplete:
		b.State = StateComplete
		b.Finished = &now
		if ev.Summary != nil {
			b.TotalTime = ev.TotalTime
			b.OutputFolder = ev.OutputFolder
		}
	}
}

func eventText(ev pool.Event) string {
	msg := ev.Message
	if msg == "" {
		msg = ev.Error
	}
	if ev.File != "" {
		return fmt.Sprintf("%s: %s", ev.File, msg)
	}
	return msg
}

// MemoryStore is a process-local BatchStore.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*Batch
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: map[string]*Batch{}, now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, id, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; ok {
		return fmt.Errorf("batch %s already exists", id)
	}
	m.batches[id] = &Batch{ID: id, Folder: folder, State: StateRunning, Started: m.now().UTC()}
	return nil
}

func (m *MemoryStore) Apply(ctx context.Context, id string, ev pool.Event) error {
	if ev.Type == pool.EventLog {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return fmt.Errorf("batch %s not found", id)
	}
	apply(b, ev, m.now().UTC())
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Batch, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, false, nil
	}
	out := *b
	out.Results = append([]pool.Event(nil), b.Results...)
	out.Warnings = append([]string(nil), b.Warnings...)
	out.Errors = append([]string(nil), b.Errors...)
	return out, true, nil
}
