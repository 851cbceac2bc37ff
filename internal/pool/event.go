package pool

import (
	"encoding/json"
	"io"
	"sync"
)

// EventType discriminates progress stream records.
type EventType string

const (
	EventInit     EventType = "init"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventWarning  EventType = "warning"
	EventLog      EventType = "log"
)

// Status is the terminal state of one job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Summary is carried by the complete event.
type Summary struct {
	Success      int     `json:"success"`
	Fail         int     `json:"fail"`
	Skip         int     `json:"skip"`
	TotalTime    float64 `json:"total_time"`
	OutputFolder string  `json:"output_folder"`
}

// Event is one line of the progress stream. Only the fields relevant to the
// type are set.
type Event struct {
	Type EventType `json:"type"`

	Total   int `json:"total,omitempty"`
	Workers int `json:"workers,omitempty"`

	File    string   `json:"file,omitempty"`
	Status  Status   `json:"status,omitempty"`
	Method  string   `json:"method,omitempty"`
	Time    float64  `json:"time,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`

	Message string `json:"message,omitempty"`

	*Summary
}

// JSONLines writes each event as one JSON line to w. It is safe for
// concurrent use.
func JSONLines(w io.Writer) func(Event) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(ev)
	}
}
