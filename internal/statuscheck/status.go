package statuscheck

import (
	"context"
	"errors"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Pinger is anything that can report whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Status represents the readiness of a subsystem.
type Status struct {
	OK       bool   `json:"ok"`
	Required bool   `json:"required"`
	Message  string `json:"message"`
}

// Summary bundles all subsystem statuses for the health endpoint and dashboard.
type Summary struct {
	OK     bool              `json:"ok"`
	Checks map[string]Status `json:"checks"`
}

// Names returns the check names in sorted order.
func (s Summary) Names() []string {
	names := make([]string, 0, len(s.Checks))
	for n := range s.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type check struct {
	name     string
	pinger   Pinger
	required bool
}

// Checker aggregates health checks for the backends used in serve mode.
type Checker struct {
	checks  []check
	timeout time.Duration
	binary  func(string) bool
	tools   []string
}

// Options configures the Checker. Nil pingers report "not configured";
// only Patterns is required for the overall status.
type Options struct {
	Patterns Pinger
	Redis    Pinger
	S3       Pinger
	// Binaries are external tools reported as available or missing.
	Binaries []string
	Timeout  time.Duration
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Checker{
		checks: []check{
			{name: "patterns", pinger: opts.Patterns, required: true},
			{name: "redis", pinger: opts.Redis},
			{name: "s3", pinger: opts.S3},
		},
		timeout: opts.Timeout,
		binary:  lookPath,
		tools:   opts.Binaries,
	}
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{OK: true, Checks: map[string]Status{}}
	for _, ch := range c.checks {
		st := c.ping(ctx, ch)
		if ch.required && !st.OK {
			s.OK = false
		}
		s.Checks[ch.name] = st
	}
	for _, b := range c.tools {
		if c.binary(b) {
			s.Checks[b] = Status{OK: true, Message: "Available"}
		} else {
			s.Checks[b] = Status{OK: false, Message: "Binary not found"}
		}
	}
	return s
}

func (c *Checker) ping(ctx context.Context, ch check) Status {
	st := Status{Required: ch.required}
	if ch.pinger == nil {
		st.OK = !ch.required
		st.Message = "not configured"
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := ch.pinger.Ping(ctx); err != nil {
		st.Message = trimError(err)
		return st
	}
	st.OK = true
	st.Message = "Connected"
	return st
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
