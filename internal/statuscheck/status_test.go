package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSummaryRequiredAndOptional(t *testing.T) {
	c := New(Options{
		Patterns: PingFunc(func(context.Context) error { return nil }),
		Redis:    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		Binaries: []string{"soffice"},
	})
	c.binary = func(string) bool { return false }

	s := c.Summary(context.Background())
	if !s.OK {
		t.Fatalf("optional failures must not fail the summary: %+v", s)
	}
	if !s.Checks["patterns"].OK || s.Checks["redis"].OK || s.Checks["redis"].Message != "connection refused" {
		t.Fatalf("unexpected checks %+v", s.Checks)
	}
	if st := s.Checks["s3"]; !st.OK || st.Message != "not configured" {
		t.Fatalf("unexpected s3 status %+v", st)
	}
	if st := s.Checks["soffice"]; st.OK {
		t.Fatalf("missing binary reported ok")
	}
	if got := strings.Join(s.Names(), ","); got != "patterns,redis,s3,soffice" {
		t.Fatalf("Names = %s", got)
	}
}

func TestSummaryFailsWhenRequiredDown(t *testing.T) {
	c := New(Options{})
	if s := c.Summary(context.Background()); s.OK || s.Checks["patterns"].OK {
		t.Fatalf("missing pattern store must fail the summary: %+v", s)
	}
	c = New(Options{Patterns: PingFunc(func(ctx context.Context) error { return context.DeadlineExceeded })})
	s := c.Summary(context.Background())
	if s.OK || s.Checks["patterns"].Message != "timeout" {
		t.Fatalf("unexpected summary %+v", s)
	}
}
