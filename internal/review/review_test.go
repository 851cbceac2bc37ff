package review

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/docconvert/internal/corrector"
	"github.com/local/docconvert/internal/patterns"
)

type fakeLearner struct {
	recorded []patterns.Correction
	logs     []patterns.LogEntry
}

func (f *fakeLearner) SaveReview(ctx context.Context, cs []patterns.Correction, logs []patterns.LogEntry) ([]patterns.Pattern, error) {
	out := make([]patterns.Pattern, len(cs))
	for i, c := range cs {
		if c.Original == c.Corrected {
			continue
		}
		f.recorded = append(f.recorded, c)
		out[i] = patterns.Pattern{ID: int64(len(f.recorded)), Original: c.Original, Corrected: c.Corrected}
	}
	f.logs = append(f.logs, logs...)
	return out, nil
}

func threeCandidates() []corrector.Candidate {
	return []corrector.Candidate{
		{Original: "0l", Proposed: "이", Category: "ocr", Location: "p1"},
		{Original: "71", Proposed: "가", Category: "ocr", Location: "td"},
		{Original: "9", Proposed: "의", Category: "ocr", Location: "h2"},
	}
}

func TestSaveForwardsOnlyConfirmedAndEdited(t *testing.T) {
	s, err := NewSession("doc", patterns.SourceImagePDF, threeCandidates())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.State() != StateLoaded {
		t.Fatalf("expected loaded, got %s", s.State())
	}
	for id, d := range map[string]Decision{"c1": Confirmed, "c2": Confirmed, "c3": Rejected} {
		if err := s.Decide(id, d, ""); err != nil {
			t.Fatalf("Decide(%s) failed: %v", id, err)
		}
	}
	if s.State() != StateInReview {
		t.Fatalf("expected in_review, got %s", s.State())
	}

	l := &fakeLearner{}
	rec, err := s.Save(context.Background(), l)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(l.recorded) != 2 || rec.Learned != 2 {
		t.Fatalf("expected 2 learned patterns, got %d (%+v)", len(l.recorded), l.recorded)
	}
	for _, c := range l.recorded {
		if c.Original == "9" {
			t.Fatalf("rejected candidate reached the pattern store")
		}
		if c.Source != patterns.SourceImagePDF {
			t.Fatalf("unexpected source %q", c.Source)
		}
	}
	if len(l.logs) != 3 || l.logs[2].Decision != patterns.DecisionRejected {
		t.Fatalf("every decision must be logged, got %+v", l.logs)
	}
	if s.State() != StateSaved {
		t.Fatalf("expected saved, got %s", s.State())
	}
}

func TestDecideIsIdempotentAndEditedUsesValue(t *testing.T) {
	s, _ := NewSession("doc", patterns.SourceDigitalDoc, threeCandidates())
	if err := s.Decide("c1", Rejected, ""); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if err := s.Decide("c1", Edited, "이다"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if err := s.Decide("c2", Edited, ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if err := s.Decide("c9", Confirmed, ""); !errors.Is(err, ErrUnknownCandidate) {
		t.Fatalf("expected ErrUnknownCandidate, got %v", err)
	}
	if err := s.Decide("c2", Pending, ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("pending is not a reviewer decision, got %v", err)
	}

	l := &fakeLearner{}
	rec, err := s.Save(context.Background(), l)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(l.recorded) != 1 || l.recorded[0].Corrected != "이다" {
		t.Fatalf("edited value not forwarded: %+v", l.recorded)
	}
	if rec.Pending != 2 || rec.Outcomes[1].Decision != Pending || rec.Outcomes[2].Decision != Pending {
		t.Fatalf("undecided candidates must persist as pending: %+v", rec)
	}
}

func TestConfirmAllRemaining(t *testing.T) {
	s, _ := NewSession("doc", patterns.SourceImagePDF, threeCandidates())
	if err := s.Decide("c2", Rejected, ""); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	n, err := s.ConfirmAllRemaining()
	if err != nil || n != 2 {
		t.Fatalf("ConfirmAllRemaining = %d, %v", n, err)
	}
	v := s.View()
	if v.Undecided != 0 || v.Candidates[1].Decision.Decision != Rejected {
		t.Fatalf("bulk confirm must not override decisions: %+v", v)
	}
	l := &fakeLearner{}
	if _, err := s.Save(context.Background(), l); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(l.recorded) != 2 {
		t.Fatalf("expected 2 learned, got %d", len(l.recorded))
	}
}

func TestSavedSessionIsTerminal(t *testing.T) {
	s, _ := NewSession("doc", patterns.SourceImagePDF, threeCandidates())
	if _, err := s.Save(context.Background(), &fakeLearner{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Decide("c1", Confirmed, ""); !errors.Is(err, ErrSessionSaved) {
		t.Fatalf("expected ErrSessionSaved, got %v", err)
	}
	if _, err := s.ConfirmAllRemaining(); !errors.Is(err, ErrSessionSaved) {
		t.Fatalf("expected ErrSessionSaved, got %v", err)
	}
	if _, err := s.Save(context.Background(), &fakeLearner{}); !errors.Is(err, ErrSessionSaved) {
		t.Fatalf("expected ErrSessionSaved, got %v", err)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession("doc", "scan", nil); !errors.Is(err, patterns.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	dup := []corrector.Candidate{{ID: "x", Original: "a"}, {ID: "x", Original: "b"}}
	if _, err := NewSession("doc", patterns.SourceImagePDF, dup); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestManagerOpenDirWritesRecord(t *testing.T) {
	dir := t.TempDir()
	if _, err := corrector.WriteCandidates(dir, "report", patterns.SourceImagePDF, threeCandidates()); err != nil {
		t.Fatalf("WriteCandidates failed: %v", err)
	}
	l := &fakeLearner{}
	m := NewManager(l)
	s, err := m.OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}
	if got, err := m.Get(s.ID()); err != nil || got != s {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := s.Decide("c1", Confirmed, ""); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if _, err := m.Save(context.Background(), s.ID()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, RecordsFile))
	if err != nil {
		t.Fatalf("read record failed: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("decode record failed: %v", err)
	}
	if rec.DocID != "report" || rec.Learned != 1 || rec.Pending != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if views := m.List(); len(views) != 0 {
		t.Fatalf("saved session still listed: %+v", views)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected saved session to be evicted, got %v", err)
	}
}

// failOnceStore hands the first save a correction with a bad source so the
// transaction aborts after the first pattern was already written in it.
type failOnceStore struct {
	*patterns.Store
	failed bool
}

func (f *failOnceStore) SaveReview(ctx context.Context, cs []patterns.Correction, logs []patterns.LogEntry) ([]patterns.Pattern, error) {
	if !f.failed {
		f.failed = true
		bad := append([]patterns.Correction(nil), cs...)
		bad[len(bad)-1].Source = "scan"
		return f.Store.SaveReview(ctx, bad, logs)
	}
	return f.Store.SaveReview(ctx, cs, logs)
}

func TestSaveRetryAfterFailureCountsOnce(t *testing.T) {
	ps, err := patterns.Open(filepath.Join(t.TempDir(), "patterns.db"), patterns.DefaultConfig())
	if err != nil {
		t.Fatalf("patterns.Open failed: %v", err)
	}
	defer ps.Close()
	store := &failOnceStore{Store: ps}

	s, err := NewSession("doc", patterns.SourceImagePDF, threeCandidates())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if _, err := s.ConfirmAllRemaining(); err != nil {
		t.Fatalf("ConfirmAllRemaining failed: %v", err)
	}
	if _, err := s.Save(context.Background(), store); err == nil {
		t.Fatalf("expected first save to fail")
	}
	if s.State() == StateSaved {
		t.Fatalf("failed save must leave the session open")
	}
	rec, err := s.Save(context.Background(), store)
	if err != nil {
		t.Fatalf("retried Save failed: %v", err)
	}
	if rec.Learned != 3 {
		t.Fatalf("expected 3 learned, got %+v", rec)
	}

	all, err := ps.ListPatterns(context.Background(), patterns.Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 patterns, got %+v", all)
	}
	for _, p := range all {
		if p.Frequency != 1 {
			t.Fatalf("%s->%s frequency = %d, want 1", p.Original, p.Corrected, p.Frequency)
		}
	}
	logs, err := ps.ListCorrections(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("ListCorrections failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs))
	}
}
