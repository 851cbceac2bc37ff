package patterns

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, cfg Config) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns-test.db")
	s, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func mustRecord(t *testing.T, s *Store, original, corrected, source string, times int) Pattern {
	t.Helper()
	var p Pattern
	var err error
	for i := 0; i < times; i++ {
		p, err = s.Record(context.Background(), Correction{Original: original, Corrected: corrected, Source: source})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	return p
}

func mustUse(t *testing.T, s *Store, id int64, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if err := s.MarkUsed(context.Background(), id); err != nil {
			t.Fatalf("MarkUsed failed: %v", err)
		}
	}
}

func activeIDs(t *testing.T, s *Store) map[int64]bool {
	t.Helper()
	on := true
	ps, err := s.ListPatterns(context.Background(), Filter{Active: &on, Limit: 500})
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	out := map[int64]bool{}
	for _, p := range ps {
		out[p.ID] = true
	}
	return out
}

func TestRecordDuplicateTripleIncrementsFrequency(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	first := mustRecord(t, s, "0l", "이", SourceImagePDF, 1)
	second := mustRecord(t, s, "0l", "이", SourceImagePDF, 1)
	if first.ID != second.ID || second.Frequency != 2 {
		t.Fatalf("expected one row with frequency 2, got %+v then %+v", first, second)
	}

	// same text from another source is a separate pattern
	other := mustRecord(t, s, "0l", "이", SourceDigitalDoc, 1)
	if other.ID == first.ID || other.Frequency != 1 {
		t.Fatalf("unexpected cross-source pattern %+v", other)
	}

	var rows int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_patterns WHERE original = '0l'`).Scan(&rows); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 rows, got %d", rows)
	}
}

func TestRecordRejectsBadInput(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	if _, err := s.Record(ctx, Correction{Original: "a", Corrected: "b", Source: "fax"}); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if _, err := s.Record(ctx, Correction{Original: "a", Corrected: "a", Source: SourceImagePDF}); !errors.Is(err, ErrEmptyPattern) {
		t.Fatalf("expected ErrEmptyPattern, got %v", err)
	}
	if _, err := s.Record(ctx, Correction{Original: " ", Corrected: "b", Source: SourceImagePDF}); !errors.Is(err, ErrEmptyPattern) {
		t.Fatalf("expected ErrEmptyPattern, got %v", err)
	}
}

func TestConcurrentRecordLosesNoIncrements(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Record(context.Background(), Correction{Original: "제", Corrected: "게", Source: SourceImagePDF}); err != nil {
				t.Errorf("Record failed: %v", err)
			}
		}()
	}
	wg.Wait()
	ps, err := s.BuildPrompt(context.Background(), SourceImagePDF, 10)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if len(ps) != 1 || ps[0].Frequency != 20 {
		t.Fatalf("expected a single pattern with frequency 20, got %+v", ps)
	}
}

func TestBuildPromptRanksByEffectiveness(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	a := mustRecord(t, s, "71", "가", SourceImagePDF, 1)
	mustUse(t, s, a.ID, 5)
	b := mustRecord(t, s, "9", "의", SourceImagePDF, 5)
	mustUse(t, s, b.ID, 1)

	ps, err := s.BuildPrompt(ctx, SourceImagePDF, 10)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(ps))
	}
	if ps[0].ID != a.ID || ps[0].Effectiveness() != 11 || ps[1].Effectiveness() != 7 {
		t.Fatalf("unexpected ranking: %+v", ps)
	}
	if ps[0].LastUsed == nil {
		t.Fatalf("MarkUsed did not set last_used")
	}

	if err := s.SetActive(ctx, a.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	ps, _ = s.BuildPrompt(ctx, "", 10)
	if len(ps) != 1 || ps[0].ID != b.ID {
		t.Fatalf("inactive pattern leaked into prompt: %+v", ps)
	}
}

func TestBuildPromptTieBreaksOnRecentUse(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	old := mustRecord(t, s, "E", "은", SourceImagePDF, 1)
	recent := mustRecord(t, s, "Z", "을", SourceImagePDF, 1)
	s.now = func() time.Time { return base }
	mustUse(t, s, old.ID, 1)
	s.now = func() time.Time { return base.Add(time.Hour) }
	mustUse(t, s, recent.ID, 1)

	ps, err := s.BuildPrompt(context.Background(), SourceImagePDF, 10)
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}
	if ps[0].ID != recent.ID || ps[1].ID != old.ID {
		t.Fatalf("expected most recently used first, got %d then %d", ps[0].ID, ps[1].ID)
	}
}

func TestMarkUsedByTextAndUnknownID(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	mustRecord(t, s, "l", "1", SourceImagePDF, 1)
	mustRecord(t, s, "l", "1", SourceDigitalDoc, 1)

	n, err := s.MarkUsedByText(ctx, "l", "1", "")
	if err != nil || n != 2 {
		t.Fatalf("MarkUsedByText = %d, %v", n, err)
	}
	n, err = s.MarkUsedByText(ctx, "l", "1", SourceDigitalDoc)
	if err != nil || n != 1 {
		t.Fatalf("MarkUsedByText with source = %d, %v", n, err)
	}
	if err := s.MarkUsed(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func cleanupConfig(perSource, minUsage int) Config {
	return Config{
		MaxPatterns:          1000,
		MaxPatternsPerSource: perSource,
		MinUsageToKeep:       minUsage,
		CleanupThreshold:     1,
		PromptPatternLimit:   100,
		TargetLLM:            "gpt-4o",
	}
}

func TestCleanupDeactivatesLowestEffectiveness(t *testing.T) {
	s, _ := newTestStore(t, cleanupConfig(2, 0))
	low := mustRecord(t, s, "a", "b", SourceImagePDF, 1)
	mid := mustRecord(t, s, "c", "d", SourceImagePDF, 2)
	high := mustRecord(t, s, "e", "f", SourceImagePDF, 3)

	rep, err := s.Cleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if !rep.Triggered || rep.Total() != 1 || rep.Deactivated[SourceImagePDF] != 1 || rep.Remaining != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	active := activeIDs(t, s)
	if active[low.ID] || !active[mid.ID] || !active[high.ID] {
		t.Fatalf("wrong survivors: %v", active)
	}

	// deactivated, not deleted
	p, err := s.Get(context.Background(), low.ID)
	if err != nil || p.IsActive {
		t.Fatalf("expected inactive row, got %+v, %v", p, err)
	}

	// a second pass is a no-op
	rep, err = s.Cleanup(context.Background(), false)
	if err != nil || rep.Total() != 0 {
		t.Fatalf("cleanup not idempotent: %+v, %v", rep, err)
	}
}

func TestCleanupTieBreakOldestUseThenID(t *testing.T) {
	s, _ := newTestStore(t, cleanupConfig(2, 0))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// all four score 3 except top (5)
	newer := mustRecord(t, s, "n1", "n2", SourceImagePDF, 1)
	older := mustRecord(t, s, "o1", "o2", SourceImagePDF, 1)
	never := mustRecord(t, s, "v1", "v2", SourceImagePDF, 3)
	top := mustRecord(t, s, "t1", "t2", SourceImagePDF, 5)

	s.now = func() time.Time { return t0 }
	mustUse(t, s, older.ID, 1)
	s.now = func() time.Time { return t0.Add(24 * time.Hour) }
	mustUse(t, s, newer.ID, 1)

	if _, err := s.Cleanup(context.Background(), false); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	active := activeIDs(t, s)
	if active[never.ID] || active[older.ID] || !active[newer.ID] || !active[top.ID] {
		t.Fatalf("unexpected survivors %v (never=%d older=%d newer=%d top=%d)", active, never.ID, older.ID, newer.ID, top.ID)
	}
}

func TestCleanupTieBreakLowestID(t *testing.T) {
	s, _ := newTestStore(t, cleanupConfig(1, 0))
	first := mustRecord(t, s, "x", "y", SourceDigitalDoc, 1)
	second := mustRecord(t, s, "p", "q", SourceDigitalDoc, 1)

	if _, err := s.Cleanup(context.Background(), false); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	active := activeIDs(t, s)
	if active[first.ID] || !active[second.ID] {
		t.Fatalf("expected lowest id to go first, survivors %v", active)
	}
}

func TestCleanupStopsAtProtectedPattern(t *testing.T) {
	s, _ := newTestStore(t, cleanupConfig(1, 2))
	weak := mustRecord(t, s, "a", "b", SourceImagePDF, 1)
	used := mustRecord(t, s, "c", "d", SourceImagePDF, 1)
	mustUse(t, s, used.ID, 2)
	strong := mustRecord(t, s, "e", "f", SourceImagePDF, 10)

	rep, err := s.Cleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if rep.Total() != 1 || rep.Protected != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	active := activeIDs(t, s)
	if active[weak.ID] || !active[used.ID] || !active[strong.ID] {
		t.Fatalf("unexpected survivors %v", active)
	}
}

func TestCleanupRespectsThresholdUnlessForced(t *testing.T) {
	cfg := cleanupConfig(1, 0)
	cfg.CleanupThreshold = 10
	s, _ := newTestStore(t, cfg)
	mustRecord(t, s, "a", "b", SourceImagePDF, 1)
	mustRecord(t, s, "c", "d", SourceImagePDF, 1)

	rep, err := s.Cleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if rep.Triggered || rep.Total() != 0 {
		t.Fatalf("cleanup should not trigger below threshold: %+v", rep)
	}
	rep, err = s.Cleanup(context.Background(), true)
	if err != nil {
		t.Fatalf("forced Cleanup failed: %v", err)
	}
	if !rep.Triggered || rep.Total() != 1 {
		t.Fatalf("forced cleanup should deactivate one: %+v", rep)
	}
}

func TestCleanupGlobalLimitAfterPerSource(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxPatterns: 2, CleanupThreshold: 0, PromptPatternLimit: 10})
	a := mustRecord(t, s, "a", "b", SourceImagePDF, 1)
	mustRecord(t, s, "c", "d", SourceDigitalDoc, 4)
	mustRecord(t, s, "e", "f", SourceImagePDF, 3)

	rep, err := s.Cleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if rep.Total() != 1 || rep.Remaining != 2 || activeIDs(t, s)[a.ID] {
		t.Fatalf("unexpected global cleanup %+v", rep)
	}
}

func TestPromptTextGroupsAndCaps(t *testing.T) {
	var ps []Pattern
	for i := 0; i < 30; i++ {
		ps = append(ps, Pattern{Original: fmt.Sprintf("o%d", i), Corrected: fmt.Sprintf("c%d", i), Source: SourceImagePDF, Frequency: 30 - i})
	}
	ps = append(ps, Pattern{Original: "a|b", Corrected: "ab", Source: SourceDigitalDoc, Frequency: 1})

	text := PromptText(ps)
	if strings.Count(text, "| o") != 25 {
		t.Fatalf("expected 25 image rows, got %d", strings.Count(text, "| o"))
	}
	if !strings.Contains(text, "(scanned PDF recognition)") || !strings.Contains(text, "(digital document conversion)") {
		t.Fatalf("missing source headings:\n%s", text)
	}
	if !strings.Contains(text, `| a\|b | ab | 1 |`) {
		t.Fatalf("pipe not escaped:\n%s", text)
	}
	if strings.Index(text, "scanned") > strings.Index(text, "digital document") {
		t.Fatalf("sources out of order")
	}
	if PromptText(nil) != "" {
		t.Fatalf("expected empty text for no patterns")
	}
}

func TestConfigPersistsAndValidates(t *testing.T) {
	s, path := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	limit := 40
	llm := "claude-3.5-sonnet"
	cfg, err := s.UpdateConfig(ctx, ConfigPatch{PromptPatternLimit: &limit, TargetLLM: &llm})
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if cfg.PromptPatternLimit != 40 || cfg.MaxPatterns != 5000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	neg := -1
	if _, err := s.UpdateConfig(ctx, ConfigPatch{MaxPatterns: &neg}); err == nil {
		t.Fatalf("expected validation error")
	}
	if s.Config().MaxPatterns != 5000 {
		t.Fatalf("rejected patch must not apply")
	}
	_ = s.Close()

	// stored config wins over the seed defaults
	reopened, err := Open(path, Config{MaxPatterns: 1, PromptPatternLimit: 1})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Config(); got.PromptPatternLimit != 40 || got.TargetLLM != llm || got.MaxPatterns != 5000 {
		t.Fatalf("config not persisted: %+v", got)
	}
}

func TestRecommendedMax(t *testing.T) {
	cases := map[string]int{
		"gpt-4o":            1280,
		"claude-3.5-sonnet": 2000,
		"gemini-2.0-flash":  10000,
		"unknown-model":     1280,
	}
	for llm, want := range cases {
		if got := RecommendedMax(llm); got != want {
			t.Fatalf("RecommendedMax(%s) = %d, want %d", llm, got, want)
		}
	}
}

func TestCorrectionLogAndStats(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	for _, d := range []string{DecisionConfirmed, DecisionRejected, DecisionPending} {
		if err := s.LogCorrection(ctx, LogEntry{DocID: "doc", Original: "x", Corrected: "y", Decision: d}); err != nil {
			t.Fatalf("LogCorrection failed: %v", err)
		}
	}
	if err := s.LogCorrection(ctx, LogEntry{Original: "x"}); err == nil {
		t.Fatalf("expected error for empty decision")
	}
	rejected, err := s.ListCorrections(ctx, DecisionRejected, 10)
	if err != nil || len(rejected) != 1 || rejected[0].DocID != "doc" {
		t.Fatalf("ListCorrections = %+v, %v", rejected, err)
	}
	all, _ := s.ListCorrections(ctx, "", 10)
	if len(all) != 3 || all[0].Decision != DecisionPending {
		t.Fatalf("expected newest first, got %+v", all)
	}

	p := mustRecord(t, s, "a", "b", SourceImagePDF, 1)
	mustRecord(t, s, "c", "d", SourceDigitalDoc, 1)
	if err := s.SetActive(ctx, p.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Active != 1 || st.Inactive != 1 || st.Corrections != 3 || st.RecommendedMax != 1280 || st.CleanupDue {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.BySource[SourceImagePDF].Inactive != 1 || st.BySource[SourceDigitalDoc].Active != 1 {
		t.Fatalf("unexpected per-source stats %+v", st.BySource)
	}
}

func TestStartCleanupSchedule(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	sched, err := StartCleanup(s, "")
	if err != nil || sched != nil {
		t.Fatalf("empty schedule = %v, %v", sched, err)
	}
	sched.Stop()

	if _, err := StartCleanup(s, "not a schedule"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}

	sched, err = StartCleanup(s, "@every 1h")
	if err != nil {
		t.Fatalf("StartCleanup failed: %v", err)
	}
	sched.Stop()
}

func TestSaveReviewIsAtomic(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	cs := []Correction{
		{Original: "0l", Corrected: "이", Source: SourceImagePDF},
		{Original: "same", Corrected: "same", Source: SourceImagePDF},
		{Original: "71", Corrected: "가", Source: "scan"},
	}
	logs := []LogEntry{{DocID: "d", Source: SourceImagePDF, Original: "0l", Corrected: "이", Decision: DecisionConfirmed}}
	if _, err := s.SaveReview(ctx, cs, logs); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if ps, _ := s.ListPatterns(ctx, Filter{Limit: 10}); len(ps) != 0 {
		t.Fatalf("aborted save left patterns behind: %+v", ps)
	}
	if entries, _ := s.ListCorrections(ctx, "", 10); len(entries) != 0 {
		t.Fatalf("aborted save left log entries behind: %+v", entries)
	}

	cs[2].Source = SourceImagePDF
	got, err := s.SaveReview(ctx, cs, logs)
	if err != nil {
		t.Fatalf("SaveReview failed: %v", err)
	}
	if len(got) != 3 || got[0].ID == 0 || got[1].ID != 0 || got[2].Frequency != 1 {
		t.Fatalf("unexpected patterns %+v", got)
	}
}
