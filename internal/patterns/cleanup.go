package patterns

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/metrics"
)

// CleanupReport describes one cleanup pass.
type CleanupReport struct {
	Triggered   bool           `json:"triggered"`
	ActiveSeen  int            `json:"active_before"`
	Remaining   int            `json:"active_after"`
	Deactivated map[string]int `json:"deactivated"`
	Protected   int            `json:"protected"`
}

// Total is the number of patterns deactivated across all sources.
func (r CleanupReport) Total() int {
	n := 0
	for _, v := range r.Deactivated {
		n += v
	}
	return n
}

// lowest first: effectiveness, then oldest last_used (never used first), then id.
const evictionOrder = ` ORDER BY (usage_count * 2 + frequency) ASC, last_used IS NOT NULL, last_used ASC, id ASC`

// Cleanup deactivates the least effective patterns. Unless force is set it
// only runs when the active count exceeds cleanup_threshold. Each source is
// trimmed to max_patterns_per_source, then the whole store to max_patterns.
// Patterns with usage_count >= min_usage_to_keep (when that is positive) are
// never deactivated and stop the sweep for their scope.
func (s *Store) Cleanup(ctx context.Context, force bool) (CleanupReport, error) {
	cfg := s.Config()
	rep := CleanupReport{Deactivated: map[string]int{}}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_patterns WHERE is_active = 1`).Scan(&rep.ActiveSeen); err != nil {
		return rep, err
	}
	rep.Remaining = rep.ActiveSeen
	if !force && rep.ActiveSeen <= cfg.CleanupThreshold {
		return rep, nil
	}
	rep.Triggered = true

	if cfg.MaxPatternsPerSource > 0 {
		sources, err := activeSources(ctx, tx)
		if err != nil {
			return rep, err
		}
		for _, src := range sources {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM error_patterns WHERE is_active = 1 AND source = ?`, src).Scan(&n); err != nil {
				return rep, err
			}
			if n <= cfg.MaxPatternsPerSource {
				continue
			}
			done, protected, err := s.evict(ctx, tx, src, n-cfg.MaxPatternsPerSource, cfg.MinUsageToKeep)
			if err != nil {
				return rep, err
			}
			rep.Deactivated[src] += done
			rep.Protected += protected
			rep.Remaining -= done
		}
	}

	if cfg.MaxPatterns > 0 && rep.Remaining > cfg.MaxPatterns {
		ids, err := s.evictGlobal(ctx, tx, rep.Remaining-cfg.MaxPatterns, cfg.MinUsageToKeep)
		if err != nil {
			return rep, err
		}
		for src, n := range ids {
			rep.Deactivated[src] += n
			rep.Remaining -= n
		}
	}

	if err := tx.Commit(); err != nil {
		return rep, err
	}
	for src, n := range rep.Deactivated {
		metrics.AddDeactivated(src, n)
	}
	log.Info().
		Int("active_before", rep.ActiveSeen).
		Int("active_after", rep.Remaining).
		Int("deactivated", rep.Total()).
		Int("protected", rep.Protected).
		Msg("pattern cleanup finished")
	return rep, nil
}

func activeSources(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT source FROM error_patterns WHERE is_active = 1 ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type victim struct {
	id     int64
	source string
	usage  int
}

func loadVictims(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]victim, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.source, &v.usage); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// evict deactivates up to excess patterns of one source. The second result is
// 1 when the sweep stopped on a protected pattern.
func (s *Store) evict(ctx context.Context, tx *sql.Tx, source string, excess, minUsage int) (int, int, error) {
	victims, err := loadVictims(ctx, tx,
		`SELECT id, source, usage_count FROM error_patterns WHERE is_active = 1 AND source = ?`+evictionOrder+` LIMIT ?`,
		source, excess)
	if err != nil {
		return 0, 0, err
	}
	done, protected, err := s.deactivate(ctx, tx, victims, minUsage)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup %s: %w", source, err)
	}
	return len(done), protected, nil
}

func (s *Store) evictGlobal(ctx context.Context, tx *sql.Tx, excess, minUsage int) (map[string]int, error) {
	victims, err := loadVictims(ctx, tx,
		`SELECT id, source, usage_count FROM error_patterns WHERE is_active = 1`+evictionOrder+` LIMIT ?`, excess)
	if err != nil {
		return nil, err
	}
	done, _, err := s.deactivate(ctx, tx, victims, minUsage)
	if err != nil {
		return nil, fmt.Errorf("cleanup global: %w", err)
	}
	out := map[string]int{}
	for _, v := range done {
		out[v.source]++
	}
	return out, nil
}

func (s *Store) deactivate(ctx context.Context, tx *sql.Tx, victims []victim, minUsage int) ([]victim, int, error) {
	var done []victim
	for _, v := range victims {
		if minUsage > 0 && v.usage >= minUsage {
			return done, 1, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE error_patterns SET is_active = 0, updated_at = ? WHERE id = ?`, s.now(), v.id); err != nil {
			return nil, 0, err
		}
		done = append(done, v)
	}
	return done, 0, nil
}
