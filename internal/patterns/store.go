package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/metrics"
)

// Provenance values shared with the synchronisation peer.
const (
	SourceImagePDF   = "image_pdf"
	SourceDigitalDoc = "digital_doc"
)

// Decisions written to correction_logs.
const (
	DecisionConfirmed   = "confirmed"
	DecisionEdited      = "edited"
	DecisionRejected    = "rejected"
	DecisionPending     = "pending"
	DecisionAutoApplied = "auto_applied"
)

const configKey = "pattern_limits"

var (
	ErrNotFound      = errors.New("pattern not found")
	ErrInvalidSource = errors.New("invalid pattern source")
	ErrEmptyPattern  = errors.New("original and corrected must be non-empty and differ")
	ErrInvalidConfig = errors.New("invalid pattern config")
)

// ValidSource reports whether s is a known provenance value.
func ValidSource(s string) bool {
	return s == SourceImagePDF || s == SourceDigitalDoc
}

// Pattern is one learned (original -> corrected) substitution.
type Pattern struct {
	ID         int64      `json:"id"`
	Original   string     `json:"original"`
	Corrected  string     `json:"corrected"`
	Source     string     `json:"source"`
	Category   string     `json:"category"`
	Context    string     `json:"context"`
	Reason     string     `json:"reason"`
	Frequency  int        `json:"frequency"`
	UsageCount int        `json:"usage_count"`
	IsActive   bool       `json:"is_active"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Effectiveness is usage_count*2 + frequency.
func (p Pattern) Effectiveness() int { return p.UsageCount*2 + p.Frequency }

// MarshalJSON adds the derived effectiveness score.
func (p Pattern) MarshalJSON() ([]byte, error) {
	type plain Pattern
	return json.Marshal(struct {
		plain
		Effectiveness int `json:"effectiveness_score"`
	}{plain(p), p.Effectiveness()})
}

// Correction is the input to Record.
type Correction struct {
	Original  string
	Corrected string
	Source    string
	Category  string
	Context   string
	Reason    string
}

// Store is the sqlite-backed pattern store. All writes go through a single
// connection, so counter updates never interleave.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu  sync.RWMutex
	cfg Config
}

const schema = `
CREATE TABLE IF NOT EXISTS error_patterns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	original    TEXT NOT NULL,
	corrected   TEXT NOT NULL,
	source      TEXT NOT NULL,
	category    TEXT DEFAULT '',
	context     TEXT DEFAULT '',
	reason      TEXT DEFAULT '',
	frequency   INTEGER NOT NULL DEFAULT 1,
	usage_count INTEGER NOT NULL DEFAULT 0,
	is_active   INTEGER NOT NULL DEFAULT 1,
	last_used   DATETIME,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	UNIQUE(original, corrected, source)
);
CREATE INDEX IF NOT EXISTS idx_patterns_source_active ON error_patterns(source, is_active);
CREATE INDEX IF NOT EXISTS idx_patterns_rank ON error_patterns(usage_count, frequency);

CREATE TABLE IF NOT EXISTS correction_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     TEXT DEFAULT '',
	source     TEXT DEFAULT '',
	original   TEXT NOT NULL,
	corrected  TEXT DEFAULT '',
	context    TEXT DEFAULT '',
	category   TEXT DEFAULT '',
	reason     TEXT DEFAULT '',
	decision   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_decision ON correction_logs(decision);
CREATE INDEX IF NOT EXISTS idx_logs_created ON correction_logs(created_at);

CREATE TABLE IF NOT EXISTS config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Open opens (creating if needed) the pattern database at path. defaults seed
// the stored configuration the first time the database is created.
func Open(path string, defaults Config) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pattern db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pattern schema: %w", err)
	}

	// Migration: doc_id column on older correction_logs.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('correction_logs') WHERE name = 'doc_id'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE correction_logs ADD COLUMN doc_id TEXT DEFAULT ''`)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	cfg, err := s.loadConfig(defaults.withDefaults())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.cfg = cfg
	log.Debug().Str("path", path).Int("max_patterns", cfg.MaxPatterns).Msg("pattern store opened")
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func normalizeCorrection(c Correction) (Correction, error) {
	c.Original = strings.TrimSpace(c.Original)
	c.Corrected = strings.TrimSpace(c.Corrected)
	if c.Original == "" || c.Corrected == "" || c.Original == c.Corrected {
		return c, ErrEmptyPattern
	}
	if !ValidSource(c.Source) {
		return c, fmt.Errorf("%w: %q", ErrInvalidSource, c.Source)
	}
	return c, nil
}

// Record inserts a new pattern or, when the (original, corrected, source)
// triple already exists, increments its frequency.
func (s *Store) Record(ctx context.Context, c Correction) (Pattern, error) {
	c, err := normalizeCorrection(c)
	if err != nil {
		return Pattern{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Pattern{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := s.recordTx(ctx, tx, c)
	if err != nil {
		return Pattern{}, err
	}
	if err := tx.Commit(); err != nil {
		return Pattern{}, err
	}
	metrics.IncPatternRecorded()
	return p, nil
}

// SaveReview records corrections and appends log entries in one transaction:
// either every frequency increment and log row lands, or none does. The
// returned slice is parallel to cs; corrections that are not learnable
// (ErrEmptyPattern) get a zero Pattern and are skipped.
func (s *Store) SaveReview(ctx context.Context, cs []Correction, logs []LogEntry) ([]Pattern, error) {
	for _, e := range logs {
		if e.Decision == "" {
			return nil, fmt.Errorf("correction log: empty decision")
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]Pattern, len(cs))
	learned := 0
	for i, c := range cs {
		c, err := normalizeCorrection(c)
		if errors.Is(err, ErrEmptyPattern) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if out[i], err = s.recordTx(ctx, tx, c); err != nil {
			return nil, err
		}
		learned++
	}
	for _, e := range logs {
		if err := s.insertLog(ctx, tx, e); err != nil {
			return nil, fmt.Errorf("insert correction log: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := 0; i < learned; i++ {
		metrics.IncPatternRecorded()
	}
	return out, nil
}

func (s *Store) recordTx(ctx context.Context, tx *sql.Tx, c Correction) (Pattern, error) {
	now := s.now()
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM error_patterns WHERE original = ? AND corrected = ? AND source = ?`,
		c.Original, c.Corrected, c.Source).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO error_patterns (original, corrected, source, category, context, reason, frequency, usage_count, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 1, 0, 1, ?, ?)`,
			c.Original, c.Corrected, c.Source, c.Category, c.Context, c.Reason, now, now)
		if err != nil {
			return Pattern{}, fmt.Errorf("insert pattern: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return Pattern{}, err
		}
	case err != nil:
		return Pattern{}, fmt.Errorf("lookup pattern: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE error_patterns SET frequency = frequency + 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return Pattern{}, fmt.Errorf("increment frequency: %w", err)
		}
	}
	return scanPattern(tx.QueryRowContext(ctx, selectPattern+` WHERE id = ?`, id))
}

// MarkUsed increments usage_count and refreshes last_used.
func (s *Store) MarkUsed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_patterns SET usage_count = usage_count + 1, last_used = ?, updated_at = ? WHERE id = ?`,
		s.now(), s.now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsedByText marks every pattern matching original/corrected (and source,
// if non-empty) as used. It returns the number of patterns touched.
func (s *Store) MarkUsedByText(ctx context.Context, original, corrected, source string) (int, error) {
	q := `UPDATE error_patterns SET usage_count = usage_count + 1, last_used = ?, updated_at = ? WHERE original = ? AND corrected = ?`
	args := []any{s.now(), s.now(), original, corrected}
	if source != "" {
		q += ` AND source = ?`
		args = append(args, source)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get returns one pattern by id.
func (s *Store) Get(ctx context.Context, id int64) (Pattern, error) {
	p, err := scanPattern(s.db.QueryRowContext(ctx, selectPattern+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Pattern{}, ErrNotFound
	}
	return p, err
}

// SetActive toggles a pattern without deleting it.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_patterns SET is_active = ?, updated_at = ? WHERE id = ?`, active, s.now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BuildPrompt returns up to limit active patterns ranked by effectiveness,
// most recently used first on ties. An empty source means every source.
func (s *Store) BuildPrompt(ctx context.Context, source string, limit int) ([]Pattern, error) {
	if limit <= 0 {
		limit = s.Config().PromptPatternLimit
	}
	q := selectPattern + ` WHERE is_active = 1`
	var args []any
	if source != "" {
		q += ` AND source = ?`
		args = append(args, source)
	}
	q += ` ORDER BY (usage_count * 2 + frequency) DESC, last_used IS NULL, last_used DESC, id ASC LIMIT ?`
	args = append(args, limit)
	return s.queryPatterns(ctx, q, args...)
}

// Filter narrows ListPatterns.
type Filter struct {
	Source string `json:"source"`
	Active *bool  `json:"is_active"`
	Search string `json:"search"`
	// SortBy is effectiveness (default), usage_count, frequency or created_at.
	SortBy string `json:"sort_by"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ListPatterns returns patterns for administration, active or not.
func (s *Store) ListPatterns(ctx context.Context, f Filter) ([]Pattern, error) {
	var where []string
	var args []any
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, *f.Active)
	}
	if f.Search != "" {
		where = append(where, "(original LIKE ? OR corrected LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	q := selectPattern
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.SortBy {
	case "usage_count":
		q += " ORDER BY usage_count DESC, id ASC"
	case "frequency":
		q += " ORDER BY frequency DESC, id ASC"
	case "created_at":
		q += " ORDER BY created_at DESC, id DESC"
	default:
		q += " ORDER BY (usage_count * 2 + frequency) DESC, id ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)
	return s.queryPatterns(ctx, q, args...)
}

const selectPattern = `SELECT id, original, corrected, source, category, context, reason, frequency, usage_count, is_active, last_used, created_at, updated_at FROM error_patterns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(r rowScanner) (Pattern, error) {
	var p Pattern
	var lastUsed sql.NullTime
	if err := r.Scan(&p.ID, &p.Original, &p.Corrected, &p.Source, &p.Category, &p.Context, &p.Reason,
		&p.Frequency, &p.UsageCount, &p.IsActive, &lastUsed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Pattern{}, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		p.LastUsed = &t
	}
	return p, nil
}

func (s *Store) queryPatterns(ctx context.Context, q string, args ...any) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LogEntry is one row of the correction audit log.
type LogEntry struct {
	ID        int64     `json:"id"`
	DocID     string    `json:"doc_id"`
	Source    string    `json:"source"`
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
	Context   string    `json:"context"`
	Category  string    `json:"category"`
	Reason    string    `json:"reason"`
	Decision  string    `json:"decision"`
	CreatedAt time.Time `json:"created_at"`
}

// LogCorrection appends one decision to correction_logs.
func (s *Store) LogCorrection(ctx context.Context, e LogEntry) error {
	if e.Decision == "" {
		return fmt.Errorf("correction log: empty decision")
	}
	return s.insertLog(ctx, s.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertLog(ctx context.Context, db execer, e LogEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO correction_logs (doc_id, source, original, corrected, context, category, reason, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DocID, e.Source, e.Original, e.Corrected, e.Context, e.Category, e.Reason, e.Decision, s.now())
	return err
}

// ListCorrections returns the newest log entries, optionally for one decision.
func (s *Store) ListCorrections(ctx context.Context, decision string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, doc_id, source, original, corrected, context, category, reason, decision, created_at FROM correction_logs`
	var args []any
	if decision != "" {
		q += ` WHERE decision = ?`
		args = append(args, decision)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.DocID, &e.Source, &e.Original, &e.Corrected, &e.Context,
			&e.Category, &e.Reason, &e.Decision, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SourceStats counts patterns for one provenance value.
type SourceStats struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// Stats summarises the store against its configured limits.
type Stats struct {
	Active         int                    `json:"active"`
	Inactive       int                    `json:"inactive"`
	BySource       map[string]SourceStats `json:"by_source"`
	Corrections    int                    `json:"corrections"`
	RecommendedMax int                    `json:"recommended_max_patterns"`
	UsagePercent   float64                `json:"usage_percent"`
	CleanupDue     bool                   `json:"cleanup_due"`
	Config         Config                 `json:"config"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	cfg := s.Config()
	st := Stats{BySource: map[string]SourceStats{}, Config: cfg, RecommendedMax: RecommendedMax(cfg.TargetLLM)}

	rows, err := s.db.QueryContext(ctx, `SELECT source, is_active, COUNT(*) FROM error_patterns GROUP BY source, is_active`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var active bool
		var n int
		if err := rows.Scan(&source, &active, &n); err != nil {
			return Stats{}, err
		}
		ss := st.BySource[source]
		if active {
			ss.Active += n
			st.Active += n
		} else {
			ss.Inactive += n
			st.Inactive += n
		}
		st.BySource[source] = ss
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correction_logs`).Scan(&st.Corrections); err != nil {
		return Stats{}, err
	}
	if cfg.MaxPatterns > 0 {
		st.UsagePercent = float64(st.Active) * 100 / float64(cfg.MaxPatterns)
	}
	st.CleanupDue = st.Active > cfg.CleanupThreshold
	return st, nil
}
