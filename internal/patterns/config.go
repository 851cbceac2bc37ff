package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Config holds the store's tunable limits. It is persisted in the config
// table under one key and changed only through UpdateConfig.
type Config struct {
	MaxPatterns          int    `json:"max_patterns"`
	MaxPatternsPerSource int    `json:"max_patterns_per_source"`
	MinUsageToKeep       int    `json:"min_usage_to_keep"`
	CleanupThreshold     int    `json:"cleanup_threshold"`
	PromptPatternLimit   int    `json:"prompt_pattern_limit"`
	TargetLLM            string `json:"target_llm"`
}

// DefaultConfig mirrors the values the administration peer ships with.
func DefaultConfig() Config {
	return Config{
		MaxPatterns:          5000,
		MaxPatternsPerSource: 2500,
		MinUsageToKeep:       0,
		CleanupThreshold:     6000,
		PromptPatternLimit:   100,
		TargetLLM:            "gpt-4o",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPatterns == 0 && c.MaxPatternsPerSource == 0 && c.CleanupThreshold == 0 && c.PromptPatternLimit == 0 {
		return d
	}
	if c.PromptPatternLimit <= 0 {
		c.PromptPatternLimit = d.PromptPatternLimit
	}
	if c.TargetLLM == "" {
		c.TargetLLM = d.TargetLLM
	}
	return c
}

// Validate rejects negative limits.
func (c Config) Validate() error {
	switch {
	case c.MaxPatterns < 0, c.MaxPatternsPerSource < 0, c.MinUsageToKeep < 0, c.CleanupThreshold < 0:
		return fmt.Errorf("%w: pattern limits must be non-negative", ErrInvalidConfig)
	case c.PromptPatternLimit < 1:
		return fmt.Errorf("%w: prompt_pattern_limit must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch is a partial update; nil fields are left unchanged.
type ConfigPatch struct {
	MaxPatterns          *int    `json:"max_patterns"`
	MaxPatternsPerSource *int    `json:"max_patterns_per_source"`
	MinUsageToKeep       *int    `json:"min_usage_to_keep"`
	CleanupThreshold     *int    `json:"cleanup_threshold"`
	PromptPatternLimit   *int    `json:"prompt_pattern_limit"`
	TargetLLM            *string `json:"target_llm"`
}

func (p ConfigPatch) apply(c Config) Config {
	if p.MaxPatterns != nil {
		c.MaxPatterns = *p.MaxPatterns
	}
	if p.MaxPatternsPerSource != nil {
		c.MaxPatternsPerSource = *p.MaxPatternsPerSource
	}
	if p.MinUsageToKeep != nil {
		c.MinUsageToKeep = *p.MinUsageToKeep
	}
	if p.CleanupThreshold != nil {
		c.CleanupThreshold = *p.CleanupThreshold
	}
	if p.PromptPatternLimit != nil {
		c.PromptPatternLimit = *p.PromptPatternLimit
	}
	if p.TargetLLM != nil {
		c.TargetLLM = *p.TargetLLM
	}
	return c
}

// Config returns the current limits.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig applies patch, persists the result and makes it current.
func (s *Store) UpdateConfig(ctx context.Context, patch ConfigPatch) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := patch.apply(s.cfg)
	if err := next.Validate(); err != nil {
		return s.cfg, err
	}
	if err := s.saveConfig(ctx, next); err != nil {
		return s.cfg, err
	}
	s.cfg = next
	return next, nil
}

func (s *Store) loadConfig(defaults Config) (Config, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, configKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if err := defaults.Validate(); err != nil {
			return Config{}, err
		}
		return defaults, s.saveConfig(context.Background(), defaults)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load pattern config: %w", err)
	}
	cfg := defaults
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode pattern config: %w", err)
	}
	return cfg, nil
}

func (s *Store) saveConfig(ctx context.Context, cfg Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		configKey, string(b), s.now())
	return err
}

const tokensPerPattern = 50

var contextLimits = map[string]int{
	"gemini-2.0-flash":  1_000_000,
	"gemini-1.5-pro":    1_000_000,
	"gpt-4o":            128_000,
	"gpt-4o-mini":       128_000,
	"claude-3.5-sonnet": 200_000,
	"claude-3-opus":     200_000,
}

// ContextLimit is the token window assumed for a target model.
func ContextLimit(targetLLM string) int {
	if n, ok := contextLimits[targetLLM]; ok {
		return n
	}
	return 128_000
}

// RecommendedMax is how many patterns fit in half the target model's context.
func RecommendedMax(targetLLM string) int {
	return ContextLimit(targetLLM) / tokensPerPattern / 2
}
