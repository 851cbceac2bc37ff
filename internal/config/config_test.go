package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "")
	t.Setenv("CHUNK_MAX_PAGES", "")
	cfg := FromEnv()

	if cfg.Worker.Concurrency != DefaultConcurrency() {
		t.Fatalf("unexpected concurrency default: %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.Concurrency > 32 || cfg.Worker.Concurrency < 1 {
		t.Fatalf("concurrency out of bounds: %d", cfg.Worker.Concurrency)
	}
	if cfg.Recognition.ChunkMaxPages != 10 {
		t.Fatalf("unexpected chunk size default: %d", cfg.Recognition.ChunkMaxPages)
	}
	if len(cfg.Recognition.RateLimitCooldowns) != 5 || cfg.Recognition.RateLimitCooldowns[4] != 180*time.Second {
		t.Fatalf("unexpected cooldown schedule: %v", cfg.Recognition.RateLimitCooldowns)
	}
	if cfg.Patterns.Defaults.PromptPatternLimit != 100 || cfg.Patterns.Defaults.TargetLLM != "gpt-4o" {
		t.Fatalf("unexpected pattern defaults: %+v", cfg.Patterns.Defaults)
	}
	if cfg.Credits.PerPage != 50 || cfg.Credits.WelcomeCredits != 1000 {
		t.Fatalf("unexpected credit defaults: %+v", cfg.Credits)
	}
	if cfg.Worker.OutputDirName != "Converted_HTML" {
		t.Fatalf("unexpected output dir: %q", cfg.Worker.OutputDirName)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "3")
	t.Setenv("GENERATE_MARKDOWN", "false")
	t.Setenv("RATE_LIMIT_COOLDOWNS", "1s, 2, bogus")
	t.Setenv("ADMIN_EMAILS", "a@example.com, ,b@example.com")
	t.Setenv("AXIOM_DATASET", "prod")
	t.Setenv("CORRECTOR_CONFIDENCE", "0.75")

	cfg := FromEnv()
	if cfg.Worker.Concurrency != 3 {
		t.Fatalf("unexpected concurrency: %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.GenerateMarkdown {
		t.Fatalf("expected markdown disabled")
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(cfg.Recognition.RateLimitCooldowns) != 2 || cfg.Recognition.RateLimitCooldowns[0] != want[0] || cfg.Recognition.RateLimitCooldowns[1] != want[1] {
		t.Fatalf("unexpected cooldowns: %v", cfg.Recognition.RateLimitCooldowns)
	}
	if len(cfg.Credits.AdminEmails) != 2 {
		t.Fatalf("expected 2 admin emails, got %v", cfg.Credits.AdminEmails)
	}
	if cfg.Axiom.Dataset != "prod_docconvert" {
		t.Fatalf("unexpected dataset: %q", cfg.Axiom.Dataset)
	}
	if cfg.Corrector.Confidence != 0.75 {
		t.Fatalf("unexpected confidence: %v", cfg.Corrector.Confidence)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
worker:
  concurrency: 7
  generate_clean_html: false
recognition:
  chunk_max_pages: 5
  retry_base_delay: 2s
  rate_limit_cooldowns: [1s, 3s]
patterns:
  defaults:
    max_patterns_per_source: 20
credits:
  admin_emails: ["root@example.com"]
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("MAX_CONCURRENCY", "9")
	t.Setenv("CHUNK_MAX_PAGES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Worker.Concurrency != 9 {
		t.Fatalf("env should override yaml, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.GenerateCleanHTML {
		t.Fatalf("expected clean html disabled by yaml")
	}
	if !cfg.Worker.GenerateMarkdown {
		t.Fatalf("expected markdown default kept")
	}
	if cfg.Recognition.ChunkMaxPages != 5 || cfg.Recognition.RetryBaseDelay != 2*time.Second {
		t.Fatalf("unexpected recognition config: %+v", cfg.Recognition)
	}
	if len(cfg.Recognition.RateLimitCooldowns) != 2 || cfg.Recognition.RateLimitCooldowns[1] != 3*time.Second {
		t.Fatalf("unexpected cooldowns: %v", cfg.Recognition.RateLimitCooldowns)
	}
	if cfg.Patterns.Defaults.MaxPatternsPerSource != 20 || cfg.Patterns.Defaults.MaxPatterns != 5000 {
		t.Fatalf("unexpected pattern defaults: %+v", cfg.Patterns.Defaults)
	}
	if len(cfg.Credits.AdminEmails) != 1 || cfg.Credits.AdminEmails[0] != "root@example.com" {
		t.Fatalf("unexpected admins: %v", cfg.Credits.AdminEmails)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("MAX_CONCURRENCY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Worker.Concurrency != DefaultConcurrency() {
		t.Fatalf("unexpected concurrency: %d", cfg.Worker.Concurrency)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("corrector:\n  provider: gemini\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("CORRECTOR_PROVIDER", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
