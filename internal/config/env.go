package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool          `yaml:"send"`
	APIKey        string        `yaml:"api_key"`
	OrgID         string        `yaml:"org_id"`
	Dataset       string        `yaml:"dataset"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// WorkerConfig defines batch worker behavior and limits.
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	GenerateCleanHTML  bool          `yaml:"generate_clean_html"`
	GenerateMarkdown   bool          `yaml:"generate_markdown"`
	OutputDirName      string        `yaml:"output_dir_name"`
	MaxFileSizeMB      int           `yaml:"max_file_size_mb"`
	LibreOfficeWorkers int           `yaml:"libreoffice_workers"`
	LibreOfficeTimeout time.Duration `yaml:"libreoffice_timeout"`
}

// RecognitionConfig configures the remote document recognition service.
type RecognitionConfig struct {
	URL                string          `yaml:"url"`
	Model              string          `yaml:"model"`
	APIKey             string          `yaml:"api_key"`
	KeyFile            string          `yaml:"key_file"`
	KeyPassphrase      string          `yaml:"key_passphrase"`
	Timeout            time.Duration   `yaml:"timeout"`
	MaxRetries         int             `yaml:"max_retries"`
	RetryBaseDelay     time.Duration   `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration   `yaml:"retry_max_delay"`
	RateLimitCooldowns []time.Duration `yaml:"rate_limit_cooldowns"`
	ChunkMaxPages      int             `yaml:"chunk_max_pages"`
	ChunkConcurrency   int             `yaml:"chunk_concurrency"`
}

// PatternDefaults seeds the pattern store's tunables on first start.
type PatternDefaults struct {
	MaxPatterns          int    `yaml:"max_patterns"`
	MaxPatternsPerSource int    `yaml:"max_patterns_per_source"`
	MinUsageToKeep       int    `yaml:"min_usage_to_keep"`
	CleanupThreshold     int    `yaml:"cleanup_threshold"`
	PromptPatternLimit   int    `yaml:"prompt_pattern_limit"`
	TargetLLM            string `yaml:"target_llm"`
}

// PatternsConfig locates the pattern database and its cleanup schedule.
type PatternsConfig struct {
	DBPath          string          `yaml:"db_path"`
	CleanupSchedule string          `yaml:"cleanup_schedule"`
	Defaults        PatternDefaults `yaml:"defaults"`
}

// CreditsConfig configures the local usage ledger.
type CreditsConfig struct {
	File           string   `yaml:"file"`
	Email          string   `yaml:"email"`
	AdminEmails    []string `yaml:"admin_emails"`
	PerPage        int      `yaml:"per_page"`
	WelcomeCredits int      `yaml:"welcome_credits"`
}

// CorrectorConfig selects the LLM used to propose corrections.
type CorrectorConfig struct {
	Provider        string        `yaml:"provider"` // "anthropic"|"openai"|"none"
	AnthropicModel  string        `yaml:"anthropic_model"`
	OpenAIModel     string        `yaml:"openai_model"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	Confidence      float64       `yaml:"confidence"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ServerConfig holds the serve-mode listeners and optional backends.
type ServerConfig struct {
	Port               string `yaml:"port"`
	RedisURL           string `yaml:"redis_url"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3Prefix           string `yaml:"s3_prefix"`
	AWSRegion          string `yaml:"aws_region"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`

	// Dashboard login; the dashboard is open when either is empty.
	WebUsername string `yaml:"web_username"`
	WebPassword string `yaml:"web_password"`
}

// ReviewConfig points the reviewer tools at a working directory.
type ReviewConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// Config is the top-level configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Axiom       AxiomConfig       `yaml:"axiom"`
	Worker      WorkerConfig      `yaml:"worker"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Credits     CreditsConfig     `yaml:"credits"`
	Corrector   CorrectorConfig   `yaml:"corrector"`
	Server      ServerConfig      `yaml:"server"`
	Review      ReviewConfig      `yaml:"review"`
}

// Defaults returns the built-in configuration without consulting the environment.
func Defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     parseBool(devDefaultPretty()),
			File:       "logs/docconvert.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Axiom: AxiomConfig{
			Dataset:       "dev_docconvert",
			FlushInterval: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:        DefaultConcurrency(),
			GenerateCleanHTML:  true,
			GenerateMarkdown:   true,
			OutputDirName:      "Converted_HTML",
			MaxFileSizeMB:      50,
			LibreOfficeWorkers: 2,
			LibreOfficeTimeout: 180 * time.Second,
		},
		Recognition: RecognitionConfig{
			URL:            "https://api.upstage.ai/v1/document-ai/document-parse",
			Model:          "document-parse",
			Timeout:        300 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 5 * time.Second,
			RetryMaxDelay:  60 * time.Second,
			RateLimitCooldowns: []time.Duration{
				10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 180 * time.Second,
			},
			ChunkMaxPages:    10,
			ChunkConcurrency: 4,
		},
		Patterns: PatternsConfig{
			DBPath:          filepath.Join(home, ".docconvert", "patterns.db"),
			CleanupSchedule: "@every 1h",
			Defaults: PatternDefaults{
				MaxPatterns:          5000,
				MaxPatternsPerSource: 2500,
				MinUsageToKeep:       0,
				CleanupThreshold:     6000,
				PromptPatternLimit:   100,
				TargetLLM:            "gpt-4o",
			},
		},
		Credits: CreditsConfig{
			File:           filepath.Join(home, ".docconvert", "credits.json"),
			PerPage:        50,
			WelcomeCredits: 1000,
		},
		Corrector: CorrectorConfig{
			Provider:       "none",
			AnthropicModel: "claude-3-5-sonnet-latest",
			OpenAIModel:    "gpt-4o",
			Confidence:     0.9,
			Timeout:        120 * time.Second,
		},
		Server: ServerConfig{
			Port:      "8080",
			AWSRegion: "us-east-1",
		},
	}
}

// DefaultConcurrency is min(32, 2 x CPUs).
func DefaultConcurrency() int {
	n := 2 * runtime.NumCPU()
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	envString(&cfg.Logging.Level, "LOG_LEVEL")
	envBool(&cfg.Logging.Pretty, "LOG_PRETTY")
	envString(&cfg.Logging.File, "LOG_FILE")
	envInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE_MB")
	envInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	envInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	envBool(&cfg.Logging.Compress, "LOG_COMPRESS")

	envBool(&cfg.Axiom.Send, "SEND_LOGS_TO_AXIOM")
	envString(&cfg.Axiom.APIKey, "AXIOM_API_KEY")
	envString(&cfg.Axiom.OrgID, "AXIOM_ORG_ID")
	if v := getEnv("AXIOM_DATASET", ""); v != "" {
		cfg.Axiom.Dataset = v + "_docconvert"
	}
	envDuration(&cfg.Axiom.FlushInterval, "AXIOM_FLUSH_INTERVAL")

	envInt(&cfg.Worker.Concurrency, "MAX_CONCURRENCY")
	envBool(&cfg.Worker.GenerateCleanHTML, "GENERATE_CLEAN_HTML")
	envBool(&cfg.Worker.GenerateMarkdown, "GENERATE_MARKDOWN")
	envString(&cfg.Worker.OutputDirName, "OUTPUT_DIR_NAME")
	envInt(&cfg.Worker.MaxFileSizeMB, "MAX_FILE_SIZE_MB")
	envInt(&cfg.Worker.LibreOfficeWorkers, "LIBREOFFICE_WORKERS")
	envDuration(&cfg.Worker.LibreOfficeTimeout, "LIBREOFFICE_TIMEOUT")

	envString(&cfg.Recognition.URL, "RECOGNITION_URL")
	envString(&cfg.Recognition.Model, "RECOGNITION_MODEL")
	envString(&cfg.Recognition.APIKey, "RECOGNITION_API_KEY")
	envString(&cfg.Recognition.KeyFile, "RECOGNITION_KEY_FILE")
	envString(&cfg.Recognition.KeyPassphrase, "RECOGNITION_KEY_PASSPHRASE")
	envDuration(&cfg.Recognition.Timeout, "RECOGNITION_TIMEOUT")
	envInt(&cfg.Recognition.MaxRetries, "RECOGNITION_MAX_RETRIES")
	envDuration(&cfg.Recognition.RetryBaseDelay, "RETRY_BASE_DELAY")
	envDuration(&cfg.Recognition.RetryMaxDelay, "RETRY_MAX_DELAY")
	if v := getEnv("RATE_LIMIT_COOLDOWNS", ""); v != "" {
		if ds := parseDurationList(v); len(ds) > 0 {
			cfg.Recognition.RateLimitCooldowns = ds
		}
	}
	envInt(&cfg.Recognition.ChunkMaxPages, "CHUNK_MAX_PAGES")
	envInt(&cfg.Recognition.ChunkConcurrency, "CHUNK_CONCURRENCY")

	envString(&cfg.Patterns.DBPath, "PATTERNS_DB_PATH")
	envString(&cfg.Patterns.CleanupSchedule, "PATTERN_CLEANUP_SCHEDULE")

	envString(&cfg.Credits.File, "CREDITS_FILE")
	envString(&cfg.Credits.Email, "CREDITS_EMAIL")
	if v := getEnv("ADMIN_EMAILS", ""); v != "" {
		cfg.Credits.AdminEmails = splitList(v)
	}
	envInt(&cfg.Credits.PerPage, "CREDIT_PER_PAGE")
	envInt(&cfg.Credits.WelcomeCredits, "WELCOME_CREDITS")

	envString(&cfg.Corrector.Provider, "CORRECTOR_PROVIDER")
	envString(&cfg.Corrector.AnthropicModel, "ANTHROPIC_MODEL")
	envString(&cfg.Corrector.OpenAIModel, "OPENAI_MODEL")
	envString(&cfg.Corrector.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envString(&cfg.Corrector.OpenAIAPIKey, "OPENAI_API_KEY")
	envFloat(&cfg.Corrector.Confidence, "CORRECTOR_CONFIDENCE")
	envDuration(&cfg.Corrector.Timeout, "CORRECTOR_TIMEOUT")

	envString(&cfg.Server.Port, "PORT")
	envString(&cfg.Server.RedisURL, "REDIS_URL")
	envString(&cfg.Server.S3Bucket, "S3_BUCKET")
	envString(&cfg.Server.S3Prefix, "S3_PREFIX")
	envString(&cfg.Server.AWSRegion, "AWS_REGION")
	envString(&cfg.Server.AWSAccessKeyID, "AWS_ACCESS_KEY_ID")
	envString(&cfg.Server.AWSSecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	envString(&cfg.Server.WebUsername, "WEB_USERNAME")
	envString(&cfg.Server.WebPassword, "WEB_PASSWORD")

	envString(&cfg.Review.BaseDir, "REVIEW_BASE_DIR")
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) { *dst = parseInt(os.Getenv(key), *dst) }

func envFloat(dst *float64, key string) { *dst = parseFloat(os.Getenv(key), *dst) }

func envDuration(dst *time.Duration, key string) { *dst = parseDuration(os.Getenv(key), *dst) }

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = parseBool(v)
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// parseDurationList accepts "10s,30s,1m"; bare numbers are seconds.
func parseDurationList(s string) []time.Duration {
	var out []time.Duration
	for _, part := range splitList(s) {
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, time.Duration(n)*time.Second)
			continue
		}
		if d, err := time.ParseDuration(part); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
