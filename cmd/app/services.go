package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/ai"
	"github.com/local/docconvert/internal/classifier"
	"github.com/local/docconvert/internal/config"
	"github.com/local/docconvert/internal/corrector"
	"github.com/local/docconvert/internal/credits"
	"github.com/local/docconvert/internal/extract"
	"github.com/local/docconvert/internal/htmlout"
	"github.com/local/docconvert/internal/keyvault"
	"github.com/local/docconvert/internal/limiter"
	"github.com/local/docconvert/internal/patterns"
	"github.com/local/docconvert/internal/pool"
	"github.com/local/docconvert/internal/recognition"
	"github.com/local/docconvert/internal/storage"
)

// services are the long-lived collaborators shared by every command.
type services struct {
	cfg      config.Config
	patterns *patterns.Store
	ledger   *credits.Ledger
	uploader *storage.S3Uploader
	cls      *classifier.Classifier
	pool     *pool.Pool
}

func openPatterns(cfg config.Config) (*patterns.Store, error) {
	d := cfg.Patterns.Defaults
	return patterns.Open(cfg.Patterns.DBPath, patterns.Config{
		MaxPatterns:          d.MaxPatterns,
		MaxPatternsPerSource: d.MaxPatternsPerSource,
		MinUsageToKeep:       d.MinUsageToKeep,
		CleanupThreshold:     d.CleanupThreshold,
		PromptPatternLimit:   d.PromptPatternLimit,
		TargetLLM:            d.TargetLLM,
	})
}

func recognitionKey(cfg config.RecognitionConfig) (string, error) {
	if cfg.KeyFile == "" {
		return cfg.APIKey, nil
	}
	key, err := keyvault.LoadKey(cfg.KeyFile, cfg.KeyPassphrase)
	if err != nil {
		return "", fmt.Errorf("load recognition key: %w", err)
	}
	return key, nil
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	ps, err := openPatterns(cfg)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	s := &services{cfg: cfg, patterns: ps, cls: classifier.New()}

	s.ledger, err = credits.Open(credits.Options{
		Path:           cfg.Credits.File,
		AdminEmails:    cfg.Credits.AdminEmails,
		PerPage:        cfg.Credits.PerPage,
		WelcomeCredits: cfg.Credits.WelcomeCredits,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open credits ledger: %w", err)
	}
	if cfg.Credits.Email != "" {
		if _, err := s.ledger.SetEmail(cfg.Credits.Email); err != nil {
			s.Close()
			return nil, fmt.Errorf("set credits identity: %w", err)
		}
	}

	key, err := recognitionKey(cfg.Recognition)
	if err != nil {
		s.Close()
		return nil, err
	}
	if key == "" {
		log.Warn().Msg("no recognition API key configured; scanned documents will fail")
	}
	rc := cfg.Recognition
	deps := pool.Deps{
		Recognizer: recognition.NewRetrier(
			recognition.NewHTTPClient(rc.URL, key, rc.Model),
			limiter.New(rc.RateLimitCooldowns),
			recognition.RetryOptions{Timeout: rc.Timeout, MaxRetries: rc.MaxRetries, BaseDelay: rc.RetryBaseDelay, MaxDelay: rc.RetryMaxDelay},
		),
		Ledger: s.ledger,
		Legacy: extract.NewLibreOffice(cfg.Worker.LibreOfficeWorkers, cfg.Worker.LibreOfficeTimeout),
	}

	client, err := ai.FromConfig(cfg.Corrector)
	if err != nil {
		s.Close()
		return nil, err
	}
	if client != nil {
		deps.Corrector = corrector.New(client, ps, cfg.Corrector.Confidence, cfg.Corrector.Timeout)
		log.Info().Str("provider", client.Name()).Msg("machine correction enabled")
	}

	if cfg.Server.S3Bucket != "" {
		s.uploader, err = storage.NewS3Uploader(ctx, storage.Options{
			Bucket:          cfg.Server.S3Bucket,
			Prefix:          cfg.Server.S3Prefix,
			Region:          cfg.Server.AWSRegion,
			AccessKeyID:     cfg.Server.AWSAccessKeyID,
			SecretAccessKey: cfg.Server.AWSSecretAccessKey,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		deps.Uploader = s.uploader
	}

	conv := pool.NewConverter(deps, pool.ConverterOptions{
		ChunkMaxPages:    rc.ChunkMaxPages,
		ChunkConcurrency: rc.ChunkConcurrency,
		Outputs:          htmlout.Options{Clean: cfg.Worker.GenerateCleanHTML, Markdown: cfg.Worker.GenerateMarkdown},
	})
	s.pool = pool.New(conv, cfg.Worker.Concurrency)
	return s, nil
}

func (s *services) prepare(folder string) ([]pool.Task, string, error) {
	return pool.Prepare(folder, s.cls, pool.PrepareOptions{
		OutputDirName: s.cfg.Worker.OutputDirName,
		MaxFileSize:   int64(s.cfg.Worker.MaxFileSizeMB) << 20,
	})
}

func (s *services) Close() {
	if s.patterns != nil {
		_ = s.patterns.Close()
	}
}
