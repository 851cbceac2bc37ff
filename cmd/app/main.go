package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/api"
	cfgpkg "github.com/local/docconvert/internal/config"
	"github.com/local/docconvert/internal/keyvault"
	logpkg "github.com/local/docconvert/internal/logger"
	"github.com/local/docconvert/internal/metrics"
	"github.com/local/docconvert/internal/patterns"
	"github.com/local/docconvert/internal/pool"
	"github.com/local/docconvert/internal/review"
	"github.com/local/docconvert/internal/reviewtools"
	"github.com/local/docconvert/internal/statuscheck"
	"github.com/local/docconvert/internal/store"
	web "github.com/local/docconvert/internal/web"
)

const usage = `usage: docconvert <command> [args]

commands:
  convert <folder>       convert every supported file under folder; JSON events on stdout
  serve                  run the HTTP API and dashboard
  cleanup [-force]       run one pattern cleanup pass
  seal-key <in> <out>    encrypt a recognition API key file (passphrase from RECOGNITION_KEY_PASSPHRASE)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := cfgpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the event stream in convert mode
	var console io.Writer = os.Stdout
	if cmd == "convert" {
		console = os.Stderr
	}
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		Console:      console,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	metrics.Init()

	var code int
	switch cmd {
	case "convert":
		code = runConvert(cfg, args)
	case "serve":
		code = runServe(cfg)
	case "cleanup":
		code = runCleanup(cfg, args)
	case "seal-key":
		code = runSealKey(cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	logpkg.Close()
	os.Exit(code)
}

// runConvert exits 1 when any document failed.
func runConvert(cfg cfgpkg.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer svc.Close()

	emit := pool.JSONLines(os.Stdout)
	tasks, out, err := svc.prepare(args[0])
	if err != nil {
		log.Error().Err(err).Str("folder", args[0]).Msg("batch preparation failed")
		emit(pool.Event{Type: pool.EventError, Message: err.Error()})
		emit(pool.Event{Type: pool.EventComplete, Summary: &pool.Summary{}})
		return 1
	}
	code := 0
	for ev := range svc.pool.Stream(ctx, tasks, out) {
		emit(ev)
		if ev.Type == pool.EventComplete && ev.Summary != nil && ev.Fail > 0 {
			code = 1
		}
	}
	return code
}

func runServe(cfg cfgpkg.Config) int {
	ctx := context.Background()
	svc, err := buildServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	defer svc.Close()

	sched, err := patterns.StartCleanup(svc.patterns, cfg.Patterns.CleanupSchedule)
	if err != nil {
		log.Error().Err(err).Msg("invalid cleanup schedule")
		return 1
	}
	if sched != nil {
		defer sched.Stop()
	}

	// Batch status store
	checks := statuscheck.Options{Patterns: svc.patterns, Binaries: []string{"soffice"}}
	var batches store.BatchStore = store.NewMemoryStore()
	if cfg.Server.RedisURL != "" {
		rs, err := store.NewRedisStore(cfg.Server.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("failed to init redis status store")
			return 1
		}
		defer rs.Close()
		batches = rs
		checks.Redis = rs
	}
	if svc.uploader != nil {
		checks.S3 = svc.uploader
	}

	baseDir := cfg.Review.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	ws, err := reviewtools.New(baseDir, svc.patterns)
	if err != nil {
		log.Error().Err(err).Str("base_dir", baseDir).Msg("failed to open review workspace")
		return 1
	}
	reviews := review.NewManager(svc.patterns)
	health := statuscheck.New(checks)

	srv := api.New(api.Deps{
		Runner:    svc.pool,
		Prepare:   svc.prepare,
		Batches:   batches,
		Workspace: ws,
		Reviews:   reviews,
		Patterns:  svc.patterns,
		Ledger:    svc.ledger,
		Health:    health,
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	// Dashboard
	dash := web.New(web.Deps{
		Health:    health,
		Patterns:  svc.patterns,
		Ledger:    svc.ledger,
		Reviews:   reviews,
		Workspace: ws,
		Batches:   batches,
		Start:     srv.StartBatch,
	}, cfg.Server.WebUsername, cfg.Server.WebPassword)
	dash.RegisterRoutes(mux)

	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.Close()
	log.Info().Msg("shutdown complete")
	return 0
}

func runCleanup(cfg cfgpkg.Config, args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	force := fs.Bool("force", false, "run even when below the cleanup threshold")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ps, err := openPatterns(cfg)
	if err != nil {
		log.Error().Err(err).Msg("open pattern store")
		return 1
	}
	defer ps.Close()

	rep, err := ps.Cleanup(context.Background(), *force)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	return 0
}

func runSealKey(cfg cfgpkg.Config, args []string) int {
	if len(args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if err := keyvault.SealFile(args[0], args[1], cfg.Recognition.KeyPassphrase); err != nil {
		log.Error().Err(err).Msg("seal key failed")
		return 1
	}
	log.Info().Str("out", args[1]).Msg("recognition key sealed")
	return 0
}
