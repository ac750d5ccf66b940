package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"pr-review-automation/internal/aggregator"
	"pr-review-automation/internal/config"
	"pr-review-automation/internal/enrich"
	"pr-review-automation/internal/httpapi"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/pipeline"
	"pr-review-automation/internal/prompt"
	"pr-review-automation/internal/publisher"
	"pr-review-automation/internal/queue"
	"pr-review-automation/internal/reviewcontext"
	"pr-review-automation/internal/scm"
	"pr-review-automation/internal/store"
	"pr-review-automation/internal/ticket"
)

func main() {
	cfg := config.LoadConfig()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	llmClient := openai.NewClient(
		option.WithAPIKey(cfg.LLM.APIKey),
		option.WithBaseURL(cfg.LLM.Endpoint),
	)

	repo, err := store.NewSQLiteRepository(cfg.Storage.DSN)
	if err != nil {
		slog.Error("init storage failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	ctx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	q, err := queue.New(ctx, rdb, queue.Config{
		StreamName:  cfg.Queue.StreamName,
		GroupName:   cfg.Queue.GroupName,
		PollTimeout: cfg.Queue.PollTimeout,
		Retention:   cfg.Queue.Retention,
	})
	cancelInit()
	if err != nil {
		slog.Error("init queue failed", "error", err)
		os.Exit(1)
	}

	scmClient := scm.NoopClient{}
	ticketProvider := ticket.NoopProvider{}

	pub := &publisher.Publisher{SCM: scmClient, Logger: logger}

	driver := &pipeline.Driver{
		SCM:       scmClient,
		Tickets:   ticketProvider,
		LLM:       llmreview.OpenAIClient{Inner: &llmClient},
		Store:     repo,
		Publisher: pub,
		Logger:    logger,
		Config: pipeline.Config{
			SCMTimeout:       cfg.Resilience.SCMTimeout,
			DBTimeout:        cfg.Resilience.DBTimeout,
			PipelineDeadline: cfg.Server.PipelineDeadline,
			Strategies: []reviewcontext.Strategy{
				reviewcontext.PathPatternStrategy{},
				reviewcontext.MetadataStrategy{},
			},
			CoChange: reviewcontext.CoChangeStrategy{
				LookbackDays:     cfg.Context.CoChangeLookbackDays,
				MaxCommits:       cfg.Context.CoChangeMaxCommits,
				MinCoOccurrences: 2,
			},
			StrategyDeadline: cfg.Context.StrategyDeadline,
			ContextTopK:      cfg.Context.TopK,
			Enrich: enrich.Config{
				Expander: enrich.ExpanderConfig{
					MaxLines: cfg.Diff.Expand.MaxLines,
					MaxFiles: cfg.Diff.Expand.MaxFiles,
					AllowExt: cfg.Diff.Expand.AllowExt,
					DenyExt:  cfg.Diff.Expand.DenyExt,
				},
				Policy: enrich.PolicyConfig{MaxChars: cfg.Policy.MaxChars},
			},
			Prompt: prompt.Config{MaxChars: cfg.Prompt.CharBudget, TopK: cfg.Context.TopK},
			LLM:    llmreview.Config{Model: cfg.LLM.Model, Timeout: cfg.LLM.Timeout},
			Aggregation: aggregator.Config{
				MinConfidence:        cfg.Aggregation.MinConfidence,
				MaxIssuesPerFile:     cfg.Aggregation.MaxIssuesPerFile,
				DeduplicationEnabled: cfg.Aggregation.DeduplicationEnabled,
			},
		},
	}

	router := &httpapi.Router{
		Driver:      driver,
		Publisher:   pub,
		Queue:       q,
		Logger:      logger,
		MaxBodySize: cfg.Server.MaxBodySize,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.Mux(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	cleanupStop := make(chan struct{})
	go runCleanupLoop(repo, cfg.Queue.Retention, cleanupStop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")
	close(cleanupStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown forced", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// runCleanupLoop runs store.CleanupExpired on a fixed hourly interval per
// spec §4.8, until stop is closed.
func runCleanupLoop(repo *store.SQLiteRepository, retention time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := repo.CleanupExpired(ctx, time.Now(), retention)
			cancel()
			if err != nil {
				slog.Error("cleanup expired reviews failed", "error", err)
				continue
			}
			slog.Info("cleanup expired reviews", "deleted", n)
		}
	}
}

// setupLogger creates a logger based on configuration, adapted verbatim
// from the teacher's lumberjack-backed multi-writer setup.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
