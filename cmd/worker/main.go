// The worker runs collection and the content stage pipelines on Temporal
// schedules.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/collector"
	"github.com/jdholdren/eddy/internal/config"
	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/extract"
	"github.com/jdholdren/eddy/internal/logger"
	"github.com/jdholdren/eddy/internal/media"
	"github.com/jdholdren/eddy/internal/migrations"
	"github.com/jdholdren/eddy/internal/pipeline"
	"github.com/jdholdren/eddy/internal/sqlite"
	"github.com/jdholdren/eddy/internal/worker"
)

type workerConfig struct {
	Database         string `env:"DATABASE, required"`
	TemporalHostPort string `env:"TEMPORAL_HOST_PORT, required"`
	BronzeDir        string `env:"BRONZE_DIR, required"`
	SourcesFile      string `env:"SOURCES_FILE, required"`

	YTDLPBinary    string `env:"YTDLP_BINARY, default=yt-dlp"`
	WhisperBinary  string `env:"WHISPER_BINARY, default=whisper-cli"`
	WhisperModel   string `env:"WHISPER_MODEL, required"`
	WhisperThreads int    `env:"WHISPER_THREADS, default=4"`
	ProxyURL       string `env:"PROXY_URL"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg workerConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	logger.Setup(slog.LevelInfo)

	if err := runWorker(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg workerConfig) error {
	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	repo := sqlite.New(dbx)

	// Sync the sources file into the database
	sources, err := config.Load(cfg.SourcesFile)
	if err != nil {
		return err
	}
	if _, err := sources.Sync(ctx, repo); err != nil {
		return err
	}

	store := bronze.NewStore(cfg.BronzeDir)

	searchers, err := enrichmentSearchers(repo, store)
	if err != nil {
		return err
	}

	deps := worker.Deps{
		Repo:        repo,
		Store:       store,
		Fetcher:     pipeline.NewFetcher(repo, store, extract.New()),
		Transcriber: pipeline.NewTranscriber(repo, store, media.NewYTDLP(cfg.YTDLPBinary, cfg.ProxyURL)),
		Enricher:    pipeline.NewEnricher(repo, searchers),
		Model:       media.NewWhisper(cfg.WhisperBinary, cfg.WhisperModel, cfg.WhisperThreads),
	}

	// Retry until temporal is ready
	var temporalCli client.Client
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		c, err := client.Dial(client.Options{
			HostPort: cfg.TemporalHostPort,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		temporalCli = c

		return nil
	}); err != nil {
		return fmt.Errorf("unable to create temporal client: %s", err)
	}
	defer temporalCli.Close()

	if err := worker.EnsureDefaultNamespace(ctx, temporalCli.WorkflowService()); err != nil {
		return err
	}

	w, err := worker.NewWorker(ctx, temporalCli, deps)
	if err != nil {
		return err
	}

	var g run.Group
	stopCh := make(chan interface{})
	g.Add(func() error {
		return w.Run(stopCh)
	}, func(error) {
		close(stopCh)
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}
	return err
}

// enrichmentSearchers builds the lookup clients the enrichment stage queries
// for cross-site discussions. These are independent of the configured sources:
// every content row gets checked against both sites.
func enrichmentSearchers(repo eddy.Repository, store *bronze.Store) ([]eddy.Searcher, error) {
	hn := collector.NewHackerNews(eddy.Source{Type: "hackernews", Name: "hackernews", Config: "{}"}, repo, store)
	lob, err := collector.NewLobsters(eddy.Source{Type: "lobsters", Name: "lobsters", Config: "{}"}, repo, store)
	if err != nil {
		return nil, err
	}
	return []eddy.Searcher{hn, lob}, nil
}
