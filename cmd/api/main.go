// The api binary serves the read-only HTTP surface over the aggregate
// database and the bronze store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/eddy/internal/api"
	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/logger"
	"github.com/jdholdren/eddy/internal/migrations"
	"github.com/jdholdren/eddy/internal/sqlite"
)

type apiConfig struct {
	Database   string `env:"DATABASE, required"`
	Port       int    `env:"PORT, default=4444"`
	BronzeDir  string `env:"BRONZE_DIR, required"`
	CorsHeader string `env:"CORS_HEADER, default=*"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg apiConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	logger.Setup(slog.LevelInfo)

	if err := runAPI(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg apiConfig) error {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	srvr := api.NewServer(api.ServerConfig{
		Port:       cfg.Port,
		CorsHeader: cfg.CorsHeader,
	}, sqlite.New(dbx), bronze.NewStore(cfg.BronzeDir))

	var g run.Group
	g.Add(func() error {
		slog.Info("api listening", "addr", srvr.Addr)
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
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
