package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendbook/config"
	"lendbook/native/lendbook"
	"lendbook/observability/logging"
	"lendbook/oracle"
	"lendbook/rpc"
	"lendbook/storage"
)

const snapshotInterval = time.Minute

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDBOOK_ENV"))
	logger := logging.Setup("lendbookd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine := lendbook.NewEngine(cfg.BookParams())
	engine.SetInterestModel(cfg.InterestModel())
	engine.SetPauses(cfg.ActionPauses())

	state, err := storage.LoadSnapshot(db)
	switch {
	case err == nil:
		engine.SetState(state)
		logger.Info("restored book snapshot", "orders", len(state.Orders), "positions", len(state.Positions))
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("no snapshot found, starting with an empty book")
	default:
		logger.Error("failed to restore snapshot", slog.Any("error", err))
		os.Exit(1)
	}

	agg := buildOracle(cfg, logger)
	engine.SetOracle(agg)

	server := rpc.NewServer(engine, agg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(cfg.RPCAddress); err != nil {
			logger.Error("rpc server stopped", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()

	go snapshotLoop(ctx, engine, db, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := storage.SaveSnapshot(db, engine.Snapshot()); err != nil {
		logger.Error("failed to persist final snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("snapshot persisted")
}

// buildOracle wires the configured feeds in priority order. The manual feed is
// always registered so operators can push prices during incidents.
func buildOracle(cfg *config.Config, logger *slog.Logger) *oracle.Aggregator {
	maxAge := time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second
	agg := oracle.NewAggregator(cfg.Oracle.Priority, maxAge)
	agg.Register("manual", oracle.NewManual())
	if endpoint := strings.TrimSpace(cfg.Oracle.HTTPEndpoint); endpoint != "" {
		agg.Register("http", oracle.NewHTTPFeed(nil, endpoint, cfg.Oracle.HTTPAPIKey))
		logger.Info("registered http price feed", "endpoint", endpoint)
	}
	return agg
}

// snapshotLoop periodically persists the book so a crash loses at most one
// interval of activity.
func snapshotLoop(ctx context.Context, engine *lendbook.Engine, db storage.Database, logger *slog.Logger) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := storage.SaveSnapshot(db, engine.Snapshot()); err != nil {
				logger.Error("periodic snapshot failed", slog.Any("error", err))
			}
		}
	}
}
