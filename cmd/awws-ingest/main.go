// Command awws-ingest runs one ingestion pass over the configured AWWS
// stations: fetch each station's METAR/TAF page, parse it into report boxes
// and hand the boxes to the enabled storage sinks.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/awws-metar-etl/internal/adapter/awws"
	httpadapter "github.com/couchcryptid/awws-metar-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/awws-metar-etl/internal/adapter/kafka"
	"github.com/couchcryptid/awws-metar-etl/internal/adapter/postgres"
	"github.com/couchcryptid/awws-metar-etl/internal/config"
	"github.com/couchcryptid/awws-metar-etl/internal/domain"
	"github.com/couchcryptid/awws-metar-etl/internal/observability"
	"github.com/couchcryptid/awws-metar-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	stations, err := cfg.Catalog.DomainStations(cfg.Stations)
	if err != nil {
		logger.Error("invalid station selection", "error", err)
		return 1
	}
	fields, err := cfg.Catalog.Fields()
	if err != nil {
		logger.Error("invalid field catalogue", "error", err)
		return 1
	}
	layout := cfg.Catalog.DomainLayout()

	var fetcher awws.PageFetcher
	switch cfg.FetchMode {
	case config.FetchModeFile:
		fetcher = awws.NewFileFetcher(cfg.PageSourceDir)
		logger.Info("replaying saved page sources", "dir", cfg.PageSourceDir)
	default:
		browser := awws.NewBrowserFetcher(awws.BrowserConfig{
			URL:           cfg.Catalog.URL,
			ReadySelector: layout.TableSelector,
			ChromeBin:     cfg.ChromeBin,
			Timeout:       cfg.FetchTimeout,
		}, logger)
		defer browser.Close() //nolint:errcheck // allocator cancel never fails
		fetcher = browser
		logger.Info("fetching with headless browser", "url", cfg.Catalog.URL, "timeout", cfg.FetchTimeout)
	}
	fetcher = awws.NewBreakingFetcher(fetcher, awws.BreakerConfig{
		MaxFailures: cfg.BreakerMaxFailures,
		State:       metrics.BreakerState,
	}, logger)

	var loaders pipeline.MultiLoader
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger, metrics)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		loaders = append(loaders, writer)
		logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ing := ingestion{
		cfg:      cfg,
		fetcher:  fetcher,
		parser:   pipeline.NewReportParser(fields, cfg.Catalog.ReportKind, layout),
		stations: stations,
		logger:   logger,
		metrics:  metrics,
	}

	if !cfg.PostgresEnabled {
		if len(loaders) == 0 {
			logger.Warn("no storage sink enabled, parsed pages are discarded")
		}
		return ing.run(ctx, loaders)
	}

	schema := postgres.Schema{
		PartitionKey: cfg.Catalog.Storage.PartitionKey,
		SortKey:      cfg.Catalog.Storage.SortKey,
		Tables:       cfg.Catalog.Storage.Tables,
	}
	code := 1
	err = postgres.WithWriter(ctx, cfg.PostgresDSN, schema, logger, metrics, func(w *postgres.Writer) error {
		logger.Info("postgres sink enabled", "tables", len(schema.Tables))
		code = ing.run(ctx, append(loaders, w))
		return nil
	})
	if err != nil {
		logger.Error("postgres sink error", "error", err)
		return 1
	}
	return code
}

type ingestion struct {
	cfg      *config.Config
	fetcher  pipeline.Fetcher
	parser   pipeline.Parser
	stations []domain.Station
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// run serves the HTTP endpoints for the duration of one coordinator run and
// returns the process exit code.
func (in ingestion) run(ctx context.Context, loaders pipeline.MultiLoader) int {
	coordinator := pipeline.New(in.fetcher, in.parser, loaders, in.logger, in.metrics)
	srv := httpadapter.NewServer(in.cfg.HTTPAddr, coordinator, func() any { return coordinator.Status() }, in.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			in.logger.Error("http server error", "error", err)
		}
	}()

	summary, runErr := coordinator.Run(ctx, in.stations)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), in.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		in.logger.Error("http server shutdown error", "error", err)
	}

	switch {
	case runErr != nil:
		in.logger.Error("ingestion run did not complete", "error", runErr)
		return 1
	case summary.AllFailed():
		in.logger.Error("every station failed", "stations", len(summary.Stations))
		return 1
	}
	in.logger.Info("shutdown complete", "succeeded", summary.Succeeded(), "failed", summary.Failed())
	return 0
}
