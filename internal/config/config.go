package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Fetch modes.
const (
	FetchModeBrowser = "browser"
	FetchModeFile    = "file"
)

// Config holds all service settings, populated from environment variables
// (optionally seeded from a .env file) plus the station catalogue.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Fetch collaborator settings.
	FetchMode          string
	PageSourceDir      string
	ChromeBin          string
	FetchTimeout       time.Duration
	BreakerMaxFailures int

	// Storage sinks. Each is enabled independently.
	PostgresDSN     string
	PostgresEnabled bool
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaEnabled    bool

	CatalogFile string
	Stations    []string
	Catalog     *Catalog
}

// Load reads configuration from the environment, applying defaults where unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "60s"))
	if err != nil || fetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	breakerMaxFailures, err := strconv.Atoi(sharedcfg.EnvOrDefault("BREAKER_MAX_FAILURES", "3"))
	if err != nil || breakerMaxFailures <= 0 {
		return nil, errors.New("invalid BREAKER_MAX_FAILURES")
	}

	postgresDSN := os.Getenv("POSTGRES_DSN")
	kafkaEnabled := os.Getenv("KAFKA_ENABLED") == "true"

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FetchMode:          sharedcfg.EnvOrDefault("FETCH_MODE", FetchModeBrowser),
		PageSourceDir:      os.Getenv("PAGE_SOURCE_DIR"),
		ChromeBin:          os.Getenv("CHROME_BIN"),
		FetchTimeout:       fetchTimeout,
		BreakerMaxFailures: breakerMaxFailures,

		PostgresDSN:     postgresDSN,
		PostgresEnabled: postgresDSN != "",
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "awws-metar-taf"),
		KafkaEnabled:    kafkaEnabled,

		CatalogFile: os.Getenv("AWWS_CATALOG_FILE"),
		Stations:    splitList(os.Getenv("AWWS_STATIONS")),
	}

	switch cfg.FetchMode {
	case FetchModeBrowser:
	case FetchModeFile:
		if cfg.PageSourceDir == "" {
			return nil, errors.New("FETCH_MODE is file but PAGE_SOURCE_DIR is not set")
		}
	default:
		return nil, fmt.Errorf("invalid FETCH_MODE %q", cfg.FetchMode)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}

	catalog, err := LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.DomainStations(cfg.Stations); err != nil {
		return nil, fmt.Errorf("invalid AWWS_STATIONS: %w", err)
	}
	cfg.Catalog = catalog

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
