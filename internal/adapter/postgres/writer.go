// Package postgres stores report boxes in PostgreSQL keyed by location
// (partition key) and localised datetime (sort key).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/lib/pq"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
	"github.com/couchcryptid/awws-metar-etl/internal/observability"
)

const (
	sinkName     = "postgres"
	batchSize    = 50
	pingAttempts = 10
	pingBackoff  = 2 * time.Second
)

// valueColumns follow the two key columns in every insert.
var valueColumns = []string{
	"report_kind", "report_timestamp", "encoded_report", "fields", "station", "scraped_at",
}

// Schema names the key columns and the table for each report kind.
type Schema struct {
	PartitionKey string
	SortKey      string
	Tables       map[string]string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer upserts storable boxes, one table per report kind.
// It implements pipeline.BatchLoader.
type Writer struct {
	db      execer
	closer  io.Closer
	schema  Schema
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Open connects to PostgreSQL, waits for it to answer and creates any
// missing tables.
func Open(ctx context.Context, dsn string, schema Schema, logger *slog.Logger, metrics *observability.Metrics) (*Writer, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	w := newWriter(db, schema, logger, metrics)
	w.closer = db
	if err := w.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return w, nil
}

// WithWriter opens a Writer, passes it to fn and always closes it afterwards.
func WithWriter(ctx context.Context, dsn string, schema Schema, logger *slog.Logger, metrics *observability.Metrics, fn func(*Writer) error) (err error) {
	w, err := Open(ctx, dsn, schema, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("postgres: close: %w", cerr)
		}
	}()
	return fn(w)
}

func newWriter(db execer, schema Schema, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	return &Writer{db: db, schema: schema, logger: logger, metrics: metrics}
}

func ping(ctx context.Context, db *sql.DB) error {
	var err error
	for range pingAttempts {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !retry.SleepWithContext(ctx, pingBackoff) {
			return fmt.Errorf("postgres: ping: %w", ctx.Err())
		}
	}
	return fmt.Errorf("postgres: ping failed after retries: %w", err)
}

func (w *Writer) migrate(ctx context.Context) error {
	pk := pq.QuoteIdentifier(w.schema.PartitionKey)
	sk := pq.QuoteIdentifier(w.schema.SortKey)

	tables := make([]string, 0, len(w.schema.Tables))
	for _, t := range w.schema.Tables {
		tables = append(tables, t)
	}
	slices.Sort(tables)

	for _, table := range slices.Compact(tables) {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				%s               TEXT        NOT NULL,
				%s               TEXT        NOT NULL,
				report_kind      TEXT        NOT NULL,
				report_timestamp TEXT        NOT NULL,
				encoded_report   TEXT        NOT NULL DEFAULT '',
				fields           JSONB       NOT NULL DEFAULT '{}',
				station          TEXT        NOT NULL DEFAULT '',
				scraped_at       TIMESTAMPTZ,
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (%s, %s)
			)`, pq.QuoteIdentifier(table), pk, sk, pk, sk)
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

// LoadBatch upserts the page's storable boxes. Boxes without both keys are
// skipped with a warning. Boxes sharing a key within the batch collapse to
// the last one.
func (w *Writer) LoadBatch(ctx context.Context, page domain.ReportPage) error {
	boxes := domain.StorableBoxes(page, sinkName, w.logger)
	skipped := len(page.Boxes) - len(boxes)
	if len(boxes) == 0 {
		return nil
	}

	byTable := make(map[string][]domain.ReportBox)
	var order []string
	for _, b := range boxes {
		table, ok := w.schema.Tables[b.ReportKind]
		if !ok || table == "" {
			return fmt.Errorf("postgres: no table for report kind %q", b.ReportKind)
		}
		if _, seen := byTable[table]; !seen {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], b)
	}

	written := 0
	for _, table := range order {
		rows := dedupe(byTable[table])
		for start := 0; start < len(rows); start += batchSize {
			end := min(start+batchSize, len(rows))
			if err := w.upsert(ctx, table, page, rows[start:end]); err != nil {
				return fmt.Errorf("postgres: upsert %s: %w", table, err)
			}
		}
		written += len(rows)
	}
	w.metrics.RecordsWritten.WithLabelValues(sinkName).Add(float64(written))

	w.logger.Info("batch written",
		"sink", sinkName,
		"station", page.Station,
		"written", written,
		"skipped", skipped,
	)
	return nil
}

func (w *Writer) upsert(ctx context.Context, table string, page domain.ReportPage, rows []domain.ReportBox) error {
	pk := pq.QuoteIdentifier(w.schema.PartitionKey)
	sk := pq.QuoteIdentifier(w.schema.SortKey)
	width := 2 + len(valueColumns)

	var scrapedAt any
	if !page.ScrapedAt.IsZero() {
		scrapedAt = page.ScrapedAt
	}

	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*width)
	for i, b := range rows {
		fields, err := json.Marshal(b.Fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		ph := make([]string, width)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
		args = append(args,
			b.Location, b.DateTime,
			b.ReportKind, b.ReportTimestamp, b.EncodedReport, string(fields), page.Station, scrapedAt,
		)
	}

	updates := make([]string, 0, len(valueColumns)+1)
	for _, c := range valueColumns {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	updates = append(updates, "updated_at = NOW()")

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s)
		VALUES %s
		ON CONFLICT (%s, %s) DO UPDATE SET %s`,
		pq.QuoteIdentifier(table), pk, sk, strings.Join(valueColumns, ", "),
		strings.Join(placeholders, ","),
		pk, sk, strings.Join(updates, ", "),
	)

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// dedupe keeps the first position of each key and the last box written under it.
func dedupe(boxes []domain.ReportBox) []domain.ReportBox {
	type key struct{ location, datetime string }
	index := make(map[key]int, len(boxes))
	out := make([]domain.ReportBox, 0, len(boxes))
	for _, b := range boxes {
		k := key{b.Location, b.DateTime}
		if i, ok := index[k]; ok {
			out[i] = b
			continue
		}
		index[k] = len(out)
		out = append(out, b)
	}
	return out
}

// Close releases the database handle.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
