package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/awws-metar-etl/internal/config"
	"github.com/couchcryptid/awws-metar-etl/internal/domain"
	"github.com/couchcryptid/awws-metar-etl/internal/observability"
)

const sinkName = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes storable report boxes to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// record is the published message value.
type record struct {
	domain.ReportBox
	Station   string    `json:"station"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// LoadBatch publishes the page's storable boxes in a single WriteMessages
// call. Boxes without both storage keys are skipped with a warning.
func (w *Writer) LoadBatch(ctx context.Context, page domain.ReportPage) error {
	boxes := domain.StorableBoxes(page, sinkName, w.logger)
	if len(boxes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(boxes))
	for i := range boxes {
		msg, err := serializeToMessage(page, boxes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", page.Station, err)
	}
	w.metrics.RecordsWritten.WithLabelValues(sinkName).Add(float64(len(msgs)))
	w.logger.Info("batch written",
		"sink", sinkName,
		"station", page.Station,
		"written", len(msgs),
		"skipped", len(page.Boxes)-len(msgs),
	)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is the partition key of a box: location and datetime joined by "|".
func MessageKey(box domain.ReportBox) string {
	return box.Location + "|" + box.DateTime
}

// serializeToMessage marshals one box into a Kafka message.
func serializeToMessage(page domain.ReportPage, box domain.ReportBox) (kafkago.Message, error) {
	data, err := json.Marshal(record{ReportBox: box, Station: page.Station, ScrapedAt: page.ScrapedAt})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report box: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(box)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "report_kind", Value: []byte(box.ReportKind)},
			{Key: "scraped_at", Value: []byte(page.ScrapedAt.Format(time.RFC3339))},
		},
	}, nil
}
