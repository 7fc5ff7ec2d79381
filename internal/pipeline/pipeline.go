package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
	"github.com/couchcryptid/awws-metar-etl/internal/observability"
)

// Fetcher returns the raw page markup for one station.
type Fetcher interface {
	FetchPage(ctx context.Context, station domain.Station) (string, error)
}

// Parser converts page markup into a report page.
type Parser interface {
	Parse(ctx context.Context, station domain.Station, markup string) (domain.ReportPage, error)
}

// BatchLoader hands one parsed page to storage as a single batch.
type BatchLoader interface {
	LoadBatch(ctx context.Context, page domain.ReportPage) error
}

// Stage names the step at which a station failed.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageParse Stage = "parse"
	StageLoad  Stage = "load"
)

// StationResult is the outcome of one station within a run.
type StationResult struct {
	Station  string        `json:"station"`
	Code     string        `json:"code"`
	Boxes    int           `json:"boxes"`
	Unkeyed  int           `json:"unkeyed"`
	Stage    Stage         `json:"stage,omitempty"` // empty on success
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// OK reports whether the station was fetched, parsed and loaded.
func (r StationResult) OK() bool { return r.Err == nil }

func (r StationResult) MarshalJSON() ([]byte, error) {
	type plain StationResult
	out := struct {
		plain
		Error    string  `json:"error,omitempty"`
		Duration float64 `json:"duration_seconds"`
	}{plain: plain(r), Duration: r.Duration.Seconds()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Summary describes a completed (or interrupted) run.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stations   []StationResult `json:"stations"`
}

// Status is the coordinator state exposed over HTTP.
type Status struct {
	Ready   bool     `json:"ready"`
	LastRun *Summary `json:"last_run,omitempty"`
}

// Succeeded counts stations that loaded.
func (s Summary) Succeeded() int {
	n := 0
	for _, r := range s.Stations {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed counts stations that failed at any stage.
func (s Summary) Failed() int { return len(s.Stations) - s.Succeeded() }

// AllFailed is true when at least one station ran and none succeeded.
func (s Summary) AllFailed() bool {
	return len(s.Stations) > 0 && s.Succeeded() == 0
}

// Coordinator runs fetch, parse and load for each configured station in turn.
type Coordinator struct {
	fetcher Fetcher
	parser  Parser
	loader  BatchLoader
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
	lastRun atomic.Pointer[Summary]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source for run timestamps and scrape stamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// New creates a Coordinator with the given stages and observability.
func New(f Fetcher, p Parser, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher: f,
		parser:  p,
		loader:  l,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckReadiness returns nil once any station has been loaded.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("no station has been loaded yet")
	}
	return nil
}

// Status reports readiness and the most recent run summary.
func (c *Coordinator) Status() Status {
	return Status{Ready: c.ready.Load(), LastRun: c.lastRun.Load()}
}

// Run processes stations in order. A station failure is logged and recorded
// in the summary; the run moves on to the next station. The returned error is
// non-nil only when ctx ends before every station has been attempted.
func (c *Coordinator) Run(ctx context.Context, stations []domain.Station) (Summary, error) {
	start := c.clock.Now()
	summary := Summary{RunID: uuid.NewString(), StartedAt: start.UTC()}
	logger := c.logger.With("run_id", summary.RunID)

	c.metrics.PipelineRunning.Set(1)
	defer func() {
		c.metrics.PipelineRunning.Set(0)
		c.metrics.RunDuration.Observe(c.clock.Since(start).Seconds())
	}()

	logger.Info("ingestion run started", "stations", len(stations))

	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			logger.Warn("ingestion run interrupted",
				"attempted", len(summary.Stations),
				"remaining", len(stations)-len(summary.Stations),
			)
			c.finish(&summary)
			return summary, err
		}
		summary.Stations = append(summary.Stations, c.processStation(ctx, logger, st))
	}

	c.finish(&summary)
	logger.Info("ingestion run finished",
		"succeeded", summary.Succeeded(),
		"failed", summary.Failed(),
		"duration", c.clock.Since(start),
	)
	return summary, nil
}

func (c *Coordinator) finish(s *Summary) {
	s.FinishedAt = c.clock.Now().UTC()
	last := *s
	c.lastRun.Store(&last)
}

func (c *Coordinator) processStation(ctx context.Context, logger *slog.Logger, st domain.Station) (res StationResult) {
	start := c.clock.Now()
	res = StationResult{Station: st.Name, Code: st.Code}
	logger = logger.With("station", st.Code)

	defer func() {
		res.Duration = c.clock.Since(start)
		c.metrics.StationDuration.WithLabelValues(st.Code).Observe(res.Duration.Seconds())
	}()

	fail := func(stage Stage, err error) StationResult {
		res.Stage, res.Err = stage, err
		c.metrics.StationErrors.WithLabelValues(st.Code, string(stage)).Inc()
		logger.Error("station failed", "stage", stage, "error", err)
		return res
	}

	markup, err := c.fetcher.FetchPage(ctx, st)
	if err != nil {
		return fail(StageFetch, err)
	}
	c.metrics.PagesFetched.WithLabelValues(st.Code).Inc()

	page, err := c.parser.Parse(ctx, st, markup)
	if err != nil {
		return fail(StageParse, err)
	}
	page = page.Stamp(st.Code, c.clock.Now())

	res.Boxes = len(page.Boxes)
	for _, b := range page.Boxes {
		if !b.HasStorageKeys() {
			res.Unkeyed++
		}
	}
	c.metrics.BoxesParsed.WithLabelValues(st.Code).Add(float64(res.Boxes))
	c.metrics.BoxesUnkeyed.WithLabelValues(st.Code).Add(float64(res.Unkeyed))

	if err := c.loader.LoadBatch(ctx, page); err != nil {
		return fail(StageLoad, err)
	}

	c.ready.Store(true)
	logger.Info("station loaded",
		"report_timestamp", page.ReportTimestamp,
		"boxes", res.Boxes,
		"unkeyed", res.Unkeyed,
	)
	return res
}

// MultiLoader hands each page to every sink in order. All sinks are attempted;
// their errors are joined.
type MultiLoader []BatchLoader

func (m MultiLoader) LoadBatch(ctx context.Context, page domain.ReportPage) error {
	var errs []error
	for _, l := range m {
		if err := l.LoadBatch(ctx, page); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
