package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
	"github.com/couchcryptid/awws-metar-etl/internal/observability"
	"github.com/couchcryptid/awws-metar-etl/internal/pipeline"
)

// --- mocks ---

type mockFetcher struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (m *mockFetcher) FetchPage(_ context.Context, st domain.Station) (string, error) {
	m.calls = append(m.calls, st.Code)
	if err := m.errs[st.Code]; err != nil {
		return "", err
	}
	return m.pages[st.Code], nil
}

type mockLoader struct {
	pages []domain.ReportPage
	err   error
}

func (m *mockLoader) LoadBatch(_ context.Context, page domain.ReportPage) error {
	if m.err != nil {
		return m.err
	}
	m.pages = append(m.pages, page)
	return nil
}

type cancelOnFetch struct {
	cancel context.CancelFunc
	markup string
}

func (c *cancelOnFetch) FetchPage(context.Context, domain.Station) (string, error) {
	c.cancel()
	return c.markup, nil
}

// --- helpers ---

var testFields = domain.MustFieldSet(
	"location", "date - time", "wind", "visibility", "weather",
	"cloudiness", "temp / dewpoint", "altimeter",
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func vancouverMarkup(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "domain", "testdata", "known_awws_metar_van_source.html"))
	require.NoError(t, err)
	return string(data)
}

func testStations(t *testing.T) []domain.Station {
	t.Helper()
	zone, err := domain.LoadZone("America/Vancouver")
	require.NoError(t, err)
	return []domain.Station{
		{Name: "abbotsford", Code: "CYXX", Zone: zone},
		{Name: "vancouver", Code: "CYVR", Zone: zone},
	}
}

func newCoordinator(f pipeline.Fetcher, l pipeline.BatchLoader, m *observability.Metrics, opts ...pipeline.Option) *pipeline.Coordinator {
	parser := pipeline.NewReportParser(testFields, domain.ReportKindMETARTAF, domain.Layout{})
	return pipeline.New(f, parser, l, discardLogger(), m, opts...)
}

// --- tests ---

func TestCoordinator_Run_HappyPath(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2022, time.October, 20, 5, 4, 0, 0, time.UTC))

	markup := vancouverMarkup(t)
	fetcher := &mockFetcher{pages: map[string]string{"CYXX": markup, "CYVR": markup}}
	loader := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	c := newCoordinator(fetcher, loader, metrics, pipeline.WithClock(fakeClock))

	require.Error(t, c.CheckReadiness(context.Background()))

	summary, err := c.Run(context.Background(), testStations(t))
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, fakeClock.Now(), summary.StartedAt)
	assert.Equal(t, fakeClock.Now(), summary.FinishedAt)
	assert.Equal(t, 2, summary.Succeeded())
	assert.Equal(t, 0, summary.Failed())
	assert.False(t, summary.AllFailed())
	assert.Equal(t, []string{"CYXX", "CYVR"}, fetcher.calls)

	require.Len(t, loader.pages, 2)
	page := loader.pages[1]
	assert.Equal(t, "CYVR", page.Station)
	assert.Equal(t, fakeClock.Now(), page.ScrapedAt)
	require.Len(t, page.Boxes, 2)
	assert.Equal(t, "CYVR - VANCOUVER INTL/BC", page.Boxes[0].Location)
	assert.Equal(t, "2022-10-19 21:00 PDT", page.Boxes[0].DateTime)

	for _, r := range summary.Stations {
		assert.True(t, r.OK())
		assert.Equal(t, 2, r.Boxes)
		assert.Zero(t, r.Unkeyed)
	}

	require.NoError(t, c.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PagesFetched.WithLabelValues("CYVR")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.BoxesParsed.WithLabelValues("CYVR")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestCoordinator_Run_FetchFailureIsolated(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]string{"CYVR": vancouverMarkup(t)},
		errs:  map[string]error{"CYXX": errors.New("navigation timeout")},
	}
	loader := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	c := newCoordinator(fetcher, loader, metrics)

	summary, err := c.Run(context.Background(), testStations(t))
	require.NoError(t, err)

	require.Len(t, summary.Stations, 2)
	assert.Equal(t, pipeline.StageFetch, summary.Stations[0].Stage)
	assert.EqualError(t, summary.Stations[0].Err, "navigation timeout")
	assert.True(t, summary.Stations[1].OK())
	assert.Len(t, loader.pages, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StationErrors.WithLabelValues("CYXX", "fetch")), 0)
}

func TestCoordinator_Run_ParseFailureIsolated(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]string{
		"CYXX": "<html><body><table width=\"550\"></table></body></html>",
		"CYVR": vancouverMarkup(t),
	}}
	loader := &mockLoader{}
	c := newCoordinator(fetcher, loader, observability.NewMetricsForTesting())

	summary, err := c.Run(context.Background(), testStations(t))
	require.NoError(t, err)

	first := summary.Stations[0]
	assert.Equal(t, pipeline.StageParse, first.Stage)
	assert.ErrorIs(t, first.Err, domain.ErrMissingTimestamp)
	assert.True(t, summary.Stations[1].OK())
	require.Len(t, loader.pages, 1)
	assert.Equal(t, "CYVR", loader.pages[0].Station)
}

func TestCoordinator_Run_AllLoadsFail(t *testing.T) {
	markup := vancouverMarkup(t)
	fetcher := &mockFetcher{pages: map[string]string{"CYXX": markup, "CYVR": markup}}
	loader := &mockLoader{err: errors.New("table missing")}
	c := newCoordinator(fetcher, loader, observability.NewMetricsForTesting())

	summary, err := c.Run(context.Background(), testStations(t))
	require.NoError(t, err)

	assert.True(t, summary.AllFailed())
	for _, r := range summary.Stations {
		assert.Equal(t, pipeline.StageLoad, r.Stage)
		assert.Equal(t, 2, r.Boxes)
	}
	assert.Error(t, c.CheckReadiness(context.Background()))
}

func TestCoordinator_Run_CountsUnkeyedBoxes(t *testing.T) {
	markup := `<html><body>
<p class="corps"><b>at 10/20/2022 05:03:30 UTC</b></p>
<table width="550"><tr><td>METAR CYXX 200400Z</td></tr><tr><td>Wind<br>CALM</td></tr></table>
</body></html>`
	fetcher := &mockFetcher{pages: map[string]string{"CYXX": markup}}
	loader := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	c := newCoordinator(fetcher, loader, metrics)

	summary, err := c.Run(context.Background(), testStations(t)[:1])
	require.NoError(t, err)

	require.Len(t, summary.Stations, 1)
	assert.True(t, summary.Stations[0].OK())
	assert.Equal(t, 1, summary.Stations[0].Unkeyed)
	require.Len(t, loader.pages, 1)
	assert.Len(t, loader.pages[0].Boxes, 1, "unkeyed boxes are handed to storage unfiltered")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BoxesUnkeyed.WithLabelValues("CYXX")), 0)
}

func TestCoordinator_Run_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &cancelOnFetch{cancel: cancel, markup: vancouverMarkup(t)}
	loader := &mockLoader{}
	c := newCoordinator(fetcher, loader, observability.NewMetricsForTesting())

	summary, err := c.Run(ctx, testStations(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, summary.Stations, 1, "remaining stations are not attempted")
}

func TestCoordinator_Run_NoStations(t *testing.T) {
	c := newCoordinator(&mockFetcher{}, &mockLoader{}, observability.NewMetricsForTesting())

	summary, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Stations)
	assert.False(t, summary.AllFailed())
}

func TestMultiLoader(t *testing.T) {
	ok := &mockLoader{}
	bad := &mockLoader{err: errors.New("broker down")}
	alsoOK := &mockLoader{}

	page := domain.ReportPage{Station: "CYVR", Boxes: []domain.ReportBox{{Location: "CYVR"}}}
	err := pipeline.MultiLoader{ok, bad, alsoOK}.LoadBatch(context.Background(), page)

	require.EqualError(t, err, "broker down")
	assert.Len(t, ok.pages, 1)
	assert.Len(t, alsoOK.pages, 1, "later sinks still run after a failure")

	assert.NoError(t, pipeline.MultiLoader{}.LoadBatch(context.Background(), page))
}

func TestReportParser_UsesStationZone(t *testing.T) {
	parser := pipeline.NewReportParser(testFields, domain.ReportKindMETARTAF, domain.Layout{})
	markup := vancouverMarkup(t)

	local, err := parser.Parse(context.Background(), testStations(t)[1], markup)
	require.NoError(t, err)
	utc, err := parser.Parse(context.Background(), domain.Station{Code: "CYVR"}, markup)
	require.NoError(t, err)

	assert.Equal(t, "2022-10-19 21:00 PDT", local.Boxes[0].DateTime)
	assert.Equal(t, "2022-10-20 04:00 UTC", utc.Boxes[0].DateTime)

	again, err := parser.Parse(context.Background(), testStations(t)[1], markup)
	require.NoError(t, err)
	if diff := cmp.Diff(local, again); diff != "" {
		t.Fatalf("parse not idempotent (-first +second):\n%s", diff)
	}
}

func TestCoordinator_Status(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]string{"CYVR": vancouverMarkup(t)},
		errs:  map[string]error{"CYXX": errors.New("navigation timeout")},
	}
	c := newCoordinator(fetcher, &mockLoader{}, observability.NewMetricsForTesting())

	before := c.Status()
	assert.False(t, before.Ready)
	assert.Nil(t, before.LastRun)

	summary, err := c.Run(context.Background(), testStations(t))
	require.NoError(t, err)

	status := c.Status()
	assert.True(t, status.Ready)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, summary.RunID, status.LastRun.RunID)
	assert.False(t, status.LastRun.FinishedAt.Before(status.LastRun.StartedAt))

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded struct {
		Ready   bool `json:"ready"`
		LastRun struct {
			RunID    string           `json:"run_id"`
			Stations []map[string]any `json:"stations"`
		} `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Ready)
	require.Len(t, decoded.LastRun.Stations, 2)
	assert.Equal(t, "CYXX", decoded.LastRun.Stations[0]["code"])
	assert.Equal(t, "fetch", decoded.LastRun.Stations[0]["stage"])
	assert.Equal(t, "navigation timeout", decoded.LastRun.Stations[0]["error"])
	assert.NotContains(t, decoded.LastRun.Stations[1], "error")
	assert.Contains(t, decoded.LastRun.Stations[1], "duration_seconds")
}
