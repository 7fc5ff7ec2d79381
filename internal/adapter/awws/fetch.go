// Package awws obtains AWWS report page markup for a station, either by
// driving the live site with a headless browser or by replaying saved pages.
package awws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

var (
	// ErrFetch wraps every failure to obtain page markup.
	ErrFetch = errors.New("awws fetch failed")
	// ErrCircuitOpen is returned without attempting a fetch while the breaker is open.
	ErrCircuitOpen = errors.New("awws fetch circuit open")
)

// PageFetcher returns the raw page markup for one station.
// It matches pipeline.Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, station domain.Station) (string, error)
}

// FileFetcher replays saved page sources from <dir>/<code>.html, with the
// station code lower-cased.
type FileFetcher struct {
	dir string
}

// NewFileFetcher creates a FileFetcher rooted at dir.
func NewFileFetcher(dir string) *FileFetcher {
	return &FileFetcher{dir: dir}
}

// Path returns the file consulted for a station.
func (f *FileFetcher) Path(station domain.Station) string {
	return filepath.Join(f.dir, strings.ToLower(station.Code)+".html")
}

func (f *FileFetcher) FetchPage(ctx context.Context, station domain.Station) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: station %s: %w", ErrFetch, station.Code, err)
	}
	data, err := os.ReadFile(f.Path(station))
	if err != nil {
		return "", fmt.Errorf("%w: station %s: %w", ErrFetch, station.Code, err)
	}
	return string(data), nil
}
