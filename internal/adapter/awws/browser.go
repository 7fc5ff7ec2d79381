package awws

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

const (
	manualEntryXPath   = `//a[normalize-space(.)="Manual Entry / Change Region"]`
	plainLanguageXPath = `//input[@value='dcd']`
	stationsInput      = `input[name="Stations"]`
)

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	URL string
	// ReadySelector is waited on after submitting the station code.
	ReadySelector string
	// ChromeBin overrides the browser executable. Empty uses the chromedp lookup.
	ChromeBin string
	Timeout   time.Duration
}

// BrowserFetcher drives the AWWS site with headless Chrome: open the site,
// switch to manual entry, choose plain-language output, submit the station
// code and return the resulting document.
type BrowserFetcher struct {
	cfg         BrowserConfig
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	logger      *slog.Logger
}

// NewBrowserFetcher creates the browser allocator. Chrome is started lazily
// on the first fetch; call Close to shut it down.
func NewBrowserFetcher(cfg BrowserConfig, logger *slog.Logger) *BrowserFetcher {
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = domain.DefaultLayout.TableSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if cfg.ChromeBin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBin))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{cfg: cfg, allocCtx: allocCtx, cancelAlloc: cancel, logger: logger}
}

func (b *BrowserFetcher) FetchPage(ctx context.Context, station domain.Station) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelTimeout()

	start := time.Now()
	var markup string
	err := chromedp.Run(tabCtx, b.actions(station.Code, &markup)...)
	if err != nil {
		return "", fmt.Errorf("%w: station %s: %w", ErrFetch, station.Code, err)
	}

	b.logger.Debug("page fetched",
		"station", station.Code,
		"bytes", len(markup),
		"duration", time.Since(start),
	)
	return markup, nil
}

func (b *BrowserFetcher) actions(code string, markup *string) []chromedp.Action {
	return []chromedp.Action{
		chromedp.Navigate(b.cfg.URL),
		chromedp.Click(manualEntryXPath, chromedp.BySearch),
		chromedp.Click(plainLanguageXPath, chromedp.BySearch),
		chromedp.Clear(stationsInput, chromedp.ByQuery),
		chromedp.SendKeys(stationsInput, code+kb.Enter, chromedp.ByQuery),
		chromedp.WaitReady(b.cfg.ReadySelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", markup, chromedp.ByQuery),
	}
}

// Close shuts down the browser.
func (b *BrowserFetcher) Close() error {
	b.cancelAlloc()
	return nil
}
