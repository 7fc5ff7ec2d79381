// Command parsepage parses a saved AWWS METAR/TAF page source and prints the
// resulting report page as JSON. It uses the same field catalogue and layout
// as the ingestion service.
//
// Usage:
//
//	go run ./cmd/parsepage \
//	  -in internal/domain/testdata/known_awws_metar_van_source.html \
//	  -station vancouver \
//	  -scraped-at 2022-10-20T05:04:00Z
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/awws-metar-etl/internal/config"
	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("parsepage", flag.ContinueOnError)
	in := fs.String("in", "", "saved page source to parse")
	catalogFile := fs.String("catalog", "", "station catalogue YAML (default: embedded)")
	stationName := fs.String("station", "", "catalogue station whose zone and code apply")
	zoneName := fs.String("zone", "", "IANA zone for the datetime key, overrides -station")
	scrapedAt := fs.String("scraped-at", "", "RFC3339 scrape time to stamp (default: now when -station is set)")
	out := fs.String("out", "", "write JSON here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		fs.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	catalog, err := config.LoadCatalog(*catalogFile)
	if err != nil {
		return err
	}
	fields, err := catalog.Fields()
	if err != nil {
		return err
	}

	var station domain.Station
	if *stationName != "" {
		stations, err := catalog.DomainStations([]string{*stationName})
		if err != nil {
			return err
		}
		station = stations[0]
	}
	if *zoneName != "" {
		if station.Zone, err = domain.LoadZone(*zoneName); err != nil {
			return err
		}
	}

	clock := clockwork.NewRealClock()
	if *scrapedAt != "" {
		t, err := time.Parse(time.RFC3339, *scrapedAt)
		if err != nil {
			return fmt.Errorf("invalid -scraped-at: %w", err)
		}
		clock = clockwork.NewFakeClockAt(t)
	}

	markup, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read page source: %w", err)
	}

	page, err := domain.ParsePage(string(markup), domain.ParseOptions{
		Fields:     fields,
		ReportKind: catalog.ReportKind,
		Zone:       station.Zone,
		Layout:     catalog.DomainLayout(),
	})
	if err != nil {
		return err
	}
	if station.Code != "" || *scrapedAt != "" {
		page = page.Stamp(station.Code, clock.Now())
	}

	data, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	data = append(data, '\n')

	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil { //nolint:gosec // output is a public fixture
		return fmt.Errorf("write %s: %w", *out, err)
	}
	return nil
}
