package pipeline

import (
	"context"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

// ReportParser implements Parser using domain.ParsePage with a fixed field
// catalogue and layout. The zone comes from the station being parsed.
type ReportParser struct {
	fields     domain.FieldSet
	reportKind string
	layout     domain.Layout
}

// NewReportParser creates a ReportParser. A zero layout uses domain.DefaultLayout.
func NewReportParser(fields domain.FieldSet, reportKind string, layout domain.Layout) *ReportParser {
	return &ReportParser{
		fields:     fields,
		reportKind: reportKind,
		layout:     layout,
	}
}

func (p *ReportParser) Parse(_ context.Context, station domain.Station, markup string) (domain.ReportPage, error) {
	return domain.ParsePage(markup, domain.ParseOptions{
		Fields:     p.fields,
		ReportKind: p.reportKind,
		Zone:       station.Zone,
		Layout:     p.layout,
	})
}
