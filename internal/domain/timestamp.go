package domain

import (
	"fmt"
	"time"

	// Stations may run in minimal containers without a system zoneinfo database.
	_ "time/tzdata"
)

const (
	// AWWSLayout matches AWWS date - time values such as "28 OCTOBER 2022 - 0300 UTC".
	// Month names are matched case-insensitively by the time package. The
	// trailing "UTC" is a literal; values are always read as UTC.
	AWWSLayout = "2 January 2006 - 1504 UTC"

	// OutputLayout renders localised datetimes, e.g. "2022-10-27 20:00 PDT".
	OutputLayout = "2006-01-02 15:04 MST"
)

// NormalizeUTC parses value as a UTC wall-clock time using layout (AWWSLayout
// when empty) and renders it in zone with OutputLayout. A nil zone keeps the
// result in UTC. The zone abbreviation reflects daylight saving at that instant.
func NormalizeUTC(value, layout string, zone *time.Location) (string, error) {
	if layout == "" {
		layout = AWWSLayout
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return "", &FormatError{Value: value, Layout: layout, Err: err}
	}
	if zone == nil {
		zone = time.UTC
	}
	return t.In(zone).Format(OutputLayout), nil
}

// LoadZone resolves an IANA zone name. An empty name resolves to UTC.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownZone, name, err)
	}
	return loc, nil
}
