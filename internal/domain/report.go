package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReportKindMETARTAF identifies the AWWS METAR/TAF plain-language report family.
const ReportKindMETARTAF = "metar-taf"

// Field names the parser treats specially. Both must be present in a
// FieldSet for boxes to carry storage keys.
const (
	FieldLocation FieldName = "location"
	FieldDateTime FieldName = "date - time"
)

// FieldName is a canonical report field label, e.g. "wind" or "temp / dewpoint".
type FieldName string

// CanonicalLabel trims, lower-cases and collapses internal whitespace runs so
// that raw page labels and configured field names compare equal.
func CanonicalLabel(label string) FieldName {
	return FieldName(strings.ToLower(collapseSpaces(label)))
}

// FieldSet is the validated set of field labels extracted from report boxes.
type FieldSet struct {
	names map[FieldName]struct{}
	order []FieldName
}

// NewFieldSet canonicalises labels and rejects empty or duplicate entries.
func NewFieldSet(labels ...string) (FieldSet, error) {
	fs := FieldSet{names: make(map[FieldName]struct{}, len(labels))}
	for _, l := range labels {
		name := CanonicalLabel(l)
		if name == "" {
			return FieldSet{}, errors.New("field set: empty field name")
		}
		if _, dup := fs.names[name]; dup {
			return FieldSet{}, fmt.Errorf("field set: duplicate field %q", name)
		}
		fs.names[name] = struct{}{}
		fs.order = append(fs.order, name)
	}
	return fs, nil
}

// MustFieldSet is NewFieldSet for package-level fixtures; it panics on error.
func MustFieldSet(labels ...string) FieldSet {
	fs, err := NewFieldSet(labels...)
	if err != nil {
		panic(err)
	}
	return fs
}

// Lookup canonicalises a raw label and reports whether it is a known field.
func (fs FieldSet) Lookup(label string) (FieldName, bool) {
	name := CanonicalLabel(label)
	_, ok := fs.names[name]
	return name, ok
}

// Contains reports whether name is part of the set.
func (fs FieldSet) Contains(name FieldName) bool {
	_, ok := fs.names[name]
	return ok
}

// Names returns the fields in configuration order.
func (fs FieldSet) Names() []FieldName {
	out := make([]FieldName, len(fs.order))
	copy(out, fs.order)
	return out
}

// Len returns the number of known fields.
func (fs FieldSet) Len() int { return len(fs.order) }

// Station is one configured AWWS location.
type Station struct {
	Name string
	Code string
	Zone *time.Location
}

// ReportBox is one report table on a page.
type ReportBox struct {
	ReportKind      string                 `json:"report"`
	ReportTimestamp string                 `json:"report_timestamp"`
	EncodedReport   string                 `json:"encodedreport"`
	Fields          map[FieldName][]string `json:"fields"`

	// Derived storage keys. Empty when the box has no location or date - time field.
	Location string `json:"location,omitempty"`
	DateTime string `json:"datetime,omitempty"`
}

// Field returns the cleaned value lines stored under name. The boolean is
// false when the field was absent or had no surviving lines on the page.
func (b ReportBox) Field(name FieldName) ([]string, bool) {
	v, ok := b.Fields[name]
	return v, ok
}

// HasStorageKeys reports whether both derived keys are populated.
func (b ReportBox) HasStorageKeys() bool {
	return b.Location != "" && b.DateTime != ""
}

// ReportPage is one scrape of one station. Boxes are indexed densely from 0
// in page order.
type ReportPage struct {
	ReportTimestamp string      `json:"report_timestamp"`
	Boxes           []ReportBox `json:"boxes"`

	// Set by the ingestion coordinator, not the parser.
	Station   string    `json:"station,omitempty"`
	ScrapedAt time.Time `json:"scraped_at,omitzero"`
}

// Box returns the box at index i.
func (p ReportPage) Box(i int) (ReportBox, bool) {
	if i < 0 || i >= len(p.Boxes) {
		return ReportBox{}, false
	}
	return p.Boxes[i], true
}

// Stamp records which station the page belongs to and when it was scraped.
func (p ReportPage) Stamp(station string, scrapedAt time.Time) ReportPage {
	p.Station = station
	p.ScrapedAt = scrapedAt.UTC()
	return p
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
