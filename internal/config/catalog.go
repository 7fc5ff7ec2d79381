package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

//go:embed catalog.yml
var defaultCatalog []byte

// Catalog describes what to scrape and where records go.
type Catalog struct {
	ReportKind  string          `yaml:"report_kind" validate:"required"`
	URL         string          `yaml:"url" validate:"required,url"`
	KnownFields []string        `yaml:"known_fields" validate:"required,min=1,dive,required"`
	Layout      LayoutConfig    `yaml:"layout"`
	Stations    []StationConfig `yaml:"stations" validate:"required,min=1,dive"`
	Storage     StorageConfig   `yaml:"storage"`
}

// LayoutConfig overrides the AWWS page selectors. Empty values fall back to domain.DefaultLayout.
type LayoutConfig struct {
	TimestampSelector     string `yaml:"timestamp_selector"`
	TimestampTextSelector string `yaml:"timestamp_text_selector"`
	TableSelector         string `yaml:"table_selector"`
	CellSelector          string `yaml:"cell_selector"`
	DateTimeLayout        string `yaml:"datetime_layout"`
}

// StationConfig is one AWWS location.
type StationConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Code     string `yaml:"code" validate:"required,alphanum,len=4"`
	Timezone string `yaml:"timezone" validate:"required"`
}

// StorageConfig is the key schema and the table for each report kind.
type StorageConfig struct {
	PartitionKey string            `yaml:"partition_key" validate:"required"`
	SortKey      string            `yaml:"sort_key" validate:"required,nefield=PartitionKey"`
	Tables       map[string]string `yaml:"tables" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// LoadCatalog reads a catalogue from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalogue YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks struct constraints, the field list, zones and the table for the report kind.
func (c *Catalog) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	fields, err := c.Fields()
	if err != nil {
		return err
	}
	for _, required := range []domain.FieldName{domain.FieldLocation, domain.FieldDateTime} {
		if !fields.Contains(required) {
			return fmt.Errorf("invalid catalog: known_fields must include %q", required)
		}
	}
	seen := make(map[string]bool, len(c.Stations))
	for _, s := range c.Stations {
		if seen[s.Name] {
			return fmt.Errorf("invalid catalog: duplicate station %q", s.Name)
		}
		seen[s.Name] = true
		if _, err := domain.LoadZone(s.Timezone); err != nil {
			return fmt.Errorf("invalid catalog: station %s: %w", s.Name, err)
		}
	}
	if _, ok := c.Table(c.ReportKind); !ok {
		return fmt.Errorf("invalid catalog: no storage table for report kind %q", c.ReportKind)
	}
	return nil
}

// Fields builds the canonical field set.
func (c *Catalog) Fields() (domain.FieldSet, error) {
	fs, err := domain.NewFieldSet(c.KnownFields...)
	if err != nil {
		return domain.FieldSet{}, fmt.Errorf("invalid catalog: %w", err)
	}
	return fs, nil
}

// DomainLayout converts the layout overrides.
func (c *Catalog) DomainLayout() domain.Layout {
	return domain.Layout{
		TimestampSelector:     c.Layout.TimestampSelector,
		TimestampTextSelector: c.Layout.TimestampTextSelector,
		TableSelector:         c.Layout.TableSelector,
		CellSelector:          c.Layout.CellSelector,
		DateTimeLayout:        c.Layout.DateTimeLayout,
	}
}

// Table returns the storage table for a report kind.
func (c *Catalog) Table(reportKind string) (string, bool) {
	t, ok := c.Storage.Tables[reportKind]
	return t, ok && t != ""
}

// DomainStations resolves the configured stations in catalogue order. A
// non-empty only list restricts the result to those station names.
func (c *Catalog) DomainStations(only []string) ([]domain.Station, error) {
	want := make(map[string]bool, len(only))
	for _, name := range only {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			want[name] = false
		}
	}

	filter := len(want) > 0
	var out []domain.Station
	for _, s := range c.Stations {
		key := strings.ToLower(s.Name)
		if _, ok := want[key]; filter && !ok {
			continue
		}
		zone, err := domain.LoadZone(s.Timezone)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Station{Name: s.Name, Code: strings.ToUpper(s.Code), Zone: zone})
		if filter {
			want[key] = true
		}
	}

	var missing []string
	for name, found := range want {
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("unknown stations: %s", strings.Join(missing, ","))
	}
	if len(out) == 0 {
		return nil, errors.New("no stations selected")
	}
	return out, nil
}
