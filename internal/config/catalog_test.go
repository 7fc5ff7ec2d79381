package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/awws-metar-etl/internal/domain"
)

const validCatalogYAML = `
report_kind: metar-taf
url: https://example.test/awws
known_fields: [location, date - time, wind]
stations:
  - name: victoria
    code: cyyj
    timezone: America/Vancouver
storage:
  partition_key: location
  sort_key: datetime
  tables:
    metar-taf: awws_metar_taf
`

func TestLoadCatalog_Default(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	assert.Equal(t, domain.ReportKindMETARTAF, c.ReportKind)
	assert.Contains(t, c.URL, "navcanada.ca")
	assert.Contains(t, c.KnownFields, "temp / dewpoint")
	assert.Equal(t, "location", c.Storage.PartitionKey)
	assert.Equal(t, "datetime", c.Storage.SortKey)

	table, ok := c.Table(domain.ReportKindMETARTAF)
	assert.True(t, ok)
	assert.Equal(t, "awws_metar_taf", table)

	layout := c.DomainLayout()
	assert.Equal(t, domain.DefaultLayout, layout)
}

func TestCatalog_DomainStations(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	all, err := c.DomainStations(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "abbotsford", all[0].Name)
	assert.Equal(t, "CYXX", all[0].Code)
	assert.Equal(t, "vancouver", all[1].Name)
	assert.Equal(t, "CYVR", all[1].Code)
	assert.Equal(t, "America/Vancouver", all[1].Zone.String())

	only, err := c.DomainStations([]string{" Vancouver "})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "CYVR", only[0].Code)

	_, err = c.DomainStations([]string{"vancouver", "gander", "alert"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stations: alert,gander")
}

func TestParseCatalog_LowerCaseCodeUpperCased(t *testing.T) {
	c, err := ParseCatalog([]byte(validCatalogYAML))
	require.NoError(t, err)

	stations, err := c.DomainStations(nil)
	require.NoError(t, err)
	assert.Equal(t, "CYYJ", stations[0].Code)

	fields, err := c.Fields()
	require.NoError(t, err)
	assert.Equal(t, 3, fields.Len())
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "not yaml",
			mutate:  func(string) string { return "report_kind: [unterminated" },
			wantErr: "decode catalog",
		},
		{
			name:    "missing url",
			mutate:  func(s string) string { return strings.Replace(s, "url: https://example.test/awws\n", "", 1) },
			wantErr: "URL",
		},
		{
			name:    "missing location field",
			mutate:  func(s string) string { return strings.Replace(s, "[location, date - time, wind]", "[date - time, wind]", 1) },
			wantErr: `"location"`,
		},
		{
			name:    "missing date - time field",
			mutate:  func(s string) string { return strings.Replace(s, "[location, date - time, wind]", "[location, wind]", 1) },
			wantErr: `"date - time"`,
		},
		{
			name:    "duplicate field",
			mutate:  func(s string) string { return strings.Replace(s, "wind]", "wind, WIND]", 1) },
			wantErr: "duplicate field",
		},
		{
			name:    "bad station code",
			mutate:  func(s string) string { return strings.Replace(s, "code: cyyj", "code: cy-yj", 1) },
			wantErr: "Code",
		},
		{
			name:    "unknown zone",
			mutate:  func(s string) string { return strings.Replace(s, "America/Vancouver", "Pacific/Nowhere", 1) },
			wantErr: "unknown time zone",
		},
		{
			name:    "same partition and sort key",
			mutate:  func(s string) string { return strings.Replace(s, "sort_key: datetime", "sort_key: location", 1) },
			wantErr: "SortKey",
		},
		{
			name:    "no table for report kind",
			mutate:  func(s string) string { return strings.Replace(s, "metar-taf: awws_metar_taf", "taf: awws_taf", 1) },
			wantErr: "no storage table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.mutate(validCatalogYAML)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
