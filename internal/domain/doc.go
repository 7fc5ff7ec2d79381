// Package domain models NAV CANADA Aviation Weather Web Site (AWWS) METAR/TAF
// reports and turns scraped pages into keyed records.
//
// # Data Source
//
// The AWWS plain-language page for a station (reached through "Manual Entry /
// Change Region", plain-text decode, station code lookup) renders one HTML table
// per report. The page also carries a single generation marker:
//
//	<p class="corps">Report generated <b>at 10/20/2022 05:03:30 UTC</b></p>
//
// # Page Conventions
//
// Report tables:
//
//	Each report box is a table matched by a fixed attribute selector
//	(`table[width="550"]` by default). Layout tables on the same page must not match.
//
// Cells:
//
//	The first line of a cell is its label; the following lines (split on <br>)
//	are values. "Wind<br>VRB @ 2 KNOTS" → wind = ["VRB @ 2 KNOTS"].
//	The first cell of every box is the encoded report itself, e.g.
//	"METAR CYVR 200400Z VRB02KT 15SM BKN220 11/11 A3022 RMK CI5 VIS N LWR SLP235=".
//
// Labels:
//
//	Labels are canonicalised (trimmed, lower-cased, whitespace collapsed) and
//	matched against a configured FieldSet. Unknown labels are ignored.
//	Empty value lines are dropped; a field with no surviving lines is omitted.
//
// Time format:
//
//	"date - time" values look like "20 OCTOBER 2022 - 0400 UTC" and are always UTC.
//	The derived datetime is rendered in the station zone as "2006-01-02 15:04 MST",
//	e.g. "2022-10-19 21:00 PDT".
//
// # Storage Keys
//
// Records are keyed by location (partition key, collapsed from the "location"
// field's first line) and datetime (sort key). The parser never drops boxes
// lacking either key; sinks skip them via [StorableBoxes].
package domain
