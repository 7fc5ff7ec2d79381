package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Layout locates the parts of an AWWS report page.
type Layout struct {
	// TimestampSelector matches the page generation marker; the first match wins.
	TimestampSelector string
	// TimestampTextSelector picks the bold child holding "at <timestamp> UTC".
	TimestampTextSelector string
	// TableSelector matches report boxes and nothing else on the page.
	TableSelector string
	// CellSelector matches the cells of a report box in document order.
	CellSelector string
	// DateTimeLayout is the time layout of the "date - time" field.
	DateTimeLayout string
}

// DefaultLayout is the AWWS METAR/TAF plain-language page family.
var DefaultLayout = Layout{
	TimestampSelector:     ".corps",
	TimestampTextSelector: "b",
	TableSelector:         `table[width="550"]`,
	CellSelector:          "td",
	DateTimeLayout:        AWWSLayout,
}

func (l Layout) withDefaults() Layout {
	if l.TimestampSelector == "" {
		l.TimestampSelector = DefaultLayout.TimestampSelector
	}
	if l.TimestampTextSelector == "" {
		l.TimestampTextSelector = DefaultLayout.TimestampTextSelector
	}
	if l.TableSelector == "" {
		l.TableSelector = DefaultLayout.TableSelector
	}
	if l.CellSelector == "" {
		l.CellSelector = DefaultLayout.CellSelector
	}
	if l.DateTimeLayout == "" {
		l.DateTimeLayout = DefaultLayout.DateTimeLayout
	}
	return l
}

// ParseOptions configures a single ParsePage call.
type ParseOptions struct {
	Fields     FieldSet
	ReportKind string
	// Zone localises the derived datetime. Nil keeps it in UTC.
	Zone   *time.Location
	Layout Layout
}

// ParsePage turns raw page markup into one ReportBox per report table.
//
// A page without a generation timestamp fails with a ParseError of kind
// KindMissingTimestamp. A page without report tables yields zero boxes. Boxes
// missing location or date - time are returned as-is; rejecting them is the
// storage layer's job.
func ParsePage(markup string, opts ParseOptions) (ReportPage, error) {
	layout := opts.Layout.withDefaults()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ReportPage{}, fmt.Errorf("parse page: read markup: %w", err)
	}

	ts, ok := pageTimestamp(doc, layout)
	if !ok {
		return ReportPage{}, &ParseError{Kind: KindMissingTimestamp, Box: -1, Err: ErrMissingTimestamp}
	}

	page := ReportPage{ReportTimestamp: ts, Boxes: []ReportBox{}}

	var boxErr error
	doc.Find(layout.TableSelector).EachWithBreak(func(i int, table *goquery.Selection) bool {
		box := parseBox(table, layout, opts.Fields)
		box.ReportTimestamp = ts
		box.ReportKind = opts.ReportKind

		if err := deriveKeys(&box, layout.DateTimeLayout, opts.Zone); err != nil {
			boxErr = &ParseError{Kind: KindInvalidDateTime, Box: i, Err: err}
			return false
		}
		page.Boxes = append(page.Boxes, box)
		return true
	})
	if boxErr != nil {
		return ReportPage{}, boxErr
	}

	return page, nil
}

// pageTimestamp reads "at 10/20/2022 05:03:30 UTC" from the marker element
// and returns "10/20/2022 05:03:30".
func pageTimestamp(doc *goquery.Document, layout Layout) (string, bool) {
	marker := doc.Find(layout.TimestampSelector).First()
	if marker.Length() == 0 {
		return "", false
	}
	bold := marker.Find(layout.TimestampTextSelector).First()
	if bold.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(strings.ReplaceAll(bold.Text(), "\u00a0", " "))
	text = strings.TrimPrefix(text, "at ")
	text = strings.TrimSuffix(text, " UTC")
	return strings.TrimSpace(text), true
}

func parseBox(table *goquery.Selection, layout Layout, fields FieldSet) ReportBox {
	box := ReportBox{Fields: make(map[FieldName][]string)}

	table.Find(layout.CellSelector).Each(func(i int, cell *goquery.Selection) {
		label, values := splitCell(cellLines(cell))

		// The first cell always carries the encoded report text.
		if i == 0 {
			box.EncodedReport = strings.ToUpper(strings.TrimSpace(label))
		}

		name, ok := fields.Lookup(label)
		if !ok {
			return
		}
		if cleaned := cleanValues(values); len(cleaned) > 0 {
			box.Fields[name] = cleaned
		}
	})

	return box
}

// deriveKeys collapses location to a scalar and localises date - time.
// The date - time field itself is kept.
func deriveKeys(box *ReportBox, dateTimeLayout string, zone *time.Location) error {
	if loc, ok := box.Fields[FieldLocation]; ok {
		box.Location = loc[0]
		delete(box.Fields, FieldLocation)
	}
	if dt, ok := box.Fields[FieldDateTime]; ok {
		local, err := NormalizeUTC(dt[0], dateTimeLayout, zone)
		if err != nil {
			return err
		}
		box.DateTime = local
	}
	return nil
}

// splitCell returns the first non-blank line as the label and the remaining
// lines as candidate values.
func splitCell(lines []string) (string, []string) {
	for i, l := range lines {
		if l != "" {
			return l, lines[i+1:]
		}
	}
	return "", nil
}

func cleanValues(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = collapseSpaces(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// cellLines renders a cell's text with <br> and block boundaries as line
// breaks, replaces non-breaking spaces and trims each line.
func cellLines(cell *goquery.Selection) []string {
	var b strings.Builder
	for _, n := range cell.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeText(&b, c)
		}
	}

	raw := strings.Split(b.String(), "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(strings.ReplaceAll(l, "\u00a0", " "))
	}
	return lines
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
			return
		}
	default:
		return
	}

	block := isBlock(n.DataAtom)
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Tr, atom.Table, atom.H1, atom.H2, atom.H3, atom.H4, atom.Pre:
		return true
	}
	return false
}
