// Package render prints lists, records and analysis results as text tables.
package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/tidwall/gjson"

	"mineat/internal/analytics"
	"mineat/mine"
)

const dateFormat = "2006-01-02"

// Renderer writes tables to one writer. Colors are only emitted when the
// writer is a terminal.
type Renderer struct {
	writer io.Writer
	lg     *lipgloss.Renderer

	headerStyle lipgloss.Style
	cellStyle   lipgloss.Style
	titleStyle  lipgloss.Style
	labelStyle  lipgloss.Style
}

// New creates a renderer for w.
func New(w io.Writer) *Renderer {
	lg := lipgloss.NewRenderer(w)
	return &Renderer{
		writer:      w,
		lg:          lg,
		headerStyle: lg.NewStyle().Bold(true).PaddingRight(2),
		cellStyle:   lg.NewStyle().PaddingRight(2),
		titleStyle:  lg.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		labelStyle:  lg.NewStyle().Faint(true),
	}
}

// newTable returns a borderless table with a rule under the header.
func (r *Renderer) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		BorderStyle(r.labelStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.headerStyle
			}
			return r.cellStyle
		}).
		Headers(headers...)
}

func (r *Renderer) println(s string) {
	_, _ = fmt.Fprintln(r.writer, s)
}

// Title prints a heading line.
func (r *Renderer) Title(format string, args ...interface{}) {
	r.println(r.titleStyle.Render(fmt.Sprintf(format, args...)))
}

// Lists prints one row per list.
func (r *Renderer) Lists(lists []*mine.List) {
	t := r.newTable("NAME", "TYPE", "SIZE", "FOLDERS", "CREATED")
	for _, l := range lists {
		t.Row(l.Name, l.Type, strconv.Itoa(l.Size), strings.Join(l.Folders, ", "), formatDate(l))
	}
	r.println(t.String())
}

// ListInfo prints every property of one list.
func (r *Renderer) ListInfo(l *mine.List) {
	r.Title("%s", l.Name)
	fields := [][2]string{
		{"Title", l.Title},
		{"Type", l.Type},
		{"Size", strconv.Itoa(l.Size)},
		{"Status", l.Status},
		{"Created", formatDate(l)},
		{"Authorized", strconv.FormatBool(l.Authorized)},
		{"Tags", strings.Join(l.Tags, ", ")},
		{"Folders", strings.Join(l.Folders, ", ")},
		{"Description", l.Description},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		r.println(fmt.Sprintf("%s %s", r.labelStyle.Render(fmt.Sprintf("%-12s", f[0]+":")), f[1]))
	}
}

func formatDate(l *mine.List) string {
	if l.DateCreated == nil {
		return "-"
	}
	return l.DateCreated.Format(dateFormat)
}

// RecordTable accumulates query records and prints them as one table.
// Without explicit columns, the scalar fields of the first record are used.
type RecordTable struct {
	r       *Renderer
	columns []string
	rows    [][]string
}

// Records starts a record table with the given column paths.
func (r *Renderer) Records(columns []string) *RecordTable {
	return &RecordTable{r: r, columns: columns}
}

// Add appends one record.
func (rt *RecordTable) Add(rec mine.Record) error {
	if len(rt.columns) == 0 {
		rt.columns = scalarFields(rec)
	}
	row := make([]string, len(rt.columns))
	for i, col := range rt.columns {
		row[i] = rec.String(col)
	}
	rt.rows = append(rt.rows, row)
	return nil
}

// Len is the number of records added.
func (rt *RecordTable) Len() int {
	return len(rt.rows)
}

// Flush prints the table. Nothing is printed when no record was added.
func (rt *RecordTable) Flush() {
	if len(rt.rows) == 0 {
		return
	}
	headers := make([]string, len(rt.columns))
	for i, c := range rt.columns {
		headers[i] = strings.ToUpper(c)
	}
	t := rt.r.newTable(headers...).Rows(rt.rows...)
	rt.r.println(t.String())
}

// scalarFields lists the top-level non-object fields of rec in document
// order, leaving out the bookkeeping "class" field.
func scalarFields(rec mine.Record) []string {
	var fields []string
	gjson.Parse(rec.Raw()).ForEach(func(key, value gjson.Result) bool {
		if key.String() == "class" || value.IsObject() || value.IsArray() {
			return true
		}
		fields = append(fields, key.String())
		return true
	})
	return fields
}

// Enrichment prints an enrichment result, most significant first.
func (r *Renderer) Enrichment(res *mine.EnrichmentResult) {
	if res.Title != "" {
		r.Title("%s", res.Title)
	}
	if len(res.Items) == 0 {
		r.println("No enriched terms below the p-value threshold.")
		return
	}

	items := append([]mine.EnrichmentItem(nil), res.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].PValue < items[j].PValue })

	t := r.newTable("IDENTIFIER", "DESCRIPTION", "P-VALUE", "MATCHES")
	for _, it := range items {
		t.Row(it.Identifier, it.Description, strconv.FormatFloat(it.PValue, 'g', 4, 64), strconv.Itoa(it.Matches))
	}
	r.println(t.String())
}

// Preferences prints key/value pairs sorted by key.
func (r *Renderer) Preferences(prefs map[string]string) {
	if len(prefs) == 0 {
		r.println("No preferences set.")
		return
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := r.newTable("KEY", "VALUE")
	for _, k := range keys {
		t.Row(k, prefs[k])
	}
	r.println(t.String())
}

// Stats prints command usage statistics.
func (r *Renderer) Stats(stats []analytics.CommandStats) {
	if len(stats) == 0 {
		r.println("No commands recorded yet.")
		return
	}
	t := r.newTable("COMMAND", "TOTAL", "SUCCESS", "AVG MS")
	for _, s := range stats {
		rate := 0.0
		if s.Total > 0 {
			rate = float64(s.Successful) * 100 / float64(s.Total)
		}
		t.Row(s.Command, strconv.Itoa(s.Total), fmt.Sprintf("%.0f%%", rate), fmt.Sprintf("%.0f", s.AvgDurationMs))
	}
	r.println(t.String())
}

// MineStats prints failure counts per mine.
func (r *Renderer) MineStats(stats []analytics.MineStats) {
	t := r.newTable("MINE", "TOTAL", "FAILED", "TOP ERROR")
	for _, s := range stats {
		topError := s.TopError
		if topError == "" {
			topError = "-"
		}
		t.Row(s.Mine, strconv.Itoa(s.Total), strconv.Itoa(s.Failed), topError)
	}
	r.println(t.String())
}
