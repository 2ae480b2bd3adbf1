package stats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimestampColumn marks a time-series view when it is the first column.
const TimestampColumn = "timestamp"

// ErrEmptyView is returned when a view has no columns or snapshots to read.
var ErrEmptyView = errors.New("stat view has no data")

// Cell is one value of a stat view. The platform sends numbers, numeric
// strings and null interchangeably.
type Cell struct {
	Raw   string
	Num   float64
	Valid bool
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = Cell{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		*c = Cell{Raw: s, Num: n, Valid: err == nil}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("stat cell: %w", err)
	}
	*c = Cell{Raw: string(data), Num: n, Valid: true}
	return nil
}

func (c Cell) MarshalJSON() ([]byte, error) {
	if c.Valid {
		return json.Marshal(c.Num)
	}
	if c.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(c.Raw)
}

func (c Cell) String() string { return c.Raw }

// Snapshot is one polling sample of a view.
type Snapshot struct {
	Timestamp float64  `json:"timestamp,omitempty"`
	Values    [][]Cell `json:"values"`
}

// View is the body of GET /api/v2/results/{testId}/stats/{name}.
type View struct {
	Columns   []string   `json:"columns"`
	Snapshots []Snapshot `json:"snapshots"`
}

// IsTimeSeries reports whether the first column is the timestamp.
func (v View) IsTimeSeries() bool {
	return len(v.Columns) > 0 && v.Columns[0] == TimestampColumn
}

// Result maps a view's columns to either a series or a total, depending on
// the view shape.
type Result struct {
	Name       string               `json:"name"`
	TimeSeries map[string][]float64 `json:"time_series,omitempty"`
	Totals     map[string]float64   `json:"totals,omitempty"`
}

// IsTimeSeries reports whether the result holds per-snapshot series.
func (r Result) IsTimeSeries() bool { return r.TimeSeries != nil }

// ColumnNames returns the result's columns sorted by name.
func (r Result) ColumnNames() []string {
	names := make([]string, 0, len(r.TimeSeries)+len(r.Totals))
	for k := range r.TimeSeries {
		names = append(names, k)
	}
	for k := range r.Totals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Series returns a column as a series. Totals become a one-element series.
func (r Result) Series(column string) []float64 {
	if r.TimeSeries != nil {
		return r.TimeSeries[column]
	}
	if v, ok := r.Totals[column]; ok {
		return []float64{v}
	}
	return nil
}

// Extract reads a view. Time-series views yield one value per snapshot for
// every column after the timestamp, taken from the first row of each
// snapshot. Aggregate views yield the sum of every row of the first snapshot.
func Extract(name string, v View) (Result, error) {
	if len(v.Columns) < 2 || len(v.Snapshots) == 0 {
		return Result{}, fmt.Errorf("%s: %w", name, ErrEmptyView)
	}
	res := Result{Name: name}
	if v.IsTimeSeries() {
		res.TimeSeries = make(map[string][]float64, len(v.Columns)-1)
		for i := 1; i < len(v.Columns); i++ {
			series := make([]float64, 0, len(v.Snapshots))
			for j, snap := range v.Snapshots {
				c, err := cellAt(snap, 0, i)
				if err != nil {
					return Result{}, fmt.Errorf("%s: snapshot %d: %w", name, j, err)
				}
				series = append(series, c)
			}
			res.TimeSeries[v.Columns[i]] = series
		}
		return res, nil
	}

	res.Totals = make(map[string]float64, len(v.Columns)-1)
	first := v.Snapshots[0]
	for i := 1; i < len(v.Columns); i++ {
		var sum float64
		for row := range first.Values {
			c, err := cellAt(first, row, i)
			if err != nil {
				return Result{}, fmt.Errorf("%s: row %d: %w", name, row, err)
			}
			sum += c
		}
		res.Totals[v.Columns[i]] = sum
	}
	return res, nil
}

func cellAt(s Snapshot, row, col int) (float64, error) {
	if row >= len(s.Values) || col >= len(s.Values[row]) {
		return 0, fmt.Errorf("missing value at row %d column %d", row, col)
	}
	c := s.Values[row][col]
	if !c.Valid {
		return 0, fmt.Errorf("non-numeric value %q at row %d column %d", c.Raw, row, col)
	}
	return c.Num, nil
}

// Max returns the largest value, or 0 for an empty series.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// AvgNonZero averages the non-zero values rounded to two decimals. A series
// of zeros yields 0.
func AvgNonZero(values []float64) float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if v != 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}

// Summaries.
const (
	SummaryMax        = "max"
	SummaryAvgNonZero = "avg_non_zero"
)

// Summarize applies the named summary to a series.
func Summarize(summary string, values []float64) (float64, error) {
	switch summary {
	case SummaryMax, "":
		return Max(values), nil
	case SummaryAvgNonZero:
		return AvgNonZero(values), nil
	default:
		return 0, fmt.Errorf("unknown summary %q", summary)
	}
}

// Table is a rendered view: header plus string rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

const timeLayout = "2006-01-02 15:04:05"

// NewTable renders every column of a view, timestamps included. Time-series
// views give one row per snapshot with millisecond timestamps shown in loc;
// aggregate views give the rows of the first snapshot.
func NewTable(name string, v View, loc *time.Location) (Table, error) {
	if len(v.Columns) == 0 || len(v.Snapshots) == 0 {
		return Table{}, fmt.Errorf("%s: %w", name, ErrEmptyView)
	}
	if loc == nil {
		loc = time.Local
	}
	t := Table{Name: name, Columns: append([]string(nil), v.Columns...)}
	if v.IsTimeSeries() {
		for _, snap := range v.Snapshots {
			if len(snap.Values) == 0 {
				continue
			}
			t.Rows = append(t.Rows, renderRow(snap.Values[0], len(v.Columns), loc, true))
		}
		return t, nil
	}
	for _, row := range v.Snapshots[0].Values {
		t.Rows = append(t.Rows, renderRow(row, len(v.Columns), loc, false))
	}
	return t, nil
}

func renderRow(row []Cell, width int, loc *time.Location, timeSeries bool) []string {
	out := make([]string, width)
	for i := 0; i < width && i < len(row); i++ {
		c := row[i]
		if i == 0 && timeSeries && c.Valid {
			out[i] = time.UnixMilli(int64(c.Num)).In(loc).Format(timeLayout)
			continue
		}
		out[i] = c.Raw
	}
	return out
}
