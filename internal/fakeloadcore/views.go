package fakeloadcore

import (
	"strconv"

	"github.com/yourorg/loadcore/internal/stats"
)

func num(v float64) stats.Cell {
	return stats.Cell{Raw: strconv.FormatFloat(v, 'f', -1, 64), Num: v, Valid: true}
}

func text(s string) stats.Cell {
	return stats.Cell{Raw: s}
}

// TimeSeriesView builds a view with one snapshot per row of values, two
// seconds apart from startMs.
func TimeSeriesView(startMs int64, columns []string, rows [][]float64) stats.View {
	v := stats.View{Columns: append([]string{stats.TimestampColumn}, columns...)}
	for i, row := range rows {
		ts := startMs + int64(i)*2000
		cells := []stats.Cell{num(float64(ts))}
		for _, x := range row {
			cells = append(cells, num(x))
		}
		v.Snapshots = append(v.Snapshots, stats.Snapshot{Timestamp: float64(ts), Values: [][]stats.Cell{cells}})
	}
	return v
}

// AggregateView builds a single-snapshot view keyed by its first column.
func AggregateView(key string, columns []string, rows map[string][]float64, order []string) stats.View {
	v := stats.View{Columns: append([]string{key}, columns...)}
	snap := stats.Snapshot{}
	for _, name := range order {
		cells := []stats.Cell{text(name)}
		for _, x := range rows[name] {
			cells = append(cells, num(x))
		}
		snap.Values = append(snap.Values, cells)
	}
	v.Snapshots = []stats.Snapshot{snap}
	return v
}

// DefaultViews returns the stat views of a small full core run.
func DefaultViews(startMs int64) map[string]stats.View {
	return map[string]stats.View{
		"RegisteredUEs": TimeSeriesView(startMs, []string{"Registered", "Deregistered"}, [][]float64{
			{0, 0}, {40, 0}, {100, 0}, {100, 0}, {60, 40},
		}),
		"NGRANRegistrationprocedure": TimeSeriesView(startMs, []string{"Initiated Rate", "Succeeded Rate"}, [][]float64{
			{0, 0}, {20, 18}, {30, 30}, {0, 0}, {0, 0},
		}),
		"PDUSessionEstablishment": TimeSeriesView(startMs, []string{"Initiated", "Succeeded"}, [][]float64{
			{0, 0}, {40, 38}, {100, 99}, {100, 100}, {100, 100},
		}),
		"NGRANRegistration": TimeSeriesView(startMs, []string{"Initiated", "Succeeded", "Failed"}, [][]float64{
			{0, 0, 0}, {40, 40, 0}, {100, 98, 2}, {100, 98, 2}, {100, 98, 2},
		}),
		"SBIMessages": AggregateView("Interface", []string{"Requests", "Responses"}, map[string][]float64{
			"N8":  {120, 120},
			"N11": {300, 298},
			"N12": {80, 80},
		}, []string{"N8", "N11", "N12"}),
	}
}
