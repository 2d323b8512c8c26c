package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/api/youtubeanalytics/v2"

	"github.com/Vector/vector-leads-crm/models"
)

// ErrMalformedReport is returned for a report with no column headers or no
// rows array. It is a fetch error.
var ErrMalformedReport = fmt.Errorf("%w: malformed report", models.ErrFetch)

type ColumnHeader struct {
	Name       string
	ColumnType string
	DataType   string
}

// ReportTable is a reports.query result. Lookups go through the column headers.
type ReportTable struct {
	ColumnHeaders []ColumnHeader
	Rows          [][]any
}

// NewReportTable validates resp and converts it.
func NewReportTable(resp *youtubeanalytics.QueryResponse) (*ReportTable, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedReport)
	}

	if len(resp.ColumnHeaders) == 0 {
		return nil, fmt.Errorf("%w: no column headers", ErrMalformedReport)
	}

	if resp.Rows == nil {
		return nil, fmt.Errorf("%w: no rows", ErrMalformedReport)
	}

	t := &ReportTable{
		ColumnHeaders: make([]ColumnHeader, 0, len(resp.ColumnHeaders)),
		Rows:          resp.Rows,
	}

	for _, h := range resp.ColumnHeaders {
		if h == nil {
			continue
		}

		t.ColumnHeaders = append(t.ColumnHeaders, ColumnHeader{
			Name:       h.Name,
			ColumnType: h.ColumnType,
			DataType:   h.DataType,
		})
	}

	return t, nil
}

// Float returns the value of column name in the first row. Absent columns,
// an empty table and non-numeric cells read as 0.
func (t *ReportTable) Float(name string) float64 {
	if t == nil || len(t.Rows) == 0 {
		return 0
	}

	idx := -1

	for i, h := range t.ColumnHeaders {
		if h.Name == name {
			idx = i
			break
		}
	}

	row := t.Rows[0]
	if idx < 0 || idx >= len(row) {
		return 0
	}

	v := toFloat(row[idx])
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

// Int is Float rounded to the nearest integer.
func (t *ReportTable) Int(name string) int64 {
	return int64(math.Round(t.Float(name)))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}

		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}

		return f
	default:
		return 0
	}
}
