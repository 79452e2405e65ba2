package model

import (
	"fmt"
	"strconv"
	"strings"
)

// NotAvailable is the sentinel written for metrics and labels the API did not report
const NotAvailable = "N/A"

// Metric field names as reported by the query-analytics API
const (
	FieldPosition    = "POSITION"
	FieldClicks      = "CLICKS"
	FieldCTR         = "CTR"
	FieldDemand      = "DEMAND"
	FieldImpressions = "IMPRESSIONS"
)

// Metric is an optional numeric value
type Metric struct {
	Value float64
	Valid bool
}

// Num returns a present metric
func Num(v float64) Metric {
	return Metric{Value: v, Valid: true}
}

// String renders the metric the way it is persisted
func (m Metric) String() string {
	if !m.Valid {
		return NotAvailable
	}
	return strconv.FormatFloat(m.Value, 'f', -1, 64)
}

// ParseMetric parses a persisted metric. Empty strings and the sentinel are absent values.
func ParseMetric(s string) (Metric, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == NotAvailable || strings.EqualFold(s, "nan") {
		return Metric{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Metric{}, fmt.Errorf("invalid metric value %q: %w", s, err)
	}
	return Num(v), nil
}

// StatRecord is one row of the dataset
type StatRecord struct {
	Date        string
	EntityKey   string
	Query       string
	Position    Metric
	Clicks      Metric
	CTR         Metric
	Demand      Metric
	Impressions Metric
	Regions     RegionSet
}

// RecordKey identifies a record for deduplication
type RecordKey struct {
	Date      string
	EntityKey string
	Query     string
}

// Key returns the uniqueness key of the record
func (r StatRecord) Key() RecordKey {
	return RecordKey{Date: r.Date, EntityKey: r.EntityKey, Query: r.Query}
}

// SetField assigns a metric by its API field name. Unknown fields are ignored.
func (r *StatRecord) SetField(field string, m Metric) bool {
	switch field {
	case FieldPosition:
		r.Position = m
	case FieldClicks:
		r.Clicks = m
	case FieldCTR:
		r.CTR = m
	case FieldDemand:
		r.Demand = m
	case FieldImpressions:
		r.Impressions = m
	default:
		return false
	}
	return true
}

// Dedupe keeps one record per key. A later record replaces an earlier one in place,
// so the output order is the order of first appearance.
func Dedupe(records []StatRecord) []StatRecord {
	index := make(map[RecordKey]int, len(records))
	out := make([]StatRecord, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.Key()]; ok {
			out[i] = r
			continue
		}
		index[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}
