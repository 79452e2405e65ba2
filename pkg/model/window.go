package model

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used everywhere in the dataset
const DateLayout = "2006-01-02"

// Window is an inclusive date range for one entity key
type Window struct {
	EntityKey string
	DateFrom  string
	DateTo    string
	Regions   RegionSet
}

// NewWindow builds the window ending on the calendar day of end and spanning days days
func NewWindow(entityKey string, end time.Time, days int, regions RegionSet) Window {
	if days < 1 {
		days = 1
	}
	to := end.Format(DateLayout)
	from := end.AddDate(0, 0, -(days - 1)).Format(DateLayout)
	return Window{EntityKey: entityKey, DateFrom: from, DateTo: to, Regions: regions}
}

// Dates lists every calendar date of the window in order
func (w Window) Dates() ([]string, error) {
	return DateRange(w.DateFrom, w.DateTo)
}

// String is used in log fields
func (w Window) String() string {
	return fmt.Sprintf("%s %s..%s %s", w.EntityKey, w.DateFrom, w.DateTo, w.Regions.Column())
}

// DateRange returns all dates from..to inclusive
func DateRange(from, to string) ([]string, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid date_from %q: %w", from, err)
	}
	end, err := time.Parse(DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid date_to %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date_to %s is before date_from %s", to, from)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// NormalizeDate reduces timestamps like "2024-05-01T00:00:00" or "2024-05-01 00:00:00"
// to the calendar date. Values that do not start with a date are returned unchanged.
func NormalizeDate(s string) string {
	if len(s) < len(DateLayout) {
		return s
	}
	if _, err := time.Parse(DateLayout, s[:len(DateLayout)]); err != nil {
		return s
	}
	return s[:len(DateLayout)]
}
