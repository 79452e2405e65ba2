// Package coverage decides whether the dataset already holds a whole window.
package coverage

import (
	"wmharvest/pkg/model"
)

// IsWindowComplete reports whether records contain at least one row for every date of
// the window for its entity key. When the window names regions, only rows with the same
// region serialization count. An invalid window is never complete.
func IsWindowComplete(records []model.StatRecord, w model.Window) bool {
	expected, err := w.Dates()
	if err != nil {
		return false
	}

	observed := ObservedDates(records, w)
	for _, d := range expected {
		if _, ok := observed[d]; !ok {
			return false
		}
	}
	return true
}

// ObservedDates collects the dates present for the window's key and regions
func ObservedDates(records []model.StatRecord, w model.Window) map[string]struct{} {
	regionFilter := ""
	if !w.Regions.IsEmpty() {
		regionFilter = w.Regions.Column()
	}

	dates := make(map[string]struct{})
	for _, r := range records {
		if r.EntityKey != w.EntityKey {
			continue
		}
		if regionFilter != "" && r.Regions.Column() != regionFilter {
			continue
		}
		dates[model.NormalizeDate(r.Date)] = struct{}{}
	}
	return dates
}
