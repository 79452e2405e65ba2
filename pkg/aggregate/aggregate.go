// Package aggregate folds raw query-analytics statistics into dataset records.
package aggregate

import (
	"wmharvest/pkg/model"
	"wmharvest/pkg/webmaster"
)

// Aggregate groups statistics by (query, date) into one record per group, in order of
// first appearance. Fields the API did not report stay N/A. With filterZeroDemand set,
// records whose demand is reported as 0 are dropped; records without demand are kept.
func Aggregate(items []webmaster.IndicatorStatistics, entityKey string, regions model.RegionSet, filterZeroDemand bool) []model.StatRecord {
	type groupKey struct{ query, date string }

	index := make(map[groupKey]int)
	var records []model.StatRecord

	for _, item := range items {
		query := orNotAvailable(item.TextIndicator.Value)
		for _, stat := range item.Statistics {
			date := orNotAvailable(model.NormalizeDate(stat.Date))
			key := groupKey{query: query, date: date}

			i, ok := index[key]
			if !ok {
				i = len(records)
				index[key] = i
				records = append(records, model.StatRecord{
					Date:      date,
					EntityKey: entityKey,
					Query:     query,
					Regions:   regions,
				})
			}

			if stat.Value != nil {
				records[i].SetField(stat.Field, model.Num(*stat.Value))
			}
		}
	}

	if filterZeroDemand {
		records = FilterZeroDemand(records)
	}
	return records
}

// FilterZeroDemand drops records with a reported demand of exactly 0
func FilterZeroDemand(records []model.StatRecord) []model.StatRecord {
	kept := records[:0:0]
	for _, r := range records {
		if r.Demand.Valid && r.Demand.Value == 0 {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func orNotAvailable(s string) string {
	if s == "" {
		return model.NotAvailable
	}
	return s
}
