package storage

import (
	"context"
	"fmt"

	"wmharvest/pkg/config"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
)

// Key column names
const (
	KeyHost = "host_id"
	KeyURL  = "url"
)

// MergeStore is the persistent dataset. Implementations dedupe on (date, key, query)
// with the incoming record winning.
type MergeStore interface {
	// LoadAll returns every stored record. Read problems are logged and yield an empty dataset.
	LoadAll(ctx context.Context) []model.StatRecord
	// Merge upserts records. Failures are storage_write errors.
	Merge(ctx context.Context, records []model.StatRecord) error
	Close() error
}

// New opens the backend selected in the configuration
func New(cfg *config.Config, log logger.Logger) (MergeStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	switch cfg.Storage.Type {
	case config.StorageSQLite:
		return OpenSQLite(cfg.Storage.SQLitePath, cfg.KeyColumn(), log)
	case config.StorageCSV, "":
		return NewCSVStore(cfg.Storage.CSVPath, cfg.KeyColumn(), log)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// Columns returns the dataset header for a key column
func Columns(keyColumn string) []string {
	return []string{"date", keyColumn, "query", "position", "clicks", "ctr", "demand", "impressions", "region_ids"}
}

func validKeyColumn(keyColumn string) error {
	if keyColumn != KeyHost && keyColumn != KeyURL {
		return fmt.Errorf("invalid key column %q", keyColumn)
	}
	return nil
}

func recordRow(r model.StatRecord) []string {
	return []string{
		r.Date,
		r.EntityKey,
		r.Query,
		r.Position.String(),
		r.Clicks.String(),
		r.CTR.String(),
		r.Demand.String(),
		r.Impressions.String(),
		r.Regions.Column(),
	}
}
