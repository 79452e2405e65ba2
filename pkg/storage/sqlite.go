package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
)

// Pragmas applied to every connection opened by OpenSQLite
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// SQLiteStore keeps the dataset in a query_stats table keyed by (date, key, query)
type SQLiteStore struct {
	db        *sql.DB
	keyColumn string
	logger    logger.Logger
}

// OpenSQLite opens or creates the database at path and ensures the schema exists
func OpenSQLite(path, keyColumn string, log logger.Logger) (*SQLiteStore, error) {
	if err := validKeyColumn(keyColumn); err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeStorageWrite, err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeStorageRead, err, "open database")
	}
	// A single connection keeps :memory: databases and pragmas consistent
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errs.Wrap(errs.ErrorTypeStorageRead, err, pragma)
		}
	}

	store, err := NewSQLiteStoreWithDB(db, keyColumn, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Debug("Database opened")
	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing handle. The schema is assumed to exist.
func NewSQLiteStoreWithDB(db *sql.DB, keyColumn string, log logger.Logger) (*SQLiteStore, error) {
	if err := validKeyColumn(keyColumn); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &SQLiteStore{
		db:        db,
		keyColumn: keyColumn,
		logger:    log.WithField("storage", "sqlite"),
	}, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS query_stats (
	date        TEXT NOT NULL,
	%[1]s       TEXT NOT NULL,
	query       TEXT NOT NULL,
	position    REAL,
	clicks      REAL,
	ctr         REAL,
	demand      REAL,
	impressions REAL,
	region_ids  TEXT NOT NULL DEFAULT 'N/A',
	PRIMARY KEY (date, %[1]s, query)
)`, s.keyColumn)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "create query_stats table")
	}
	return nil
}

func (s *SQLiteStore) upsertSQL() string {
	cols := Columns(s.keyColumn)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var updates []string
	for _, c := range cols[3:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf(
		"INSERT INTO query_stats (%s) VALUES (%s) ON CONFLICT (date, %s, query) DO UPDATE SET %s",
		strings.Join(cols, ", "), placeholders, s.keyColumn, strings.Join(updates, ", "),
	)
}

// Merge upserts all records in one transaction
func (s *SQLiteStore) Merge(ctx context.Context, records []model.StatRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithError(rbErr).Warn("Rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "prepare upsert")
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.Date, r.EntityKey, r.Query,
			nullable(r.Position), nullable(r.Clicks), nullable(r.CTR),
			nullable(r.Demand), nullable(r.Impressions),
			r.Regions.Column(),
		)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeStorageWrite, err, "upsert record")
		}
	}

	if err = tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "commit transaction")
	}

	s.logger.DebugWithFields("Dataset merged", map[string]interface{}{"incoming": len(records)})
	return nil
}

// LoadAll reads every row ordered by date, key and query
func (s *SQLiteStore) LoadAll(ctx context.Context) []model.StatRecord {
	query := fmt.Sprintf("SELECT %s FROM query_stats ORDER BY date, %s, query",
		strings.Join(Columns(s.keyColumn), ", "), s.keyColumn)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "query dataset")).
			Warn("Dataset unreadable, treating it as empty")
		return nil
	}
	defer rows.Close()

	var records []model.StatRecord
	for rows.Next() {
		var (
			rec     model.StatRecord
			metrics [5]sql.NullString
			regions string
		)
		if err := rows.Scan(&rec.Date, &rec.EntityKey, &rec.Query,
			&metrics[0], &metrics[1], &metrics[2], &metrics[3], &metrics[4], &regions); err != nil {
			s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "scan dataset row")).
				Warn("Dataset unreadable, treating it as empty")
			return nil
		}

		rec.Date = model.NormalizeDate(rec.Date)
		dst := [5]*model.Metric{&rec.Position, &rec.Clicks, &rec.CTR, &rec.Demand, &rec.Impressions}
		for i, m := range metrics {
			*dst[i] = s.metricFromColumn(m, rec.Query)
		}
		if rec.Regions, err = model.ParseRegionSet(regions); err != nil {
			s.logger.WithError(err).WithField("query", rec.Query).Warn("Ignoring malformed region list")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "iterate dataset")).
			Warn("Dataset unreadable, treating it as empty")
		return nil
	}
	return records
}

// Close closes the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(m model.Metric) interface{} {
	if !m.Valid {
		return nil
	}
	return m.Value
}

// metricFromColumn accepts REAL values as well as text columns holding
// numbers or the N/A sentinel. Unparseable values become N/A.
func (s *SQLiteStore) metricFromColumn(v sql.NullString, query string) model.Metric {
	if !v.Valid {
		return model.Metric{}
	}
	m, err := model.ParseMetric(v.String)
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Warn("Ignoring malformed metric")
		return model.Metric{}
	}
	return m
}
