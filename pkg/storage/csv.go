package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"wmharvest/pkg/atomicfile"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
)

// CSVStore keeps the dataset in a single UTF-8 CSV file with a byte order mark.
// Every merge rewrites the whole file.
type CSVStore struct {
	path      string
	keyColumn string
	mu        sync.Mutex
	logger    logger.Logger
}

// NewCSVStore creates a store for path. The file is created by the first merge.
func NewCSVStore(path, keyColumn string, log logger.Logger) (*CSVStore, error) {
	if err := validKeyColumn(keyColumn); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &CSVStore{
		path:      path,
		keyColumn: keyColumn,
		logger:    log.WithFields(map[string]interface{}{"storage": "csv", "path": path}),
	}, nil
}

// LoadAll reads the dataset
func (s *CSVStore) LoadAll(ctx context.Context) []model.StatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _ := s.load()
	return records
}

// load returns the records and whether an existing file could not be parsed
func (s *CSVStore) load() ([]model.StatRecord, bool) {
	file, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "open dataset")).
				Warn("Dataset unreadable, treating it as empty")
		}
		return nil, false
	}
	defer file.Close()

	records, err := ReadCSV(file, s.keyColumn)
	if err != nil {
		s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "parse dataset")).
			Warn("Dataset is malformed, treating it as empty")
		return nil, true
	}
	return records, false
}

// Merge combines the stored dataset with records and rewrites the file
func (s *CSVStore) Merge(ctx context.Context, records []model.StatRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, corrupt := s.load()
	if corrupt {
		backup := s.path + ".corrupt"
		if err := atomicfile.Backup(s.path, backup); err != nil {
			return errs.Wrap(errs.ErrorTypeStorageWrite, err, "back up malformed dataset")
		}
		s.logger.WithField("backup", backup).Warn("Malformed dataset backed up")
	}

	merged := model.Dedupe(append(existing, records...))
	err := atomicfile.Write(s.path, 0644, func(w io.Writer) error {
		return WriteCSV(w, s.keyColumn, merged)
	})
	if err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "write dataset")
	}

	s.logger.DebugWithFields("Dataset merged", map[string]interface{}{
		"incoming": len(records),
		"total":    len(merged),
	})
	return nil
}

// Close is a no-op; the file is not held open between merges
func (s *CSVStore) Close() error {
	return nil
}

// WriteCSV writes the header and records, prefixed with a byte order mark
func WriteCSV(w io.Writer, keyColumn string, records []model.StatRecord) error {
	bw := bufio.NewWriter(w)
	tw := transform.NewWriter(bw, unicode.UTF8BOM.NewEncoder())

	cw := csv.NewWriter(tw)
	if err := cw.Write(Columns(keyColumn)); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(recordRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadCSV parses a dataset. A leading byte order mark is optional. Columns are
// located by header name; missing metric columns read as N/A.
func ReadCSV(r io.Reader, keyColumn string) ([]model.StatRecord, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, required := range []string{"date", keyColumn, "query"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []model.StatRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := model.StatRecord{
			Date:      model.NormalizeDate(field(row, "date")),
			EntityKey: field(row, keyColumn),
			Query:     field(row, "query"),
		}
		metrics := []struct {
			column string
			dst    *model.Metric
		}{
			{"position", &rec.Position},
			{"clicks", &rec.Clicks},
			{"ctr", &rec.CTR},
			{"demand", &rec.Demand},
			{"impressions", &rec.Impressions},
		}
		for _, m := range metrics {
			if *m.dst, err = model.ParseMetric(field(row, m.column)); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		if rec.Regions, err = model.ParseRegionSet(field(row, "region_ids")); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
