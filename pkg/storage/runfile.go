package storage

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"wmharvest/pkg/atomicfile"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/model"
)

// RunFileTimestamp is substituted for {timestamp} in run file patterns
const RunFileTimestamp = "2006-01-02_15-04-05"

// RunFileName expands a run file pattern for the given time
func RunFileName(pattern string, now time.Time) string {
	return strings.ReplaceAll(pattern, "{timestamp}", now.Format(RunFileTimestamp))
}

// WriteRunFile writes the records collected by one run to a fresh CSV file in dir
// and returns its path.
func WriteRunFile(dir, pattern string, now time.Time, keyColumn string, records []model.StatRecord) (string, error) {
	if err := validKeyColumn(keyColumn); err != nil {
		return "", err
	}

	path := filepath.Join(dir, RunFileName(pattern, now))
	err := atomicfile.Write(path, 0644, func(w io.Writer) error {
		return WriteCSV(w, keyColumn, records)
	})
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeStorageWrite, err, "write run file")
	}
	return path, nil
}
