package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"wmharvest/pkg/atomicfile"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/model"
)

// Entry records that the window starting at its date_from key was processed up to DateTo
type Entry struct {
	DateTo    string          `json:"date_to"`
	RegionIDs model.RegionSet `json:"region_ids,omitempty"`
}

// Satisfies reports whether the entry lets a window ending at dateTo with the given
// regions be skipped. A request without regions matches any stored regions.
func (e Entry) Satisfies(dateTo string, regions model.RegionSet) bool {
	if e.DateTo != dateTo {
		return false
	}
	return regions.IsEmpty() || e.RegionIDs.Equal(regions)
}

// Data is the file content: entity key -> date_from -> entry
type Data map[string]map[string]Entry

// Store persists checkpoints as a single JSON document.
// Every Put rewrites the whole file atomically.
type Store struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

// NewStore creates a store backed by path. The file is created on first Put.
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{path: path, logger: log.WithField("checkpoint_file", path)}
}

// Path returns the checkpoint file location
func (s *Store) Path() string {
	return s.path
}

// Load reads all checkpoints. A missing or empty file is an empty map;
// a malformed file is logged and also read as an empty map.
func (s *Store) Load() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := s.load()
	return data
}

// load returns the data and whether the file existed but could not be parsed
func (s *Store) load() (Data, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "read checkpoint file")).
				Warn("Checkpoint file unreadable, starting with empty checkpoints")
		}
		return Data{}, false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Data{}, false
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.WithError(errs.Wrap(errs.ErrorTypeStorageRead, err, "decode checkpoint file")).
			Warn("Checkpoint file is malformed, starting with empty checkpoints")
		return Data{}, true
	}
	if data == nil {
		data = Data{}
	}
	return data, false
}

// Get returns the entry for a key and window start
func (s *Store) Get(entityKey, dateFrom string) (Entry, bool) {
	data := s.Load()
	entry, ok := data[entityKey][dateFrom]
	return entry, ok
}

// Put records an entry and rewrites the file
func (s *Store) Put(entityKey, dateFrom string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, corrupt := s.load()
	if corrupt {
		backup := s.path + ".corrupt"
		if err := atomicfile.Backup(s.path, backup); err != nil {
			s.logger.WithError(err).Warn("Failed to back up malformed checkpoint file")
		} else {
			s.logger.WithField("backup", backup).Warn("Malformed checkpoint file backed up")
		}
	}

	if data[entityKey] == nil {
		data[entityKey] = make(map[string]Entry)
	}
	data[entityKey][dateFrom] = entry

	if err := s.save(data); err != nil {
		return errs.Wrap(errs.ErrorTypeStorageWrite, err, "write checkpoint file")
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"entity_key": entityKey,
		"date_from":  dateFrom,
		"date_to":    entry.DateTo,
	})
	return nil
}

func (s *Store) save(data Data) error {
	return atomicfile.Write(s.path, 0644, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
		return encoder.Encode(data)
	})
}

// Reset removes the checkpoint file
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	s.logger.Info("Checkpoints reset")
	return nil
}

// Row is one flattened checkpoint for reporting
type Row struct {
	EntityKey string
	DateFrom  string
	Entry
}

// All returns every checkpoint sorted by key and window start
func (s *Store) All() []Row {
	var rows []Row
	for key, windows := range s.Load() {
		for from, entry := range windows {
			rows = append(rows, Row{EntityKey: key, DateFrom: from, Entry: entry})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EntityKey != rows[j].EntityKey {
			return rows[i].EntityKey < rows[j].EntityKey
		}
		return rows[i].DateFrom < rows[j].DateFrom
	})
	return rows
}
