package harvester

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wmharvest/pkg/checkpoint"
	"wmharvest/pkg/clock"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/fetcher"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/metrics"
	"wmharvest/pkg/model"
	"wmharvest/pkg/storage"
	"wmharvest/pkg/webmaster"
)

const testHost = "https:example.com:443"

var testNow = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

type stubDirectory struct {
	userID   string
	userErr  error
	hosts    []webmaster.Host
	hostsErr error
}

func (d *stubDirectory) UserID(ctx context.Context) (string, error) {
	return d.userID, d.userErr
}

func (d *stubDirectory) Hosts(ctx context.Context, userID string) ([]webmaster.Host, error) {
	return d.hosts, d.hostsErr
}

type stubFetcher struct {
	mu sync.Mutex
	// pages per entity key
	pages map[string][]fetcher.Page
	urls  []string
	// before is called ahead of every Pages iteration; a non-nil error is yielded
	before func(ctx context.Context, q fetcher.Query) error

	queries   []fetcher.Query
	listCalls int
}

func (f *stubFetcher) Pages(ctx context.Context, q fetcher.Query) iter.Seq2[fetcher.Page, error] {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	return func(yield func(fetcher.Page, error) bool) {
		if f.before != nil {
			if err := f.before(ctx, q); err != nil {
				yield(fetcher.Page{}, err)
				return
			}
		}
		for _, p := range f.pages[q.Window.EntityKey] {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (f *stubFetcher) ListURLs(ctx context.Context, q fetcher.Query) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.urls, nil
}

func (f *stubFetcher) calls() []fetcher.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetcher.Query(nil), f.queries...)
}

type memStore struct {
	records  []model.StatRecord
	mergeErr error
	merges   int
}

func (s *memStore) LoadAll(ctx context.Context) []model.StatRecord {
	return append([]model.StatRecord(nil), s.records...)
}

func (s *memStore) Merge(ctx context.Context, records []model.StatRecord) error {
	if s.mergeErr != nil {
		return s.mergeErr
	}
	s.merges++
	s.records = model.Dedupe(append(s.records, records...))
	return nil
}

func (s *memStore) Close() error { return nil }

type recordingReporter struct {
	started  []string
	outcomes []string
}

func (r *recordingReporter) WindowStarted(index, total int, w model.Window) {
	r.started = append(r.started, w.EntityKey)
}

func (r *recordingReporter) WindowFinished(w model.Window, outcome string, records int) {
	r.outcomes = append(r.outcomes, outcome)
}

func v(f float64) *float64 { return &f }

func queryItem(query string, stats ...webmaster.Statistic) webmaster.IndicatorStatistics {
	return webmaster.IndicatorStatistics{
		TextIndicator: webmaster.TextIndicator{Type: webmaster.IndicatorQuery, Value: query},
		Statistics:    stats,
	}
}

func page(items ...webmaster.IndicatorStatistics) fetcher.Page {
	return fetcher.Page{Items: items}
}

type fixture struct {
	dir         *stubDirectory
	fetcher     *stubFetcher
	store       *memStore
	checkpoints *checkpoint.Store
	reporter    *recordingReporter
	log         *logger.TestLogger
	outDir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	log := logger.NewTestLogger()
	return &fixture{
		dir: &stubDirectory{
			userID: "42",
			hosts:  []webmaster.Host{{HostID: testHost, ASCIIHostURL: "https://example.com/"}},
		},
		fetcher:     &stubFetcher{pages: map[string][]fetcher.Page{}},
		store:       &memStore{},
		checkpoints: checkpoint.NewStore(filepath.Join(tmp, "processed_data.json"), log),
		reporter:    &recordingReporter{},
		log:         log,
		outDir:      filepath.Join(tmp, "out"),
	}
}

func (f *fixture) harvester(opts Options, rec *metrics.Recorder) *Harvester {
	if opts.Days == 0 {
		opts.Days = 3
	}
	opts.OutputDir = f.outDir
	return New(opts, Deps{
		Directory:   f.dir,
		Fetcher:     f.fetcher,
		Checkpoints: f.checkpoints,
		Store:       f.store,
		Clock:       clock.NewFake(testNow),
		Metrics:     rec,
		Reporter:    f.reporter,
		Logger:      f.log,
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CHECK_CHECKPOINT", StateCheckCheckpoint.String())
	assert.Equal(t, "CHECKPOINTING", StateCheckpointing.String())
	assert.Equal(t, "SKIPPED", StateSkipped.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestRunCheckpointSkipDoesNotFetch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.checkpoints.Put("https://example.com", "2024-01-01", checkpoint.Entry{DateTo: "2024-01-03"}))

	res, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.fetcher.calls())
	assert.Equal(t, 1, res.Windows)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{metrics.OutcomeCheckpoint}, f.reporter.outcomes)
	assert.Empty(t, res.RunFile)
	assert.True(t, f.log.HasMessage("INFO", "Nothing to save"))
}

func TestRunCheckpointWithOtherRegionsIsRefetched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.checkpoints.Put("https://example.com", "2024-01-01",
		checkpoint.Entry{DateTo: "2024-01-03", RegionIDs: model.RegionSet{1}}))

	_, err := f.harvester(Options{Regions: model.RegionSet{225}}, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.fetcher.calls(), 1)
	entry, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, model.RegionSet{225}, entry.RegionIDs)
}

func TestRunCoverageSkipWritesCheckpoint(t *testing.T) {
	f := newFixture(t)
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		f.store.records = append(f.store.records, model.StatRecord{
			Date: date, EntityKey: "https://example.com", Query: "q",
		})
	}

	res, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.fetcher.calls())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{metrics.OutcomeCoverage}, f.reporter.outcomes)

	entry, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, "2024-01-03", entry.DateTo)
}

func TestRunPartialCoverageFetches(t *testing.T) {
	f := newFixture(t)
	f.store.records = []model.StatRecord{{Date: "2024-01-01", EntityKey: "https://example.com", Query: "q"}}

	_, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls(), 1)
}

func TestRunCollectsMergesAndCheckpoints(t *testing.T) {
	f := newFixture(t)
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(
			queryItem("a",
				webmaster.Statistic{Date: "2024-01-01", Field: "POSITION", Value: v(3.2)},
				webmaster.Statistic{Date: "2024-01-01", Field: "CLICKS", Value: v(10)},
				webmaster.Statistic{Date: "2024-01-01", Field: "DEMAND", Value: v(50)},
			),
			queryItem("b", webmaster.Statistic{Date: "2024-01-01", Field: "DEMAND", Value: v(0)}),
		),
	}
	rec, err := metrics.NewRecorder()
	require.NoError(t, err)

	res, err := f.harvester(Options{FilterZeroDemand: true, PageSize: 100}, rec).Run(context.Background())
	require.NoError(t, err)

	calls := f.fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].UserID)
	assert.Equal(t, testHost, calls[0].HostID)
	assert.Equal(t, webmaster.IndicatorQuery, calls[0].Indicator)
	assert.Equal(t, 100, calls[0].PageSize)
	assert.Equal(t, "2024-01-01", calls[0].Window.DateFrom)
	assert.Equal(t, "2024-01-03", calls[0].Window.DateTo)

	require.Len(t, f.store.records, 1)
	assert.Equal(t, "a", f.store.records[0].Query)
	assert.Equal(t, model.Num(10), f.store.records[0].Clicks)

	entry, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, checkpoint.Entry{DateTo: "2024-01-03"}, entry)

	assert.Equal(t, 1, res.Collected)
	require.Len(t, res.Records, 1)
	require.NotEmpty(t, res.RunFile)
	assert.Equal(t, filepath.Join(f.outDir, "temp_data_2024-01-03_12-00-00.csv"), res.RunFile)

	expected := `
# HELP wmharvest_windows_total Collection windows processed partitioned by outcome.
# TYPE wmharvest_windows_total counter
wmharvest_windows_total{outcome="collected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "wmharvest_windows_total"))
}

func TestRunZeroRecordWindowIsCheckpointed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(queryItem("b", webmaster.Statistic{Date: "2024-01-02", Field: "DEMAND", Value: v(0)})),
	}

	res, err := f.harvester(Options{FilterZeroDemand: true}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, f.store.merges)
	_, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	assert.True(t, ok)
	assert.Equal(t, 1, res.Collected)
	assert.Empty(t, res.RunFile)
	assert.True(t, f.log.HasMessage("INFO", "Nothing to save"))
}

func TestRunMergeFailureSkipsCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.store.mergeErr = errs.New(errs.ErrorTypeStorageWrite, 0, "disk full")
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(queryItem("a", webmaster.Statistic{Date: "2024-01-01", Field: "CLICKS", Value: v(1)})),
	}

	res, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)

	_, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	assert.False(t, ok, "a window that was not persisted must be fetched again")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{metrics.OutcomeMergeFailed}, f.reporter.outcomes)
	assert.True(t, f.log.HasMessage("ERROR", "Failed to merge window into the dataset"))
	// The run file still carries what was fetched
	assert.NotEmpty(t, res.RunFile)
}

func TestRunForceRefetchIgnoresCheckpointAndDataset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.checkpoints.Put("https://example.com", "2024-01-01", checkpoint.Entry{DateTo: "2024-01-03"}))
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		f.store.records = append(f.store.records, model.StatRecord{Date: date, EntityKey: "https://example.com", Query: "q"})
	}

	_, err := f.harvester(Options{ForceRefetch: true}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls(), 1)
}

func TestRunAuthFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.dir.userErr = errs.New(errs.ErrorTypeNetwork, 0, "connection refused")

	_, err := f.harvester(Options{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAuth))
	assert.Empty(t, f.fetcher.calls())
}

func TestRunFatalUserErrorIsNotRewrapped(t *testing.T) {
	f := newFixture(t)
	f.dir.userErr = errs.New(errs.ErrorTypeConfig, 0, "base url is not absolute")

	_, err := f.harvester(Options{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeConfig, errs.TypeOf(err))
	assert.Empty(t, f.fetcher.calls())
}

func TestRunHostListFailureMeansNoHosts(t *testing.T) {
	f := newFixture(t)
	f.dir.hostsErr = errors.New("boom")

	res, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Windows)
	assert.True(t, f.log.HasMessage("WARN", "No hosts to collect"))
}

func TestRunURLExpansion(t *testing.T) {
	f := newFixture(t)
	f.fetcher.urls = []string{"/a", "/b"}
	f.fetcher.pages["https://example.com/a"] = []fetcher.Page{
		page(queryItem("q", webmaster.Statistic{Date: "2024-01-02", Field: "CLICKS", Value: v(2)})),
	}

	res, err := f.harvester(Options{ByURL: true}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.listCalls)
	calls := f.fetcher.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/a", calls[0].URL)
	assert.Equal(t, "https://example.com/a", calls[0].Window.EntityKey)
	assert.Equal(t, testHost, calls[1].HostID)
	assert.Equal(t, "https://example.com/b", calls[1].Window.EntityKey)

	assert.Equal(t, 2, res.Windows)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, f.reporter.started)
	for _, key := range []string{"https://example.com/a", "https://example.com/b"} {
		_, ok := f.checkpoints.Get(key, "2024-01-01")
		assert.True(t, ok, key)
	}
	assert.Equal(t, storage.KeyURL, New(Options{ByURL: true}, Deps{}).Options().KeyColumn)
}

func TestRunCancellationKeepsCollectedRecords(t *testing.T) {
	f := newFixture(t)
	f.dir.hosts = append(f.dir.hosts, webmaster.Host{HostID: "https:shop.example.com:443"})
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(queryItem("a", webmaster.Statistic{Date: "2024-01-01", Field: "CLICKS", Value: v(1)})),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fetcher.before = func(ctx context.Context, q fetcher.Query) error {
		if q.Window.EntityKey == "https://shop.example.com" {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	res, err := f.harvester(Options{}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, res.Records, 1)
	assert.NotEmpty(t, res.RunFile)
	assert.Len(t, f.store.records, 1)
	_, ok := f.checkpoints.Get("https://shop.example.com", "2024-01-01")
	assert.False(t, ok)
	assert.Equal(t, []string{metrics.OutcomeCollected, metrics.OutcomeCancelled}, f.reporter.outcomes)
}

func TestRunSameDisplayKeyIsFetchedOnce(t *testing.T) {
	f := newFixture(t)
	// Both host ids display as https://example.com
	f.dir.hosts = []webmaster.Host{{HostID: testHost}, {HostID: "https:example.com"}}
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(
			queryItem("a", webmaster.Statistic{Date: "2024-01-01", Field: "CLICKS", Value: v(1)}),
			queryItem("b", webmaster.Statistic{Date: "2024-01-02", Field: "CLICKS", Value: v(1)}),
			queryItem("c", webmaster.Statistic{Date: "2024-01-03", Field: "CLICKS", Value: v(1)}),
		),
	}

	_, err := f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls(), 1)
	assert.Equal(t, []string{metrics.OutcomeCollected, metrics.OutcomeCheckpoint}, f.reporter.outcomes)
}

func TestRunQuotaExhaustedWindowIsNotCheckpointed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.pages["https://example.com"] = []fetcher.Page{
		page(queryItem("a", webmaster.Statistic{Date: "2024-01-01", Field: "DEMAND", Value: v(5)})),
		{Offset: 500, Failed: true, RateLimited: true},
	}
	rec, err := metrics.NewRecorder()
	require.NoError(t, err)

	res, err := f.harvester(Options{}, rec).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Collected)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{metrics.OutcomeRateLimited}, f.reporter.outcomes)
	assert.Len(t, f.store.records, 1, "records fetched before the quota ran out are merged")
	assert.NotEmpty(t, res.RunFile)
	assert.True(t, f.log.HasMessageContaining("WARN", "quota"))

	_, ok := f.checkpoints.Get("https://example.com", "2024-01-01")
	assert.False(t, ok)

	expected := `
# HELP wmharvest_windows_total Collection windows processed partitioned by outcome.
# TYPE wmharvest_windows_total counter
wmharvest_windows_total{outcome="rate_limited"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "wmharvest_windows_total"))

	// The next run fetches the window again
	f.fetcher.pages["https://example.com"] = f.fetcher.pages["https://example.com"][:1]
	f.reporter.outcomes = nil
	res, err = f.harvester(Options{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls(), 2)
	assert.Equal(t, []string{metrics.OutcomeCollected}, f.reporter.outcomes)
	_, ok = f.checkpoints.Get("https://example.com", "2024-01-01")
	assert.True(t, ok)
}
