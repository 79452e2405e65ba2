package harvester

import (
	"context"
	"iter"

	"wmharvest/pkg/aggregate"
	"wmharvest/pkg/checkpoint"
	"wmharvest/pkg/clock"
	"wmharvest/pkg/coverage"
	errs "wmharvest/pkg/errors"
	"wmharvest/pkg/fetcher"
	"wmharvest/pkg/logger"
	"wmharvest/pkg/metrics"
	"wmharvest/pkg/model"
	"wmharvest/pkg/storage"
	"wmharvest/pkg/webmaster"
)

// State is a step of the per-window state machine
type State int

const (
	StateCheckCheckpoint State = iota
	StateCheckCoverage
	StateFetching
	StateAggregating
	StateMerging
	StateCheckpointing
	StateDone
	StateSkipped
)

var stateNames = [...]string{
	"CHECK_CHECKPOINT",
	"CHECK_COVERAGE",
	"FETCHING",
	"AGGREGATING",
	"MERGING",
	"CHECKPOINTING",
	"DONE",
	"SKIPPED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Directory resolves the token owner and the hosts registered to them
type Directory interface {
	UserID(ctx context.Context) (string, error)
	Hosts(ctx context.Context, userID string) ([]webmaster.Host, error)
}

// PageFetcher pages through query analytics
type PageFetcher interface {
	Pages(ctx context.Context, q fetcher.Query) iter.Seq2[fetcher.Page, error]
	ListURLs(ctx context.Context, q fetcher.Query) ([]string, error)
}

// Checkpoints records fully processed windows
type Checkpoints interface {
	Get(entityKey, dateFrom string) (checkpoint.Entry, bool)
	Put(entityKey, dateFrom string, entry checkpoint.Entry) error
}

// Reporter receives per-window progress. Outcomes are the metrics.Outcome* values.
type Reporter interface {
	WindowStarted(index, total int, w model.Window)
	WindowFinished(w model.Window, outcome string, records int)
}

type nopReporter struct{}

func (nopReporter) WindowStarted(int, int, model.Window)      {}
func (nopReporter) WindowFinished(model.Window, string, int) {}

// Deps are the collaborators of a Harvester. Clock, Metrics, Reporter and Logger are optional.
type Deps struct {
	Directory   Directory
	Fetcher     PageFetcher
	Checkpoints Checkpoints
	Store       storage.MergeStore
	Clock       clock.Clock
	Metrics     *metrics.Recorder
	Reporter    Reporter
	Logger      logger.Logger
}

// Result summarizes a run
type Result struct {
	Windows   int
	Skipped   int
	Collected int
	Failed    int
	// Records fetched during this run
	Records []model.StatRecord
	// RunFile is empty when nothing was saved
	RunFile string
}

// Harvester runs the incremental collection
type Harvester struct {
	opts        Options
	dir         Directory
	fetcher     PageFetcher
	checkpoints Checkpoints
	store       storage.MergeStore
	clock       clock.Clock
	metrics     *metrics.Recorder
	reporter    Reporter
	logger      logger.Logger
}

// New creates a Harvester
func New(opts Options, deps Deps) *Harvester {
	h := &Harvester{
		opts:        opts.withDefaults(),
		dir:         deps.Directory,
		fetcher:     deps.Fetcher,
		checkpoints: deps.Checkpoints,
		store:       deps.Store,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		reporter:    deps.Reporter,
		logger:      deps.Logger,
	}
	if h.clock == nil {
		h.clock = clock.System{}
	}
	if h.reporter == nil {
		h.reporter = nopReporter{}
	}
	if h.logger == nil {
		h.logger = logger.GetLogger()
	}
	return h
}

// Options returns the effective run options
func (h *Harvester) Options() Options {
	return h.opts
}

// Run collects every planned window. Only an unresolvable user and context
// cancellation are returned as errors; records collected before a cancellation
// are still merged and written to the run file.
func (h *Harvester) Run(ctx context.Context) (*Result, error) {
	start := h.clock.Now()
	res := &Result{}

	userID, err := h.dir.UserID(ctx)
	if err != nil {
		h.metrics.RunFinished(start, h.clock.Now(), false)
		if fetcher.IsCancelled(err) {
			return res, err
		}
		h.logger.WithError(err).Error("Could not resolve the Webmaster user")
		if !errs.IsFatal(err) {
			err = errs.Wrap(errs.ErrorTypeAuth, err, "resolve webmaster user")
		}
		return res, err
	}
	h.logger.InfoWithFields("Resolved Webmaster user", map[string]interface{}{"user_id": userID})

	hosts, err := h.dir.Hosts(ctx, userID)
	if err != nil {
		if fetcher.IsCancelled(err) {
			h.metrics.RunFinished(start, h.clock.Now(), false)
			return res, err
		}
		h.logger.WithError(err).Warn("Could not list hosts, treating the account as having none")
		hosts = nil
	}

	targets := h.selectTargets(hosts)
	if len(targets) == 0 {
		h.logger.Warn("No hosts to collect")
		h.metrics.RunFinished(start, h.clock.Now(), true)
		return res, nil
	}

	jobs, err := h.plan(ctx, userID, targets)
	if err != nil {
		h.metrics.RunFinished(start, h.clock.Now(), false)
		return res, err
	}
	res.Windows = len(jobs)

	h.logger.InfoWithFields("Collection planned", map[string]interface{}{
		"hosts":   len(targets),
		"windows": len(jobs),
		"by_url":  h.opts.ByURL,
	})

	snap := h.loadSnapshot(ctx)

	var runErr error
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		h.reporter.WindowStarted(i+1, len(jobs), j.window)
		outcome, records, err := h.processWindow(ctx, userID, j, snap)
		h.metrics.WindowDone(outcome)
		h.reporter.WindowFinished(j.window, outcome, len(records))
		res.Records = append(res.Records, records...)

		switch outcome {
		case metrics.OutcomeCheckpoint, metrics.OutcomeCoverage:
			res.Skipped++
		case metrics.OutcomeCollected:
			res.Collected++
		case metrics.OutcomeMergeFailed, metrics.OutcomeRateLimited:
			res.Failed++
		}

		if err != nil {
			runErr = err
			break
		}
	}

	if runErr != nil {
		h.logger.WarnWithFields("Run interrupted, saving what was collected", map[string]interface{}{
			"records": len(res.Records),
		})
	}
	h.writeRunFile(res)

	h.metrics.RunFinished(start, h.clock.Now(), runErr == nil)
	h.logger.InfoWithFields("Run finished", map[string]interface{}{
		"windows":   res.Windows,
		"skipped":   res.Skipped,
		"collected": res.Collected,
		"failed":    res.Failed,
		"records":   len(res.Records),
	})
	return res, runErr
}

// processWindow walks one window through the state machine and returns its outcome,
// the records it fetched, and a context error if the run was interrupted.
func (h *Harvester) processWindow(ctx context.Context, userID string, j job, snap snapshot) (string, []model.StatRecord, error) {
	w := j.window
	log := h.logger.WithFields(map[string]interface{}{
		"entity_key": w.EntityKey,
		"date_from":  w.DateFrom,
		"date_to":    w.DateTo,
		"regions":    w.Regions.Column(),
	})
	enter := func(s State) {
		log.DebugWithFields("Window state", map[string]interface{}{"state": s.String()})
	}

	if !h.opts.ForceRefetch {
		enter(StateCheckCheckpoint)
		if entry, ok := h.checkpoints.Get(w.EntityKey, w.DateFrom); ok && entry.Satisfies(w.DateTo, w.Regions) {
			enter(StateSkipped)
			log.Info("Checkpoint found, skipping window")
			return metrics.OutcomeCheckpoint, nil, nil
		}

		enter(StateCheckCoverage)
		if coverage.IsWindowComplete(snap[w.EntityKey], w) {
			log.Info("Window already present in the dataset, skipping")
			h.markDone(log, w)
			enter(StateSkipped)
			return metrics.OutcomeCoverage, nil, nil
		}
	}

	enter(StateFetching)
	q := fetcher.Query{
		UserID:    userID,
		HostID:    j.hostID,
		Window:    w,
		Indicator: webmaster.IndicatorQuery,
		URL:       j.url,
		PageSize:  h.opts.PageSize,
	}
	var items []webmaster.IndicatorStatistics
	var fetchErr error
	pages := 0
	quotaExhausted := false
	for page, err := range h.fetcher.Pages(ctx, q) {
		if err != nil {
			fetchErr = err
			break
		}
		pages++
		quotaExhausted = quotaExhausted || page.RateLimited
		items = append(items, page.Items...)
	}

	enter(StateAggregating)
	records := aggregate.Aggregate(items, w.EntityKey, w.Regions, h.opts.FilterZeroDemand)
	h.metrics.Records(metrics.StageAggregated, len(records))
	log.InfoWithFields("Window fetched", map[string]interface{}{
		"pages":   pages,
		"items":   len(items),
		"records": len(records),
	})

	if len(records) > 0 {
		enter(StateMerging)
		// Collected records are persisted even when the run is being cancelled.
		if err := h.store.Merge(context.WithoutCancel(ctx), records); err != nil {
			log.WithError(err).Error("Failed to merge window into the dataset")
			return metrics.OutcomeMergeFailed, records, fetchErr
		}
		h.metrics.Records(metrics.StageMerged, len(records))
		snap.add(w.EntityKey, records)
	}

	if fetchErr != nil {
		log.Warn("Window interrupted before the last page")
		return metrics.OutcomeCancelled, records, fetchErr
	}
	if quotaExhausted {
		log.Warn("API quota still exhausted, window left without checkpoint")
		return metrics.OutcomeRateLimited, records, nil
	}

	enter(StateCheckpointing)
	h.markDone(log, w)
	enter(StateDone)
	return metrics.OutcomeCollected, records, nil
}

// markDone writes the checkpoint entry of w. A failed write only costs a refetch next run.
func (h *Harvester) markDone(log logger.Logger, w model.Window) {
	entry := checkpoint.Entry{DateTo: w.DateTo, RegionIDs: w.Regions}
	if err := h.checkpoints.Put(w.EntityKey, w.DateFrom, entry); err != nil {
		log.WithError(err).Error("Failed to write checkpoint")
	}
}

// writeRunFile saves the records of this run, or reports that there is nothing to save
func (h *Harvester) writeRunFile(res *Result) {
	if len(res.Records) == 0 {
		h.logger.Info("Nothing to save")
		return
	}

	records := model.Dedupe(res.Records)
	path, err := storage.WriteRunFile(h.opts.OutputDir, h.opts.RunFilePattern, h.clock.Now(), h.opts.KeyColumn, records)
	if err != nil {
		h.logger.WithError(err).Error("Failed to write run file")
		return
	}
	res.RunFile = path
	h.logger.InfoWithFields("Run file written", map[string]interface{}{
		"path":    path,
		"records": len(records),
	})
}

// snapshot indexes the dataset by entity key for coverage checks
type snapshot map[string][]model.StatRecord

func (s snapshot) add(entityKey string, records []model.StatRecord) {
	s[entityKey] = append(s[entityKey], records...)
}

// loadSnapshot reads the dataset once per run. Records merged later in the run are
// added to it as they are written.
func (h *Harvester) loadSnapshot(ctx context.Context) snapshot {
	snap := make(snapshot)
	if h.opts.ForceRefetch {
		return snap
	}
	records := h.store.LoadAll(ctx)
	for _, r := range records {
		snap.add(r.EntityKey, []model.StatRecord{r})
	}
	h.logger.DebugWithFields("Dataset loaded for coverage checks", map[string]interface{}{
		"records": len(records),
		"keys":    len(snap),
	})
	return snap
}
