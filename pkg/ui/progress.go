package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"wmharvest/pkg/metrics"
	"wmharvest/pkg/model"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker prints per-window progress of a run and keeps the totals for the summary
type StatusTracker struct {
	mu sync.Mutex

	Total          int
	Started        int
	Skipped        int
	Collected      int
	Failed         int
	Records        int
	RateLimitWaits int
	Waited         time.Duration
	StartTime      time.Time

	now             func() time.Time
	notifier        *Notifier
	notifyRateLimit bool
}

// NewStatusTracker creates a tracker. now defaults to time.Now; notifier may be nil.
func NewStatusTracker(now func() time.Time, notifier *Notifier, notifyRateLimit bool) *StatusTracker {
	if now == nil {
		now = time.Now
	}
	return &StatusTracker{
		StartTime:       now(),
		now:             now,
		notifier:        notifier,
		notifyRateLimit: notifyRateLimit,
	}
}

// WindowStarted prints the batch position of a window
func (st *StatusTracker) WindowStarted(index, total int, w model.Window) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.Total = total
	st.Started = index
	if quiet {
		return
	}
	fmt.Fprintf(Output, "%s %s %s\n",
		Magenta(st.batchProgress()),
		Bold(w.EntityKey),
		Dim(fmt.Sprintf("%s..%s %s", w.DateFrom, w.DateTo, w.Regions.Column())))
}

// WindowFinished records the outcome of a window
func (st *StatusTracker) WindowFinished(w model.Window, outcome string, records int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var line string
	switch outcome {
	case metrics.OutcomeCheckpoint:
		st.Skipped++
		line = Dim("  skipped, checkpoint exists")
	case metrics.OutcomeCoverage:
		st.Skipped++
		line = Dim("  skipped, window already in dataset")
	case metrics.OutcomeCollected:
		st.Collected++
		st.Records += records
		line = Green(fmt.Sprintf("  collected %s records", humanize.Comma(int64(records))))
	case metrics.OutcomeMergeFailed:
		st.Failed++
		st.Records += records
		line = Red("  merge failed, window will be fetched again next run")
	case metrics.OutcomeRateLimited:
		st.Failed++
		st.Records += records
		line = Yellow("  quota exhausted, window will be fetched again next run")
	case metrics.OutcomeCancelled:
		st.Records += records
		line = Yellow("  cancelled")
	default:
		line = outcome
	}

	if quiet && outcome != metrics.OutcomeMergeFailed && outcome != metrics.OutcomeRateLimited {
		return
	}
	fmt.Fprintln(Output, line)
}

// RateLimited records a quota wait and announces it
func (st *StatusTracker) RateLimited(wait time.Duration) {
	st.mu.Lock()
	st.RateLimitWaits++
	st.Waited += wait
	resumeAt := st.now().Add(wait)
	st.mu.Unlock()

	if st.notifyRateLimit && st.notifier != nil {
		st.notifier.RateLimited(wait, resumeAt)
		return
	}
	PrintWarning(fmt.Sprintf("API quota exhausted, waiting %s until %s",
		wait.Round(time.Second), resumeAt.Format("15:04:05")))
}

// GetBatchProgress returns a progress bar over the planned windows
func (st *StatusTracker) GetBatchProgress() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.batchProgress()
}

func (st *StatusTracker) batchProgress() string {
	const width = 20
	filled := 0
	if st.Total > 0 {
		filled = st.Started * width / st.Total
	}
	if filled > width {
		filled = width
	}

	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, st.Started, st.Total)
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return st.now().Sub(st.StartTime)
}

// PrintSummary prints the totals of the run
func (st *StatusTracker) PrintSummary() {
	st.mu.Lock()
	defer st.mu.Unlock()

	fmt.Fprintf(Output, "\n%s\n", Bold("Run summary"))
	fmt.Fprintf(Output, "  %s %d planned, %d collected, %d skipped, %d failed\n",
		Dim("windows:"), st.Total, st.Collected, st.Skipped, st.Failed)
	fmt.Fprintf(Output, "  %s %s\n", Dim("records:"), humanize.Comma(int64(st.Records)))
	if st.RateLimitWaits > 0 {
		fmt.Fprintf(Output, "  %s %d (%s)\n", Dim("quota waits:"), st.RateLimitWaits, st.Waited.Round(time.Second))
	}
	fmt.Fprintf(Output, "  %s %s (started %s)\n", Dim("elapsed:"),
		st.GetElapsedTime().Round(time.Second), humanize.RelTime(st.StartTime, st.now(), "ago", "from now"))
}
