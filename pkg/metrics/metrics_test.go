package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	r.WindowDone(OutcomeCollected)
	r.WindowDone(OutcomeCollected)
	r.WindowDone(OutcomeCheckpoint)
	r.PageFetched("QUERY", false)
	r.PageFetched("QUERY", true)
	r.Records(StageAggregated, 12)
	r.Records(StageMerged, 0)
	r.RateLimited(20 * time.Minute)

	require.Equal(t, 2.0, testutil.ToFloat64(r.windows.WithLabelValues(OutcomeCollected)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.windows.WithLabelValues(OutcomeCheckpoint)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.pages.WithLabelValues("QUERY", "failed")))
	require.Equal(t, 12.0, testutil.ToFloat64(r.records.WithLabelValues(StageAggregated)))
	require.Equal(t, 0.0, testutil.ToFloat64(r.records.WithLabelValues(StageMerged)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.rateLimitWaits))
	require.Equal(t, 1, testutil.CollectAndCount(r.rateLimitWait))
}

func TestRunFinished(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	r.RunFinished(start, start.Add(90*time.Second), true)

	require.Equal(t, 90.0, testutil.ToFloat64(r.runDuration))
	require.Equal(t, float64(start.Unix()+90), testutil.ToFloat64(r.lastRun.WithLabelValues("success")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.WindowDone(OutcomeCollected)
	r.PageFetched("URL", false)
	r.Records(StageMerged, 3)
	r.RateLimited(time.Minute)
	r.RunFinished(time.Now(), time.Now(), false)
	require.Nil(t, r.Registry())
	require.NoError(t, r.WriteTextfile("ignored.prom"))
}

func TestWriteTextfile(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)
	r.WindowDone(OutcomeCoverage)

	path := filepath.Join(t.TempDir(), "textfile", "wmharvest.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `wmharvest_windows_total{outcome="skipped_coverage"} 1`))
}
