package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRunFinished(t *testing.T) {
	RecordRunStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(runsInFlight))

	RecordRunFinished("zarr", "py37", "failed", true, 2*time.Second)

	assert.Equal(t, float64(0), testutil.ToFloat64(runsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(runsTotal.WithLabelValues("zarr", "py37", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(cleanupFailures.WithLabelValues("zarr", "py37")))
}

func TestRecordStage(t *testing.T) {
	RecordStage("test", "success", 150*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(stageDuration, "pipematrix_stage_duration_seconds"))
}
