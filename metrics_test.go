package dispatcher

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepMetrics_DisabledSnapshotIsZero(t *testing.T) {
	m := newStepMetrics(false)
	m.record(5 * time.Millisecond)
	assert.Equal(t, Metrics{}, m.snapshot())
}

func TestStepMetrics_EnabledTracksCountAndMax(t *testing.T) {
	m := newStepMetrics(true)
	durations := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		4 * time.Millisecond,
		10 * time.Millisecond,
	}
	for _, d := range durations {
		m.record(d)
	}

	snap := m.snapshot()
	assert.Equal(t, 5, snap.StepCount)
	assert.Equal(t, 10*time.Millisecond, snap.StepMax)
}

func TestStepMetrics_EmptySnapshotWhenNoObservations(t *testing.T) {
	m := newStepMetrics(true)
	assert.Equal(t, Metrics{}, m.snapshot())
}

func TestStepQuantile_MedianConvergesOnUniformData(t *testing.T) {
	q := newStepQuantile(0.5)
	for i := 1; i <= 2001; i++ {
		q.update(float64(i))
	}
	// True median of 1..2001 is 1001.
	assert.InDelta(t, 1001, q.quantile(), 40)
}

func TestStepQuantile_FewerThanFiveObservationsFallsBackToSorting(t *testing.T) {
	q := newStepQuantile(0.5)
	q.update(30)
	q.update(10)
	q.update(20)
	// 3 observations sorted: [10, 20, 30]; idx = int(2*0.5) = 1 -> 20.
	require.Equal(t, 20.0, q.quantile())
}

func TestStepQuantile_NoObservationsReturnsZero(t *testing.T) {
	q := newStepQuantile(0.99)
	assert.Equal(t, 0.0, q.quantile())
}

func TestStepQuantile_ClampsTargetToUnitRange(t *testing.T) {
	low := newStepQuantile(-1)
	high := newStepQuantile(2)
	assert.Equal(t, 0.0, low.target)
	assert.Equal(t, 1.0, high.target)
}

func TestStepMetrics_P50AndP99TrackDistinctEstimates(t *testing.T) {
	m := newStepMetrics(true)
	for i := 1; i <= 500; i++ {
		m.record(time.Duration(i) * time.Microsecond)
	}
	snap := m.snapshot()
	require.Equal(t, 500, snap.StepCount)
	assert.Less(t, snap.StepP50, snap.StepP99)
	assert.Equal(t, 500*time.Microsecond, snap.StepMax)
}

func TestStepQuantile_SeedMarkersSortsFirstFiveObservations(t *testing.T) {
	q := newStepQuantile(0.5)
	for _, v := range []float64{5, 3, 1, 4, 2} {
		q.update(v)
	}
	require.True(t, q.seeded)
	assert.Equal(t, [5]float64{1, 2, 3, 4, 5}, q.heights)
	// Median after seeding five sorted values is the middle marker.
	assert.Equal(t, 3.0, q.quantile())
}

func TestStepQuantile_HandlesNonMonotonicBursts(t *testing.T) {
	q := newStepQuantile(0.5)
	vals := []float64{9, 1, 8, 2, 7, 3, 6, 4, 5, 0, 10, 4, 4, 4, 4}
	for _, v := range vals {
		q.update(v)
	}
	est := q.quantile()
	require.False(t, math.IsNaN(est))
	assert.GreaterOrEqual(t, est, 0.0)
	assert.LessOrEqual(t, est, 10.0)
}
