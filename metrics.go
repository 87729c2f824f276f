package dispatcher

import "time"

// Metrics holds a snapshot of the dispatcher's step-latency telemetry,
// populated only when WithDebugTelemetry(true) is set (see options.go).
// Adapted from the teacher's per-task/per-queue LatencyMetrics/
// QueueMetrics breakdown (metrics.go) into a single per-continuation-step
// view, since the dispatcher has one step concept rather than the
// teacher's timer/microtask/task split.
type Metrics struct {
	// StepCount is the total number of continuation resumptions timed since
	// the Dispatcher was created. One resumption is one Trampoline run,
	// started from a ready event or the yields queue, and may span several
	// Continuation.Step calls.
	StepCount int
	// StepP50, StepP99 are streaming quantile estimates (P², Jain &
	// Chlamtac 1985) of the wall-clock duration of one resumption.
	StepP50 time.Duration
	StepP99 time.Duration
	// StepMax is the maximum observed resumption duration.
	StepMax time.Duration
}

// stepMetrics is the live, mutating telemetry state embedded in Dispatcher.
// Not safe for concurrent use — only touched from the trampoline-driving
// goroutine, same as every other Dispatcher field. Unlike the teacher's
// metrics.go, which delegates to a separate general-purpose multi-quantile
// type, the two quantiles Dispatcher.Metrics exposes are tracked directly
// as a pair of stepQuantile estimators — there is no third percentile or
// caller-supplied set to generalize over here.
type stepMetrics struct {
	enabled bool
	count   int
	max     time.Duration
	p50     *stepQuantile
	p99     *stepQuantile
}

func newStepMetrics(enabled bool) *stepMetrics {
	m := &stepMetrics{enabled: enabled}
	if enabled {
		m.p50 = newStepQuantile(0.50)
		m.p99 = newStepQuantile(0.99)
	}
	return m
}

// record adds one step-duration observation.
func (m *stepMetrics) record(d time.Duration) {
	if !m.enabled {
		return
	}
	m.count++
	if d > m.max {
		m.max = d
	}
	m.p50.update(float64(d))
	m.p99.update(float64(d))
}

// snapshot returns the current Metrics view.
func (m *stepMetrics) snapshot() Metrics {
	if !m.enabled || m.count == 0 {
		return Metrics{}
	}
	return Metrics{
		StepCount: m.count,
		StepP50:   time.Duration(m.p50.quantile()),
		StepP99:   time.Duration(m.p99.quantile()),
		StepMax:   m.max,
	}
}

// stepQuantile implements the P² algorithm for streaming quantile
// estimation (Jain, R. and Chlamtac, I., 1985, "The P² Algorithm for
// Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations", Communications of the ACM, 28(10), pp. 1076-1085),
// tracking one target quantile in O(1) space and O(1) per-update time —
// essential here since step-latency telemetry is meant to run continuously
// under WithDebugTelemetry without the per-step history a sorting-based
// estimate would need.
//
// Not safe for concurrent use: owned exclusively by the stepMetrics that
// embeds it, which is in turn only touched from the dispatcher's own
// goroutine.
type stepQuantile struct {
	target float64

	// heights holds the five marker values; positions their observed
	// ranks; desired their idealized (fractional) target ranks; increments
	// the per-observation increment applied to desired.
	heights    [5]float64
	positions  [5]int
	desired    [5]float64
	increments [5]float64

	seeded  bool
	seen    int
	seedBuf [5]float64
}

// newStepQuantile creates an estimator for the given target quantile
// (clamped to [0, 1]; e.g. 0.5 for the median, 0.99 for P99).
func newStepQuantile(target float64) *stepQuantile {
	if target < 0 {
		target = 0
	}
	if target > 1 {
		target = 1
	}
	return &stepQuantile{
		target:     target,
		increments: [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// update folds one new observation into the estimator.
func (q *stepQuantile) update(x float64) {
	q.seen++

	if q.seen <= 5 {
		q.seedBuf[q.seen-1] = x
		if q.seen == 5 {
			q.seedMarkers()
		}
		return
	}

	var k int
	switch {
	case x < q.heights[0]:
		q.heights[0] = x
		k = 0
	case x >= q.heights[4]:
		q.heights[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if q.heights[k] <= x && x < q.heights[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		q.positions[i]++
	}
	for i := 0; i < 5; i++ {
		q.desired[i] += q.increments[i]
	}

	for i := 1; i < 4; i++ {
		d := q.desired[i] - float64(q.positions[i])
		if (d >= 1 && q.positions[i+1]-q.positions[i] > 1) || (d <= -1 && q.positions[i-1]-q.positions[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			adjusted := q.parabolicEstimate(i, sign)
			if q.heights[i-1] < adjusted && adjusted < q.heights[i+1] {
				q.heights[i] = adjusted
			} else {
				q.heights[i] = q.linearEstimate(i, sign)
			}
			q.positions[i] += sign
		}
	}
}

// seedMarkers bootstraps the five markers from the first five observations.
func (q *stepQuantile) seedMarkers() {
	// Insertion sort: fine for a fixed 5-element buffer.
	for i := 1; i < 5; i++ {
		key := q.seedBuf[i]
		j := i - 1
		for j >= 0 && q.seedBuf[j] > key {
			q.seedBuf[j+1] = q.seedBuf[j]
			j--
		}
		q.seedBuf[j+1] = key
	}
	for i := 0; i < 5; i++ {
		q.heights[i] = q.seedBuf[i]
		q.positions[i] = i
	}
	q.desired = [5]float64{0, 2 * q.target, 4 * q.target, 2 + 2*q.target, 4}
	q.seeded = true
}

// parabolicEstimate computes the P² parabolic adjustment for marker i.
func (q *stepQuantile) parabolicEstimate(i, sign int) float64 {
	d := float64(sign)
	pi := float64(q.positions[i])
	pPrev := float64(q.positions[i-1])
	pNext := float64(q.positions[i+1])

	span := d / (pNext - pPrev)
	upper := (pi - pPrev + d) * (q.heights[i+1] - q.heights[i]) / (pNext - pi)
	lower := (pNext - pi - d) * (q.heights[i] - q.heights[i-1]) / (pi - pPrev)
	return q.heights[i] + span*(upper+lower)
}

// linearEstimate computes the P² linear fallback for marker i, used when
// the parabolic estimate would step outside the neighboring markers.
func (q *stepQuantile) linearEstimate(i, sign int) float64 {
	if sign == 1 {
		return q.heights[i] + (q.heights[i+1]-q.heights[i])/float64(q.positions[i+1]-q.positions[i])
	}
	return q.heights[i] - (q.heights[i]-q.heights[i-1])/float64(q.positions[i]-q.positions[i-1])
}

// quantile returns the current estimate. Before five observations have
// arrived, it falls back to sorting the seed buffer directly.
func (q *stepQuantile) quantile() float64 {
	if q.seen == 0 {
		return 0
	}
	if q.seen < 5 {
		sorted := make([]float64, q.seen)
		copy(sorted, q.seedBuf[:q.seen])
		for i := 1; i < q.seen; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(q.seen-1) * q.target)
		if idx >= q.seen {
			idx = q.seen - 1
		}
		return sorted[idx]
	}
	return q.heights[2]
}
