package session

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/chronosdb/chronosdb/batcher"
)

// LatencyRejectionScore is a batcher.RejectionScoreSource driven by recently
// observed flush latencies rather than a fixed policy: callers record every
// flush's wall-clock duration, and RejectionScore reports how far the tail
// of that distribution has drifted, scaled up with the retry attempt number.
// A session under WithRejectionScoreSource(this) sheds load proportionally
// to how slow its own recent RPCs have actually been.
type LatencyRejectionScore struct {
	mu      sync.Mutex
	samples []float64
	max     int
}

// NewLatencyRejectionScore returns a score source that remembers at most
// maxSamples of the most recent flush latencies.
func NewLatencyRejectionScore(maxSamples int) *LatencyRejectionScore {
	if maxSamples <= 0 {
		maxSamples = 64
	}
	return &LatencyRejectionScore{max: maxSamples}
}

// Observe records one flush's latency.
func (l *LatencyRejectionScore) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, float64(d))
	if len(l.samples) > l.max {
		l.samples = l.samples[len(l.samples)-l.max:]
	}
}

// RejectionScore returns the 95th-percentile observed latency normalized
// against one second, clamped to [0, 1] and scaled up with attemptNum so
// later retries shed load more aggressively than the first attempt.
func (l *LatencyRejectionScore) RejectionScore(attemptNum int) float64 {
	l.mu.Lock()
	samples := append([]float64(nil), l.samples...)
	l.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	p95, err := stats.Percentile(samples, 95)
	if err != nil {
		return 0
	}

	score := p95 / float64(time.Second)
	if attemptNum > 1 {
		score *= float64(attemptNum)
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

var _ batcher.RejectionScoreSource = (*LatencyRejectionScore)(nil)

// latencyObserver is implemented by any RejectionScoreSource that wants to
// be fed flush durations; Session.FlushAsync checks for it so wiring one in
// via WithRejectionScoreSource is enough, with no separate observation API.
type latencyObserver interface {
	Observe(time.Duration)
}
