package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyRejectionScoreZeroWithNoSamples(t *testing.T) {
	s := NewLatencyRejectionScore(8)
	assert.Equal(t, float64(0), s.RejectionScore(1))
}

func TestLatencyRejectionScoreRisesWithLatencyAndAttempt(t *testing.T) {
	s := NewLatencyRejectionScore(8)
	for i := 0; i < 5; i++ {
		s.Observe(600 * time.Millisecond)
	}

	first := s.RejectionScore(1)
	assert.Greater(t, first, float64(0))

	retry := s.RejectionScore(3)
	assert.Greater(t, retry, first)
	assert.LessOrEqual(t, retry, float64(1))
}

func TestLatencyRejectionScoreBoundsSampleWindow(t *testing.T) {
	s := NewLatencyRejectionScore(2)
	s.Observe(10 * time.Millisecond)
	s.Observe(10 * time.Millisecond)
	s.Observe(900 * time.Millisecond)

	assert.Len(t, s.samples, 2)
}
