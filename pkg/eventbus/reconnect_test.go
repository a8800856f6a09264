package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackoffCapsAt30Seconds(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		d := reconnectBackoff(attempt)
		assert.LessOrEqual(t, d, 30*time.Second+6*time.Second, "attempt %d exceeded cap plus jitter headroom", attempt)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestReconnectBackoffGrowsWithAttempt(t *testing.T) {
	// attempt 1 jitters within 1.6s-2.4s and attempt 6 (capped at 30s)
	// within 24s-36s, so the two ranges never overlap
	small := reconnectBackoff(1)
	large := reconnectBackoff(6)
	assert.Less(t, small, large)
}

func TestNextSalvageIntervalResetsWhenFound(t *testing.T) {
	assert.Equal(t, salvageMinInterval, nextSalvageInterval(20*time.Second, 3))
}

func TestNextSalvageIntervalBacksOffWhenEmpty(t *testing.T) {
	got := nextSalvageInterval(salvageMinInterval, 0)
	assert.Equal(t, 2*salvageMinInterval, got)
}

func TestNextSalvageIntervalCapsAtMax(t *testing.T) {
	got := nextSalvageInterval(salvageMaxInterval, 0)
	assert.Equal(t, salvageMaxInterval, got)
}

func TestHeaderRetryCountDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, headerRetryCount(nil))
}

func TestHeaderRetryCountReadsInt32(t *testing.T) {
	assert.Equal(t, 2, headerRetryCount(map[string]interface{}{"x-retry-count": int32(2)}))
}
