package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloodWaitSeconds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		seconds int
		ok      bool
	}{
		{"plain flood wait", errors.New("FLOOD_WAIT_15"), 15, true},
		{"embedded in message", errors.New("send rejected with status 420: FLOOD_WAIT_120"), 120, true},
		{"lowercase", errors.New("flood_wait_7"), 7, true},
		{"unrelated error", errors.New("connection reset"), 0, false},
		{"nil error", nil, 0, false},
		{"zero seconds", errors.New("FLOOD_WAIT_0"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seconds, ok := FloodWaitSeconds(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.seconds, seconds)
		})
	}
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked(errors.New("USER_IS_BLOCKED")))
	assert.True(t, IsBlocked(errors.New("rpc error: INPUT_USER_DEACTIVATED")))
	assert.True(t, IsBlocked(errors.New("peer_id_invalid")))
	assert.False(t, IsBlocked(errors.New("FLOOD_WAIT_30")))
	assert.False(t, IsBlocked(nil))
}

func TestRandomizeDelayClamps(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomizeDelay(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	}

	for i := 0; i < 100; i++ {
		d := RandomizeDelay(10 * time.Minute)
		assert.LessOrEqual(t, d, 60*time.Second)
	}

	assert.Equal(t, 500*time.Millisecond, RandomizeDelay(0))
}

func TestRandomizeDelayJitterWindow(t *testing.T) {
	base := 5 * time.Second
	for i := 0; i < 100; i++ {
		d := RandomizeDelay(base)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestAdaptiveDelay(t *testing.T) {
	healthy := AdaptiveDelay(0, 365)
	degraded := AdaptiveDelay(0.5, 365)
	assert.Greater(t, degraded, healthy, "failures widen the delay")

	mature := AdaptiveDelay(0, 365)
	young := AdaptiveDelay(0, 5)
	assert.Greater(t, young, mature, "young accounts send slower")

	assert.LessOrEqual(t, AdaptiveDelay(1, 0), 60*time.Second)
}
