package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelaySequence(t *testing.T) {
	r := DefaultRetryConfig
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, r.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, r.Delay(0))
}

func TestRetryJitterRange(t *testing.T) {
	r := DefaultRetryConfig
	assert.Equal(t, 2*time.Second, r.Jittered(3, 0))
	assert.Equal(t, 3*time.Second, r.Jittered(3, 0.5))
	assert.Less(t, r.Jittered(3, 0.999), 4*time.Second)
}

func TestRetryExhausted(t *testing.T) {
	assert.False(t, DefaultRetryConfig.Exhausted(1_000))

	r := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	assert.False(t, r.Exhausted(3))
	assert.True(t, r.Exhausted(4))
}

func TestSleepCtxInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, sleepCtx(ctx, time.Hour))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))
}
