package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Other clients have their own buckets.
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(50, 1) // one token every 20ms

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("1.2.3.4"))
}
