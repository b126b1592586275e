package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_ExponentialWithCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	t.Run("grows with attempts", func(t *testing.T) {
		d1 := backoff(1, p)
		d3 := backoff(3, p)
		assert.Less(t, d1, 4*time.Second, "first attempt should stay near base delay")
		assert.GreaterOrEqual(t, d3, time.Duration(float64(d1)*1.5), "later attempt should be meaningfully larger")
	})

	t.Run("capped at max delay", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			d := backoff(10, p)
			assert.LessOrEqual(t, d, time.Duration(float64(p.MaxDelay)*1.2))
		}
	})

	t.Run("clamps non-positive attempts to one", func(t *testing.T) {
		d0 := backoff(0, p)
		assert.Greater(t, d0, time.Duration(0))
	})

	t.Run("jitter stays within +/-20 percent", func(t *testing.T) {
		base := float64(p.BaseDelay)
		for i := 0; i < 50; i++ {
			d := backoff(1, p)
			assert.GreaterOrEqual(t, float64(d), base*0.79)
			assert.LessOrEqual(t, float64(d), base*1.21)
		}
	})
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
	assert.Equal(t, 30*time.Minute, p.HardTimeout)
}
