package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_NoProbesIsHealthy(t *testing.T) {
	c := NewChecker(Config{})
	c.CheckAll(context.Background())

	assert.Equal(t, Healthy, c.OverallHealth())
	assert.Empty(t, c.GetAllStatus())
}

func TestChecker_TracksEachDependency(t *testing.T) {
	var redisDown atomic.Bool
	c := NewChecker(Config{})
	c.Register("database", func(context.Context) error { return nil })
	c.Register("redis", func(context.Context) error {
		if redisDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	c.CheckAll(context.Background())
	assert.Equal(t, Healthy, c.OverallHealth())

	redisDown.Store(true)
	c.CheckAll(context.Background())
	assert.Equal(t, Degraded, c.OverallHealth())

	statuses := c.GetAllStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Target)
	assert.True(t, statuses[0].IsHealthy)
	assert.Equal(t, "redis", statuses[1].Target)
	assert.False(t, statuses[1].IsHealthy)
	assert.Equal(t, 1, statuses[1].FailureCount)

	redisDown.Store(false)
	c.CheckAll(context.Background())
	assert.Equal(t, Healthy, c.OverallHealth())
}

func TestChecker_MaxFailures(t *testing.T) {
	c := NewChecker(Config{MaxFailures: 3})
	c.Register("redis", func(context.Context) error { return errors.New("down") })

	c.CheckAll(context.Background())
	c.CheckAll(context.Background())
	assert.Equal(t, Healthy, c.OverallHealth())

	c.CheckAll(context.Background())
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_ProbeTimeout(t *testing.T) {
	c := NewChecker(Config{Timeout: 10 * time.Millisecond})
	c.Register("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	c.CheckAll(context.Background())
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_StartAndStop(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(Config{Interval: 5 * time.Millisecond})
	c.Register("redis", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	c.Start()
	c.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}
