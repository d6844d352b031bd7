package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motor-quality-service/internal/models"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCacheSummary_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	s := models.DeploymentSummary{
		RunID:        "run-1",
		DeploymentID: 42,
		ProcessedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RawRows:      100,
		CodeCounts:   map[string]int{"0": 98, "3": 2},
	}
	require.NoError(t, c.CacheSummary(ctx, s))

	got, err := c.GetSummary(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, s, *got)
	assert.Equal(t, time.Hour, mr.TTL(SummaryKeyPrefix+"42"))

	_, err = c.GetSummary(ctx, 7)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRecentSummaries_NewestFirstAndTrimmed(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := int64(1); i <= RecentLimit+5; i++ {
		require.NoError(t, c.CacheSummary(ctx, models.DeploymentSummary{DeploymentID: i}))
	}

	recent, err := c.RecentSummaries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(RecentLimit+5), recent[0].DeploymentID)

	all, err := c.RecentSummaries(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, all, RecentLimit)
}

func TestCounters(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	empty, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty)

	_, err = c.IncrementCounter(ctx, CounterProcessed, 1)
	require.NoError(t, err)
	_, err = c.IncrementCounter(ctx, CounterMeasurements, 480)
	require.NoError(t, err)
	_, err = c.IncrementCounter(ctx, CounterNonOK, 12)
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatsResponse{DeploymentsProcessed: 1, MeasurementsTotal: 480, NonOKTotal: 12}, stats)
	assert.NoError(t, c.Ping(ctx))
}
