package queue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSched struct {
	due      []string
	promoted []string
	removed  []string
}

func (f *fakeSched) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(f.due, nil)
}

func (f *fakeSched) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		f.removed = append(f.removed, m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeSched) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.promoted = append(f.promoted, a.Values.(map[string]any)["payload"].(string))
	return redis.NewStringResult("1-1", nil)
}

func TestScheduler_PromoteDue(t *testing.T) {
	f := &fakeSched{due: []string{`{"type":"screenshot"}`, `{"type":"conversion"}`}}
	s := NewScheduler(f, testQueueConfig())

	n, err := s.promoteDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, f.due, f.promoted, "due payloads land on the stream unchanged")
	assert.Equal(t, f.due, f.removed, "promoted payloads leave the scheduled set")
}

func TestScheduler_PromoteDue_Empty(t *testing.T) {
	f := &fakeSched{}
	s := NewScheduler(f, testQueueConfig())

	n, err := s.promoteDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.promoted)
}
