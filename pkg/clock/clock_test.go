package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := System{}.Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSystemSleepZero(t *testing.T) {
	require.NoError(t, System{}.Sleep(context.Background(), 0))
}

func TestFake(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), 2*time.Second))
	f.Advance(time.Minute)

	assert.Equal(t, start.Add(time.Minute+2*time.Second), f.Now())
	assert.Equal(t, []time.Duration{2 * time.Second}, f.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, f.Sleep(ctx, time.Second))
	assert.Len(t, f.Sleeps(), 1)
}
