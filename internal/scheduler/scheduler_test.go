package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"04:00", 4, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestNextDaily(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 10, 4, 0, 0, 0, time.UTC), NextDaily(now, 4, 0))
	assert.Equal(t, time.Date(2026, 5, 11, 3, 0, 0, 0, time.UTC), NextDaily(now, 3, 0))
	assert.Equal(t, time.Date(2026, 5, 11, 3, 30, 0, 0, time.UTC), NextDaily(now, 3, 30), "exactly now rolls over")
}

func TestAddValidates(t *testing.T) {
	s := NewScheduler()
	fn := func(context.Context) {}

	require.Error(t, s.Add(Task{Name: "nil"}))
	require.Error(t, s.Add(Task{Name: "no interval", Fn: fn}))
	require.Error(t, s.Add(Task{Name: "bad clock", Daily: "25:00", Fn: fn}))
	require.NoError(t, s.Add(Task{Name: "ok", Daily: "04:00", Fn: fn}))
	require.NoError(t, s.Add(Task{Name: "ok", Interval: time.Second, Fn: fn}))
}

func TestStartRunsTasksUntilCancelled(t *testing.T) {
	s := NewScheduler()

	var ticks, starts, panics atomic.Int32
	require.NoError(t, s.Add(Task{Name: "tick", Interval: 5 * time.Millisecond, Fn: func(context.Context) { ticks.Add(1) }}))
	require.NoError(t, s.Add(Task{Name: "daily", Daily: "04:00", RunOnStart: true, Fn: func(context.Context) { starts.Add(1) }}))
	require.NoError(t, s.Add(Task{Name: "boom", Interval: 5 * time.Millisecond, Fn: func(context.Context) {
		panics.Add(1)
		panic("boom")
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 && panics.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), starts.Load())
}
