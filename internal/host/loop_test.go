package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		assert.NoError(t, l.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-exited
	})
	return l, cancel
}

func TestLoopRunsWorkInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Do(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopDeliverCopiesPacket(t *testing.T) {
	l := NewLoop(4)
	type packet struct {
		data   []byte
		origin uint8
	}
	var got []packet
	l.SetReceiver(func(data []byte, origin uint8) error {
		got = append(got, packet{data, origin})
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	buf := []byte{1, 2, 3}
	l.Deliver(buf, 9)
	buf[0] = 0xFF

	require.NoError(t, l.Call(ctx, func() {}))
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3}, got[0].data)
	assert.Equal(t, uint8(9), got[0].origin)
}

func TestLoopSurvivesPanics(t *testing.T) {
	l, _ := startLoop(t)
	l.Do(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopStop(t *testing.T) {
	l, cancel := startLoop(t)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, l.Do(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}

func TestLoopScheduleRunsAfterCurrentTask(t *testing.T) {
	l, _ := startLoop(t)

	var got []string
	require.NoError(t, l.Call(context.Background(), func() {
		l.Schedule(func() {
			got = append(got, "first")
			l.Schedule(func() { got = append(got, "nested") })
		})
		l.Schedule(func() { got = append(got, "second") })
		got = append(got, "task")
	}))
	assert.Equal(t, []string{"task", "first", "second", "nested"}, got)
}
