package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	pkgerrors "pingcounter/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPostRunsInOrder(t *testing.T) {
	l := New(nil, nil)
	l.Start()
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}

	require.NoError(t, l.Call(context.Background(), func() {}))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(nil, nil)
	l.Start()
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), pkgerrors.ErrLoopStopped)

	// Stop is idempotent.
	l.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	l := New(nil, nil)
	l.Stop()
	assert.False(t, l.Post(func() {}))
}

func TestCallRespectsContext(t *testing.T) {
	l := New(nil, nil)
	// Not started: the call can never run.
	defer l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAfterFuncRunsOnLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, nil)
	l.Start()
	defer l.Stop()

	var fired atomic.Int32
	l.AfterFunc(time.Second, func() { fired.Add(1) })

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(999 * time.Millisecond)
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestTimerStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, nil)
	l.Start()
	defer l.Stop()

	var fired atomic.Int32
	timer := l.AfterFunc(time.Second, func() { fired.Add(1) })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clock.Advance(2 * time.Second)
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, int32(0), fired.Load())

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New(nil, nil)
	l.Start()
	defer l.Stop()

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}
