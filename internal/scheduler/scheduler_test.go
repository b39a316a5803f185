package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestJobRunsImmediatelyThenEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(WithClock(clock))
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.Add("gw", 10*time.Second, func() { runs.Add(1) }))
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return runs.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddValidation(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Stop()

	assert.Error(t, s.Add("zero", 0, func() {}))
	require.NoError(t, s.Add("gw", time.Minute, func() {}))
	assert.Error(t, s.Add("gw", time.Minute, func() {}), "duplicate name")

	assert.Error(t, s.Remove("missing"))
	require.NoError(t, s.Remove("gw"))
	_, err = s.NextRun("gw")
	assert.Error(t, err)
}

func TestStartTwice(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestNextRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(WithClock(clock))
	require.NoError(t, err)

	ran := make(chan struct{}, 4)
	require.NoError(t, s.Add("gw", 30*time.Second, func() { ran <- struct{}{} }))
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	require.Eventually(t, func() bool {
		next, err := s.NextRun("gw")
		return err == nil && next.After(clock.Now())
	}, 5*time.Second, 10*time.Millisecond)
}
