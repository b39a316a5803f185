package check

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pingcounter/internal/echo"
	"pingcounter/internal/loop"
	"pingcounter/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type fakeStrategy struct {
	outcomes map[string]echo.Outcome
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Probe(_ context.Context, address string) echo.Outcome {
	if o, ok := s.outcomes[address]; ok {
		return o
	}
	return echo.Timeout()
}

func TestBatchSortsAndCounts(t *testing.T) {
	strategy := &fakeStrategy{outcomes: map[string]echo.Outcome{
		"10.0.0.1": echo.Success(30 * time.Millisecond),
		"10.0.0.2": echo.Failure(echo.ReasonUnreachable),
		"10.0.0.3": echo.Success(5 * time.Millisecond),
	}}
	tester := NewTester(nil, TesterConfig{Workers: 2, Strategy: strategy})

	var mu sync.Mutex
	var seen []int
	batch := tester.TestBatch(context.Background(), []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, func(_ *Result, current, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		seen = append(seen, current)
	})

	assert.Equal(t, 4, batch.Tested)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 2, batch.Failed)
	assert.ElementsMatch(t, []int{1, 2, 3, 4}, seen)

	require.Len(t, batch.Results, 4)
	assert.Equal(t, "10.0.0.3", batch.Results[0].Address)
	assert.Equal(t, "10.0.0.1", batch.Results[1].Address)
	assert.False(t, batch.Results[2].Outcome.OK())
	assert.False(t, batch.Results[3].Outcome.OK())
	assert.Equal(t, "fake", batch.Results[0].Strategy)
}

func TestBatchRecordsResults(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "check.db"))
	require.NoError(t, err)
	defer store.Close()

	strategy := &fakeStrategy{outcomes: map[string]echo.Outcome{
		"10.0.0.1": echo.Success(2 * time.Millisecond),
	}}
	tester := NewTester(store, TesterConfig{Strategy: strategy})
	tester.TestBatch(context.Background(), []string{"10.0.0.1", "10.0.0.2"}, nil)

	probes, err := store.GetProbeHistory(context.Background(), RecordCounter, 0)
	require.NoError(t, err)
	require.Len(t, probes, 2)
	kinds := []string{probes[0].Kind, probes[1].Kind}
	assert.ElementsMatch(t, []string{"success", "timeout"}, kinds)
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tester := NewTester(nil, TesterConfig{Workers: 1, Strategy: &fakeStrategy{}})
	batch := tester.TestBatch(ctx, []string{"10.0.0.1", "10.0.0.2"}, nil)
	assert.LessOrEqual(t, batch.Tested, 2)
	assert.Equal(t, batch.Tested, batch.Succeeded+batch.Failed)
}

func TestTCPStrategy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s := &TCPStrategy{Port: port}
	assert.Equal(t, "tcp", s.Name())

	o := s.Probe(context.Background(), "127.0.0.1")
	assert.True(t, o.OK(), "got %s", o)

	ln.Close()
	<-done

	o = s.Probe(context.Background(), "127.0.0.1")
	assert.Equal(t, echo.KindFailure, o.Kind)
	assert.Equal(t, echo.ReasonUnreachable, o.Reason)
}

func TestICMPStrategyFailures(t *testing.T) {
	lp := loop.New(clockwork.NewRealClock(), nil)
	lp.Start()
	defer lp.Stop()

	client := echo.New(lp, echo.WithListener(func(string, string) (echo.PacketConn, error) {
		return nil, errors.New("permission denied")
	}))
	defer lp.Call(context.Background(), func() { client.Close() })

	s := NewICMPStrategy(lp, client)
	assert.Equal(t, "icmp", s.Name())

	o := s.Probe(context.Background(), "not an ip!!")
	assert.Equal(t, echo.Failure(echo.ReasonResolve), o)

	o = s.Probe(context.Background(), "192.0.2.1")
	assert.Equal(t, echo.Failure(echo.ReasonSocket), o)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("tcp", nil, nil, 8080)
	require.NoError(t, err)
	assert.Equal(t, 8080, s.(*TCPStrategy).Port)

	_, err = NewStrategy("icmp", nil, nil, 0)
	assert.Error(t, err)

	_, err = NewStrategy("udp", nil, nil, 0)
	assert.Error(t, err)
}

