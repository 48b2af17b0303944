package agent

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/domino14/gambit/cache"
	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/evalservice"
	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/position"
	"github.com/domino14/gambit/search"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Set(config.ConfigDepth, 2)
	cfg.Set(config.ConfigMaxConcurrentTasks, 16)
	return &cfg
}

func TestChooseMoveFromStart(t *testing.T) {
	is := is.New(t)
	a, err := New(testConfig())
	is.NoErr(err)
	defer a.Close()

	start := position.StartingPosition()
	res, err := a.ChooseMove(context.Background(), start)
	is.NoErr(err)
	is.True(res.Move != nil)
	_, err = start.Apply(res.Move)
	is.NoErr(err)
	is.True(res.Score > -search.MaxEval && res.Score < search.MaxEval)
	is.Equal(res.Depth, 2)

	st := a.Stats()
	is.True(st.Service.Calls > 0)
	is.True(st.CacheLen > 0)
	_, ok := a.cache.(*cache.Sharded)
	is.True(ok)
}

func TestEvaluateIsCached(t *testing.T) {
	is := is.New(t)
	var calls int
	ev := evaluator.Func(func(p position.Position) float32 {
		calls++
		return 12
	})
	a, err := NewWithEvaluator(testConfig(), ev)
	is.NoErr(err)
	defer a.Close()

	for i := 0; i < 3; i++ {
		score, err := a.Evaluate(context.Background(), position.StartingPosition())
		is.NoErr(err)
		is.Equal(score, float32(12))
	}
	is.Equal(calls, 1)
	is.Equal(a.Stats().Cache.Hits, uint64(2))
}

func TestBoundedCacheFromConfig(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.Set(config.ConfigCacheSize, 5000)
	a, err := New(cfg)
	is.NoErr(err)
	defer a.Close()
	_, ok := a.cache.(*cache.Bounded)
	is.True(ok)

	res, err := a.ChooseMoveDepth(context.Background(), position.StartingPosition(), 1)
	is.NoErr(err)
	is.True(res.Move != nil)
}

func TestUnknownEvaluator(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.Set(config.ConfigEvaluator, "oracle")
	_, err := New(cfg)
	is.True(errors.Is(err, evaluator.ErrUnknownKind))
}

func TestSearchAfterClose(t *testing.T) {
	is := is.New(t)
	a, err := New(testConfig())
	is.NoErr(err)
	is.NoErr(a.Close())
	_, err = a.ChooseMove(context.Background(), position.StartingPosition())
	is.True(errors.Is(err, evalservice.ErrServiceClosed))
}

type timingOutEvaluator struct {
	calls atomic.Int64
}

func (e *timingOutEvaluator) ScoreBatch(ctx context.Context, ps []position.Position) ([]float32, error) {
	e.calls.Add(1)
	return nil, context.DeadlineExceeded
}

func TestEvaluatorDeadlineAbortsSearch(t *testing.T) {
	is := is.New(t)
	ev := &timingOutEvaluator{}
	a, err := NewWithEvaluator(testConfig(), ev)
	is.NoErr(err)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := a.ChooseMove(context.Background(), position.StartingPosition())
		done <- err
	}()
	select {
	case err := <-done:
		is.True(errors.Is(err, context.DeadlineExceeded))
	case <-time.After(5 * time.Second):
		t.Fatal("search did not return")
	}
	// one failed batch per position at most, never a retry loop
	is.True(ev.calls.Load() <= 400)
}
