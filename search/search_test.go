package search

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/gambit/cache"
	"github.com/domino14/gambit/evalservice"
	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/position"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

const (
	foolsMateFEN = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	stalemateFEN = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
)

func TestMatchesSequentialAlphaBeta(t *testing.T) {
	is := is.New(t)
	for seed := byte(0); seed < 40; seed++ {
		var next uint64
		root := randomTree(testRNG(seed), 5, &next)
		for depth := 1; depth <= 5; depth++ {
			want := alphaBeta(treePos{root}, depth, negInf, posInf, treeEval)
			for _, tasks := range []int{0, 1, 3, 64} {
				e := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: tasks})
				res, err := e.ChooseMove(context.Background(), treePos{root}, depth)
				is.NoErr(err)
				if res.Score != want {
					t.Fatalf("seed %d depth %d tasks %d: got %v want %v", seed, depth, tasks, res.Score, want)
				}
				if res.Move == nil {
					continue
				}
				// the chosen move must actually achieve the score
				child, err := treePos{root}.Apply(res.Move)
				is.NoErr(err)
				is.Equal(-alphaBeta(child, depth-1, negInf, posInf, treeEval), want)
			}
		}
	}
}

func TestTiesGoToEarlierMove(t *testing.T) {
	is := is.New(t)
	root := &node{id: 1, children: []*node{leaf(2, 3), leaf(3, -7), leaf(4, -7)}}
	e := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: 8})
	res, err := e.ChooseMove(context.Background(), treePos{root}, 1)
	is.NoErr(err)
	is.Equal(res.Move, treeMove(1))
	is.Equal(res.Score, float32(7))
	is.Equal(res.Nodes, uint64(3))
}

// cutoffScorer holds the first leaf until the second has started, so the
// cutoff from the first always cancels a running sibling.
type cutoffScorer struct {
	secondStarted   chan struct{}
	secondCancelled chan struct{}
}

func (s *cutoffScorer) Evaluate(ctx context.Context, p position.Position) (float32, error) {
	switch p.Fingerprint() {
	case 2:
		<-s.secondStarted
		return -5, nil
	case 3:
		close(s.secondStarted)
		<-ctx.Done()
		close(s.secondCancelled)
		return 0, ctx.Err()
	}
	return 0, errors.New("unexpected position")
}

func TestCancelledSiblingAddsNoNodes(t *testing.T) {
	is := is.New(t)
	sc := &cutoffScorer{secondStarted: make(chan struct{}), secondCancelled: make(chan struct{})}
	n := &node{id: 1, children: []*node{leaf(2, 0), leaf(3, 0)}}
	s := &search{e: NewEngine(sc, Options{MaxConcurrentTasks: 8})}

	nodes, score, err := s.negamax(context.Background(), treePos{n}, 1, negInf, 0)
	is.NoErr(err)
	is.Equal(score, float32(5))
	is.Equal(nodes, uint64(1))

	s.wg.Wait()
	select {
	case <-sc.secondCancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling was not cancelled")
	}
}

func TestNoTaskOutlivesChooseMove(t *testing.T) {
	is := is.New(t)
	var next uint64
	root := randomTree(testRNG(99), 6, &next)
	sc := &treeScorer{}
	e := NewEngine(sc, Options{MaxConcurrentTasks: 16})
	for i := 0; i < 5; i++ {
		_, err := e.ChooseMove(context.Background(), treePos{root}, 6)
		is.NoErr(err)
		is.Equal(sc.inflight.Load(), int64(0))
	}
}

type blockingScorer struct{}

func (blockingScorer) Evaluate(ctx context.Context, p position.Position) (float32, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCallerCancellation(t *testing.T) {
	is := is.New(t)
	var next uint64
	root := randomTree(testRNG(7), 4, &next)
	e := NewEngine(blockingScorer{}, Options{MaxConcurrentTasks: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.ChooseMove(ctx, treePos{root}, 4)
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < time.Second)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = e.ChooseMove(cancelled, treePos{root}, 2)
	is.True(errors.Is(err, context.Canceled))
}

func TestIllegalMoveAborts(t *testing.T) {
	is := is.New(t)
	root := &node{id: 1, children: []*node{
		leaf(2, 1),
		{id: 3, bad: true, children: []*node{leaf(4, 0)}},
	}}
	e := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: 4})
	_, err := e.ChooseMove(context.Background(), treePos{root}, 3)
	is.True(errors.Is(err, position.ErrIllegalMove))
}

func TestBadDepth(t *testing.T) {
	is := is.New(t)
	e := NewEngine(&treeScorer{}, Options{})
	_, err := e.ChooseMove(context.Background(), treePos{leaf(1, 0)}, -1)
	is.True(errors.Is(err, ErrBadDepth))
}

func TestDepthZeroIsStatic(t *testing.T) {
	is := is.New(t)
	root := &node{id: 1, value: 42, children: []*node{leaf(2, 1)}}
	res, err := NewEngine(&treeScorer{}, Options{}).ChooseMove(context.Background(), treePos{root}, 0)
	is.NoErr(err)
	is.Equal(res.Move, nil)
	is.Equal(res.Score, float32(42))
	is.Equal(res.Nodes, uint64(1))
}

func TestLeafScoresAreClamped(t *testing.T) {
	is := is.New(t)
	root := &node{id: 1, children: []*node{leaf(2, -1e9), {id: 3, outcome: position.Loss}}}
	res, err := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: 2}).ChooseMove(context.Background(), treePos{root}, 1)
	is.NoErr(err)
	// a forced win beats any evaluation
	is.Equal(res.Move, treeMove(1))
	is.Equal(res.Score, WinScore)
	is.Equal(clampEval(float32(math.NaN())), float32(0))
}

func TestAnalyze(t *testing.T) {
	is := is.New(t)
	var root *node
	for seed := byte(3); root == nil || len(root.children) < 2; seed++ {
		var next uint64
		root = randomTree(testRNG(seed), 4, &next)
	}
	e := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: 8})
	res, scores, err := e.Analyze(context.Background(), treePos{root}, 4)
	is.NoErr(err)
	is.Equal(len(scores), len(root.children))
	for _, ms := range scores {
		is.True(ms.Score <= res.Score)
		if ms.Move == res.Move {
			is.True(ms.Exact)
			is.Equal(ms.Score, res.Score)
		}
		if ms.Exact {
			child, _ := treePos{root}.Apply(ms.Move)
			is.Equal(-alphaBeta(child, 3, negInf, posInf, treeEval), ms.Score)
		}
	}
}

type evalScorer struct{ ev evaluator.Evaluator }

func (s evalScorer) Evaluate(ctx context.Context, p position.Position) (float32, error) {
	out, err := s.ev.ScoreBatch(ctx, []position.Position{p})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func pstEval(p position.Position) float32 {
	out, err := evaluator.PST{}.ScoreBatch(context.Background(), []position.Position{p})
	if err != nil {
		panic(err)
	}
	return out[0]
}

func TestStartPositionThroughService(t *testing.T) {
	is := is.New(t)
	svc := evalservice.NewService(evaluator.PST{}, evalservice.Options{
		MaxBatchSize:  32,
		FlushTimeout:  50 * time.Millisecond,
		PollInterval:  time.Millisecond,
		QueueCapacity: 256,
	})
	defer svc.Close()
	memo := cache.NewMemo(cache.NewSharded(), svc)
	e := NewEngine(memo, Options{MaxConcurrentTasks: 64})

	start := position.StartingPosition()
	res, err := e.ChooseMove(context.Background(), start, 2)
	is.NoErr(err)
	is.True(res.Move != nil)
	_, err = start.Apply(res.Move)
	is.NoErr(err)
	is.True(res.Score > -MaxEval && res.Score < MaxEval)
	is.Equal(res.Score, alphaBeta(start, 2, negInf, posInf, pstEval))
	is.True(res.Nodes > 0 && res.Nodes <= 400)
	is.True(svc.Stats().Calls > 0)
}

func TestChessMatchesSequentialAtDepthThree(t *testing.T) {
	is := is.New(t)
	p, err := position.FromFEN("r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3")
	is.NoErr(err)
	e := NewEngine(evalScorer{evaluator.PST{}}, Options{MaxConcurrentTasks: 32})
	res, err := e.ChooseMove(context.Background(), p, 3)
	is.NoErr(err)
	assert.Equal(t, alphaBeta(p, 3, negInf, posInf, pstEval), res.Score)
}

func TestCheckmatedPosition(t *testing.T) {
	is := is.New(t)
	p, err := position.FromFEN(foolsMateFEN)
	is.NoErr(err)
	res, err := NewEngine(&treeScorer{}, Options{MaxConcurrentTasks: 4}).ChooseMove(context.Background(), p, 3)
	is.NoErr(err)
	is.Equal(res.Move, nil)
	is.Equal(res.Score, -WinScore)
	is.Equal(res.Nodes, uint64(1))
}

func TestStalemateIsDraw(t *testing.T) {
	is := is.New(t)
	p, err := position.FromFEN(stalemateFEN)
	is.NoErr(err)
	res, err := NewEngine(&treeScorer{}, Options{}).ChooseMove(context.Background(), p, 2)
	is.NoErr(err)
	is.Equal(res.Move, nil)
	is.Equal(res.Score, float32(0))
}

func TestMateInOneIsFound(t *testing.T) {
	is := is.New(t)
	// white mates with Qh5xf7
	p, err := position.FromFEN("r1bqkbnr/pppp1ppp/2n5/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4")
	is.NoErr(err)
	res, err := NewEngine(evalScorer{evaluator.PST{}}, Options{MaxConcurrentTasks: 16}).ChooseMove(context.Background(), p, 2)
	is.NoErr(err)
	is.Equal(res.Move.String(), "h5f7")
	is.Equal(res.Score, WinScore)
}
