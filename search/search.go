// Package search implements a depth-limited negamax search with alpha-beta
// pruning in which every child of a node is searched concurrently.
//
// A node launches its children in move order. Each child gets the window
// implied by the node's alpha at launch time, so children launched after an
// earlier sibling finished search a tighter window. Results are folded in as
// they complete; when alpha reaches beta the remaining children are
// cancelled and their results are never read. Leaves are scored through a
// Scorer, normally a cache in front of the batching evaluation service.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/position"
)

const (
	// WinScore is the score of a won position. It dominates every leaf
	// evaluation, which is clamped to MaxEval.
	WinScore float32 = 1e7
	MaxEval  float32 = WinScore - 1
)

var ErrBadDepth = errors.New("search depth must be >= 0")

var (
	negInf = float32(math.Inf(-1))
	posInf = float32(math.Inf(1))
)

// Scorer resolves a leaf position to a score relative to the side to move.
type Scorer interface {
	Evaluate(ctx context.Context, p position.Position) (float32, error)
}

type Options struct {
	// MaxConcurrentTasks caps the number of subtree searches running on
	// their own goroutines. Children beyond the cap run on their parent's
	// goroutine. Zero searches sequentially.
	MaxConcurrentTasks int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{MaxConcurrentTasks: cfg.GetInt(config.ConfigMaxConcurrentTasks)}
}

type Result struct {
	// Move is nil when the position is terminal or the depth is zero.
	Move    position.Move
	Score   float32
	Nodes   uint64
	Elapsed time.Duration
	Depth   int
}

// MoveScore is the score of one root move. Only scores marked Exact are
// true minimax values; the rest are upper bounds.
type MoveScore struct {
	Move  position.Move
	Score float32
	Exact bool
}

type Engine struct {
	scorer Scorer
	pool   *semaphore.Weighted
	tasks  int
}

func NewEngine(scorer Scorer, opts Options) *Engine {
	e := &Engine{scorer: scorer, tasks: opts.MaxConcurrentTasks}
	if opts.MaxConcurrentTasks > 0 {
		e.pool = semaphore.NewWeighted(int64(opts.MaxConcurrentTasks))
	}
	return e
}

// ChooseMove searches pos to the given depth and returns the best move for
// the side to move. It returns only after every goroutine it started has
// exited.
func (e *Engine) ChooseMove(ctx context.Context, pos position.Position, depth int) (Result, error) {
	res, _, err := e.run(ctx, pos, depth, false)
	return res, err
}

// Analyze is ChooseMove that also reports the score of every root move
// that finished, in move order.
func (e *Engine) Analyze(ctx context.Context, pos position.Position, depth int) (Result, []MoveScore, error) {
	return e.run(ctx, pos, depth, true)
}

func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func (e *Engine) run(ctx context.Context, pos position.Position, depth int, analyze bool) (Result, []MoveScore, error) {
	if depth < 0 {
		return Result{}, nil, fmt.Errorf("%w: %d", ErrBadDepth, depth)
	}
	tstart := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s := &search{e: e}
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	res := Result{Depth: depth}
	moves := pos.LegalMoves()
	if pos.Outcome().Terminal() || depth == 0 || len(moves) == 0 {
		nodes, score, err := s.negamax(ctx, pos, 0, negInf, posInf)
		if err != nil {
			return res, nil, err
		}
		res.Nodes, res.Score, res.Elapsed = nodes, score, time.Since(tstart)
		return res, nil, nil
	}

	var scores []MoveScore
	var visit func(idx int, score, alpha float32)
	if analyze {
		scores = make([]MoveScore, len(moves))
		visit = func(idx int, score, alpha float32) {
			// the root has no beta, so only a fail-low is inexact
			scores[idx] = MoveScore{Move: moves[idx], Score: score, Exact: score > alpha}
		}
	}

	best, nodes, bestIdx, err := s.fanOut(ctx, pos, moves, depth, negInf, posInf, visit)
	res.Elapsed = time.Since(tstart)
	if err != nil {
		logger(ctx).Debug().Err(err).Int("depth", depth).Msg("search-aborted")
		return res, nil, err
	}
	res.Move, res.Score, res.Nodes = moves[bestIdx], best, nodes

	nps := float64(nodes) / math.Max(res.Elapsed.Seconds(), 1e-9)
	logger(ctx).Info().
		Int("depth", depth).
		Str("move", res.Move.String()).
		Float32("score", res.Score).
		Uint64("nodes", nodes).
		Float64("nps", nps).
		Int("max-concurrent-tasks", e.tasks).
		Float64("time-elapsed-sec", res.Elapsed.Seconds()).
		Msg("choose-move")
	if analyze {
		scores = lo.Filter(scores, func(ms MoveScore, _ int) bool { return ms.Move != nil })
	}
	return res, scores, nil
}

// search holds the state of one ChooseMove call.
type search struct {
	e  *Engine
	wg sync.WaitGroup
}

type childResult struct {
	idx   int
	alpha float32
	nodes uint64
	score float32
	err   error
}

func clampEval(score float32) float32 {
	switch {
	case score != score:
		return 0
	case score > MaxEval:
		return MaxEval
	case score < -MaxEval:
		return -MaxEval
	}
	return score
}

// negamax returns the number of leaves searched and the score of pos from
// the side to move's point of view. A cancelled search returns the context
// error and no nodes.
func (s *search) negamax(ctx context.Context, pos position.Position, depth int, α, β float32) (uint64, float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	switch pos.Outcome() {
	case position.Win:
		return 1, WinScore, nil
	case position.Loss:
		return 1, -WinScore, nil
	case position.Draw:
		return 1, 0, nil
	}
	var moves []position.Move
	if depth > 0 {
		moves = pos.LegalMoves()
	}
	if len(moves) == 0 {
		score, err := s.e.scorer.Evaluate(ctx, pos)
		if err != nil {
			return 0, 0, err
		}
		return 1, clampEval(score), nil
	}
	best, nodes, _, err := s.fanOut(ctx, pos, moves, depth, α, β, nil)
	if err != nil {
		return 0, 0, err
	}
	return nodes, best, nil
}

// fanOut searches every move of pos and returns the best score, the leaves
// counted in completed children and the index of the best move. Equal
// scores go to the earlier move.
func (s *search) fanOut(ctx context.Context, pos position.Position, moves []position.Move,
	depth int, α, β float32, visit func(idx int, score, alpha float32)) (float32, uint64, int, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan childResult, len(moves))
	best, bestIdx := negInf, -1
	var nodes uint64
	pending := 0

	absorb := func(r childResult) (bool, error) {
		if r.err != nil {
			return false, r.err
		}
		nodes += r.nodes
		score := -r.score
		if visit != nil {
			visit(r.idx, score, r.alpha)
		}
		if score > best || (score == best && r.idx < bestIdx) {
			best, bestIdx = score, r.idx
		}
		α = max(α, score)
		return α >= β, nil
	}

	for i, m := range moves {
		// fold in whatever has finished so the next window is as tight
		// as possible
	drain:
		for pending > 0 {
			select {
			case r := <-results:
				pending--
				cutoff, err := absorb(r)
				if err != nil {
					return 0, 0, -1, err
				}
				if cutoff {
					return best, nodes, bestIdx, nil
				}
			default:
				break drain
			}
		}
		if err := ctx.Err(); err != nil {
			return 0, 0, -1, err
		}

		child, err := pos.Apply(m)
		if err != nil {
			return 0, 0, -1, fmt.Errorf("apply %s: %w", m, err)
		}
		r := childResult{idx: i, alpha: α}
		if s.e.pool != nil && s.e.pool.TryAcquire(1) {
			pending++
			s.wg.Add(1)
			go func(child position.Position, r childResult, a, b float32) {
				defer s.wg.Done()
				defer s.e.pool.Release(1)
				r.nodes, r.score, r.err = s.negamax(ctx, child, depth-1, a, b)
				results <- r
			}(child, r, -β, -α)
			continue
		}
		// pool is full; search this child here
		r.nodes, r.score, r.err = s.negamax(ctx, child, depth-1, -β, -α)
		cutoff, err := absorb(r)
		if err != nil {
			return 0, 0, -1, err
		}
		if cutoff {
			return best, nodes, bestIdx, nil
		}
	}

	for pending > 0 {
		select {
		case r := <-results:
			pending--
			cutoff, err := absorb(r)
			if err != nil {
				return 0, 0, -1, err
			}
			if cutoff {
				return best, nodes, bestIdx, nil
			}
		case <-ctx.Done():
			return 0, 0, -1, ctx.Err()
		}
	}
	return best, nodes, bestIdx, nil
}
