// Package agent assembles a playing engine from configuration: an
// evaluator, the batching evaluation service in front of it, a position
// cache and the concurrent search.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/domino14/gambit/cache"
	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/evalservice"
	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/position"
	"github.com/domino14/gambit/search"
	"github.com/domino14/gambit/worker"
)

const KindNATS = "nats"

type Stats struct {
	Service  evalservice.Stats
	Cache    cache.Stats
	CacheLen int
}

type Agent struct {
	cfg     *config.Config
	service *evalservice.Service
	cache   cache.PositionCache
	memo    *cache.Memo
	engine  *search.Engine

	closers []func()
}

// NewEvaluator builds the evaluator named by the evaluator config key. The
// returned func releases whatever the evaluator holds.
func NewEvaluator(cfg *config.Config) (evaluator.Evaluator, func(), error) {
	if cfg.GetString(config.ConfigEvaluator) == KindNATS {
		c, err := worker.Dial(cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	ev, err := evaluator.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ev, func() {}, nil
}

func newCache(cfg *config.Config) (cache.PositionCache, func(), error) {
	size := int64(cfg.GetInt(config.ConfigCacheSize))
	if f := cfg.GetFloat64(config.ConfigCacheMemoryFraction); size == 0 && f > 0 {
		size = cache.SizeFromMemory(f)
	}
	if size <= 0 {
		return cache.NewSharded(), func() {}, nil
	}
	b, err := cache.NewBounded(size)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}

// New builds an agent and its evaluator from cfg.
func New(cfg *config.Config) (*Agent, error) {
	ev, release, err := NewEvaluator(cfg)
	if err != nil {
		return nil, fmt.Errorf("building evaluator: %w", err)
	}
	a, err := NewWithEvaluator(cfg, ev)
	if err != nil {
		release()
		return nil, err
	}
	a.closers = append(a.closers, release)
	return a, nil
}

// NewWithEvaluator builds an agent around an existing evaluator.
func NewWithEvaluator(cfg *config.Config, ev evaluator.Evaluator) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, closeCache, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}
	svc := evalservice.NewService(ev, evalservice.OptionsFromConfig(cfg))
	memo := cache.NewMemo(c, svc)
	a := &Agent{
		cfg:     cfg,
		service: svc,
		cache:   c,
		memo:    memo,
		engine:  search.NewEngine(memo, search.OptionsFromConfig(cfg)),
		closers: []func(){closeCache},
	}
	log.Info().
		Str("evaluator", cfg.GetString(config.ConfigEvaluator)).
		Int("depth", cfg.GetInt(config.ConfigDepth)).
		Int("max-concurrent-tasks", cfg.GetInt(config.ConfigMaxConcurrentTasks)).
		Msg("agent-ready")
	return a, nil
}

// ChooseMove searches to the configured depth.
func (a *Agent) ChooseMove(ctx context.Context, pos position.Position) (search.Result, error) {
	return a.engine.ChooseMove(ctx, pos, a.cfg.GetInt(config.ConfigDepth))
}

func (a *Agent) ChooseMoveDepth(ctx context.Context, pos position.Position, depth int) (search.Result, error) {
	return a.engine.ChooseMove(ctx, pos, depth)
}

func (a *Agent) Analyze(ctx context.Context, pos position.Position, depth int) (search.Result, []search.MoveScore, error) {
	return a.engine.Analyze(ctx, pos, depth)
}

// Evaluate scores a single position through the cache and the service.
func (a *Agent) Evaluate(ctx context.Context, pos position.Position) (float32, error) {
	return a.memo.Evaluate(ctx, pos)
}

func (a *Agent) Stats() Stats {
	return Stats{
		Service:  a.service.Stats(),
		Cache:    a.cache.Stats(),
		CacheLen: a.cache.Len(),
	}
}

// Close stops the evaluation service and releases the cache and evaluator.
// Searches still running fail with evalservice.ErrServiceClosed.
func (a *Agent) Close() error {
	err := a.service.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	return err
}
