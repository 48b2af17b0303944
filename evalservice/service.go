// Package evalservice batches leaf evaluation requests from many concurrent
// searches into single evaluator calls.
//
// One goroutine owns the evaluator. Requests wait in a bounded queue; the
// worker collects them into a batch and flushes when the batch is full,
// when its oldest request has waited longer than the flush timeout, or when
// the queue has been empty for the poll interval.
package evalservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/position"
	"github.com/domino14/gambit/stats"
)

var (
	ErrServiceClosed = errors.New("evaluation service closed")
	ErrQueueFull     = errors.New("evaluation queue full")
	ErrBatchMismatch = errors.New("evaluator returned the wrong number of scores")
)

const batchSampleSize = 4096

type Options struct {
	MaxBatchSize  int
	FlushTimeout  time.Duration
	PollInterval  time.Duration
	QueueCapacity int
}

func DefaultOptions() Options {
	return Options{
		MaxBatchSize:  32,
		FlushTimeout:  500 * time.Millisecond,
		PollInterval:  time.Millisecond,
		QueueCapacity: 1024,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxBatchSize:  cfg.GetInt(config.ConfigBatchMaxSize),
		FlushTimeout:  cfg.GetDuration(config.ConfigBatchFlushTimeout),
		PollInterval:  cfg.GetDuration(config.ConfigBatchPollInterval),
		QueueCapacity: cfg.GetInt(config.ConfigQueueCapacity),
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxBatchSize < 1 {
		o.MaxBatchSize = d.MaxBatchSize
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = d.FlushTimeout
	}
	if o.PollInterval < 0 {
		o.PollInterval = 0
	}
	if o.QueueCapacity < 1 {
		o.QueueCapacity = d.QueueCapacity
	}
	return o
}

type response struct {
	score float32
	err   error
}

type request struct {
	ctx  context.Context
	pos  position.Position
	resp chan response
}

func (r *request) resolve(score float32, err error) {
	// resp has room for exactly one response and is written exactly once.
	r.resp <- response{score: score, err: err}
}

type Stats struct {
	Calls     uint64
	Positions uint64
	Dropped   uint64
	BatchSize stats.Summary
}

type Service struct {
	opts Options
	ev   evaluator.Evaluator

	queue   chan *request
	done    chan struct{}
	stopped chan struct{}

	// ctx is passed to the evaluator and cancelled by Close.
	ctx       context.Context
	cancel    context.CancelFunc
	eg        errgroup.Group
	closeOnce sync.Once

	calls      atomic.Uint64
	positions  atomic.Uint64
	dropped    atomic.Uint64
	batchSizes *stats.Running
}

// NewService starts the batching worker. Close must be called to stop it.
func NewService(ev evaluator.Evaluator, opts Options) *Service {
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		opts:       opts,
		ev:         ev,
		queue:      make(chan *request, opts.QueueCapacity),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		batchSizes: stats.NewRunning(batchSampleSize),
	}
	s.eg.Go(s.loop)
	log.Debug().Int("max-batch-size", opts.MaxBatchSize).
		Dur("flush-timeout", opts.FlushTimeout).
		Dur("poll-interval", opts.PollInterval).
		Int("queue-capacity", opts.QueueCapacity).
		Msg("evaluation-service-started")
	return s
}

// Evaluate queues the position and waits for its score. Enqueueing blocks
// while the queue is full unless ctx is cancelled first.
func (s *Service) Evaluate(ctx context.Context, pos position.Position) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	req := &request{ctx: ctx, pos: pos, resp: make(chan response, 1)}
	select {
	case <-s.done:
		return 0, ErrServiceClosed
	default:
	}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, ErrServiceClosed
	}
	return s.await(ctx, req)
}

// TryEvaluate is Evaluate without waiting for queue space; it fails with
// ErrQueueFull instead.
func (s *Service) TryEvaluate(ctx context.Context, pos position.Position) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	select {
	case <-s.done:
		return 0, ErrServiceClosed
	default:
	}
	req := &request{ctx: ctx, pos: pos, resp: make(chan response, 1)}
	select {
	case s.queue <- req:
	default:
		return 0, ErrQueueFull
	}
	return s.await(ctx, req)
}

func (s *Service) await(ctx context.Context, req *request) (float32, error) {
	select {
	case r := <-req.resp:
		return r.score, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.stopped:
		select {
		case r := <-req.resp:
			return r.score, r.err
		default:
			// enqueued after the worker drained the queue
			return 0, ErrServiceClosed
		}
	}
}

func (s *Service) loop() error {
	defer close(s.stopped)
	var batch []*request
	var batchStart time.Time
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		var timerC <-chan time.Time
		if len(batch) > 0 {
			wait := s.opts.FlushTimeout - time.Since(batchStart)
			if s.opts.PollInterval > 0 && s.opts.PollInterval < wait {
				wait = s.opts.PollInterval
			}
			if wait <= 0 {
				s.flush(batch)
				batch = nil
				continue
			}
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case req := <-s.queue:
			timer.Stop()
			if len(batch) == 0 {
				batchStart = time.Now()
			}
			batch = append(batch, req)
			if len(batch) >= s.opts.MaxBatchSize {
				s.flush(batch)
				batch = nil
			}
		case <-timerC:
			s.flush(batch)
			batch = nil
		case <-s.done:
			timer.Stop()
			s.drain(batch)
			return nil
		}
	}
}

// drain resolves everything still waiting once the service is closed.
func (s *Service) drain(batch []*request) {
	n := len(batch)
	for _, r := range batch {
		r.resolve(0, ErrServiceClosed)
	}
	for {
		select {
		case r := <-s.queue:
			r.resolve(0, ErrServiceClosed)
			n++
		default:
			if n > 0 {
				log.Debug().Int("pending", n).Msg("evaluation-service-drained")
			}
			return
		}
	}
}

func (s *Service) flush(batch []*request) {
	live := lo.Filter(batch, func(r *request, _ int) bool {
		if err := r.ctx.Err(); err != nil {
			r.resolve(0, err)
			return false
		}
		return true
	})
	if dropped := len(batch) - len(live); dropped > 0 {
		s.dropped.Add(uint64(dropped))
		log.Debug().Int("dropped", dropped).Msg("cancelled-requests-dropped")
	}
	if len(live) == 0 {
		return
	}

	positions := lo.Map(live, func(r *request, _ int) position.Position { return r.pos })
	scores, err := s.ev.ScoreBatch(s.ctx, positions)
	s.calls.Add(1)
	s.positions.Add(uint64(len(live)))
	s.batchSizes.Push(float64(len(live)))

	if err == nil && len(scores) != len(live) {
		err = fmt.Errorf("%w: %d positions, %d scores", ErrBatchMismatch, len(live), len(scores))
	}
	if err != nil {
		if s.ctx.Err() != nil {
			err = ErrServiceClosed
		} else {
			log.Err(err).Int("batch-size", len(live)).Msg("evaluator-failed")
		}
		for _, r := range live {
			r.resolve(0, err)
		}
		return
	}
	for i, r := range live {
		if err := r.ctx.Err(); err != nil {
			r.resolve(0, err)
			continue
		}
		r.resolve(scores[i], nil)
	}
}

// Close stops the worker. Requests that have not been scored resolve with
// ErrServiceClosed; an evaluator call in progress has its context cancelled.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	return s.eg.Wait()
}

func (s *Service) Stats() Stats {
	return Stats{
		Calls:     s.calls.Load(),
		Positions: s.positions.Load(),
		Dropped:   s.dropped.Load(),
		BatchSize: s.batchSizes.Summary(),
	}
}
