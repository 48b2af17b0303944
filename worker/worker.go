package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/stats"
)

// EvalWorker serves a local evaluator to remote searches. Workers on the
// same subject share a queue group, so each batch is scored once.
type EvalWorker struct {
	config    *WorkerConfig
	nc        *nats.Conn
	evaluator evaluator.Evaluator

	requests   atomic.Uint64
	positions  atomic.Uint64
	failures   atomic.Uint64
	batchSizes *stats.Running
}

// NewEvalWorker creates a new worker
func NewEvalWorker(cfg *WorkerConfig, nc *nats.Conn, ev evaluator.Evaluator) *EvalWorker {
	return &EvalWorker{
		config:     cfg,
		nc:         nc,
		evaluator:  ev,
		batchSizes: stats.NewRunning(0),
	}
}

// Run serves requests until ctx is done. Messages on one subscription are
// handled one at a time, so the evaluator is never called concurrently.
func (w *EvalWorker) Run(ctx context.Context) error {
	log.Info().
		Str("subject", w.config.Subject).
		Str("queue-group", w.config.QueueGroup).
		Dur("eval-timeout", w.config.EvalTimeout).
		Dur("heartbeat-interval", w.config.HeartbeatInterval).
		Msg("starting evaluation worker")

	sub, err := w.nc.QueueSubscribe(w.config.Subject, w.config.QueueGroup, func(m *nats.Msg) {
		if err := m.Respond(w.Handle(ctx, m.Data)); err != nil {
			log.Warn().Err(err).Msg("failed to respond")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := w.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscription: %w", err)
	}

	// a non-positive interval turns the heartbeat off
	var heartbeat <-chan time.Time
	if w.config.HeartbeatInterval > 0 {
		heartbeatTicker := time.NewTicker(w.config.HeartbeatInterval)
		defer heartbeatTicker.Stop()
		heartbeat = heartbeatTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			if err := sub.Drain(); err != nil {
				log.Warn().Err(err).Msg("failed to drain subscription")
			}
			return ctx.Err()

		case <-heartbeat:
			sum := w.batchSizes.Summary()
			log.Info().
				Uint64("requests", w.requests.Load()).
				Uint64("positions", w.positions.Load()).
				Uint64("failures", w.failures.Load()).
				Float64("mean-batch-size", sum.Mean).
				Msg("worker-heartbeat")
		}
	}
}

// Handle scores one encoded request and returns the encoded reply. Failures
// are reported to the caller inside the reply.
func (w *EvalWorker) Handle(ctx context.Context, data []byte) []byte {
	w.requests.Add(1)
	reply, err := w.handle(ctx, data)
	if err != nil {
		w.failures.Add(1)
		log.Error().Err(err).Msg("evaluation request failed")
		return EncodeError(err)
	}
	return reply
}

func (w *EvalWorker) handle(ctx context.Context, data []byte) ([]byte, error) {
	positions, err := DecodeRequest(data)
	if err != nil {
		return nil, err
	}
	if w.config.MaxBatchSize > 0 && len(positions) > w.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", ErrBadPayload, len(positions), w.config.MaxBatchSize)
	}
	ctx, cancel := context.WithTimeout(ctx, w.config.EvalTimeout)
	defer cancel()
	scores, err := w.evaluator.ScoreBatch(ctx, positions)
	if err != nil {
		return nil, fmt.Errorf("failed to score batch: %w", err)
	}
	if len(scores) != len(positions) {
		return nil, fmt.Errorf("%w: %d positions, %d scores", ErrBadPayload, len(positions), len(scores))
	}
	w.positions.Add(uint64(len(positions)))
	w.batchSizes.Push(float64(len(positions)))
	return EncodeScores(scores)
}
