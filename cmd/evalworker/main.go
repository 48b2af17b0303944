package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/evaluator"
	"github.com/domino14/gambit/worker"
)

func main() {
	cfg := config.DefaultConfig()
	if err := cfg.Load(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	workerConfig := worker.DefaultWorkerConfig(&cfg)

	// The worker serves a local evaluator; forwarding to another worker
	// would loop.
	if cfg.GetString(config.ConfigEvaluator) == "nats" {
		log.Fatal().Msg("evalworker needs a local evaluator (material, pst or onnx)")
	}
	ev, err := evaluator.New(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build evaluator")
	}

	nc, err := nats.Connect(workerConfig.NatsURL, nats.Name("gambit-evalworker"))
	if err != nil {
		log.Fatal().Err(err).Str("nats-url", workerConfig.NatsURL).Msg("failed to connect")
	}
	defer nc.Close()

	w := worker.NewEvalWorker(workerConfig, nc, ev)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker failed")
	}

	log.Info().Msg("evaluation worker stopped")
}
