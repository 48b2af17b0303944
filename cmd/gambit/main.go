package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/domino14/gambit/agent"
	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/position"
)

func printBatchHistogram(w io.Writer, st agent.Stats) {
	bs := st.Service.BatchSize
	fmt.Fprintf(w, "evaluator calls: %d, positions: %d, dropped: %d\n",
		st.Service.Calls, st.Service.Positions, st.Service.Dropped)
	fmt.Fprintf(w, "batch size: mean %.2f ± %.2f (95%%), min %.0f, max %.0f\n",
		bs.Mean, bs.CI95, bs.Min, bs.Max)
	fmt.Fprintf(w, "cache: %d entries, hit rate %.3f\n", st.CacheLen, st.Cache.HitRate())
	if len(bs.Sample) == 0 {
		return
	}
	if err := histogram.Fprint(w, histogram.Hist(10, bs.Sample), histogram.Linear(40)); err != nil {
		log.Err(err).Msg("histogram")
	}
}

func main() {
	fs := config.NewFlagSet("gambit")
	fen := fs.String("fen", "", "position to search (default: the starting position)")
	analyze := fs.Bool("analyze", false, "print the score of every root move")

	cfg := config.DefaultConfig()
	if err := cfg.LoadFlags(fs, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var pos position.Position = position.StartingPosition()
	if *fen != "" {
		p, err := position.FromFEN(*fen)
		if err != nil {
			log.Fatal().Err(err).Msg("bad-position")
		}
		pos = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build agent")
	}
	defer a.Close()

	depth := cfg.GetInt(config.ConfigDepth)
	res, scores, err := a.Analyze(ctx, pos, depth)
	if err != nil {
		log.Error().Err(err).Msg("search failed")
		return
	}
	if res.Move == nil {
		fmt.Printf("no move (%s), score %.1f\n", pos.Outcome(), res.Score)
	} else {
		fmt.Printf("bestmove %s score %.1f depth %d nodes %d time %s\n",
			res.Move, res.Score, res.Depth, res.Nodes, res.Elapsed)
	}
	if *analyze {
		for _, ms := range scores {
			bound := ""
			if !ms.Exact {
				bound = " (upper bound)"
			}
			fmt.Printf("  %-6s %10.1f%s\n", ms.Move, ms.Score, bound)
		}
	}
	printBatchHistogram(os.Stdout, a.Stats())
}
