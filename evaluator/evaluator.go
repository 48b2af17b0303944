// Package evaluator holds the static and learned scoring functions the
// search resolves its leaves with. Every Evaluator scores a batch of
// positions in one call; scores are relative to the side to move.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/domino14/gambit/position"
)

var (
	ErrNoPlacement = errors.New("position does not expose its piece placement")
	ErrUnknownKind = errors.New("unknown evaluator")
)

// Evaluator maps a batch of positions to one score per position, in input
// order. It must accept a batch of size 1. Implementations need not be
// reentrant; the evaluation service never calls one concurrently.
type Evaluator interface {
	ScoreBatch(ctx context.Context, positions []position.Position) ([]float32, error)
}

// Func scores positions one at a time.
type Func func(position.Position) float32

func (f Func) ScoreBatch(ctx context.Context, positions []position.Position) ([]float32, error) {
	out := make([]float32, len(positions))
	for i, p := range positions {
		out[i] = f(p)
	}
	return out, nil
}

func placement(p position.Position) ([64]position.Piece, error) {
	pl, ok := p.(position.Placement)
	if !ok {
		return [64]position.Piece{}, fmt.Errorf("%w: %T", ErrNoPlacement, p)
	}
	return pl.Squares(), nil
}

// sideRelative flips a white-relative score for the side to move.
func sideRelative(p position.Position, whiteScore float32) float32 {
	if p.WhiteToMove() {
		return whiteScore
	}
	return -whiteScore
}
