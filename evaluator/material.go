package evaluator

import (
	"context"

	"github.com/domino14/gambit/position"
)

var pieceValues = [...]float32{
	position.NoKind: 0,
	position.Pawn:   100,
	position.Knight: 320,
	position.Bishop: 330,
	position.Rook:   500,
	position.Queen:  900,
	position.King:   0,
}

// Material counts centipawns.
type Material struct{}

func (Material) ScoreBatch(ctx context.Context, positions []position.Position) ([]float32, error) {
	out := make([]float32, len(positions))
	for i, p := range positions {
		sq, err := placement(p)
		if err != nil {
			return nil, err
		}
		var score float32
		for _, pc := range sq {
			if pc.White() {
				score += pieceValues[pc.Kind()]
			} else {
				score -= pieceValues[pc.Kind()]
			}
		}
		out[i] = sideRelative(p, score)
	}
	return out, nil
}
