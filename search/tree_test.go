package search

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"lukechampine.com/frand"

	"github.com/domino14/gambit/position"
)

// node is a hand-built or random game tree used to check the search
// against a plain sequential alpha-beta.
type node struct {
	id       uint64
	children []*node
	value    float32
	outcome  position.Outcome
	bad      bool
}

type treeMove int

func (m treeMove) String() string { return strconv.Itoa(int(m)) }

type treePos struct{ n *node }

func (p treePos) LegalMoves() []position.Move {
	moves := make([]position.Move, len(p.n.children))
	for i := range p.n.children {
		moves[i] = treeMove(i)
	}
	return moves
}

func (p treePos) Apply(m position.Move) (position.Position, error) {
	idx, ok := m.(treeMove)
	if !ok || p.n.bad || int(idx) < 0 || int(idx) >= len(p.n.children) {
		return nil, fmt.Errorf("%w: %v at node %d", position.ErrIllegalMove, m, p.n.id)
	}
	return treePos{p.n.children[idx]}, nil
}

func (p treePos) Outcome() position.Outcome { return p.n.outcome }
func (p treePos) Fingerprint() uint64        { return p.n.id }
func (p treePos) WhiteToMove() bool          { return true }
func (p treePos) String() string             { return "node-" + strconv.FormatUint(p.n.id, 10) }

func leaf(id uint64, v float32) *node {
	return &node{id: id, value: v}
}

func testRNG(seed byte) *frand.RNG {
	s := make([]byte, 32)
	s[0] = seed
	return frand.NewCustom(s, 1024, 12)
}

// randomTree builds a tree with uneven branching, early leaves and the
// occasional decided position.
func randomTree(rng *frand.RNG, depth int, next *uint64) *node {
	*next++
	n := &node{id: *next, value: float32(rng.Intn(2001) - 1000)}
	if depth > 0 && rng.Intn(25) == 0 {
		n.outcome = []position.Outcome{position.Win, position.Loss, position.Draw}[rng.Intn(3)]
		return n
	}
	if depth == 0 || rng.Intn(12) == 0 {
		return n
	}
	branching := rng.Intn(5) + 1
	for i := 0; i < branching; i++ {
		n.children = append(n.children, randomTree(rng, depth-1, next))
	}
	return n
}

type treeScorer struct {
	calls    atomic.Int64
	inflight atomic.Int64
}

func (s *treeScorer) Evaluate(ctx context.Context, p position.Position) (float32, error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.(treePos).n.value, nil
}

// alphaBeta is the textbook sequential fail-soft search.
func alphaBeta(p position.Position, depth int, α, β float32, eval func(position.Position) float32) float32 {
	switch p.Outcome() {
	case position.Win:
		return WinScore
	case position.Loss:
		return -WinScore
	case position.Draw:
		return 0
	}
	var moves []position.Move
	if depth > 0 {
		moves = p.LegalMoves()
	}
	if len(moves) == 0 {
		return clampEval(eval(p))
	}
	best := negInf
	for _, m := range moves {
		c, err := p.Apply(m)
		if err != nil {
			panic(err)
		}
		score := -alphaBeta(c, depth-1, -β, -α, eval)
		best = max(best, score)
		α = max(α, score)
		if α >= β {
			break
		}
	}
	return best
}

func treeEval(p position.Position) float32 {
	return p.(treePos).n.value
}
