package cache

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/domino14/gambit/position"
)

// Scorer resolves a single position, typically through the batching
// evaluation service.
type Scorer interface {
	Evaluate(ctx context.Context, p position.Position) (float32, error)
}

// Memo is the cache-or-evaluate step used at search leaves. Concurrent
// misses on the same fingerprint share one evaluation.
type Memo struct {
	cache    PositionCache
	scorer   Scorer
	inflight singleflight.Group
}

func NewMemo(c PositionCache, s Scorer) *Memo {
	return &Memo{cache: c, scorer: s}
}

func (m *Memo) Cache() PositionCache {
	return m.cache
}

// errLeaderCancelled marks a flight that failed because the caller that
// started it was cancelled, not because evaluation failed.
var errLeaderCancelled = errors.New("evaluation abandoned by its caller")

func (m *Memo) Evaluate(ctx context.Context, p position.Position) (float32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fp := p.Fingerprint()
	if score, ok := m.cache.Get(fp); ok {
		return score, nil
	}
	key := strconv.FormatUint(fp, 16)
	for {
		ch := m.inflight.DoChan(key, func() (interface{}, error) {
			// a flight for this key may have finished since our lookup
			if score, ok := m.cache.Get(fp); ok {
				return score, nil
			}
			score, err := m.scorer.Evaluate(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return nil, errLeaderCancelled
				}
				return nil, err
			}
			m.cache.Put(fp, score)
			return score, nil
		})
		select {
		case res := <-ch:
			if errors.Is(res.Err, errLeaderCancelled) {
				if err := ctx.Err(); err != nil {
					return 0, err
				}
				// the caller that started the flight was cancelled and we
				// were not, so start a new one
				continue
			}
			if res.Err != nil {
				return 0, res.Err
			}
			return res.Val.(float32), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
