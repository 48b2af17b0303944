package cache

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
)

// bytes per cached score including ristretto's bookkeeping, roughly
const approxEntrySize = 96

// Bounded is a size-limited cache. It may drop entries, but it never holds
// more than one score per fingerprint, so a hit is never stale.
type Bounded struct {
	c          *ristretto.Cache[uint64, float32]
	maxEntries int64

	hits   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
}

func NewBounded(maxEntries int64) (*Bounded, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("bounded cache needs at least one entry, got %d", maxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, float32]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Bounded{c: c, maxEntries: maxEntries}, nil
}

// SizeFromMemory returns the number of entries that fit in the given
// fraction of system memory.
func SizeFromMemory(fractionOfMemory float64) int64 {
	totalMem := memory.TotalMemory()
	n := int64(fractionOfMemory * float64(totalMem) / approxEntrySize)
	if n < 1024 {
		n = 1024
	}
	log.Info().Int64("num-entries", n).
		Uint64("total-system-memory-bytes", totalMem).
		Float64("fraction", fractionOfMemory).
		Msg("bounded-cache-size")
	return n
}

func (b *Bounded) Get(fp uint64) (float32, bool) {
	score, ok := b.c.Get(fp)
	if ok {
		b.hits.Add(1)
	} else {
		b.misses.Add(1)
	}
	return score, ok
}

// Put stores the score and waits until it is visible to Get. The admission
// policy may still reject it, which only costs a later miss.
func (b *Bounded) Put(fp uint64, score float32) {
	b.c.Set(fp, score, 1)
	b.c.Wait()
	b.puts.Add(1)
}

func (b *Bounded) Len() int {
	m := b.c.Metrics
	n := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	if n < 0 {
		return 0
	}
	if n > b.maxEntries {
		return int(b.maxEntries)
	}
	return int(n)
}

func (b *Bounded) Stats() Stats {
	return Stats{
		Hits:   b.hits.Load(),
		Misses: b.misses.Load(),
		Puts:   b.puts.Load(),
	}
}

func (b *Bounded) Close() {
	b.c.Close()
}
