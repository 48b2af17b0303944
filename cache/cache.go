// Package cache memoizes leaf evaluations by position fingerprint.
//
// Entries are never invalidated: the evaluation of a fingerprint does not
// change for the life of a cache, so any stored score is current.
package cache

import (
	"sync"
	"sync/atomic"
)

// PositionCache maps fingerprints to scores. Implementations are safe for
// concurrent use.
type PositionCache interface {
	Get(fp uint64) (float32, bool)
	Put(fp uint64, score float32)
	Len() int
	Stats() Stats
}

type Stats struct {
	Hits   uint64
	Misses uint64
	Puts   uint64
}

// HitRate is the fraction of lookups that hit.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

const numShards = 64

type shard struct {
	sync.RWMutex
	scores map[uint64]float32
}

// Sharded is an unbounded cache split into independently locked shards.
type Sharded struct {
	shards [numShards]shard

	hits   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
}

func NewSharded() *Sharded {
	s := &Sharded{}
	for i := range s.shards {
		s.shards[i].scores = make(map[uint64]float32)
	}
	return s
}

func (s *Sharded) shardFor(fp uint64) *shard {
	// zobrist keys are uniform, but mix the high bits in anyway
	return &s.shards[(fp^(fp>>32))%numShards]
}

func (s *Sharded) Get(fp uint64) (float32, bool) {
	sh := s.shardFor(fp)
	sh.RLock()
	score, ok := sh.scores[fp]
	sh.RUnlock()
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return score, ok
}

func (s *Sharded) Put(fp uint64, score float32) {
	sh := s.shardFor(fp)
	sh.Lock()
	sh.scores[fp] = score
	sh.Unlock()
	s.puts.Add(1)
}

func (s *Sharded) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].RLock()
		n += len(s.shards[i].scores)
		s.shards[i].RUnlock()
	}
	return n
}

func (s *Sharded) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Puts:   s.puts.Load(),
	}
}
