// Package stats keeps running statistics over observed values, such as the
// sizes of evaluation batches.
package stats

import (
	"math"
	"sync"
)

const (
	Epsilon = 1e-6
)

func FuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Statistic accumulates mean and variance with Welford's algorithm. It is
// not safe for concurrent use; see Running.
type Statistic struct {
	n    int
	last float64
	min  float64
	max  float64

	mean float64
	m2   float64
}

func (s *Statistic) Push(val float64) {
	s.last = val
	s.n++
	if s.n == 1 {
		s.mean = val
		s.m2 = 0
		s.min, s.max = val, val
		return
	}
	delta := val - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (val - s.mean)
	s.min = math.Min(s.min, val)
	s.max = math.Max(s.max, val)
}

func (s *Statistic) Mean() float64 {
	if s.n > 0 {
		return s.mean
	}
	return 0.0
}

func (s *Statistic) Variance() float64 {
	if s.n <= 1 {
		return 0.0
	}
	return s.m2 / float64(s.n-1)
}

func (s *Statistic) Stdev() float64 {
	return math.Sqrt(s.Variance())
}

func (s *Statistic) Last() float64 {
	return s.last
}

func (s *Statistic) Min() float64 {
	return s.min
}

func (s *Statistic) Max() float64 {
	return s.max
}

// StandardError returns the standard error of the mean.
func (s *Statistic) StandardError() float64 {
	if s.n == 0 {
		return 0.0
	}
	return math.Sqrt(s.Variance() / float64(s.n))
}

func (s *Statistic) Iterations() int {
	return s.n
}

// ConfidenceInterval returns the half-width of the two-sided interval
// around the mean at the given confidence (0-100).
func (s *Statistic) ConfidenceInterval(confidence float64) float64 {
	return ZVal(confidence) * s.StandardError()
}

// Summary is a point-in-time copy of a statistic.
type Summary struct {
	Count  int
	Mean   float64
	Stdev  float64
	Min    float64
	Max    float64
	CI95   float64
	Last   float64
	Sample []float64
}

// Running is a Statistic guarded by a mutex, optionally keeping the most
// recent values for display.
type Running struct {
	mu     sync.Mutex
	stat   Statistic
	sample []float64
	keep   int
	next   int
}

// NewRunning keeps up to keep recent values; zero keeps none.
func NewRunning(keep int) *Running {
	return &Running{keep: keep}
}

func (r *Running) Push(val float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stat.Push(val)
	if r.keep == 0 {
		return
	}
	if len(r.sample) < r.keep {
		r.sample = append(r.sample, val)
		return
	}
	r.sample[r.next] = val
	r.next = (r.next + 1) % r.keep
}

func (r *Running) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Count:  r.stat.Iterations(),
		Mean:   r.stat.Mean(),
		Stdev:  r.stat.Stdev(),
		Min:    r.stat.Min(),
		Max:    r.stat.Max(),
		CI95:   r.stat.ConfidenceInterval(95),
		Last:   r.stat.Last(),
		Sample: append([]float64(nil), r.sample...),
	}
}
