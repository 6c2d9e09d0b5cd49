// Package runningstat implements Knuth and Welford's method for computing the standard deviation.
package runningstat

import (
	binutils "github.com/jfoster/binary-utilities"
	"github.com/zyedidia/generic"
)

// RunningStat collects statistics and allows computing mean and variance.
// Algorithm comes from https://www.johndcook.com/blog/standard_deviation/ .
//
// RunningStat is not thread-safe.
type RunningStat struct {
	i    uint64 // count of inputs
	n    uint64 // count of samples
	mask uint64 // sample when i&mask==0
	m1   float64
	m2   float64
	min  uint64
	max  uint64
}

// Init initializes the instance and clears existing data.
// sampleInterval: how often to collect sample, will be adjusted to nearest power of two and truncated between 1 and 2^30.
func (s *RunningStat) Init(sampleInterval int) {
	*s = RunningStat{
		mask: generic.Clamp(uint64(binutils.NearPowerOfTwo(int64(sampleInterval))), 1, 1<<30) - 1,
	}
}

// Push adds an input.
func (s *RunningStat) Push(x uint64) {
	s.i++
	if (s.i-1)&s.mask != 0 {
		return
	}
	s.n++
	if s.n == 1 {
		s.m1, s.m2 = float64(x), 0
		s.min, s.max = x, x
		return
	}
	s.min, s.max = generic.Min(s.min, x), generic.Max(s.max, x)
	xf := float64(x)
	delta := xf - s.m1
	s.m1 += delta / float64(s.n)
	s.m2 += delta * (xf - s.m1)
}

// Read returns current counters as Snapshot.
func (s RunningStat) Read() Snapshot {
	return newSnapshot(s.i, s.n, s.m1, s.m2, true, s.min, s.max)
}
