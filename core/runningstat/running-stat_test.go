package runningstat_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/runningstat"
	"github.com/sdmakit/sdma/core/testenv"
)

var makeAR = testenv.MakeAR

func TestRunningStat(t *testing.T) {
	assert, require := makeAR(t)

	var s runningstat.RunningStat
	s.Init(1)
	for _, x := range []uint64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Push(x)
	}

	snap := s.Read()
	assert.EqualValues(8, snap.Count)
	assert.EqualValues(8, snap.Len)
	assert.InDelta(5.0, snap.Mean, 1e-9)
	assert.InDelta(32.0/7.0, snap.Variance, 1e-9)
	require.NotNil(snap.Min)
	require.NotNil(snap.Max)
	assert.EqualValues(2, *snap.Min)
	assert.EqualValues(9, *snap.Max)

	var s2 runningstat.RunningStat
	s2.Init(1)
	s2.Push(1)
	s2.Push(11)
	combined := snap.Add(s2.Read())
	assert.EqualValues(10, combined.Count)
	assert.InDelta(5.2, combined.Mean, 1e-9)
	assert.EqualValues(1, *combined.Min)
	assert.EqualValues(11, *combined.Max)
}

func TestSampling(t *testing.T) {
	assert, _ := makeAR(t)

	var s runningstat.RunningStat
	s.Init(4)
	for x := range uint64(16) {
		s.Push(x)
	}
	snap := s.Read()
	assert.EqualValues(16, snap.Count)
	assert.EqualValues(4, snap.Len)
	assert.InDelta(6.0, snap.Mean, 1e-9) // samples 0, 4, 8, 12

	var empty runningstat.RunningStat
	empty.Init(0)
	assert.Nil(empty.Read().Min)
	assert.Equal(snap, runningstat.Snapshot{}.Add(snap))
}

func TestSub(t *testing.T) {
	assert, _ := makeAR(t)

	var s runningstat.RunningStat
	s.Init(1)
	for _, x := range []uint64{2, 4, 4, 4} {
		s.Push(x)
	}
	prev := s.Read()
	for _, x := range []uint64{5, 5, 7, 9} {
		s.Push(x)
	}

	diff := s.Read().Sub(prev)
	assert.EqualValues(4, diff.Count)
	assert.EqualValues(4, diff.Len)
	assert.InDelta(6.5, diff.Mean, 1e-9)
	assert.InDelta(11.0/3.0, diff.Variance, 1e-9)
	assert.Nil(diff.Min)

	assert.Zero(prev.Sub(prev).Len)
}
