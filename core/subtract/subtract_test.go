package subtract_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/runningstat"
	"github.com/sdmakit/sdma/core/subtract"
	"github.com/sdmakit/sdma/core/testenv"
)

var makeAR = testenv.MakeAR

type inner struct {
	U uint32
}

type counters struct {
	I    int64
	U    uint64
	A    [2]int32
	In   inner
	Stat runningstat.Snapshot
	Name string
	Skip int `subtract:"-"`
	priv int
}

func TestSub(t *testing.T) {
	assert, _ := makeAR(t)

	var rs runningstat.RunningStat
	rs.Init(1)
	rs.Push(2)
	prevStat := rs.Read()
	rs.Push(4)
	rs.Push(6)

	curr := counters{I: -5, U: 5, A: [2]int32{50, -500}, In: inner{700}, Stat: rs.Read(), Name: "curr", Skip: 9, priv: 9}
	prev := counters{I: -3, U: 3, A: [2]int32{30, -300}, In: inner{400}, Stat: prevStat, Name: "prev", Skip: 1, priv: 1}
	diff := subtract.Sub(curr, prev)
	assert.EqualValues(-2, diff.I)
	assert.EqualValues(2, diff.U)
	assert.Equal([2]int32{20, -200}, diff.A)
	assert.EqualValues(300, diff.In.U)
	assert.EqualValues(2, diff.Stat.Count)
	assert.InDelta(5.0, diff.Stat.Mean, 1e-9)
	assert.Equal("", diff.Name)
	assert.Zero(diff.Skip)
	assert.Zero(diff.priv)

	negative := subtract.Sub(counters{}, curr)
	assert.EqualValues(5, negative.I)
	assert.EqualValues(^uint64(4), negative.U)
}
