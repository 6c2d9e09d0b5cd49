package dmamap_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/testenv"
	"github.com/sdmakit/sdma/dmamap"
)

var makeAR = testenv.MakeAR

func TestMapping(t *testing.T) {
	assert, require := makeAR(t)

	u := dmamap.NewIOMMU(dmamap.IOMMUConfig{Base: 0x10000, Align: 1000, Limit: 2})

	bufA := []byte{0xA0, 0xA1, 0xA2}
	mpA, e := dmamap.Map(u, bufA)
	require.NoError(e)
	assert.EqualValues(0x10000, mpA.Addr())
	assert.Equal(3, mpA.Len())

	bufB := make([]byte, 5000)
	bufB[4999] = 0xBB
	mpB, e := dmamap.Map(u, bufB)
	require.NoError(e)
	assert.EqualValues(0x10400, mpB.Addr()) // Align rounded up to 1024

	_, e = dmamap.Map(u, []byte{1})
	assert.ErrorIs(e, dmamap.ErrNoMem)
	_, e = dmamap.Map(u, nil)
	assert.ErrorIs(e, dmamap.ErrEmpty)

	b, e := u.Read(mpA.Addr()+1, 2)
	require.NoError(e)
	assert.Equal([]byte{0xA1, 0xA2}, b)
	b, e = u.Read(mpB.Addr()+4999, 1)
	require.NoError(e)
	assert.Equal([]byte{0xBB}, b)
	_, e = u.Read(mpA.Addr()+2, 2)
	assert.ErrorIs(e, dmamap.ErrNoRange)
	_, e = u.Read(0x1, 1)
	assert.ErrorIs(e, dmamap.ErrNoRange)

	assert.Equal(2, u.Outstanding())
	assert.True(mpA.Release())
	assert.False(mpA.Release())
	assert.True(mpA.Released())
	assert.Equal(1, u.Outstanding())

	_, e = u.Read(mpA.Addr(), 1)
	assert.ErrorIs(e, dmamap.ErrNoRange)

	u.Unmap(mpB.Addr(), 1)
	assert.Equal(1, u.Outstanding())
	assert.True(mpB.Release())
	assert.Equal(0, u.Outstanding())

	cnt := u.Counters()
	assert.EqualValues(2, cnt.Mapped)
	assert.EqualValues(2, cnt.Unmapped)
	assert.EqualValues(1, cnt.BadUnmaps)

	var nilMapping *dmamap.Mapping
	assert.False(nilMapping.Release())
}
