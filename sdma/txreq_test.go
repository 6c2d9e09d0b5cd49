package sdma_test

import (
	"testing"

	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
)

func TestTxRequestDescriptors(t *testing.T) {
	assert, require := makeAR(t)

	req := sdma.NewTxRequest()
	require.NoError(req.Init(sdma.TxUrgent, 300, nil))
	require.NoError(req.AddFragment(0x1000, 100))
	assert.Equal(200, req.Tlen())
	require.NoError(req.AddFragment(0x2000, 200))
	assert.Equal(0, req.Tlen())
	assert.Equal(300, req.PacketLen())
	require.Equal(2, req.NumDesc())

	d0, d1 := req.Desc(0), req.Desc(1)
	assert.True(d0.First())
	assert.False(d0.Last())
	assert.False(d0.IntReq())
	assert.EqualValues(0x1000, d0.Addr())
	assert.Equal(100, d0.Len())
	assert.False(d1.First())
	assert.True(d1.Last())
	assert.True(d1.HeadToHost())
	assert.True(d1.IntReq())
	assert.EqualValues(0x2000, d1.Addr())
	assert.Equal(200, d1.Len())
	assert.Equal("-LIH addr=0x2000 len=200 gen=0", d1.String())

	req.Clean()
	require.NoError(req.Init(0, 50, nil))
	require.NoError(req.AddFragment(0x3000, 50))
	assert.False(req.Desc(0).IntReq())
	assert.True(req.Desc(0).First())
	assert.True(req.Desc(0).Last())
}

func TestTxRequestLength(t *testing.T) {
	assert, require := makeAR(t)

	req := sdma.NewTxRequest()
	assert.ErrorIs(req.Init(0, 0, nil), sdma.ErrNoData)
	assert.ErrorIs(req.Init(0, sdma.MaxPacketLen+1, nil), sdma.ErrMsgSize)
	assert.ErrorIs(req.AddFragment(0x1000, 10), sdma.ErrNoData)

	require.NoError(req.Init(0, 100, nil))
	assert.ErrorIs(req.AddFragment(0x1000, 101), sdma.ErrOverLength)
	assert.ErrorIs(req.AddFragment(0x1000, 0), sdma.ErrOverLength)
	require.NoError(req.AddFragment(0x1000, 60))
	assert.ErrorIs(req.AddFragment(0x1000, 41), sdma.ErrOverLength)
	assert.Equal(1, req.NumDesc())
	assert.Equal(40, req.Tlen())
}

func TestTxRequestMaxDescLen(t *testing.T) {
	assert, require := makeAR(t)

	req := sdma.NewTxRequest()
	require.NoError(req.Init(0, sdma.MaxDescLen, nil))
	require.NoError(req.AddFragment(0x1000, sdma.MaxDescLen))
	require.Equal(1, req.NumDesc())
	assert.Equal(16383, req.Desc(0).Len())
	assert.Equal(0, req.Tlen())
	assert.True(req.Desc(0).First())
	assert.True(req.Desc(0).Last())
	assert.False(req.Desc(0).IntReq())

	req.Clean()
	require.NoError(req.Init(0, sdma.MaxDescLen, nil))
	assert.ErrorIs(req.AddFragment(0x1000, sdma.MaxDescLen+1), sdma.ErrOverLength)
	assert.Equal(0, req.NumDesc())
}

func TestTxRequestExtend(t *testing.T) {
	assert, require := makeAR(t)

	req := sdma.NewTxRequest()
	require.NoError(req.Init(0, sdma.MaxDesc+1, nil))
	for i := range sdma.NumInlineDesc {
		require.NoError(req.AddFragment(uint64(0x1000+i), 1))
	}
	assert.False(req.Extended())

	require.NoError(req.AddFragment(0x2000, 1))
	assert.True(req.Extended())
	assert.Equal(sdma.NumInlineDesc+1, req.NumDesc())
	assert.True(req.Desc(0).First())
	assert.EqualValues(0x1005, req.Desc(5).Addr())

	for i := req.NumDesc(); i < sdma.MaxDesc; i++ {
		require.NoError(req.AddFragment(0x3000, 1))
	}
	assert.Equal(sdma.MaxDesc, req.NumDesc())
	assert.ErrorIs(req.AddFragment(0x4000, 1), sdma.ErrNoMem)
	assert.ErrorIs(req.AddFragment(0x4000, 1), sdma.ErrUnusable)

	req.Clean()
	assert.False(req.Extended())
	assert.Equal(0, req.NumDesc())
	require.NoError(req.Init(0, 10, nil))
	require.NoError(req.AddFragment(0x5000, 10))
}

func TestTxRequestMapping(t *testing.T) {
	assert, require := makeAR(t)
	iommu := dmamap.NewIOMMU(dmamap.IOMMUConfig{})

	req := sdma.NewTxRequest()
	require.NoError(req.Init(0, 2*fragLen, nil))
	require.NoError(req.AddBuffer(iommu, make([]byte, fragLen)))
	require.NoError(req.AddBuffer(iommu, make([]byte, fragLen)))
	assert.Equal(2, iommu.Outstanding())
	assert.NotZero(req.Desc(0).Addr())

	req.Clean()
	assert.Equal(0, iommu.Outstanding())
	req.Clean()
	cnt := iommu.Counters()
	assert.EqualValues(2, cnt.Unmapped)
	assert.EqualValues(0, cnt.BadUnmaps)
}

func TestTxRequestAHG(t *testing.T) {
	assert, require := makeAR(t)

	req := sdma.NewTxRequest()
	require.NoError(req.InitAHG(sdma.TxAHGCopy, 100, 7, nil, 0, nil))
	assert.Equal(0, req.NumDesc())
	assert.Equal(sdma.AHGCopy, req.AHGMode())
	assert.Equal(7, req.AHGIndex())

	diffs := []uint32{0xA0, 0xA1, 0xA2, 0xA3, 0xA4}
	require.NoError(req.InitAHG(sdma.TxUseAHG, 100, 3, diffs, 40, nil))
	require.Equal(2, req.NumDesc())
	d0 := req.Desc(0)
	assert.Equal(sdma.AHGUpdate2, d0.AHGMode())
	assert.Equal(3, d0.AHGIndex())
	assert.Equal(10, d0.HeaderDwords())
	assert.EqualValues(0xA0, d0.Update1())
	assert.Equal(1, d0.EditDescs())
	edit := req.Desc(1)
	assert.EqualValues(0xA1, uint32(edit.QW[0]))
	assert.EqualValues(0xA2, uint32(edit.QW[0]>>32))
	assert.EqualValues(0xA3, uint32(edit.QW[1]))
	assert.EqualValues(0xA4, uint32(edit.QW[1]>>32))

	require.NoError(req.AddFragment(0x1000, 100))
	assert.Equal(3, req.NumDesc())
	assert.True(req.Desc(2).Last())

	require.NoError(req.InitAHG(sdma.TxUseAHG, 100, 0, []uint32{1}, 20, nil))
	assert.Equal(1, req.NumDesc())
	assert.Equal(sdma.AHGUpdate1, req.Desc(0).AHGMode())

	require.NoError(req.InitAHG(sdma.TxUseAHG, 100, 0, make([]uint32, 9), 20, nil))
	assert.Equal(3, req.NumDesc())
	assert.Equal(sdma.AHGUpdate3, req.Desc(0).AHGMode())

	assert.ErrorIs(req.InitAHG(sdma.TxUseAHG, 100, 0, make([]uint32, 10), 20, nil), sdma.ErrInvalidAHG)
	assert.ErrorIs(req.InitAHG(sdma.TxUseAHG, 100, 32, []uint32{1}, 20, nil), sdma.ErrInvalidAHG)
	assert.ErrorIs(req.InitAHG(sdma.TxUseAHG, 100, -1, []uint32{1}, 20, nil), sdma.ErrInvalidAHG)
}

func TestTxList(t *testing.T) {
	assert, require := makeAR(t)

	var list sdma.TxList
	req0, req1 := sdma.NewTxRequest(), sdma.NewTxRequest()
	require.NoError(list.PushBack(req0))
	require.NoError(list.PushBack(req1))
	assert.ErrorIs(list.PushBack(req0), sdma.ErrInUse)
	assert.Equal(2, list.Len())

	w := &sdma.IoWait{}
	assert.ErrorIs(w.Queue(req0), sdma.ErrInUse)
	assert.ErrorIs(req0.Init(0, 10, nil), sdma.ErrInUse)

	assert.Same(req0, list.PopFront())
	assert.Same(req1, list.Front())
	require.NoError(w.Queue(req0))
	assert.Equal(1, w.NumPending())
	assert.Same(req0, w.Dequeue())
	require.NoError(w.Requeue(req0))
	assert.Same(req0, w.Dequeue())
	assert.Nil(w.Dequeue())
}
