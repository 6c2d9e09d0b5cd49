package sdmasim_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/testenv"
	"github.com/sdmakit/sdma/csr"
	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
	"github.com/sdmakit/sdma/sdma/sdmasim"
)

var makeAR = testenv.MakeAR

func TestControl(t *testing.T) {
	assert, _ := makeAR(t)
	hw := sdmasim.New(sdmasim.Config{})

	hw.Write(1, csr.Ctrl, csr.CtrlHalt)
	assert.True(hw.Halted(1))
	assert.Equal(csr.StatusHalted|csr.StatusIdle, hw.Read(1, csr.Status))

	hw.Write(1, csr.Ctrl, csr.CtrlCleanup)
	assert.False(hw.Halted(1))
	assert.Equal(csr.StatusCleanDone|csr.StatusIdle, hw.Read(1, csr.Status))

	hw.Write(1, csr.Ctrl, csr.CtrlEnable)
	assert.Equal(csr.StatusIdle, hw.Read(1, csr.Status))

	hw.SetHaltStuck(1, true)
	hw.Write(1, csr.Ctrl, csr.CtrlHalt)
	assert.False(hw.Halted(1))

	hw.InjectHalt(3, sdma.IntErrLength)
	assert.True(hw.Halted(3))
	assert.Equal(sdma.IntErrLength, hw.Read(3, csr.ErrStatus))
	hw.Write(3, csr.Ctrl, csr.CtrlCleanup)
	assert.Zero(hw.Read(3, csr.ErrStatus))

	hw.Write(0, csr.RingLen, 64)
	assert.EqualValues(64, hw.Read(0, csr.RingLen))
	assert.Zero(hw.Read(2, csr.ErrStatus))
}

func TestConsume(t *testing.T) {
	assert, require := makeAR(t)
	iommu := dmamap.NewIOMMU(dmamap.IOMMUConfig{})
	hw := sdmasim.New(sdmasim.Config{IOMMU: iommu, InterruptEveryPacket: true})

	eng, e := sdma.NewEngine(0, sdma.Config{DescCount: 16}, hw)
	require.NoError(e)
	defer eng.Close(t.Context())

	var irqs []uint64
	var frames [][]byte
	hw.OnInterrupt(func(engine int, status uint64) {
		irqs = append(irqs, status)
		eng.Interrupt(status)
	})
	hw.OnWire(func(engine int, frame []byte) { frames = append(frames, frame) })

	eng.FeedEvent(sdma.EventGoRunning)
	require.NoError(eng.WaitState(t.Context(), sdma.StateRunning))

	for i := range 3 {
		req := sdma.NewTxRequest()
		require.NoError(req.Init(0, 2, nil))
		require.NoError(req.AddBuffer(iommu, []byte{byte(i), 0xEE}))
		require.NoError(eng.Submit(req, nil))
	}
	assert.Equal(3, hw.Pending(0))
	assert.Equal(0, hw.Consume(1, 10))

	assert.Equal(2, hw.Consume(0, 2))
	assert.Equal([]uint64{sdma.IntProgress}, irqs)
	assert.Equal(1, hw.Pending(0))
	assert.EqualValues(2, hw.Read(0, csr.Head))
	assert.EqualValues(2, eng.Ring().HeadDMA())

	assert.Equal(1, hw.Consume(0, 2))
	assert.Equal([]uint64{sdma.IntProgress, sdma.IntProgress | sdma.IntIdle}, irqs)
	assert.Equal([][]byte{{0, 0xEE}, {1, 0xEE}, {2, 0xEE}}, frames)
	assert.Equal(3, hw.Frames(0))
	assert.Len(hw.Consumed(0), 3)
	assert.True(eng.IsEmpty())

	hw.InjectHalt(0, sdma.IntErrParity)
	assert.Equal(sdma.IntHalt|sdma.IntErrParity, irqs[2])
	require.NoError(eng.WaitState(t.Context(), sdma.StateRunning))
	testenv.Eventually(require, func() bool { return !hw.Halted(0) })
}
