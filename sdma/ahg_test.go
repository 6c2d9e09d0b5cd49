package sdma_test

import (
	"slices"
	"sync"
	"testing"

	"github.com/sdmakit/sdma/sdma"
)

func TestAHGAlloc(t *testing.T) {
	assert, require := makeAR(t)
	f := newEngineFixture(t, sdma.Config{})

	for i := range sdma.MaxAHGEntries {
		index, e := f.Eng.AllocAHG()
		require.NoError(e)
		assert.Equal(i, index)
	}
	_, e := f.Eng.AllocAHG()
	assert.ErrorIs(e, sdma.ErrNoSpace)
	assert.Equal(32, f.Eng.AHGInUse())

	freed := []int{3, 7, 11, 20, 31}
	for _, index := range freed {
		f.Eng.FreeAHG(index)
	}
	f.Eng.FreeAHG(-1)
	f.Eng.FreeAHG(32)
	assert.Equal(27, f.Eng.AHGInUse())

	var again []int
	for range freed {
		index, e := f.Eng.AllocAHG()
		require.NoError(e)
		again = append(again, index)
	}
	assert.Equal(freed, again)
	_, e = f.Eng.AllocAHG()
	assert.ErrorIs(e, sdma.ErrNoSpace)
}

func TestAHGConfig(t *testing.T) {
	assert, require := makeAR(t)

	f := newEngineFixture(t, sdma.Config{DisableAHG: true})
	_, e := f.Eng.AllocAHG()
	assert.ErrorIs(e, sdma.ErrUnsupported)

	f = newEngineFixture(t, sdma.Config{AHGEntries: 4})
	for range 4 {
		_, e := f.Eng.AllocAHG()
		require.NoError(e)
	}
	_, e = f.Eng.AllocAHG()
	assert.ErrorIs(e, sdma.ErrNoSpace)
}

func TestAHGConcurrent(t *testing.T) {
	assert, _ := makeAR(t)
	f := newEngineFixture(t, sdma.Config{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var all []int
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 8 {
				index, e := f.Eng.AllocAHG()
				assert.NoError(e)
				mu.Lock()
				all = append(all, index)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slices.Sort(all)
	assert.Len(slices.Compact(all), 32)
}

func TestAHGRelease(t *testing.T) {
	assert, require := makeAR(t)
	f := newEngineFixture(t, sdma.Config{})
	f.Start()

	index, e := f.Eng.AllocAHG()
	require.NoError(e)

	var rec completionRecorder
	req := sdma.NewTxRequest()
	require.NoError(req.InitAHG(sdma.TxAHGCopy|sdma.TxReleaseAHG|sdma.TxUrgent, fragLen, index, nil, 0, rec.Callback))
	require.NoError(req.AddBuffer(f.IOMMU, make([]byte, fragLen)))
	require.NoError(f.Eng.Submit(req, nil))
	assert.Equal(1, f.Eng.AHGInUse())

	consumed := f.HW.Consume(0, 1)
	assert.Equal(1, consumed)
	assert.Equal(1, rec.Len())
	assert.Equal(0, f.Eng.AHGInUse())
	d := f.HW.Consumed(0)[0]
	assert.Equal(sdma.AHGCopy, d.AHGMode())
	assert.Equal(index, d.AHGIndex())
}
