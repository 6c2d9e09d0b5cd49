package sdma_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdmakit/sdma/core/testenv"
	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
	"github.com/sdmakit/sdma/sdma/sdmasim"
)

var makeAR = testenv.MakeAR

const fragLen = 100

func waitCtx(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testenv.WaitTimeout)
	t.Cleanup(cancel)
	return ctx
}

// engineFixture runs one engine over simulated hardware.
type engineFixture struct {
	t       testing.TB
	assert  *assert.Assertions
	require *require.Assertions
	IOMMU   *dmamap.IOMMU
	HW      *sdmasim.Hardware
	Eng     *sdma.Engine
}

func newEngineFixture(t testing.TB, cfg sdma.Config) *engineFixture {
	assert, require := makeAR(t)
	f := &engineFixture{
		t:       t,
		assert:  assert,
		require: require,
		IOMMU:   dmamap.NewIOMMU(dmamap.IOMMUConfig{}),
	}
	f.HW = sdmasim.New(sdmasim.Config{IOMMU: f.IOMMU, CheckGeneration: true})

	if cfg.DescCount == 0 {
		cfg.DescCount = 64
	}
	eng, e := sdma.NewEngine(0, cfg, f.HW)
	require.NoError(e)
	f.Eng = eng
	f.HW.OnInterrupt(func(engine int, status uint64) { eng.Interrupt(status) })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testenv.WaitTimeout)
		defer cancel()
		assert.NoError(eng.Close(ctx))
	})
	return f
}

// Start brings the engine to Running.
func (f *engineFixture) Start() {
	f.Eng.FeedEvent(sdma.EventGoRunning)
	f.require.NoError(f.Eng.WaitState(waitCtx(f.t), sdma.StateRunning))
}

// MakeRequest builds a request of nFrags fragments.
func (f *engineFixture) MakeRequest(flags sdma.TxFlags, nFrags int, cb sdma.Callback) *sdma.TxRequest {
	req := sdma.NewTxRequest()
	f.require.NoError(req.Init(flags, nFrags*fragLen, cb))
	for range nFrags {
		f.require.NoError(req.AddBuffer(f.IOMMU, make([]byte, fragLen)))
	}
	return req
}

// SubmitN submits n single-fragment requests tagged with their index in Priv.
func (f *engineFixture) SubmitN(flags sdma.TxFlags, n int, rec *completionRecorder) {
	for i := range n {
		req := f.MakeRequest(flags, 1, rec.Callback)
		req.Priv = i
		f.require.NoError(f.Eng.Submit(req, nil))
	}
}

type completion struct {
	Priv   any
	SeqNum uint64
	Status sdma.Status
}

// completionRecorder collects completion callbacks.
type completionRecorder struct {
	mu   sync.Mutex
	list []completion
}

func (rec *completionRecorder) Callback(req *sdma.TxRequest, st sdma.Status) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.list = append(rec.list, completion{Priv: req.Priv, SeqNum: req.SeqNum(), Status: st})
}

func (rec *completionRecorder) Len() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.list)
}

func (rec *completionRecorder) List() []completion {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]completion(nil), rec.list...)
}

func (rec *completionRecorder) CountStatus(st sdma.Status) (n int) {
	for _, c := range rec.List() {
		if c.Status == st {
			n++
		}
	}
	return n
}

// wakeupRecorder collects wakeup callbacks.
type wakeupRecorder struct {
	mu      sync.Mutex
	order   []any
	reasons []sdma.WakeupReason
}

func (rec *wakeupRecorder) Wakeup(w *sdma.IoWait, reason sdma.WakeupReason) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.order = append(rec.order, w.Priv)
	rec.reasons = append(rec.reasons, reason)
}

func (rec *wakeupRecorder) Order() []any {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]any(nil), rec.order...)
}

func (rec *wakeupRecorder) Reasons() []sdma.WakeupReason {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]sdma.WakeupReason(nil), rec.reasons...)
}
