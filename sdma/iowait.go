package sdma

import (
	"context"
	"sync"

	"github.com/zyedidia/generic/list"
)

// SleepFunc is invoked when a request does not fit in the descriptor ring.
// It runs with the engine lock held and must not block or call Engine methods.
// Calling park registers the IoWait on the engine's parked-producer list.
// A non-nil return value replaces ErrBusy as the result of the submission.
type SleepFunc func(w *IoWait, req *TxRequest, park func()) error

// WakeupFunc is invoked when a parked producer may retry.
// It runs without engine locks held.
type WakeupFunc func(w *IoWait, reason WakeupReason)

// IoWait is a producer's backpressure wait object.
//
// It tracks in-flight requests submitted with it, holds requests the producer has queued for later submission,
// and links into an engine's parked-producer list.
type IoWait struct {
	Sleep  SleepFunc
	Wakeup WakeupFunc

	// Priv is producer context, not touched by the engine.
	Priv any

	mu       sync.Mutex
	pending  txQueue
	inflight int
	drained  chan struct{}

	node     list.Node[*IoWait] // guarded by parkedOn.mu
	parkedOn *Engine            // guarded by mu
}

// QueueAndPark is a SleepFunc that queues the request on the IoWait and parks the producer.
func QueueAndPark(w *IoWait, req *TxRequest, park func()) error {
	if e := w.Queue(req); e != nil {
		return e
	}
	park()
	return nil
}

// Queue appends a request to the pending queue.
func (w *IoWait) Queue(req *TxRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if req.linked {
		return ErrInUse
	}
	w.pending.pushBack(req)
	return nil
}

// Dequeue removes and returns the first pending request, or nil.
func (w *IoWait) Dequeue() *TxRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.popFront()
}

// Requeue puts a request back at the front of the pending queue.
// This is used when a dequeued request still cannot be submitted.
func (w *IoWait) Requeue(req *TxRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if req.linked {
		return ErrInUse
	}
	w.pending.pushFront(req)
	return nil
}

// NumPending returns the number of queued requests.
func (w *IoWait) NumPending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.n
}

// nextDescs returns the descriptor count of the first pending request.
func (w *IoWait) nextDescs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if req := w.pending.front(); req != nil {
		return req.numDesc
	}
	return 0
}

// ParkedOn returns the engine where the producer is parked, or nil.
func (w *IoWait) ParkedOn() *Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parkedOn
}

// InFlight returns the number of submitted requests that have not been retired.
func (w *IoWait) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight
}

func (w *IoWait) addInFlight(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight += n
}

func (w *IoWait) retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight--
	if w.inflight == 0 && w.drained != nil {
		close(w.drained)
		w.drained = nil
	}
}

// Drain waits until every in-flight request has been retired.
func (w *IoWait) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.inflight == 0 {
		w.mu.Unlock()
		return nil
	}
	if w.drained == nil {
		w.drained = make(chan struct{})
	}
	ch := w.drained
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
