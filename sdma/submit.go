package sdma

import (
	"github.com/sdmakit/sdma/csr"
)

// ready checks that a request is fully built and not owned by a list.
func (req *TxRequest) ready() error {
	if req.linked {
		return ErrInUse
	}
	return req.built()
}

// built checks that a request is fully built.
func (req *TxRequest) built() error {
	switch {
	case req.unusable:
		return ErrUnusable
	case req.packetLen == 0:
		return ErrNoData
	case req.tlen != 0:
		return ErrIncomplete
	}
	return nil
}

// Submit submits a request to the engine.
//
// On success, the engine owns the request until its callback is invoked.
// If the engine is not running, Submit returns ErrNotConnected and the request is aborted asynchronously.
// If the ring lacks free slots, Submit returns ErrBusy or the error returned by w.Sleep;
// the request is not owned by the engine in this case.
func (eng *Engine) Submit(req *TxRequest, w *IoWait) error {
	if e := req.ready(); e != nil {
		return e
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.state != StateRunning {
		eng.notConnectedLocked(req, w)
		return ErrNotConnected
	}
	if req.numDesc > eng.ring.freeSlots() {
		return eng.busyLocked(req, w)
	}
	eng.submitLocked(req, w)
	eng.updateTail()
	return nil
}

// SubmitBatch submits requests from a list, writing the tail register once.
//
// Submitted requests are removed from the list; n is their count.
// If the ring fills up, w.Sleep is invoked for the first request that does not fit,
// and requests that Sleep did not take remain in the list.
// If the engine is not running, every request in the list is taken and aborted asynchronously,
// and ErrNotConnected is returned with n counting the taken requests.
// If the list contains a request that is not fully built, nothing is taken.
func (eng *Engine) SubmitBatch(list *TxList, w *IoWait) (n int, e error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.state != StateRunning {
		for node := list.q.l.Front; node != nil; node = node.Next {
			if e = node.Value.built(); e != nil {
				return 0, e
			}
		}
		for req := list.PopFront(); req != nil; req = list.PopFront() {
			eng.notConnectedLocked(req, w)
			n++
		}
		return n, ErrNotConnected
	}

	defer func() {
		if n > 0 {
			eng.updateTail()
		}
	}()
	for req := list.Front(); req != nil; req = list.Front() {
		list.q.remove(req)
		if e = req.ready(); e != nil {
			list.q.pushFront(req)
			return n, e
		}
		if req.numDesc > eng.ring.freeSlots() {
			e = eng.busyLocked(req, w)
			if !req.linked {
				list.q.pushFront(req)
			}
			return n, e
		}
		eng.submitLocked(req, w)
		n++
	}
	return n, nil
}

// notConnectedLocked takes ownership of a request submitted while not running, and schedules its abort.
func (eng *Engine) notConnectedLocked(req *TxRequest, w *IoWait) {
	req.wait, req.end = w, 0
	req.sn = eng.tailSN
	eng.tailSN++
	eng.flushq.pushBack(req)
	if w != nil {
		w.addInFlight(1)
	}
	eng.cnt.notConnected.Add(1)
	eng.scheduleFlush()
}

// busyLocked handles a request that does not fit in free slots.
func (eng *Engine) busyLocked(req *TxRequest, w *IoWait) error {
	eng.cnt.descqFull.Add(1)
	if w == nil || w.Sleep == nil {
		return ErrBusy
	}
	if e := w.Sleep(w, req, func() { eng.parkLocked(w) }); e != nil {
		return e
	}
	return ErrBusy
}

// submitLocked writes a request's descriptors to the ring.
// Generation tags are applied to every descriptor except AHG edit descriptors, whose words carry header diffs.
func (eng *Engine) submitLocked(req *TxRequest, w *IoWait) {
	r := eng.ring
	skip := req.descs[0].EditDescs()
	for i, d := range req.descs[:req.numDesc] {
		if i > 0 && skip > 0 {
			skip--
		} else {
			d.QW[1] = withGeneration(d.QW[1], r.generation(r.added))
		}
		r.put(d)
	}

	req.end = r.added
	req.wait = w
	req.sn = eng.tailSN
	eng.tailSN++
	eng.active.pushBack(req)
	if w != nil {
		w.addInFlight(1)
	}
	eng.cnt.submitted.Add(1)
}

func (eng *Engine) updateTail() {
	eng.hw.Write(eng.id, csr.Tail, eng.ring.slot(eng.ring.added))
}
