package sdma

// Park registers a producer on the parked-producer list.
// It has no effect if the producer is already parked.
func (eng *Engine) Park(w *IoWait) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.parkLocked(w)
}

// Unpark removes a producer from the parked-producer list.
// Returns false if the producer is not parked on this engine.
func (eng *Engine) Unpark(w *IoWait) bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	w.mu.Lock()
	parked := w.parkedOn == eng
	w.mu.Unlock()
	if parked {
		eng.unparkLocked(w)
	}
	return parked
}

func (eng *Engine) parkLocked(w *IoWait) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.parkedOn != nil {
		return
	}
	w.parkedOn = eng
	w.node.Value = w
	eng.parked.PushBackNode(&w.node)
	eng.nParked++
	eng.cnt.parked.Add(1)
}

func (eng *Engine) unparkLocked(w *IoWait) {
	eng.parked.Remove(&w.node)
	w.node.Prev, w.node.Next = nil, nil
	eng.nParked--
	w.mu.Lock()
	w.parkedOn = nil
	w.mu.Unlock()
}

func (eng *Engine) unparkAllLocked() (waits []*IoWait) {
	for eng.parked.Front != nil {
		w := eng.parked.Front.Value
		eng.unparkLocked(w)
		waits = append(waits, w)
	}
	return waits
}

// wakeParked wakes parked producers in FIFO order while their next request fits in free slots.
// At most WakeupBatch producers are woken; waking stops at the first producer whose request does not fit.
func (eng *Engine) wakeParked() {
	eng.mu.Lock()
	if eng.state != StateRunning {
		eng.mu.Unlock()
		return
	}
	avail := eng.ring.freeSlots()
	var waits []*IoWait
	for n := eng.parked.Front; n != nil && len(waits) < eng.cfg.WakeupBatch; {
		w, next := n.Value, n.Next
		need := w.nextDescs()
		if need > avail {
			break
		}
		avail -= need
		eng.unparkLocked(w)
		waits = append(waits, w)
		n = next
	}
	eng.mu.Unlock()

	eng.wake(waits, WakeupSpaceAvailable)
}

// WakeAll wakes every parked producer with the given reason.
func (eng *Engine) WakeAll(reason WakeupReason) {
	eng.mu.Lock()
	waits := eng.unparkAllLocked()
	eng.mu.Unlock()
	eng.wake(waits, reason)
}

// wake invokes wakeup callbacks.
// Caller must not hold eng.mu.
func (eng *Engine) wake(waits []*IoWait, reason WakeupReason) {
	for _, w := range waits {
		eng.cnt.woken.Add(1)
		if w.Wakeup != nil {
			w.Wakeup(w, reason)
		}
	}
}
