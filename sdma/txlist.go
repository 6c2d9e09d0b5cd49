package sdma

import (
	"github.com/zyedidia/generic/list"
)

// txQueue is an intrusive FIFO of TxRequests.
// A request is linked into at most one txQueue at a time.
type txQueue struct {
	l list.List[*TxRequest]
	n int
}

func (q *txQueue) pushBack(req *TxRequest) {
	if req.linked {
		logger.Panic("TxRequest is already linked")
	}
	req.node.Value = req
	q.l.PushBackNode(&req.node)
	req.linked = true
	q.n++
}

func (q *txQueue) pushFront(req *TxRequest) {
	if req.linked {
		logger.Panic("TxRequest is already linked")
	}
	req.node.Value = req
	q.l.PushFrontNode(&req.node)
	req.linked = true
	q.n++
}

func (q *txQueue) remove(req *TxRequest) {
	q.l.Remove(&req.node)
	req.node.Prev, req.node.Next = nil, nil
	req.linked = false
	q.n--
}

func (q *txQueue) front() *TxRequest {
	if q.l.Front == nil {
		return nil
	}
	return q.l.Front.Value
}

func (q *txQueue) popFront() *TxRequest {
	req := q.front()
	if req != nil {
		q.remove(req)
	}
	return req
}

// popAll unlinks every request and returns them in order.
func (q *txQueue) popAll() (reqs []*TxRequest) {
	reqs = make([]*TxRequest, 0, q.n)
	for req := q.popFront(); req != nil; req = q.popFront() {
		reqs = append(reqs, req)
	}
	return reqs
}

// TxList is a caller-owned list of TxRequests, used with Engine.SubmitBatch.
type TxList struct {
	q txQueue
}

// PushBack appends a request.
func (l *TxList) PushBack(req *TxRequest) error {
	if req.linked {
		return ErrInUse
	}
	l.q.pushBack(req)
	return nil
}

// Front returns the first request, or nil if the list is empty.
func (l *TxList) Front() *TxRequest {
	return l.q.front()
}

// PopFront removes and returns the first request, or nil if the list is empty.
func (l *TxList) PopFront() *TxRequest {
	return l.q.popFront()
}

// Len returns number of requests.
func (l *TxList) Len() int {
	return l.q.n
}
