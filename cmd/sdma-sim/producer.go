package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sdmakit/sdma/dmamap"
	"github.com/sdmakit/sdma/sdma"
)

// producer submits the frames of one flow.
type producer struct {
	flow   int
	eng    *sdma.Engine
	iommu  *dmamap.IOMMU
	frames *frameBuilder
	count  int
	useAHG bool

	w      sdma.IoWait
	wake   chan sdma.WakeupReason
	ahg    int
	nOK    atomic.Int64
	nError atomic.Int64
}

func newProducer(flow int, eng *sdma.Engine, iommu *dmamap.IOMMU, cfg runConfig) *producer {
	p := &producer{
		flow:   flow,
		eng:    eng,
		iommu:  iommu,
		frames: newFrameBuilder(flow, cfg.PayloadLen),
		count:  cfg.Frames,
		useAHG: cfg.AHG,
		wake:   make(chan sdma.WakeupReason, 1),
		ahg:    -1,
	}
	p.w.Sleep = sdma.QueueAndPark
	p.w.Wakeup = p.wakeup
	p.w.Priv = p
	return p
}

func (p *producer) wakeup(w *sdma.IoWait, reason sdma.WakeupReason) {
	select {
	case p.wake <- reason:
	default:
	}
}

func (p *producer) completed(req *sdma.TxRequest, st sdma.Status) {
	if st.IsError() {
		p.nError.Add(1)
		logger.Debug("request failed", zap.Int("flow", p.flow), zap.Uint64("sn", req.SeqNum()), zap.Stringer("status", st))
		return
	}
	p.nOK.Add(1)
}

// makeRequest builds a two-fragment request: headers and payload.
func (p *producer) makeRequest(seq int) (*sdma.TxRequest, error) {
	frame, e := p.frames.Build(uint64(seq))
	if e != nil {
		return nil, e
	}

	req := sdma.NewTxRequest()
	flags := sdma.TxFlags(0)
	if seq == p.count-1 {
		flags |= sdma.TxUrgent
	}
	switch {
	case p.ahg < 0:
		e = req.Init(flags, len(frame), p.completed)
	case seq == 0:
		e = req.InitAHG(flags|sdma.TxAHGCopy, len(frame), p.ahg, nil, 0, p.completed)
	case seq == p.count-1:
		e = req.InitAHG(flags|sdma.TxUseAHG|sdma.TxReleaseAHG, len(frame), p.ahg, p.frames.HeaderDiffs(), hdrLen&^3, p.completed)
	default:
		e = req.InitAHG(flags|sdma.TxUseAHG, len(frame), p.ahg, p.frames.HeaderDiffs(), hdrLen&^3, p.completed)
	}
	if e != nil {
		return nil, e
	}

	if e = req.AddBuffer(p.iommu, frame[:hdrLen]); e == nil {
		e = req.AddBuffer(p.iommu, frame[hdrLen:])
	}
	if e != nil {
		req.Clean()
		return nil, e
	}
	return req, nil
}

// submit submits a request, waiting for ring space when the engine is busy.
func (p *producer) submit(ctx context.Context, req *sdma.TxRequest) error {
	e := p.eng.Submit(req, &p.w)
	for errors.Is(e, sdma.ErrBusy) {
		select {
		case <-ctx.Done():
			p.eng.Unpark(&p.w)
			return ctx.Err()
		case reason := <-p.wake:
			if reason != sdma.WakeupSpaceAvailable {
				return fmt.Errorf("flow %d: %s", p.flow, reason)
			}
		}
		if req = p.w.Dequeue(); req == nil {
			return nil
		}
		e = p.eng.Submit(req, &p.w)
	}
	return e
}

// Run submits every frame then waits for their completions.
func (p *producer) Run(ctx context.Context) error {
	if p.useAHG && p.count > 1 {
		if i, e := p.eng.AllocAHG(); e == nil {
			p.ahg = i
		} else {
			logger.Info("AHG unavailable", zap.Int("flow", p.flow), zap.Error(e))
		}
	}

	for seq := range p.count {
		req, e := p.makeRequest(seq)
		if e != nil {
			return e
		}
		if e = p.submit(ctx, req); e != nil {
			return e
		}
	}
	return p.w.Drain(ctx)
}
