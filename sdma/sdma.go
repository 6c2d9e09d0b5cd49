// Package sdma implements the send-side DMA engine of a network adapter.
//
// An Engine owns a hardware descriptor ring and drives it through a state machine.
// Producers build TxRequests, submit them onto the ring, and receive exactly one completion callback per request.
// A Device owns a fleet of engines and selects one for each packet.
package sdma

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"

	"github.com/sdmakit/sdma/core/logging"
)

var logger = logging.New("sdma")

// Error conditions.
var (
	ErrNotConnected = errors.New("engine is not running")
	ErrBusy         = errors.New("descriptor ring is full")
	ErrNoMem        = errors.New("descriptor array cannot be extended")
	ErrNoData       = errors.New("packet length is zero")
	ErrMsgSize      = errors.New("packet length exceeds limit")
	ErrOverLength   = errors.New("fragment length exceeds remaining packet length")
	ErrIncomplete   = errors.New("packet is not fully described")
	ErrUnusable     = errors.New("request must be cleaned before reuse")
	ErrInUse        = errors.New("request is owned by a list")
	ErrNoSpace      = errors.New("AHG entries exhausted")
	ErrUnsupported  = errors.New("AHG is disabled")
	ErrInvalidAHG   = errors.New("invalid AHG parameters")
	ErrClosed       = errors.New("engine is closed")
)

// Status is the completion status of a TxRequest.
type Status int

// Status values.
const (
	StatusOK Status = iota
	StatusAborted
	StatusShutdown
)

func (st Status) String() string {
	switch st {
	case StatusOK:
		return "OK"
	case StatusAborted:
		return "ABORTED"
	case StatusShutdown:
		return "SHUTDOWN"
	}
	return fmt.Sprintf("Status(%d)", int(st))
}

// IsError determines whether the request failed to reach the wire.
func (st Status) IsError() bool {
	return st != StatusOK
}

// WakeupReason explains why a parked producer is woken.
type WakeupReason int

// WakeupReason values.
const (
	WakeupSpaceAvailable WakeupReason = iota
	WakeupDeviceReset
	WakeupPortDisabled
)

func (r WakeupReason) String() string {
	switch r {
	case WakeupSpaceAvailable:
		return "space-available"
	case WakeupDeviceReset:
		return "device-reset"
	case WakeupPortDisabled:
		return "port-disabled"
	}
	return fmt.Sprintf("WakeupReason(%d)", int(r))
}

// deferred runs hardware polls and software clean-up outside of engine locks.
var deferred = func() gopool.Pool {
	p := gopool.NewPool("sdma", 1<<16, gopool.NewConfig())
	p.SetPanicHandler(func(ctx context.Context, v any) {
		logger.DPanic("deferred task panic", zap.Any("panic", v))
	})
	return p
}()
