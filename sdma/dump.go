package sdma

import (
	"fmt"

	"go.uber.org/zap"
)

// dumpLocked describes ring contents as log fields.
// Caller must hold eng.mu.
func (eng *Engine) dumpLocked() []zap.Field {
	r := eng.ring
	queued := make([]string, 0, r.inUse())
	for pos := r.removed; pos != r.added; pos++ {
		slot := r.slot(pos)
		queued = append(queued, fmt.Sprintf("[%d] %s", slot, r.desc[slot]))
	}
	return []zap.Field{
		zap.Stringer("state", eng.state),
		zap.Uint64("sw-head", r.slot(r.removed)),
		zap.Uint64("sw-tail", r.slot(r.added)),
		zap.Uint64("dma-head", r.HeadDMA()),
		zap.Int("free", r.freeSlots()),
		zap.Int("active", eng.active.n),
		zap.Strings("queued", queued),
	}
}

// Dump logs ring contents.
func (eng *Engine) Dump() {
	eng.mu.Lock()
	fields := eng.dumpLocked()
	eng.mu.Unlock()
	eng.logger.Info("ring dump", fields...)
}
