package sdma

import (
	"math/bits"
)

// AllocAHG allocates a header compression entry.
// It is lock-free and safe to call from any goroutine.
func (eng *Engine) AllocAHG() (int, error) {
	if eng.cfg.DisableAHG {
		return -1, ErrUnsupported
	}
	for {
		old := eng.ahgBits.Load()
		free := ^old & eng.ahgMask
		if free == 0 {
			return -1, ErrNoSpace
		}
		index := bits.TrailingZeros32(free)
		if eng.ahgBits.CompareAndSwap(old, old|1<<index) {
			return index, nil
		}
	}
}

// FreeAHG releases a header compression entry.
// Out-of-range indices are ignored.
func (eng *Engine) FreeAHG(index int) {
	if index < 0 || index >= eng.cfg.AHGEntries {
		return
	}
	eng.ahgBits.And(^(uint32(1) << index))
}

// AHGInUse returns the number of allocated header compression entries.
func (eng *Engine) AHGInUse() int {
	return bits.OnesCount32(eng.ahgBits.Load())
}
