package sdma

import (
	"fmt"
	"sync"
	"sync/atomic"

	binutils "github.com/jfoster/binary-utilities"
	"go.uber.org/zap"
)

type vlEngineMap struct {
	mask    uint32
	engines []*Engine
}

// engineMap selects an engine by virtual lane and selector.
// Both levels are sized to powers of two; entries beyond the configured counts wrap around.
type engineMap struct {
	actualVLs int
	mask      uint32
	vls       []*vlEngineMap
}

type engineMapHolder struct {
	mu      sync.Mutex // serializes writers
	ptr     atomic.Pointer[engineMap]
	version atomic.Uint64
}

func roundUpPow2(n int) int {
	return int(binutils.NextPowerOfTwo(int64(n)))
}

// MapInit rebuilds the engine selection map.
//
// vlEngines[i] is the number of engines serving virtual lane i, taken consecutively starting from engine 0.
// If vlEngines is empty, engines are split evenly, with the remainder assigned to the highest virtual lanes.
func (dev *Device) MapInit(numVLs int, vlEngines []int) error {
	if numVLs <= 0 || numVLs > len(dev.engines) {
		return fmt.Errorf("numVLs %d out of range", numVLs)
	}
	counts := make([]int, numVLs)
	if len(vlEngines) == 0 {
		each, extra := len(dev.engines)/numVLs, len(dev.engines)%numVLs
		for i := numVLs - 1; i >= 0; i-- {
			counts[i] = each
			if extra > 0 {
				counts[i]++
				extra--
			}
		}
	} else {
		if len(vlEngines) != numVLs {
			return fmt.Errorf("vlEngines has %d entries, expecting %d", len(vlEngines), numVLs)
		}
		total := 0
		for i, n := range vlEngines {
			if n <= 0 {
				return fmt.Errorf("vlEngines[%d] must be positive", i)
			}
			total += n
		}
		if total > len(dev.engines) {
			return fmt.Errorf("vlEngines requires %d engines, have %d", total, len(dev.engines))
		}
		copy(counts, vlEngines)
	}

	m := &engineMap{
		actualVLs: numVLs,
		vls:       make([]*vlEngineMap, roundUpPow2(numVLs)),
	}
	m.mask = uint32(len(m.vls) - 1)
	first := 0
	for i, n := range counts {
		vm := &vlEngineMap{engines: make([]*Engine, roundUpPow2(n))}
		vm.mask = uint32(len(vm.engines) - 1)
		for j := range vm.engines {
			vm.engines[j] = dev.engines[first+j%n]
		}
		first += n
		m.vls[i] = vm
	}
	for i := numVLs; i < len(m.vls); i++ {
		m.vls[i] = m.vls[i%numVLs]
	}

	h := &dev.emap
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ptr.Store(m)
	version := h.version.Add(1)
	logger.Debug("engine map updated", zap.Int("vls", numVLs), zap.Ints("vl-engines", counts), zap.Uint64("version", version))
	return nil
}

// MapVersion returns the number of times the engine map has been rebuilt.
func (dev *Device) MapVersion() uint64 {
	return dev.emap.version.Load()
}

// SelectEngineVL selects an engine for a virtual lane.
// The selector spreads flows of one virtual lane across its engines.
// An out-of-range virtual lane selects engine 0.
func (dev *Device) SelectEngineVL(selector uint32, vl uint8) *Engine {
	m := dev.emap.ptr.Load()
	if m == nil || int(vl) >= m.actualVLs {
		return dev.engines[0]
	}
	vm := m.vls[uint32(vl)&m.mask]
	return vm.engines[selector&vm.mask]
}

// SelectEngineSC selects an engine for a service class.
func (dev *Device) SelectEngineSC(selector uint32, sc uint8) *Engine {
	if int(sc) >= NumSC {
		return dev.engines[0]
	}
	return dev.SelectEngineVL(selector, dev.scToVL[sc])
}
