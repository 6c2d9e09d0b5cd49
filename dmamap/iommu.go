package dmamap

import (
	"sort"
	"sync"

	binutils "github.com/jfoster/binary-utilities"
	"go.uber.org/zap"
)

// IOMMUConfig contains IOMMU settings.
type IOMMUConfig struct {
	// Base is the first device address handed out.
	// Default is 0x100000000.
	Base uint64 `json:"base,omitempty"`

	// Align is the allocation granularity, rounded up to a power of two.
	// Default is 4096.
	Align int `json:"align,omitempty"`

	// Limit is the maximum number of concurrent mappings.
	// Zero means unlimited.
	Limit int `json:"limit,omitempty"`
}

func (cfg *IOMMUConfig) applyDefaults() {
	if cfg.Base == 0 {
		cfg.Base = 0x100000000
	}
	if cfg.Align <= 0 {
		cfg.Align = 4096
	}
	cfg.Align = int(binutils.NextPowerOfTwo(int64(cfg.Align)))
}

type region struct {
	addr uint64
	buf  []byte
}

func (r region) end() uint64 {
	return r.addr + uint64(len(r.buf))
}

// IOMMUCounters contains IOMMU counters.
type IOMMUCounters struct {
	Mapped    uint64 `json:"mapped"`
	Unmapped  uint64 `json:"unmapped"`
	BadUnmaps uint64 `json:"badUnmaps"`
}

// IOMMU is a Mapper that simulates an address translation unit.
// Device addresses are allocated sequentially and never reused, so that a stale address cannot alias a new buffer.
type IOMMU struct {
	cfg     IOMMUConfig
	mu      sync.Mutex
	next    uint64
	regions []region // sorted by addr
	cnt     IOMMUCounters
}

var _ Mapper = (*IOMMU)(nil)

// NewIOMMU creates an IOMMU.
func NewIOMMU(cfg IOMMUConfig) *IOMMU {
	cfg.applyDefaults()
	return &IOMMU{
		cfg:  cfg,
		next: cfg.Base,
	}
}

// Map implements Mapper interface.
func (u *IOMMU) Map(buf []byte) (addr uint64, e error) {
	if len(buf) == 0 {
		return 0, ErrEmpty
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cfg.Limit > 0 && len(u.regions) >= u.cfg.Limit {
		return 0, ErrNoMem
	}

	addr = u.next
	mask := uint64(u.cfg.Align - 1)
	u.next += (uint64(len(buf)) + mask) &^ mask
	u.regions = append(u.regions, region{addr, buf})
	u.cnt.Mapped++
	return addr, nil
}

func (u *IOMMU) find(addr uint64) int {
	i := sort.Search(len(u.regions), func(i int) bool { return u.regions[i].end() > addr })
	if i < len(u.regions) && u.regions[i].addr <= addr {
		return i
	}
	return -1
}

// Unmap implements Mapper interface.
func (u *IOMMU) Unmap(addr uint64, length int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	i := u.find(addr)
	if i < 0 || u.regions[i].addr != addr || len(u.regions[i].buf) != length {
		u.cnt.BadUnmaps++
		logger.Warn("unmap of unknown region", zap.Uint64("addr", addr), zap.Int("length", length))
		return
	}
	u.regions = append(u.regions[:i], u.regions[i+1:]...)
	u.cnt.Unmapped++
}

// Read returns the bytes at a device address range.
// The range must be within a single mapping.
// The returned slice aliases the mapped buffer.
func (u *IOMMU) Read(addr uint64, length int) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	i := u.find(addr)
	if i < 0 {
		return nil, ErrNoRange
	}
	r := u.regions[i]
	off := int(addr - r.addr)
	if off+length > len(r.buf) {
		return nil, ErrNoRange
	}
	return r.buf[off : off+length], nil
}

// Outstanding returns the number of active mappings.
func (u *IOMMU) Outstanding() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.regions)
}

// Counters returns counters.
func (u *IOMMU) Counters() IOMMUCounters {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cnt
}
