package sdma

import (
	"fmt"
	"math/bits"
	"strings"
)

// Descriptor field layout.
const (
	desc0AddrMask      = 1<<48 - 1
	desc0ByteCntShift  = 48
	desc0ByteCntMask   = 1<<14 - 1
	desc0LastFlag      = 1 << 62
	desc0FirstFlag     = 1 << 63
	desc1HeadToHost    = 1 << 0
	desc1IntReq        = 1 << 1
	desc1GenShift      = 2
	desc1GenMask       = 3
	desc1HdrDwsShift   = 4
	desc1HdrDwsMask    = 0xF
	desc1AHGIndexShift = 8
	desc1AHGIndexMask  = 0x1F
	desc1AHGModeShift  = 13
	desc1AHGModeMask   = 0x7
	desc1Update1Shift  = 32
)

// MaxDescLen is the maximum byte count of one descriptor.
const MaxDescLen = desc0ByteCntMask

// GenerationWidth is the bit width of the generation tag.
const GenerationWidth = 2

// AHGMode indicates how hardware applies header compression for a packet.
type AHGMode uint8

// AHGMode values.
const (
	AHGNone    AHGMode = iota // no header compression
	AHGCopy                   // hardware saves this packet's header into the AHG entry
	AHGUpdate1                // one header diff, carried in the first descriptor
	AHGUpdate2                // up to five diffs, one extra edit descriptor
	AHGUpdate3                // up to nine diffs, two extra edit descriptors
)

func (m AHGMode) String() string {
	switch m {
	case AHGNone:
		return "none"
	case AHGCopy:
		return "copy"
	case AHGUpdate1:
		return "update1"
	case AHGUpdate2:
		return "update2"
	case AHGUpdate3:
		return "update3"
	}
	return fmt.Sprintf("AHGMode(%d)", uint8(m))
}

// editDescs returns the number of edit descriptors following the first descriptor.
func (m AHGMode) editDescs() int {
	if m > AHGUpdate1 {
		return int(m) >> 1
	}
	return 0
}

// Descriptor is one hardware descriptor ring entry.
type Descriptor struct {
	QW [2]uint64
}

// Addr returns the device address of the fragment.
func (d Descriptor) Addr() uint64 {
	return d.QW[0] & desc0AddrMask
}

// Len returns the byte count of the fragment.
func (d Descriptor) Len() int {
	return int(d.QW[0] >> desc0ByteCntShift & desc0ByteCntMask)
}

// First determines whether this is the first descriptor of a packet.
func (d Descriptor) First() bool {
	return d.QW[0]&desc0FirstFlag != 0
}

// Last determines whether this is the last descriptor of a packet.
func (d Descriptor) Last() bool {
	return d.QW[0]&desc0LastFlag != 0
}

// HeadToHost determines whether hardware should write back its head after this descriptor.
func (d Descriptor) HeadToHost() bool {
	return d.QW[1]&desc1HeadToHost != 0
}

// IntReq determines whether hardware should raise an interrupt after this descriptor.
func (d Descriptor) IntReq() bool {
	return d.QW[1]&desc1IntReq != 0
}

// Generation returns the generation tag.
func (d Descriptor) Generation() uint8 {
	return uint8(d.QW[1] >> desc1GenShift & desc1GenMask)
}

// AHGIndex returns the header compression entry index.
func (d Descriptor) AHGIndex() int {
	return int(d.QW[1] >> desc1AHGIndexShift & desc1AHGIndexMask)
}

// AHGMode returns the header compression mode.
func (d Descriptor) AHGMode() AHGMode {
	return AHGMode(d.QW[1] >> desc1AHGModeShift & desc1AHGModeMask)
}

// HeaderDwords returns the header length in 32-bit words.
func (d Descriptor) HeaderDwords() int {
	return int(d.QW[1] >> desc1HdrDwsShift & desc1HdrDwsMask)
}

// Update1 returns the header diff carried by the first descriptor.
func (d Descriptor) Update1() uint32 {
	return uint32(d.QW[1] >> desc1Update1Shift)
}

func (d *Descriptor) setFragment(addr uint64, length int) {
	d.QW[0] |= addr&desc0AddrMask | uint64(length)&desc0ByteCntMask<<desc0ByteCntShift
}

// withGeneration returns qw1 with the generation tag replaced.
func withGeneration(qw1 uint64, gen uint8) uint64 {
	qw1 &^= desc1GenMask << desc1GenShift
	return qw1 | uint64(gen)&desc1GenMask<<desc1GenShift
}

func (d Descriptor) String() string {
	var flags strings.Builder
	for _, f := range []struct {
		set bool
		ch  byte
	}{{d.First(), 'F'}, {d.Last(), 'L'}, {d.IntReq(), 'I'}, {d.HeadToHost(), 'H'}} {
		if f.set {
			flags.WriteByte(f.ch)
		} else {
			flags.WriteByte('-')
		}
	}
	s := fmt.Sprintf("%s addr=%#x len=%d gen=%d", flags.String(), d.Addr(), d.Len(), d.Generation())
	if mode := d.AHGMode(); d.First() && mode != AHGNone {
		s += fmt.Sprintf(" ahg=%s/%d dws=%d", mode, d.AHGIndex(), d.HeaderDwords())
	}
	return s
}

// EditDescs returns the number of AHG edit descriptors that follow this first descriptor.
// Edit descriptors carry header diffs instead of a fragment.
func (d Descriptor) EditDescs() int {
	if !d.First() {
		return 0
	}
	return d.AHGMode().editDescs()
}

// ExpectedGeneration returns the generation tag hardware expects at a monotonic ring position.
func ExpectedGeneration(pos uint64, ringLen int) uint8 {
	return uint8(pos >> uint(bits.TrailingZeros(uint(ringLen))) & desc1GenMask)
}
