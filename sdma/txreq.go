package sdma

import (
	"github.com/zyedidia/generic/list"

	"github.com/sdmakit/sdma/dmamap"
)

// Limits of a TxRequest.
const (
	// NumInlineDesc is the capacity of the inline descriptor array.
	NumInlineDesc = 6
	// MaxDesc is the capacity of the extended descriptor array.
	MaxDesc = 64
	// MaxPacketLen is the maximum declared packet length.
	MaxPacketLen = 16*1024 - 1
	// MaxAHGDiffs is the maximum number of header diffs applied through AHG.
	MaxAHGDiffs = 9
)

// TxFlags contains TxRequest flags.
type TxFlags uint8

// TxFlags bits.
const (
	// TxUrgent requests an interrupt when hardware retires the packet.
	TxUrgent TxFlags = 1 << iota
	// TxUseAHG applies header diffs through an AHG entry.
	TxUseAHG
	// TxAHGCopy saves this packet's header into an AHG entry.
	TxAHGCopy
	// TxReleaseAHG returns the AHG entry to the engine when the request is retired.
	TxReleaseAHG
)

// Callback is invoked exactly once when a submitted request is retired.
type Callback func(req *TxRequest, st Status)

// TxRequest describes one packet as a sequence of descriptors.
//
// The zero value is not ready for use; call Init or InitAHG.
// After a successful Submit, the request belongs to the engine until its callback is invoked.
type TxRequest struct {
	node   list.Node[*TxRequest]
	linked bool

	flags     TxFlags
	packetLen int
	tlen      int
	numDesc   int
	descs     []Descriptor
	maps      []*dmamap.Mapping
	inline    [NumInlineDesc]Descriptor
	inlineMap [NumInlineDesc]*dmamap.Mapping
	extended  bool
	unusable  bool
	ahgIndex  int

	cb   Callback
	wait *IoWait
	end  uint64 // ring position after last descriptor, zero if never written to the ring
	sn   uint64

	// Priv is producer context, not touched by the engine.
	Priv any
}

// NewTxRequest creates a TxRequest.
func NewTxRequest() *TxRequest {
	return &TxRequest{}
}

func (req *TxRequest) reset(flags TxFlags, tlen int, cb Callback) error {
	if req.linked {
		return ErrInUse
	}
	req.Clean()
	if tlen == 0 {
		return ErrNoData
	}
	if tlen < 0 || tlen > MaxPacketLen {
		return ErrMsgSize
	}
	req.flags = flags
	req.packetLen, req.tlen = tlen, tlen
	req.cb = cb
	req.wait = nil
	req.end, req.sn = 0, 0
	req.ahgIndex = -1
	req.descs[0] = Descriptor{QW: [2]uint64{desc0FirstFlag, 0}}
	return nil
}

// Init prepares the request for a packet of tlen octets.
func (req *TxRequest) Init(flags TxFlags, tlen int, cb Callback) error {
	return req.InitAHG(flags&^(TxUseAHG|TxAHGCopy), tlen, 0, nil, 0, cb)
}

// InitAHG prepares the request for a packet of tlen octets using header compression.
//
// With TxAHGCopy, hardware saves the header of this packet into entry ahgIndex.
// With TxUseAHG and non-empty diffs, hardware reconstructs a header of hlen octets from entry ahgIndex and the diffs;
// the diffs occupy one to three of the request's descriptors.
func (req *TxRequest) InitAHG(flags TxFlags, tlen int, ahgIndex int, diffs []uint32, hlen int, cb Callback) error {
	if flags&(TxUseAHG|TxAHGCopy) != 0 {
		if ahgIndex < 0 || ahgIndex >= MaxAHGEntries || len(diffs) > MaxAHGDiffs || hlen < 0 || hlen>>2 > desc1HdrDwsMask {
			return ErrInvalidAHG
		}
	}
	if e := req.reset(flags, tlen, cb); e != nil {
		return e
	}

	switch {
	case flags&TxAHGCopy != 0:
		req.ahgIndex = ahgIndex
		req.descs[0].QW[1] |= uint64(ahgIndex)<<desc1AHGIndexShift | uint64(AHGCopy)<<desc1AHGModeShift
	case flags&TxUseAHG != 0 && len(diffs) > 0:
		req.ahgIndex = ahgIndex
		req.addAHG(ahgIndex, diffs, hlen)
	case flags&TxUseAHG != 0:
		req.ahgIndex = ahgIndex
	}
	return nil
}

// addAHG encodes header diffs into the leading descriptors.
func (req *TxRequest) addAHG(ahgIndex int, diffs []uint32, hlen int) {
	mode := AHGUpdate3
	switch {
	case len(diffs) == 1:
		mode = AHGUpdate1
	case len(diffs) <= 5:
		mode = AHGUpdate2
	}

	req.numDesc = 1 + mode.editDescs()
	for i := 1; i < req.numDesc; i++ {
		req.descs[i] = Descriptor{}
	}
	req.descs[0].QW[1] |= uint64(ahgIndex)<<desc1AHGIndexShift |
		uint64(hlen>>2)<<desc1HdrDwsShift |
		uint64(mode)<<desc1AHGModeShift |
		uint64(diffs[0])<<desc1Update1Shift

	// remaining diffs fill edit descriptors, four 32-bit words each
	for i, diff := range diffs[1:] {
		d := &req.descs[1+i/4]
		w := i % 4
		d.QW[w/2] |= uint64(diff) << (32 * (w % 2))
	}
}

// AddFragment appends a fragment at an already mapped device address.
func (req *TxRequest) AddFragment(addr uint64, length int) error {
	if e := req.prepareAdd(length); e != nil {
		return e
	}
	req.addDesc(addr, length, nil)
	return nil
}

// AddBuffer maps a buffer and appends it as a fragment.
// The mapping is released when the request is cleaned.
func (req *TxRequest) AddBuffer(m dmamap.Mapper, buf []byte) error {
	if e := req.prepareAdd(len(buf)); e != nil {
		return e
	}
	mp, e := dmamap.Map(m, buf)
	if e != nil {
		return e
	}
	req.addDesc(mp.Addr(), len(buf), mp)
	return nil
}

func (req *TxRequest) prepareAdd(length int) error {
	switch {
	case req.packetLen == 0:
		return ErrNoData
	case req.unusable:
		return ErrUnusable
	case req.linked:
		return ErrInUse
	case length <= 0 || length > req.tlen || length > MaxDescLen:
		return ErrOverLength
	}
	if req.numDesc == len(req.descs) {
		return req.extend()
	}
	return nil
}

// extend switches to the heap-backed descriptor array.
func (req *TxRequest) extend() error {
	if req.extended {
		req.unusable = true
		return ErrNoMem
	}
	descs := make([]Descriptor, MaxDesc)
	maps := make([]*dmamap.Mapping, MaxDesc)
	copy(descs, req.descs[:req.numDesc])
	copy(maps, req.maps[:req.numDesc])
	clear(req.inlineMap[:])
	req.descs, req.maps = descs, maps
	req.extended = true
	return nil
}

func (req *TxRequest) addDesc(addr uint64, length int, mp *dmamap.Mapping) {
	d := &req.descs[req.numDesc]
	if req.numDesc != 0 {
		*d = Descriptor{}
	}
	d.setFragment(addr, length)
	req.maps[req.numDesc] = mp

	req.tlen -= length
	if req.tlen == 0 {
		d.QW[0] |= desc0LastFlag
		d.QW[1] |= desc1HeadToHost
		if req.flags&TxUrgent != 0 {
			d.QW[1] |= desc1IntReq
		}
	}
	req.numDesc++
}

// Clean releases buffer mappings and the extended descriptor array.
// It is safe to call Clean more than once.
// The request must not be owned by an engine.
func (req *TxRequest) Clean() {
	for i, mp := range req.maps {
		if mp != nil {
			mp.Release()
			req.maps[i] = nil
		}
	}
	req.descs, req.maps = req.inline[:], req.inlineMap[:]
	req.extended, req.unusable = false, false
	req.numDesc = 0
	req.packetLen, req.tlen = 0, 0
}

// Flags returns request flags.
func (req *TxRequest) Flags() TxFlags {
	return req.flags
}

// PacketLen returns declared packet length.
func (req *TxRequest) PacketLen() int {
	return req.packetLen
}

// Tlen returns the number of octets not yet described.
func (req *TxRequest) Tlen() int {
	return req.tlen
}

// NumDesc returns the number of descriptors.
func (req *TxRequest) NumDesc() int {
	return req.numDesc
}

// Desc returns i-th descriptor.
func (req *TxRequest) Desc(i int) Descriptor {
	return req.descs[i]
}

// Extended determines whether the request uses the extended descriptor array.
func (req *TxRequest) Extended() bool {
	return req.extended
}

// AHGIndex returns the AHG entry referenced by the request, or -1.
func (req *TxRequest) AHGIndex() int {
	return req.ahgIndex
}

// SeqNum returns the per-engine sequence number assigned at submission.
func (req *TxRequest) SeqNum() uint64 {
	return req.sn
}

// Wait returns the IoWait given at submission.
func (req *TxRequest) Wait() *IoWait {
	return req.wait
}

// AHGMode returns the header compression mode encoded in the first descriptor.
func (req *TxRequest) AHGMode() AHGMode {
	return req.descs[0].AHGMode()
}
