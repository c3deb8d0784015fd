/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tespkt decodes the TES Ethernet frame: a 24-byte header
// followed by up to 1472 bytes of payload. Accessors are read-only views
// over the frame's backing bytes; each is documented to apply only to the
// frame kind it recognizes, same as the C accessor library this package
// replaces.
package tespkt

import "encoding/binary"

// Wire layout constants, taken from the original frame header struct.
const (
	HdrLen       = 24   // ethernet header + TES header, before body
	MTU          = 1496 // max total frame length
	MaxPayload   = MTU - HdrLen
	McaHdrLen    = 40
	TickHdrLen   = 24
	PeakHdrLen   = 8
	PeakLen      = 8
	AreaHdrLen   = 8
	PulseLen     = 8
	PulseHdrLen  = 16
	TraceHdrLen  = 8
	McaBinLen    = 4
	AvgTrMaxSize = 65528 // highest 16-bit multiple of 8
)

// EtherType distinguishes event frames from MCA histogram frames.
const (
	EtherTypeEvent uint16 = 0x88B5
	EtherTypeMCA   uint16 = 0x88B6
)

// Packet-type codes carried in the event-type byte.
const (
	TypePeak  = 0
	TypeArea  = 1
	TypePulse = 2
	TypeTrace = 3
)

// Trace sub-type codes.
const (
	TraceSingle = 0
	TraceAvg    = 1
	TraceDP     = 2
	TraceDPTr   = 3
)

// MCASizeMode resolves TES_MCASIZE_BUG: the FPGA's declared MCA "size"
// field is inconsistent with "last_bin" on current firmware, so the
// histogram's true byte length must be computed from last_bin rather
// than trusted from the wire. This is a runtime choice (see config),
// not a compile-time one.
type MCASizeMode int

const (
	// MCASizeFromLastBin computes histogram size as
	// (last_bin+1)*McaBinLen + McaHdrLen, ignoring the wire size field.
	// This is the default: it matches the FPGA firmware's actual
	// behavior, which is what TES_MCASIZE_BUG papered over.
	MCASizeFromLastBin MCASizeMode = iota
	// MCASizeTrustField trusts the wire "size" field outright.
	MCASizeTrustField
)

// Frame is a read-only view over one TES frame's bytes. It never copies
// or retains the slice beyond the caller's own lifetime guarantee: once a
// ring slot is reclaimed the bytes may be overwritten.
type Frame struct {
	b []byte
}

// New wraps b as a Frame. b must be at least HdrLen bytes; callers
// (the dispatch loop) are expected to have already clipped b to the
// slot length before constructing a Frame.
func New(b []byte) Frame {
	return Frame{b: b}
}

// Bytes returns the raw frame bytes, header and payload together.
func (f Frame) Bytes() []byte { return f.b }

// Payload returns the bytes after the 24-byte header, if any.
func (f Frame) Payload() []byte {
	if len(f.b) <= HdrLen {
		return nil
	}
	return f.b[HdrLen:]
}

// EtherType returns the frame's EtherType field (network byte order on
// the wire, so always read big-endian regardless of host order).
func (f Frame) EtherType() uint16 {
	return binary.BigEndian.Uint16(f.b[12:14])
}

// FLen returns the declared total frame length field.
func (f Frame) FLen() uint16 {
	return binary.LittleEndian.Uint16(f.b[14:16])
}

// FSeq returns the 16-bit frame sequence (wraps, Ethernet-frame-ordinal).
func (f Frame) FSeq() uint16 {
	return binary.LittleEndian.Uint16(f.b[16:18])
}

// PSeq returns the 16-bit protocol sequence (wraps, resets per
// multi-frame stream).
func (f Frame) PSeq() uint16 {
	return binary.LittleEndian.Uint16(f.b[18:20])
}

// IsHeader reports whether this frame is the first of a multi-frame
// stream (protocol sequence == 0). Byte order is irrelevant: zero is
// zero in any order.
func (f Frame) IsHeader() bool {
	return f.b[18] == 0 && f.b[19] == 0
}

// ESize returns the raw event-size field (8-byte units; undefined for
// MCA frames).
func (f Frame) ESize() uint16 {
	return binary.LittleEndian.Uint16(f.b[20:22])
}

// ESizeBytes returns ESize converted to bytes.
func (f Frame) ESizeBytes() uint16 {
	return f.ESize() << 3
}

// etype returns the two raw event-type bytes. Event type and flags are
// always sent as separate bytes (i.e. big-endian in the sense that byte
// order matches declaration order), per the original header's comment.
func (f Frame) etype() (byte0, byte1 byte) {
	return f.b[22], f.b[23]
}

// T reports the tick flag bit of the event-type byte.
func (f Frame) T() bool {
	_, b1 := f.etype()
	return (b1>>1)&0x1 == 1
}

// PKT returns the 2-bit packet-type code of the event-type byte.
func (f Frame) PKT() uint8 {
	_, b1 := f.etype()
	return (b1 >> 2) & 0x3
}

// TR returns the 2-bit trace sub-type code of the event-type byte.
func (f Frame) TR() uint8 {
	b0, _ := f.etype()
	return b0 & 0x3
}

// IsMCA reports whether this is an MCA histogram frame.
func (f Frame) IsMCA() bool { return f.EtherType() == EtherTypeMCA }

// IsEvent reports whether this is an event (peak/area/pulse/trace/tick)
// frame.
func (f Frame) IsEvent() bool { return f.EtherType() == EtherTypeEvent }

// IsTick reports whether this event frame is a tick.
func (f Frame) IsTick() bool { return f.IsEvent() && f.T() }

// IsPeak reports whether this event frame is a (non-tick) peak.
func (f Frame) IsPeak() bool { return f.IsEvent() && !f.T() && f.PKT() == TypePeak }

// IsArea reports whether this event frame is a (non-tick) area.
func (f Frame) IsArea() bool { return f.IsEvent() && !f.T() && f.PKT() == TypeArea }

// IsPulse reports whether this event frame is a (non-tick) pulse.
func (f Frame) IsPulse() bool { return f.IsEvent() && !f.T() && f.PKT() == TypePulse }

// IsTrace reports whether this event frame is a (non-tick) trace, of any
// sub-type.
func (f Frame) IsTrace() bool { return f.IsEvent() && !f.T() && f.PKT() == TypeTrace }

// IsTraceSgl reports a single (non-averaged, non-dot-product) trace.
func (f Frame) IsTraceSgl() bool { return f.IsTrace() && f.TR() == TraceSingle }

// IsTraceAvg reports an averaged trace.
func (f Frame) IsTraceAvg() bool { return f.IsTrace() && f.TR() == TraceAvg }

// IsTraceDP reports a pure dot-product trace (no waveform payload).
func (f Frame) IsTraceDP() bool { return f.IsTrace() && f.TR() == TraceDP }

// IsTraceDPTr reports a dot-product-plus-trace frame.
func (f Frame) IsTraceDPTr() bool { return f.IsTrace() && f.TR() == TraceDPTr }

// IsTraceLong reports a trace that carries waveform payload, i.e. any
// trace sub-type except the pure dot-product one.
func (f Frame) IsTraceLong() bool { return f.IsTrace() && f.TR() != TraceDP }

// EventNums reports how many fixed-size sub-events this frame packs,
// given its true received length flen. A trace frame always carries
// exactly one event's worth of data, spread across every frame of the
// trace (so 1 on the header/dot-product frame that starts it, else 0);
// every other event kind packs as many ESizeBytes()-sized sub-events
// as fit after the header.
func (f Frame) EventNums(flen uint16) uint16 {
	if f.IsTrace() {
		if f.IsHeader() || f.IsTraceDP() {
			return 1
		}
		return 0
	}
	esize := f.ESizeBytes()
	if esize == 0 {
		return 0
	}
	return (flen - HdrLen) / esize
}
