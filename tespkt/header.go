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

package tespkt

import "encoding/binary"

// StrictByteOrder controls whether wide fields (32/64-bit) are decoded at
// their true declared width (the correct, default behavior) or reproduce
// the original accessor library's bug of applying a 16-bit byte-swap to
// wider fields regardless of their real size. The flag changes every
// 32/64-bit accessor here: tick period, timestamp and lost count, MCA
// lowest value, total and start/stop time, mca_bin, area, and pulse area;
// 16-bit fields such as pulse length are unaffected. Flip this only to diff against captures taken with the old
// server, since the wire convention needs verification against real
// data before trusting either mode blindly.
var StrictByteOrder = true

// body is the payload bytes after the 24-byte header, where the
// per-kind structs in original_source/include/net/tespkt.h begin.
func (f Frame) body() []byte { return f.Payload() }

func swap16As(v uint16) uint16 {
	return (v >> 8) | (v << 8)
}

// wideField32 decodes a little-endian 32-bit field at offset off within
// body, honoring StrictByteOrder; wideField64 does the same for 64 bits.
func (f Frame) wideField32(off int) uint32 {
	b := f.body()
	if !StrictByteOrder {
		// reproduce the bug: swap each 16-bit half independently,
		// rather than swapping the whole 32-bit word.
		lo := binary.LittleEndian.Uint16(b[off : off+2])
		hi := binary.LittleEndian.Uint16(b[off+2 : off+4])
		return uint32(swap16As(lo)) | uint32(swap16As(hi))<<16
	}
	return binary.LittleEndian.Uint32(b[off : off+4])
}

func (f Frame) wideField64(off int) uint64 {
	b := f.body()
	if !StrictByteOrder {
		var parts [4]uint16
		for i := 0; i < 4; i++ {
			parts[i] = swap16As(binary.LittleEndian.Uint16(b[off+2*i : off+2*i+2]))
		}
		var v uint64
		for i := 0; i < 4; i++ {
			v |= uint64(parts[i]) << (16 * i)
		}
		return v
	}
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// --- MCA header (offset 0 in body, McaHdrLen bytes) ---

// MCASize returns the wire "size" field of an MCA header frame.
func (f Frame) MCASize() uint16 {
	return binary.LittleEndian.Uint16(f.body()[0:2])
}

// MCALastBin returns the last-bin field of an MCA header frame.
func (f Frame) MCALastBin() uint16 {
	return binary.LittleEndian.Uint16(f.body()[2:4])
}

// MCANBinsTotal returns last_bin + 1.
func (f Frame) MCANBinsTotal() uint16 {
	return f.MCALastBin() + 1
}

// MCAHistSize returns the true byte length of the histogram (header +
// bins), according to mode.
func (f Frame) MCAHistSize(mode MCASizeMode) uint32 {
	if mode == MCASizeFromLastBin {
		return uint32(f.MCANBinsTotal())*McaBinLen + McaHdrLen
	}
	return uint32(f.MCASize())
}

// MCALowestValue returns the lowest-value field (32-bit).
func (f Frame) MCALowestValue() uint32 { return f.wideField32(4) }

// MCAMostFrequent returns the most-frequent-bin field.
func (f Frame) MCAMostFrequent() uint16 {
	return binary.LittleEndian.Uint16(f.body()[10:12])
}

// MCATotal returns the total-counts field (64-bit).
func (f Frame) MCATotal() uint64 { return f.wideField64(16) }

// MCAStartTime returns the histogram's start-time field (64-bit).
func (f Frame) MCAStartTime() uint64 { return f.wideField64(24) }

// MCAStopTime returns the histogram's stop-time field (64-bit).
func (f Frame) MCAStopTime() uint64 { return f.wideField64(32) }

// MCABin returns the value of bin i in a histogram continuation/header
// payload, where bodyOff is the byte offset of bin 0 within this frame's
// body (McaHdrLen for a header frame, 0 for a continuation frame).
func (f Frame) MCABin(bodyOff int, i int) uint32 {
	b := f.body()
	o := bodyOff + i*McaBinLen
	if !StrictByteOrder {
		lo := binary.LittleEndian.Uint16(b[o : o+2])
		hi := binary.LittleEndian.Uint16(b[o+2 : o+4])
		return uint32(swap16As(lo)) | uint32(swap16As(hi))<<16
	}
	return binary.LittleEndian.Uint32(b[o : o+4])
}

// --- event-agnostic flags/time offset (first 8 bytes of any event body) ---

// TOff returns the per-event time offset shared by all event kinds.
func (f Frame) TOff() uint16 {
	return binary.LittleEndian.Uint16(f.body()[6:8])
}

// EventChannel returns the originating channel number shared by all
// event kinds (the low 3 bits of the event flags byte at body offset
// 4), per struct tespkt_event_hdr/tespkt_event_flags.
func (f Frame) EventChannel() uint8 {
	return f.body()[4] & 0x7
}

// --- tick (TickHdrLen bytes) ---

// TickPeriod returns the tick's period field.
func (f Frame) TickPeriod() uint32 { return f.wideField32(0) }

// TickTimestamp returns the tick's 64-bit timestamp.
func (f Frame) TickTimestamp() uint64 { return f.wideField64(8) }

// TickOverflow, TickErr, TickCFD return the tick's single-byte registers.
func (f Frame) TickOverflow() uint8 { return f.body()[16] }
func (f Frame) TickErr() uint8      { return f.body()[17] }
func (f Frame) TickCFD() uint8      { return f.body()[18] }

// TickLost returns the tick's lost-events counter.
func (f Frame) TickLost() uint32 { return f.wideField32(20) }

// --- peak (PeakHdrLen bytes) ---

// PeakHeight returns the peak's height field.
func (f Frame) PeakHeight() uint16 { return binary.LittleEndian.Uint16(f.body()[0:2]) }

// PeakRiseTime returns the peak's rise-time field.
func (f Frame) PeakRiseTime() uint16 { return binary.LittleEndian.Uint16(f.body()[2:4]) }

// --- area (AreaHdrLen bytes) ---

// AreaArea returns the area event's 32-bit area field.
func (f Frame) AreaArea() uint32 { return f.wideField32(0) }

// --- pulse (PulseHdrLen bytes: 2 size + 2 reserved + flags(4) + pulse(8)) ---

// PulseSize returns the pulse's size field (8-byte units).
func (f Frame) PulseSize() uint16 { return binary.LittleEndian.Uint16(f.body()[0:2]) }

// PulseArea returns the embedded tespkt_pulse.area field.
func (f Frame) PulseArea() uint32 { return f.wideField32(8) }

// PulseLength returns the embedded tespkt_pulse.length field.
func (f Frame) PulseLength() uint16 { return binary.LittleEndian.Uint16(f.body()[12:14]) }

// PulseToffset returns the embedded tespkt_pulse.toffset field.
func (f Frame) PulseToffset() uint16 { return binary.LittleEndian.Uint16(f.body()[14:16]) }

// --- trace (TraceHdrLen bytes: 2 size + trace flags(2) + event flags(2) + toff(2), header only) ---

// TraceSize returns a trace header frame's declared total size in bytes.
func (f Frame) TraceSize() uint16 { return binary.LittleEndian.Uint16(f.body()[0:2]) }
