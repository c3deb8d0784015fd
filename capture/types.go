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

// Package capture implements the capture-to-file task: it records
// frames matching an active job into a data file (or a set of
// per-type data files) plus a small family of index files describing
// where each frame, tick, histogram, and trace landed, so a later
// conversion step (hdf5conv) can lay them out as HDF5 datasets without
// re-parsing the wire protocol.
package capture

import (
	"encoding/binary"
	"io"
)

// Layout chooses whether captured payloads land in one file or are
// split by frame type.
type Layout int

const (
	// LayoutPerType writes bad/MCA/tick/event payloads to four
	// separate data files (the original's default build).
	LayoutPerType Layout = iota
	// LayoutSingleFile writes every payload, regardless of type, to
	// one data file (the original's TSAVE_SINGLE_FILE build option).
	LayoutSingleFile
)

// FType is the linearized frame-type code stored in a frame index
// record, matching linear_etype()'s PT values.
type FType uint8

const (
	FTypePeak FType = iota
	FTypeArea
	FTypePulse
	FTypeTraceSgl
	FTypeTraceAvg
	FTypeTraceDP
	FTypeTraceDPTr
	FTypeTick
	FTypeMCA
	FTypeBad
)

// linearEType maps a trace/packet-type pair to its FType, matching
// linear_etype(pkt_type, tr_type) := pkt_type==TRACE ? 3+tr_type : pkt_type.
func linearEType(pktType, trType uint8) FType {
	const pktTypeTrace = 3
	if pktType == pktTypeTrace {
		return FType(3 + trType)
	}
	return FType(pktType)
}

// Stats mirrors the wire.CaptureReply payload and the on-disk stats
// record (TSAVE_STAT_LEN == 64 bytes in the original, one field added
// here — Errors — padded out to keep the same 64-byte footprint).
type Stats struct {
	Ticks          uint64
	Events         uint64
	Traces         uint64
	Hists          uint64
	Frames         uint64
	FramesLost     uint64
	FramesDropped  uint64
	Errors         uint64
}

// StatLen is the on-disk size of a Stats record.
const StatLen = 64

// Encode writes the fixed 64-byte stats record.
func (s Stats) Encode(w io.Writer) error {
	var buf [StatLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], s.Ticks)
	binary.LittleEndian.PutUint64(buf[8:16], s.Events)
	binary.LittleEndian.PutUint64(buf[16:24], s.Traces)
	binary.LittleEndian.PutUint64(buf[24:32], s.Hists)
	binary.LittleEndian.PutUint64(buf[32:40], s.Frames)
	binary.LittleEndian.PutUint64(buf[40:48], s.FramesLost)
	binary.LittleEndian.PutUint64(buf[48:56], s.FramesDropped)
	binary.LittleEndian.PutUint64(buf[56:64], s.Errors)
	_, err := w.Write(buf[:])
	return err
}

// DecodeStats reads a fixed 64-byte stats record.
func DecodeStats(r io.Reader) (Stats, error) {
	var buf [StatLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Stats{}, err
	}
	return Stats{
		Ticks:         binary.LittleEndian.Uint64(buf[0:8]),
		Events:        binary.LittleEndian.Uint64(buf[8:16]),
		Traces:        binary.LittleEndian.Uint64(buf[16:24]),
		Hists:         binary.LittleEndian.Uint64(buf[24:32]),
		Frames:        binary.LittleEndian.Uint64(buf[32:40]),
		FramesLost:    binary.LittleEndian.Uint64(buf[40:48]),
		FramesDropped: binary.LittleEndian.Uint64(buf[48:56]),
		Errors:        binary.LittleEndian.Uint64(buf[56:64]),
	}, nil
}

// FrameIndex is one frame index record: 16 bytes, one per captured
// frame, recording where its payload landed and what kind it was.
type FrameIndex struct {
	Start   uint64 // offset into the frame's data file
	Length  uint32 // payload length
	ESize   uint16 // original event size, FPGA byte order
	Changed uint8  // 1 if this frame's type/size differs from the previous one
	FType   FType
	SeqErr  bool // a frame sequence gap preceded this frame
}

// FrameIndexLen is the on-disk size of a FrameIndex record.
const FrameIndexLen = 16

// Encode writes the fixed 16-byte frame index record. The ftype byte
// packs FType in its low 4 bits and the sequence-error flag in bit 7,
// mirroring the original's packed PT:4/SEQ:1 bitfield.
func (fi FrameIndex) Encode(w io.Writer) error {
	var buf [FrameIndexLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], fi.Start)
	binary.LittleEndian.PutUint32(buf[8:12], fi.Length)
	binary.LittleEndian.PutUint16(buf[12:14], fi.ESize)
	buf[14] = fi.Changed
	ftype := byte(fi.FType) & 0x0F
	if fi.SeqErr {
		ftype |= 0x80
	}
	buf[15] = ftype
	_, err := w.Write(buf[:])
	return err
}

// TickIndex is one tick index record: 8 bytes, describing the span of
// event frames bracketed by two ticks.
type TickIndex struct {
	StartFrame uint32 // frame number of the first non-tick event after a tick
	StopFrame  uint32 // frame number of the last non-tick event before the next tick
}

// TickIndexLen is the on-disk size of a TickIndex record.
const TickIndexLen = 8

// Encode writes the fixed 8-byte tick index record.
func (ti TickIndex) Encode(w io.Writer) error {
	var buf [TickIndexLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], ti.StartFrame)
	binary.LittleEndian.PutUint32(buf[4:8], ti.StopFrame)
	_, err := w.Write(buf[:])
	return err
}

// StreamIndex is one MCA-histogram or trace index record: 16 bytes,
// describing a complete multi-frame stream's span in its data file.
type StreamIndex struct {
	Start  uint64
	Length uint64
}

// StreamIndexLen is the on-disk size of a StreamIndex record.
const StreamIndexLen = 16

// Encode writes the fixed 16-byte stream index record.
func (si StreamIndex) Encode(w io.Writer) error {
	var buf [StreamIndexLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], si.Start)
	binary.LittleEndian.PutUint64(buf[8:16], si.Length)
	_, err := w.Write(buf[:])
	return err
}
