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

package wire

import "io"

// Info status codes.
const (
	InfoOK     uint8 = 0
	InfoEInval uint8 = 1
)

// InfoRequest is (u32 timeout_sec).
type InfoRequest struct {
	TimeoutSec uint32
}

func (r InfoRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint32(r.TimeoutSec)
	return e.Err()
}

func DecodeInfoRequest(r io.Reader) (InfoRequest, error) {
	d := NewDecoder(r)
	req := InfoRequest{TimeoutSec: d.ReadUint32()}
	return req, d.Err()
}

// InfoReply is (u8 status, u64 frames, missed, bad, ticks, mcas, traces,
// other_events, u8 seen_event_types_bitmask).
type InfoReply struct {
	Status          uint8
	Frames          uint64
	Missed          uint64
	Bad             uint64
	Ticks           uint64
	MCAs            uint64
	Traces          uint64
	OtherEvents     uint64
	SeenEventTypes  uint8
}

func (r InfoReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status).
		WriteUint64(r.Frames).
		WriteUint64(r.Missed).
		WriteUint64(r.Bad).
		WriteUint64(r.Ticks).
		WriteUint64(r.MCAs).
		WriteUint64(r.Traces).
		WriteUint64(r.OtherEvents).
		WriteUint8(r.SeenEventTypes)
	return e.Err()
}

func DecodeInfoReply(r io.Reader) (InfoReply, error) {
	d := NewDecoder(r)
	rep := InfoReply{
		Status:      d.ReadUint8(),
		Frames:      d.ReadUint64(),
		Missed:      d.ReadUint64(),
		Bad:         d.ReadUint64(),
		Ticks:       d.ReadUint64(),
		MCAs:        d.ReadUint64(),
		Traces:      d.ReadUint64(),
		OtherEvents: d.ReadUint64(),
	}
	rep.SeenEventTypes = d.ReadUint8()
	return rep, d.Err()
}
