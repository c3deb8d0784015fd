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

// NChannels is the number of digitizer channels a coincidence vector's
// bitmask can address (EventChannel is 3 bits wide).
const NChannels = 8

// Coincidence config status codes. Unlike the original's per-measurement
// coincidence-group engine (tesd_task_coinc.c), this endpoint configures
// a single shared window and channel mask, per the simplified model
// described for this area.
const (
	CoincOK     uint8 = 0
	CoincEInval uint8 = 1 // malformed request or zero window
)

// CoincConfigRequest reconfigures the coincidence window: WindowTicks is
// how many tick frames the task accumulates an event-channel bitmask
// over before publishing it, and ChannelMask restricts which channels'
// events are folded in (bit i set means channel i is considered).
type CoincConfigRequest struct {
	WindowTicks uint32
	ChannelMask uint8
}

// Encode writes r to w.
func (r CoincConfigRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint32(r.WindowTicks).WriteUint8(r.ChannelMask)
	return e.Err()
}

// DecodeCoincConfigRequest reads a CoincConfigRequest from r.
func DecodeCoincConfigRequest(r io.Reader) (CoincConfigRequest, error) {
	d := NewDecoder(r)
	req := CoincConfigRequest{
		WindowTicks: d.ReadUint32(),
		ChannelMask: d.ReadUint8(),
	}
	return req, d.Err()
}

// CoincConfigReply echoes the (possibly unchanged) configuration in
// effect after handling a CoincConfigRequest.
type CoincConfigReply struct {
	Status      uint8
	WindowTicks uint32
	ChannelMask uint8
}

// Encode writes r to w.
func (r CoincConfigReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status).WriteUint32(r.WindowTicks).WriteUint8(r.ChannelMask)
	return e.Err()
}

// DecodeCoincConfigReply reads a CoincConfigReply from r.
func DecodeCoincConfigReply(r io.Reader) (CoincConfigReply, error) {
	d := NewDecoder(r)
	rep := CoincConfigReply{
		Status:      d.ReadUint8(),
		WindowTicks: d.ReadUint32(),
		ChannelMask: d.ReadUint8(),
	}
	return rep, d.Err()
}

// CoincVectorLen is the length in bytes of a published coincidence
// vector: one byte, the bitmask of channels that fired within the
// configured window.
const CoincVectorLen = 1
