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

import (
	"fmt"
	"io"
)

// Jitter status codes.
const (
	JitterOK     uint8 = 0
	JitterEInval uint8 = 1
)

// JitterBins is the fixed number of bins in a published jitter
// histogram: one bin per clock tick of offset in [-512, 512], the middle
// bin holding zero; offsets beyond either end land in the end bins.
const JitterBins = 1025

// JitterHistLen is the wire length in bytes of one published jitter
// histogram frame: one u32 bin count per bin.
const JitterHistLen = JitterBins * 4

// JitterConfigRequest reconfigures the jitter task's reference channel
// and accumulation window: (u8 ref_channel, u64 ticks).
type JitterConfigRequest struct {
	RefChannel uint8
	Ticks      uint64
}

func (r JitterConfigRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.RefChannel).WriteUint64(r.Ticks)
	return e.Err()
}

func DecodeJitterConfigRequest(r io.Reader) (JitterConfigRequest, error) {
	d := NewDecoder(r)
	req := JitterConfigRequest{RefChannel: d.ReadUint8()}
	req.Ticks = d.ReadUint64()
	return req, d.Err()
}

// JitterConfigReply is (u8 status).
type JitterConfigReply struct {
	Status uint8
}

func (r JitterConfigReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status)
	return e.Err()
}

func DecodeJitterConfigReply(r io.Reader) (JitterConfigReply, error) {
	d := NewDecoder(r)
	rep := JitterConfigReply{Status: d.ReadUint8()}
	return rep, d.Err()
}

// JitterHistogram is one published jitter histogram: JitterBins bins,
// each the count of reference-to-channel tick offsets landing in that
// bin, sent as a fixed-size frame so subscribers can decode it without
// a length prefix.
type JitterHistogram struct {
	Bins [JitterBins]uint32
}

// Encode writes the fixed JitterHistLen-byte frame.
func (h *JitterHistogram) Encode(w io.Writer) error {
	e := NewEncoder(w)
	for _, b := range h.Bins {
		e.WriteUint32(b)
	}
	return e.Err()
}

// DecodeJitterHistogram reads a fixed-size JitterHistogram frame.
func DecodeJitterHistogram(r io.Reader) (*JitterHistogram, error) {
	d := NewDecoder(r)
	h := &JitterHistogram{}
	for i := range h.Bins {
		h.Bins[i] = d.ReadUint32()
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("wire: decode jitter histogram: %w", err)
	}
	return h, nil
}
