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

// CoincCountPairs is the number of distinct unordered channel pairs
// tracked by the coincidence counter, C(NChannels, 2).
const CoincCountPairs = NChannels * (NChannels - 1) / 2

// Coincidence-count status codes.
const (
	CoincCountOK     uint8 = 0
	CoincCountEInval uint8 = 1
)

// CoincCountRequest queries the running per-pair coincidence counts and,
// if ResetWindow is non-zero, also reconfigures how many published
// coincidence vectors are accumulated before the counts are reported
// and cleared. A zero ResetWindow leaves the current window unchanged
// and simply reads the counters. Grounded on tesd_task_coinccount.c's
// notion of a tick-windowed counter, simplified to one global window
// rather than per-subscription pattern matching.
type CoincCountRequest struct {
	ResetWindow uint32
}

// Encode writes r to w.
func (r CoincCountRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint32(r.ResetWindow)
	return e.Err()
}

// DecodeCoincCountRequest reads a CoincCountRequest from r.
func DecodeCoincCountRequest(r io.Reader) (CoincCountRequest, error) {
	d := NewDecoder(r)
	req := CoincCountRequest{ResetWindow: d.ReadUint32()}
	return req, d.Err()
}

// CoincCountReply reports the window currently in effect and the
// running count for each of the CoincCountPairs channel pairs, indexed
// by PairIndex(i, j) for i < j.
type CoincCountReply struct {
	Status uint8
	Window uint32
	Counts [CoincCountPairs]uint64
}

// Encode writes r to w.
func (r CoincCountReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status).WriteUint32(r.Window)
	for _, c := range r.Counts {
		e.WriteUint64(c)
	}
	return e.Err()
}

// DecodeCoincCountReply reads a CoincCountReply from r.
func DecodeCoincCountReply(r io.Reader) (CoincCountReply, error) {
	d := NewDecoder(r)
	rep := CoincCountReply{
		Status: d.ReadUint8(),
		Window: d.ReadUint32(),
	}
	for i := range rep.Counts {
		rep.Counts[i] = d.ReadUint64()
	}
	return rep, d.Err()
}

// PairIndex returns the index into CoincCountReply.Counts for the
// unordered pair (i, j), i != j, both in [0, NChannels).
func PairIndex(i, j uint8) int {
	if i > j {
		i, j = j, i
	}
	// Triangular-number offset to the start of row i, plus the column
	// offset within that row.
	idx := 0
	for r := uint8(0); r < i; r++ {
		idx += int(NChannels - 1 - r)
	}
	idx += int(j - i - 1)
	return idx
}
