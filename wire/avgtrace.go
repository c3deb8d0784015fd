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

// AvgTrace status codes.
const (
	AvgTraceOK     uint8 = 0
	AvgTraceEInval uint8 = 1
	AvgTraceETout  uint8 = 2 // timed out before a complete average accumulated
	AvgTraceEErr   uint8 = 3 // trace dropped: a frame was lost or invalid
)

// AvgTraceRequest is (u32 timeout_sec): wait up to this long for the
// task's running average to become ready; a zero timeout is rejected as
// malformed (AvgTraceEInval).
type AvgTraceRequest struct {
	TimeoutSec uint32
}

func (r AvgTraceRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint32(r.TimeoutSec)
	return e.Err()
}

func DecodeAvgTraceRequest(r io.Reader) (AvgTraceRequest, error) {
	d := NewDecoder(r)
	req := AvgTraceRequest{TimeoutSec: d.ReadUint32()}
	return req, d.Err()
}

// AvgTraceReply is (u8 status, bytes payload): payload is the raw
// averaged trace sample buffer, empty when status != AvgTraceOK.
type AvgTraceReply struct {
	Status  uint8
	Payload []byte
}

func (r AvgTraceReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status).WriteBytes(r.Payload)
	return e.Err()
}

func DecodeAvgTraceReply(r io.Reader) (AvgTraceReply, error) {
	d := NewDecoder(r)
	rep := AvgTraceReply{Status: d.ReadUint8()}
	rep.Payload = d.ReadBytes()
	return rep, d.Err()
}
