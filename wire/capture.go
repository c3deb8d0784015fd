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

// Capture status codes, from original_source/include/api.h's TES_CAP_REQ_*.
const (
	CapOK            uint8 = 0
	CapEInval        uint8 = 1 // malformed request
	CapEAbort        uint8 = 2 // file exists / no such job
	CapEPerm         uint8 = 3 // filename not permitted
	CapEFail         uint8 = 4 // error initializing
	CapEWrite        uint8 = 5 // error while writing
	CapEConv         uint8 = 6 // error while converting
	CapEFin          uint8 = 7 // conversion ok, error finalizing
	CaptureLPort     = 55555
	AvgTraceLPort    = 55556
	InfoLPort        = 55554
	JitterReqLPort   = 55557
	JitterPubLPort   = 55567
	MCAPubLPort      = 55565

	// CoincReqLPort and CoincPubLPort are not fixed by the original (its
	// coincidence task's endpoints are wired up from a config file, not
	// a compile-time port constant, unlike every other task's). Chosen
	// here to continue this file's port numbering scheme.
	CoincReqLPort      = 55558
	CoincPubLPort      = 55568
	CoincCountReqLPort = 55559
)

// Overwrite modes for a capture request.
const (
	OverwriteNone     uint8 = 0 // error if the group/file already exists
	OverwriteRelink   uint8 = 1 // move existing group aside, then write
	OverwriteFile     uint8 = 2 // overwrite the whole file
)

// Capture/conversion modes.
const (
	CapModeAuto     uint8 = 0 // capture, then convert unless status-only
	CapModeCapOnly  uint8 = 1
	CapModeConvOnly uint8 = 2
)

// CaptureRequest is the capture endpoint's request shape:
// (string filename, string measurement, u64 min_ticks, u64 min_events,
// u8 overwrite_mode, u8 async, u8 mode).
type CaptureRequest struct {
	Filename      string
	Measurement   string
	MinTicks      uint64
	MinEvents     uint64
	OverwriteMode uint8
	Async         uint8
	Mode          uint8
}

// Encode writes r to w.
func (r CaptureRequest) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteString(r.Filename).
		WriteString(r.Measurement).
		WriteUint64(r.MinTicks).
		WriteUint64(r.MinEvents).
		WriteUint8(r.OverwriteMode).
		WriteUint8(r.Async).
		WriteUint8(r.Mode)
	return e.Err()
}

// DecodeCaptureRequest reads a CaptureRequest from r.
func DecodeCaptureRequest(r io.Reader) (CaptureRequest, error) {
	d := NewDecoder(r)
	req := CaptureRequest{
		Filename:    d.ReadString(),
		Measurement: d.ReadString(),
		MinTicks:    d.ReadUint64(),
		MinEvents:   d.ReadUint64(),
	}
	req.OverwriteMode = d.ReadUint8()
	req.Async = d.ReadUint8()
	req.Mode = d.ReadUint8()
	return req, d.Err()
}

// CaptureReply is the capture endpoint's reply shape: (u8 status, u64
// ticks, events, traces, hists, frames, frames_lost, frames_dropped).
type CaptureReply struct {
	Status         uint8
	Ticks          uint64
	Events         uint64
	Traces         uint64
	Hists          uint64
	Frames         uint64
	FramesLost     uint64
	FramesDropped  uint64
}

// Encode writes r to w.
func (r CaptureReply) Encode(w io.Writer) error {
	e := NewEncoder(w)
	e.WriteUint8(r.Status).
		WriteUint64(r.Ticks).
		WriteUint64(r.Events).
		WriteUint64(r.Traces).
		WriteUint64(r.Hists).
		WriteUint64(r.Frames).
		WriteUint64(r.FramesLost).
		WriteUint64(r.FramesDropped)
	return e.Err()
}

// DecodeCaptureReply reads a CaptureReply from r.
func DecodeCaptureReply(r io.Reader) (CaptureReply, error) {
	d := NewDecoder(r)
	rep := CaptureReply{
		Status:        d.ReadUint8(),
		Ticks:         d.ReadUint64(),
		Events:        d.ReadUint64(),
		Traces:        d.ReadUint64(),
		Hists:         d.ReadUint64(),
		Frames:        d.ReadUint64(),
		FramesLost:    d.ReadUint64(),
		FramesDropped: d.ReadUint64(),
	}
	return rep, d.Err()
}
