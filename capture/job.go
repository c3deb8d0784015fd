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

package capture

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/hdf5conv"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// Config controls policy choices the original exposed only as
// compile-time build switches.
type Config struct {
	// Root bounds every capture request's filename: the canonicalized
	// path must fall under this directory.
	Root string
	// Layout chooses whether payloads land in one data file or four,
	// split by frame type.
	Layout Layout
	// MCASizeMode resolves an MCA frame's ambiguous declared size the
	// same way for every captured frame.
	MCASizeMode tespkt.MCASizeMode
	// SaveHeaders writes the full frame (24-byte header + payload) to
	// the data file instead of just the payload.
	SaveHeaders bool
	// DropBadFrames discards invalid frames instead of recording them
	// under FTypeBad.
	DropBadFrames bool
}

// session is the mutable state of one in-progress capture job, fresh
// for every accepted write request. Grounded on
// struct s_task_save_data_t.
type session struct {
	path        string // canonicalized path, without extension
	measurement string // HDF5 group name
	mode        uint8
	async       bool
	df          *dataFiles
	idx         *indexFiles
	minTicks    uint64
	minEvents   uint64

	// done carries the deferred reply: the original sends the write
	// request's reply only once the job finishes, not when it is
	// accepted, so the request's TCP connection is held open by
	// server.go until this fires.
	done chan wire.CaptureReply

	stats Stats

	curStream struct {
		idx     StreamIndex
		size    uint64
		curSize uint64
		isEvent bool
		discard bool
	}
	curTick struct {
		idx     TickIndex
		nframes uint32
	}
	prevESize uint16
	prevFType FType
	recording bool
}

// Job is the capture-to-file task: a tasksup.Task that records frames
// into a session opened by a client's write request, and answers
// status/write requests over its REQ/REP endpoint. Grounded on
// tesd_tasks.c's save-to-file task
// (s_task_save_req_hn/s_task_save_pkt_hn).
type Job struct {
	cfg  Config
	log  *logrus.Entry
	conv *hdf5conv.Pool

	mu       sync.Mutex
	cur      *session
	activate func() error
}

// New creates an idle capture task. conv may be nil if HDF5 conversion
// is never requested (CapModeCapOnly for every job).
func New(cfg Config, conv *hdf5conv.Pool, log *logrus.Entry) *Job {
	return &Job{cfg: cfg, conv: conv, log: log}
}

// SetActivator wires the callback the job uses to tell the task
// supervisor it has become active (Supervisor.Activate(j.ID())), once
// both exist. Mirrors s_task_activate being called from within the
// request handler in the original.
func (j *Job) SetActivator(fn func() error) { j.activate = fn }

// ID identifies this task to the supervisor and wire protocol.
func (j *Job) ID() string { return "capture" }

// Init does nothing; sessions are opened lazily per request.
func (j *Job) Init() error { return nil }

// Fin closes any in-progress session's files.
func (j *Job) Fin() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cur == nil {
		return nil
	}
	err := closeSession(j.cur.df, j.cur.idx)
	if j.cur.done != nil {
		j.cur.done <- wire.CaptureReply{Status: wire.CapEFail}
	}
	j.cur = nil
	return err
}

// Autoactivate is false: a capture job only starts recording once a
// client's write request opens its files.
func (j *Job) Autoactivate() bool { return false }

// MCASizeMode reports the job's configured ambiguity resolution.
func (j *Job) MCASizeMode() tespkt.MCASizeMode { return j.cfg.MCASizeMode }

// HandleRequest answers one capture REQ/REP exchange. A status query
// or convert-only request (MinTicks == 0) is answered immediately. A
// write request opens a fresh session, activates the task, and
// returns a channel that fires once the job finishes recording — the
// caller (server.go) is expected to block on it for the real reply,
// mirroring the original sending TSAVE's reply only at job
// completion. Grounded on s_task_save_req_hn.
func (j *Job) HandleRequest(req wire.CaptureRequest) (wire.CaptureReply, <-chan wire.CaptureReply) {
	if req.Filename == "" || req.OverwriteMode > wire.OverwriteFile || req.Mode > wire.CapModeConvOnly {
		return wire.CaptureReply{Status: wire.CapEInval}, nil
	}

	checkOnly := req.MinTicks == 0
	path, err := Canonicalize(j.cfg.Root, req.Filename, checkOnly)
	if err != nil {
		if checkOnly {
			return wire.CaptureReply{Status: wire.CapEAbort}, nil
		}
		return wire.CaptureReply{Status: wire.CapEPerm}, nil
	}

	if checkOnly {
		st, err := readStatsFile(path)
		if err != nil {
			return wire.CaptureReply{Status: wire.CapEFail}, nil
		}
		status := uint8(wire.CapOK)
		if req.Mode == wire.CapModeConvOnly {
			status = j.convert(path, req.Measurement, j.cfg.Layout, st, req.Async)
		}
		return statsToReply(status, st), nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cur != nil && j.cur.recording {
		return wire.CaptureReply{Status: wire.CapEAbort}, nil
	}

	overwrite := req.OverwriteMode != wire.OverwriteNone
	df, idx, err := openSession(path, j.cfg.Layout, overwrite)
	if err != nil {
		return wire.CaptureReply{Status: wire.CapEFail}, nil
	}

	s := &session{
		path:        path,
		measurement: req.Measurement,
		mode:        req.Mode,
		async:       req.Async != 0,
		df:          df,
		idx:         idx,
		minTicks:    req.MinTicks,
		minEvents:   req.MinEvents,
		done:        make(chan wire.CaptureReply, 1),
	}
	j.cur = s
	j.log.WithField("task", j.ID()).WithField("path", path).
		Info("opened files for writing")

	if j.activate != nil {
		if err := j.activate(); err != nil {
			closeSession(df, idx)
			j.cur = nil
			return wire.CaptureReply{Status: wire.CapEFail}, nil
		}
	}

	return wire.CaptureReply{}, s.done
}

// convert runs (or schedules, if async) the HDF5 conversion for an
// already-closed session rooted at path, reporting the CaptureReply
// status the conversion outcome maps to.
func (j *Job) convert(path, measurement string, layout Layout, st Stats, async bool) uint8 {
	if j.conv == nil {
		return wire.CapEConv
	}
	req := buildConvRequest(path, measurement, layout, st, async)
	status, err := j.conv.Run(req)
	if err != nil || status != hdf5conv.StatusOK {
		return wire.CapEConv
	}
	return wire.CapOK
}

func statsToReply(status uint8, st Stats) wire.CaptureReply {
	return wire.CaptureReply{
		Status:        status,
		Ticks:         st.Ticks,
		Events:        st.Events,
		Traces:        st.Traces,
		Hists:         st.Hists,
		Frames:        st.Frames,
		FramesLost:    st.FramesLost,
		FramesDropped: st.FramesDropped,
	}
}

func readStatsFile(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return DecodeStats(f)
}
