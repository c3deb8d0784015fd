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

// Package avgtrace serves one-shot requests for the next complete
// averaged trace the digitizer emits, each bounded by a client-supplied
// timeout. Grounded on tesd_task_avgtr.c.
package avgtrace

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// maxSize bounds one averaged trace's accumulated byte length, same
// ambiguity and resolution as tasks/mca's maxSize and
// tespkt.AvgTrMaxSize.
const maxSize = tespkt.AvgTrMaxSize

// Task accumulates TraceAvg frames into a single buffer on behalf of
// exactly one outstanding client request at a time, replying once the
// trace completes, a frame is lost or invalid, or the request's
// timeout fires first. Grounded on struct s_data_t in
// tesd_task_avgtr.c.
type Task struct {
	log *logrus.Entry

	activate func() error

	mu        sync.Mutex
	pending   chan wire.AvgTraceReply
	timer     *time.Timer
	recording bool
	size      uint32
	curSize   uint32
	buf       [maxSize]byte
	havePrev  bool
	prevPSeq  uint16
}

// New creates an idle average-trace task.
func New(log *logrus.Entry) *Task {
	return &Task{log: log}
}

// SetActivator wires the callback used to tell the supervisor this
// task wants to run, mirroring task_activate being called from
// task_avgtr_req_hn.
func (t *Task) SetActivator(fn func() error) { t.activate = fn }

func (t *Task) ID() string { return "avgtrace" }

func (t *Task) Init() error { return nil }

// Fin answers any outstanding request with a failure so its client
// connection doesn't hang forever across a shutdown.
func (t *Task) Fin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	if t.pending != nil {
		t.pending <- wire.AvgTraceReply{Status: wire.AvgTraceETout}
		t.pending = nil
	}
	return nil
}

func (t *Task) Autoactivate() bool { return false }

func (t *Task) MCASizeMode() tespkt.MCASizeMode { return tespkt.MCASizeFromLastBin }

// HandleRequest answers one average-trace REQ/REP exchange. A
// malformed request (zero timeout) is answered immediately. A valid
// request starts a timeout timer, activates the task, and returns a
// channel that fires once a trace completes, is discarded, or the
// timer expires — whichever happens first. Grounded on
// task_avgtr_req_hn.
func (t *Task) HandleRequest(req wire.AvgTraceRequest) (wire.AvgTraceReply, <-chan wire.AvgTraceReply) {
	if req.TimeoutSec == 0 {
		return wire.AvgTraceReply{Status: wire.AvgTraceEInval}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return wire.AvgTraceReply{Status: wire.AvgTraceEInval}, nil
	}

	t.pending = make(chan wire.AvgTraceReply, 1)
	t.recording = false
	t.size = 0
	t.curSize = 0
	t.havePrev = false

	t.timer = time.AfterFunc(time.Duration(req.TimeoutSec)*time.Second, t.onTimeout)

	if t.activate != nil {
		if err := t.activate(); err != nil {
			t.timer.Stop()
			t.pending = nil
			return wire.AvgTraceReply{Status: wire.AvgTraceEInval}, nil
		}
	}

	t.log.WithField("task", t.ID()).WithField("timeout", req.TimeoutSec).
		Info("waiting for a complete average trace")

	return wire.AvgTraceReply{}, t.pending
}

func (t *Task) onTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return
	}
	t.log.WithField("task", t.ID()).Info("average trace timed out")
	t.pending <- wire.AvgTraceReply{Status: wire.AvgTraceETout}
	t.pending = nil
	t.recording = false
	t.size = 0
	t.curSize = 0
}

func (t *Task) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// HandlePacket accumulates one TraceAvg frame into the in-progress
// trace, replying and sleeping once it completes or goes bad.
// Grounded on task_avgtr_pkt_hn.
func (t *Task) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	if !f.IsTraceAvg() {
		return tasksup.VerdictContinue
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return tasksup.VerdictSleep
	}

	if !t.recording && f.IsHeader() {
		t.recording = true
		t.size = uint32(f.TraceSize())
	}
	if !t.recording {
		return tasksup.VerdictContinue
	}

	var status uint8
	done := false

	switch {
	case errs != 0:
		status, done = wire.AvgTraceEErr, true
	case t.curSize > 0 && t.havePrev && f.PSeq() != t.prevPSeq+1:
		status, done = wire.AvgTraceEErr, true
	default:
		paylen := uint32(flen - tespkt.HdrLen)
		copy(t.buf[t.curSize:], f.Payload())
		t.curSize += paylen
		t.havePrev = true
		t.prevPSeq = f.PSeq()
		if t.curSize == t.size {
			status, done = wire.AvgTraceOK, true
		}
	}

	if !done {
		return tasksup.VerdictContinue
	}

	t.stopTimer()

	rep := wire.AvgTraceReply{Status: status}
	if status == wire.AvgTraceOK {
		rep.Payload = append([]byte(nil), t.buf[:t.curSize]...)
		t.log.WithField("task", t.ID()).Info("average trace complete")
	} else {
		t.log.WithField("task", t.ID()).Info("discarded average trace")
	}
	t.pending <- rep
	t.pending = nil
	t.recording = false
	t.size = 0
	t.curSize = 0

	return tasksup.VerdictSleep
}
