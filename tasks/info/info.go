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

// Package info answers one-shot requests for a packet-stream summary
// accumulated over a client-supplied observation period. Grounded on
// tesd_task_info.c.
package info

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// Event-type bit offsets for InfoReply.SeenEventTypes, matching
// linear_etype's (pkt_type+1, or 4+tr_type for traces) numbering so bit
// 0 is free to mean "no events seen".
const (
	etypePeak     = 1
	etypeArea     = 2
	etypePulse    = 3
	etypeTraceSgl = 4
	etypeTraceAvg = 5
	etypeTraceDP  = 6
	etypeTraceDPTr = 7
)

type stats struct {
	received, missed, bad   uint64
	ticks, mcas, traces     uint64
	events                  uint64
	eventTypes              uint8
}

// Task accumulates packet-stream statistics for the duration of one
// outstanding client request, replying once the request's timeout
// fires. Grounded on struct s_data_t in tesd_task_info.c.
type Task struct {
	log *logrus.Entry

	activate   func() error
	deactivate func() error

	mu      sync.Mutex
	pending chan wire.InfoReply
	timer   *time.Timer
	stats   stats
}

// New creates an idle info task.
func New(log *logrus.Entry) *Task { return &Task{log: log} }

// SetActivator wires the callbacks used to tell the supervisor this
// task has gained or lost its reason to run, mirroring
// task_info_req_hn's task_activate call and s_timeout_hn's
// task_deactivate call.
func (t *Task) SetActivator(activate, deactivate func() error) {
	t.activate = activate
	t.deactivate = deactivate
}

func (t *Task) ID() string { return "info" }

func (t *Task) Init() error { return nil }

// Fin answers any outstanding request so its client connection doesn't
// hang forever across a shutdown.
func (t *Task) Fin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
	if t.pending != nil {
		t.pending <- wire.InfoReply{Status: wire.InfoOK}
		t.pending = nil
	}
	return nil
}

func (t *Task) Autoactivate() bool { return false }

func (t *Task) MCASizeMode() tespkt.MCASizeMode { return tespkt.MCASizeFromLastBin }

// HandleRequest starts accumulating statistics for req.TimeoutSec
// seconds, returning a channel that fires once that timer elapses.
// Grounded on task_info_req_hn.
func (t *Task) HandleRequest(req wire.InfoRequest) (wire.InfoReply, <-chan wire.InfoReply) {
	if req.TimeoutSec == 0 {
		t.log.WithField("task", t.ID()).Info("received a malformed request")
		return wire.InfoReply{Status: wire.InfoEInval}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return wire.InfoReply{Status: wire.InfoEInval}, nil
	}

	t.stats = stats{}
	t.pending = make(chan wire.InfoReply, 1)
	t.timer = time.AfterFunc(time.Duration(req.TimeoutSec)*time.Second, t.onTimeout)

	if t.activate != nil {
		if err := t.activate(); err != nil {
			t.timer.Stop()
			t.pending = nil
			return wire.InfoReply{Status: wire.InfoEInval}, nil
		}
	}

	t.log.WithField("task", t.ID()).WithField("timeout", req.TimeoutSec).
		Info("collecting packet info")

	return wire.InfoReply{}, t.pending
}

func (t *Task) onTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return
	}

	if t.deactivate != nil {
		if err := t.deactivate(); err != nil {
			t.log.WithError(err).Warn("info: deactivate failed")
		}
	}

	s := t.stats
	t.log.WithField("task", t.ID()).
		WithField("received", s.received).
		WithField("missed", s.missed).
		WithField("bad", s.bad).
		WithField("ticks", s.ticks).
		WithField("mcas", s.mcas).
		WithField("traces", s.traces).
		WithField("events", s.events).
		Info("packet info collected")

	t.pending <- wire.InfoReply{
		Status:         wire.InfoOK,
		Frames:         s.received,
		Missed:         s.missed,
		Bad:            s.bad,
		Ticks:          s.ticks,
		MCAs:           s.mcas,
		Traces:         s.traces,
		OtherEvents:    s.events,
		SeenEventTypes: s.eventTypes,
	}
	t.pending = nil
}

func (t *Task) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// HandlePacket folds one frame into the running statistics. Grounded
// on task_info_pkt_hn.
func (t *Task) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return tasksup.VerdictSleep
	}

	isTick := f.IsTick()
	isHeader := f.IsHeader()
	isTrHeader := (f.IsTraceLong() && isHeader) || f.IsTraceDP()
	isMCAHeader := f.IsMCA() && isHeader
	isEvent := f.IsEvent() && !isTick

	s := &t.stats
	s.received++
	s.missed += uint64(missed)

	switch {
	case errs != 0:
		s.bad++
	case isTick:
		s.ticks++
	case isMCAHeader:
		s.mcas++
	case isTrHeader:
		s.traces++
	case isEvent:
		s.events += uint64(f.EventNums(flen))
	}

	if isEvent {
		s.eventTypes |= 1 << linearEtype(f.PKT(), f.TR())
	}

	return tasksup.VerdictContinue
}

func linearEtype(pkt, tr uint8) uint8 {
	if pkt == tespkt.TypeTrace {
		return 4 + tr
	}
	return pkt + 1
}
