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

// Package jitter publishes histograms of event-to-reference-channel
// timing offsets, configurable at runtime and active only while
// subscribed. Grounded on tesd_task_jitter.c.
package jitter

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// maxSimultPoints bounds how many non-reference frames may be tracked
// between two reference frames at once, same as MAX_SIMULT_POINTS.
const maxSimultPoints = 16

// binOffset shifts a signed bin index into [0, wire.JitterBins), so the
// middle bin holds zero delay. (wire.JitterBins-1)/2.
const binOffset = (wire.JitterBins - 1) / 2

type config struct {
	ticks  uint64
	refCh  uint8
}

type point struct {
	delaySince uint16
	delayUntil uint16
}

// Task accumulates event timing offsets relative to a configurable
// reference channel into a histogram, publishing and resetting it
// every configured number of ticks. Grounded on struct s_data_t in
// tesd_task_jitter.c.
type Task struct {
	pub *wire.Publisher
	log *logrus.Entry

	activate   func() error
	deactivate func() error

	mu         sync.Mutex
	conf       config // to be applied at the next reset
	curConf    config // in effect for the histogram being built
	bins       [wire.JitterBins]uint32
	ticks      uint64
	points     [maxSimultPoints]point
	curNpts    uint8
	publishing bool
	nsubs      int
}

// New creates a jitter task with the original's defaults (5 ticks per
// histogram, channel 0 as reference), listening for published
// histograms on wire.JitterPubLPort.
func New(log *logrus.Entry) (*Task, error) {
	t := &Task{
		log:     log,
		conf:    config{ticks: 5, refCh: 0},
		curConf: config{ticks: 5, refCh: 0},
	}
	pub, err := wire.NewPublisher(fmt.Sprintf(":%d", wire.JitterPubLPort), 64, log)
	if err != nil {
		return nil, fmt.Errorf("jitter: listen: %w", err)
	}
	t.pub = pub
	pub.SetOnSubscriberChange(t.onSubscriberChange)
	return t, nil
}

// SetActivator wires the callbacks used to tell the supervisor this
// task has gained or lost its reason to run. Mirrors
// task_jitter_sub_hn's calls to task_activate/task_deactivate.
func (t *Task) SetActivator(activate, deactivate func() error) {
	t.activate = activate
	t.deactivate = deactivate
}

func (t *Task) onSubscriberChange(count int) {
	t.mu.Lock()
	prev := t.nsubs
	t.nsubs = count
	if count > 0 && prev == 0 {
		t.curConf = t.conf
		t.bins = [wire.JitterBins]uint32{}
		t.ticks = 0
		t.publishing = false
		t.points[0] = point{}
		t.curNpts = 0
	}
	t.mu.Unlock()

	switch {
	case count > 0 && prev == 0 && t.activate != nil:
		t.log.WithField("task", t.ID()).Debug("first subscription, activating")
		if err := t.activate(); err != nil {
			t.log.WithError(err).Warn("jitter: activate failed")
		}
	case count == 0 && prev > 0 && t.deactivate != nil:
		t.log.WithField("task", t.ID()).Debug("last unsubscription, deactivating")
		if err := t.deactivate(); err != nil {
			t.log.WithError(err).Warn("jitter: deactivate failed")
		}
	}
}

// Close stops accepting new subscribers.
func (t *Task) Close() error { return t.pub.Close() }

func (t *Task) ID() string { return "jitter" }

func (t *Task) Init() error { return nil }

func (t *Task) Fin() error { return nil }

// Autoactivate is false: this task only runs while someone is
// subscribed to its histogram stream.
func (t *Task) Autoactivate() bool { return false }

func (t *Task) MCASizeMode() tespkt.MCASizeMode { return tespkt.MCASizeFromLastBin }

// HandleConfigRequest validates and stages a new reference
// channel/tick window, applied at the histogram's next reset.
// Grounded on task_jitter_req_hn. Unlike the original (which sends no
// reply at all on success), this always answers so the REQ/REP
// exchange never hangs the client.
func (t *Task) HandleConfigRequest(req wire.JitterConfigRequest) wire.JitterConfigReply {
	if req.Ticks == 0 || req.RefChannel > 1 {
		t.log.WithField("task", t.ID()).Info("received a malformed request")
		return wire.JitterConfigReply{Status: wire.JitterEInval}
	}

	t.mu.Lock()
	t.conf = config{ticks: req.Ticks, refCh: req.RefChannel}
	t.mu.Unlock()

	t.log.WithField("task", t.ID()).
		WithField("ref_channel", req.RefChannel).
		WithField("ticks", req.Ticks).
		Info("reconfigured")
	return wire.JitterConfigReply{Status: wire.JitterOK}
}

func saturatingAdd(a, delay uint16) uint16 {
	sum := uint32(a) + uint32(delay)
	if sum > 0xFFFF {
		return 0xFFFF
	}
	return uint16(sum)
}

// HandlePacket folds one event frame's timing offset into the
// in-progress histogram, publishing and resetting it once enough
// ticks have elapsed. Grounded on task_jitter_pkt_hn.
func (t *Task) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	isTick := f.IsTick()
	if !t.publishing && isTick {
		t.publishing = true
	}
	if !t.publishing || errs != 0 || !f.IsEvent() {
		return tasksup.VerdictContinue
	}

	if isTick {
		t.ticks++
	}

	delay := f.TOff()
	ch := f.EventChannel()

	if ch == t.curConf.refCh && !isTick {
		for p := uint8(0); p < t.curNpts-1 && p < maxSimultPoints; p++ {
			t.points[p].delayUntil = saturatingAdd(t.points[p].delayUntil, delay)

			bin := int32(t.points[p].delaySince)
			if bin > int32(t.points[p].delayUntil) {
				bin = -int32(t.points[p].delayUntil)
			}
			bin += binOffset
			if bin < 0 {
				bin = 0
			} else if bin >= wire.JitterBins {
				bin = wire.JitterBins - 1
			}
			t.bins[bin]++

			t.points[p].delaySince = 0
			t.points[p].delayUntil = 0
		}
		t.curNpts = 1
	} else if t.curNpts > 0 { // nothing is tracked before the first reference since wakeup
		if !isTick && t.curNpts < maxSimultPoints-1 {
			t.points[t.curNpts].delaySince = t.points[t.curNpts-1].delaySince
			t.points[t.curNpts].delayUntil = 0
			t.curNpts++
		}
		for p := uint8(0); p < t.curNpts; p++ {
			t.points[p].delaySince = saturatingAdd(t.points[p].delaySince, delay)
		}
	}

	if t.ticks == t.curConf.ticks+1 {
		t.publish()
		t.curConf = t.conf
		t.bins = [wire.JitterBins]uint32{}
		t.ticks = 0
		t.publishing = false
		if t.curNpts > 0 {
			t.points[0] = t.points[t.curNpts-1]
			t.curNpts = 1
		}
	}

	return tasksup.VerdictContinue
}

func (t *Task) publish() {
	buf := make([]byte, wire.JitterHistLen)
	for i, b := range t.bins {
		binary.LittleEndian.PutUint32(buf[i*4:], b)
	}
	t.pub.Publish(buf)
}
