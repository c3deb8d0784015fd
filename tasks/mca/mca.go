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

// Package mca republishes complete MCA histograms assembled out of a
// stream of MCA frames, activating only while at least one subscriber
// is connected. Grounded on tesd_task_hist.c's task_hist_pkt_hn and
// task_hist_sub_hn.
package mca

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// maxSize is the largest histogram this task will ever assemble: the
// highest 16-bit number that is a multiple of 8 bytes. Grounded on
// tesd_task_hist.c's TES_HIST_MAXSIZE, the same ambiguous-size problem
// resolved the same way as tespkt.AvgTrMaxSize.
const maxSize = tespkt.AvgTrMaxSize

// Task is the MCA histogram publisher: a tasksup.Task that accumulates
// MCA frames into a single buffer and publishes the complete histogram
// once every bin has arrived. Grounded on struct s_data_t in
// tesd_task_hist.c.
type Task struct {
	pub *wire.Publisher
	log *logrus.Entry

	activate   func() error
	deactivate func() error

	mu          sync.Mutex
	sizeMode    tespkt.MCASizeMode
	buf         [maxSize]byte
	nbins       uint16
	curNbins    uint16
	size        uint32
	curSize     uint32
	discard     bool
	havePrev    bool
	prevPSeq    uint16
	nsubs       int
}

// New creates an idle MCA publisher task listening on wire.MCAPubLPort.
func New(sizeMode tespkt.MCASizeMode, log *logrus.Entry) (*Task, error) {
	t := &Task{sizeMode: sizeMode, log: log}
	pub, err := wire.NewPublisher(fmt.Sprintf(":%d", wire.MCAPubLPort), 64, log)
	if err != nil {
		return nil, fmt.Errorf("mca: listen: %w", err)
	}
	t.pub = pub
	pub.SetOnSubscriberChange(t.onSubscriberChange)
	return t, nil
}

// SetActivator wires the callbacks the task uses to tell the
// supervisor it has gained (or lost) its reason to run, mirroring
// task_hist_sub_hn's calls to task_activate/task_deactivate on the
// first subscribe / last unsubscribe.
func (t *Task) SetActivator(activate, deactivate func() error) {
	t.activate = activate
	t.deactivate = deactivate
}

func (t *Task) onSubscriberChange(count int) {
	t.mu.Lock()
	prev := t.nsubs
	t.nsubs = count
	if count > 0 && prev == 0 {
		t.clear()
		t.discard = true
	}
	t.mu.Unlock()

	switch {
	case count > 0 && prev == 0 && t.activate != nil:
		if err := t.activate(); err != nil {
			t.log.WithError(err).Warn("mca: activate failed")
		}
	case count == 0 && prev > 0 && t.deactivate != nil:
		if err := t.deactivate(); err != nil {
			t.log.WithError(err).Warn("mca: deactivate failed")
		}
	}
}

// clear resets the accumulation state, matching s_clear. Caller holds
// t.mu.
func (t *Task) clear() {
	t.nbins = 0
	t.curNbins = 0
	t.size = 0
	t.curSize = 0
}

// Close stops accepting new subscribers.
func (t *Task) Close() error { return t.pub.Close() }

func (t *Task) ID() string { return "mca" }

func (t *Task) Init() error { return nil }

func (t *Task) Fin() error { return nil }

// Autoactivate is false: this task only runs while someone is
// subscribed to its histogram stream.
func (t *Task) Autoactivate() bool { return false }

func (t *Task) MCASizeMode() tespkt.MCASizeMode { return t.sizeMode }

// HandlePacket accumulates one frame's contribution to the
// in-progress histogram, publishing it once complete. Grounded on
// task_hist_pkt_hn.
func (t *Task) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	if errs != 0 || !f.IsMCA() {
		return tasksup.VerdictContinue
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	isHeader := f.IsHeader()
	paylen := uint32(flen - tespkt.HdrLen)

	if !isHeader {
		if t.discard {
			return tasksup.VerdictContinue
		}
		pseq := f.PSeq()
		if t.havePrev && pseq != t.prevPSeq+1 {
			t.discard = true
			t.clear()
			return tasksup.VerdictContinue
		}
	} else {
		if t.curNbins > 0 && t.curNbins < t.nbins {
			t.log.WithField("task", t.ID()).
				Warn("mca: new histogram while previous one incomplete, discarding")
		}
		t.clear()
		t.discard = false
		t.nbins = f.MCANBinsTotal()
		t.size = f.MCAHistSize(t.sizeMode)
		if t.size > maxSize {
			t.discard = true
			return tasksup.VerdictContinue
		}
	}

	t.prevPSeq = f.PSeq()
	t.havePrev = true

	if t.discard {
		return tasksup.VerdictContinue
	}

	if t.curSize+paylen > t.size {
		t.discard = true
		t.clear()
		return tasksup.VerdictContinue
	}

	copy(t.buf[t.curSize:], f.Payload())
	t.curSize += paylen
	t.curNbins += binsIn(isHeader, paylen)

	if t.curNbins == t.nbins {
		frame := make([]byte, t.curSize)
		copy(frame, t.buf[:t.curSize])
		t.pub.Publish(frame)
		t.clear()
	}

	return tasksup.VerdictContinue
}

// binsIn returns how many histogram bins a frame's payload contributed,
// accounting for the header frame's extra McaHdrLen bytes ahead of its
// bins.
func binsIn(isHeader bool, paylen uint32) uint16 {
	if isHeader {
		if paylen <= tespkt.McaHdrLen {
			return 0
		}
		return uint16((paylen - tespkt.McaHdrLen) / tespkt.McaBinLen)
	}
	return uint16(paylen / tespkt.McaBinLen)
}
