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

// Package coinc publishes, once per configured tick window, the
// bitmask of channels whose events fell within that window. Grounded
// on tesd_task_coinc.c, but considerably simplified: the original
// tracks per-measurement coincidence groups with photon-count
// thresholds and persisted config files; this accumulates a single
// shared channel-bitmask vector over a configurable tick window,
// restricted to a configurable channel mask.
package coinc

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

type config struct {
	windowTicks uint32
	channelMask uint8
}

// Task accumulates an event-channel bitmask across a configurable
// number of tick frames, publishing and resetting it once the window
// elapses.
type Task struct {
	pub *wire.Publisher
	log *logrus.Entry

	onVector func(vec uint8)

	mu      sync.Mutex
	conf    config // to be applied at the next reset
	curConf config // in effect for the window being built
	vec     uint8
	ticks   uint32
}

// New creates a coincidence task with a default 1-tick window and all
// channels enabled, publishing on wire.CoincPubLPort.
func New(log *logrus.Entry) (*Task, error) {
	t := &Task{
		log:     log,
		conf:    config{windowTicks: 1, channelMask: 0xFF},
		curConf: config{windowTicks: 1, channelMask: 0xFF},
	}
	pub, err := wire.NewPublisher(fmt.Sprintf(":%d", wire.CoincPubLPort), 64, log)
	if err != nil {
		return nil, fmt.Errorf("coinc: listen: %w", err)
	}
	t.pub = pub
	return t, nil
}

// SetVectorSink registers fn to be called with every vector this task
// publishes, in addition to publishing it over the network. Lets
// tasks/coinccount consume the stream in-process rather than looping a
// second TCP subscription back to localhost.
func (t *Task) SetVectorSink(fn func(vec uint8)) {
	t.mu.Lock()
	t.onVector = fn
	t.mu.Unlock()
}

func (t *Task) Close() error { return t.pub.Close() }

func (t *Task) ID() string { return "coinc" }

func (t *Task) Init() error { return nil }

func (t *Task) Fin() error { return nil }

// Autoactivate is true: unlike the histogram publishers, the
// coincidence vector is useful input to tasks/coinccount even with no
// network subscriber connected.
func (t *Task) Autoactivate() bool { return true }

func (t *Task) MCASizeMode() tespkt.MCASizeMode { return tespkt.MCASizeFromLastBin }

// HandleConfigRequest validates and stages a new window/channel mask,
// applied at the vector's next reset.
func (t *Task) HandleConfigRequest(req wire.CoincConfigRequest) wire.CoincConfigReply {
	if req.WindowTicks == 0 {
		t.log.WithField("task", t.ID()).Info("received a malformed request")
		return wire.CoincConfigReply{Status: wire.CoincEInval}
	}

	t.mu.Lock()
	t.conf = config{windowTicks: req.WindowTicks, channelMask: req.ChannelMask}
	t.mu.Unlock()

	t.log.WithField("task", t.ID()).
		WithField("window_ticks", req.WindowTicks).
		WithField("channel_mask", fmt.Sprintf("%#x", req.ChannelMask)).
		Info("reconfigured")
	return wire.CoincConfigReply{
		Status:      wire.CoincOK,
		WindowTicks: req.WindowTicks,
		ChannelMask: req.ChannelMask,
	}
}

// HandlePacket folds one event frame's channel into the in-progress
// vector, publishing and resetting it once the configured number of
// ticks have elapsed.
func (t *Task) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	if errs != 0 {
		return tasksup.VerdictContinue
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if f.IsTick() {
		t.ticks++
		if t.ticks >= t.curConf.windowTicks {
			t.publish()
			t.curConf = t.conf
			t.vec = 0
			t.ticks = 0
		}
		return tasksup.VerdictContinue
	}

	if !f.IsEvent() {
		return tasksup.VerdictContinue
	}

	ch := f.EventChannel()
	if t.curConf.channelMask&(1<<ch) != 0 {
		t.vec |= 1 << ch
	}
	return tasksup.VerdictContinue
}

func (t *Task) publish() {
	t.pub.Publish([]byte{t.vec})
	if t.onVector != nil {
		t.onVector(t.vec)
	}
}
