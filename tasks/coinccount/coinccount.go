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

// Package coinccount tallies, per channel pair, how often both
// channels appear together in a tasks/coinc vector, over a
// configurable rolling window of vectors. Grounded on
// tesd_task_coinccount.c, simplified from the original's per-subscriber
// pattern-matching grammar ('0'/'1'-'16'/'N'/'-'/'X' tokens) down to one
// shared set of per-pair counters queryable over REQ/REP. Consumes
// tasks/coinc's output in-process via a callback (coinc.Task
// already runs in this server process), standing in for the original's
// separate SUB-socket connection to the coincidence publisher.
package coinccount

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/wire"
)

// Task tallies per-channel-pair coincidence counts across a rolling
// window of published vectors.
type Task struct {
	log *logrus.Entry

	mu        sync.Mutex
	window    uint32 // vectors accumulated before counts auto-reset
	curWindow uint32
	nvecs     uint32
	counts    [wire.CoincCountPairs]uint64
}

// New creates a counter with a default window of 64 vectors: counts
// auto-reset once 64 vectors have been folded in.
func New(log *logrus.Entry) *Task {
	return &Task{log: log, window: 64, curWindow: 64}
}

// OnVector folds one tasks/coinc-published bitmask into the running
// per-pair counts, auto-resetting once curWindow vectors have been
// folded in. Registered via coinc.Task.SetVectorSink.
func (t *Task) OnVector(vec uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := uint8(0); i < wire.NChannels; i++ {
		if vec&(1<<i) == 0 {
			continue
		}
		for j := i + 1; j < wire.NChannels; j++ {
			if vec&(1<<j) != 0 {
				t.counts[wire.PairIndex(i, j)]++
			}
		}
	}

	t.nvecs++
	if t.nvecs >= t.curWindow {
		t.counts = [wire.CoincCountPairs]uint64{}
		t.nvecs = 0
		t.curWindow = t.window
	}
}

// HandleRequest answers a query, optionally reconfiguring the rolling
// window for subsequent counting. Grounded on
// task_coinccount_req_hn's get/set-then-reply shape.
func (t *Task) HandleRequest(req wire.CoincCountRequest) wire.CoincCountReply {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.ResetWindow != 0 {
		t.window = req.ResetWindow
		t.log.WithField("task", "coinccount").
			WithField("window", req.ResetWindow).
			Info("reconfigured")
	}

	rep := wire.CoincCountReply{
		Status: wire.CoincCountOK,
		Window: t.curWindow,
		Counts: t.counts,
	}
	return rep
}
