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

package tasksup

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/ring"
	"github.com/tesdaq/tesd/tespkt"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func buildPeak(fseq uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	return b
}

// countingTask counts every HandlePacket call and always asks to keep
// going, so drain exhausts the ring and the run loop goes idle again
// waiting on the next SigWakeup.
type countingTask struct {
	mu    sync.Mutex
	seen  int
	ready chan struct{}
}

func (t *countingTask) ID() string { return "counting" }
func (t *countingTask) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) Verdict {
	t.mu.Lock()
	t.seen++
	n := t.seen
	t.mu.Unlock()
	if n == 1 && t.ready != nil {
		close(t.ready)
	}
	return VerdictContinue
}
func (t *countingTask) Init() error                        { return nil }
func (t *countingTask) Fin() error                          { return nil }
func (t *countingTask) Autoactivate() bool                  { return true }
func (t *countingTask) MCASizeMode() tespkt.MCASizeMode     { return tespkt.MCASizeFromLastBin }

type recordingSink struct {
	mu        sync.Mutex
	wakeups   int
	dispatches map[Verdict]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{dispatches: make(map[Verdict]int)}
}

func (s *recordingSink) Wakeup(task string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeups++
}

func (s *recordingSink) Dispatch(task string, verdict Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches[verdict]++
}

func (s *recordingSink) snapshot() (int, map[Verdict]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[Verdict]int, len(s.dispatches))
	for k, v := range s.dispatches {
		cp[k] = v
	}
	return s.wakeups, cp
}

func TestSupervisorDispatchesFramesAndReportsMetrics(t *testing.T) {
	backend := ring.NewMemBackend(1, 8, 64)
	mgr := ring.NewManager(backend)
	backend.PushFrame(0, buildPeak(1))

	task := &countingTask{ready: make(chan struct{})}
	sink := newRecordingSink()

	sup := NewSupervisor(mgr, testLog())
	sup.SetMetrics(sink)

	require.NoError(t, sup.Start([]Task{task}))
	defer sup.Stop()
	sup.Wakeup()

	select {
	case <-task.ready:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the task to see its frame")
	}

	require.Eventually(t, func() bool {
		wakeups, dispatches := sink.snapshot()
		return wakeups >= 1 && dispatches[VerdictContinue] >= 1
	}, time.Second, time.Millisecond)
}

func TestSupervisorActivateDeactivateRoundTrip(t *testing.T) {
	backend := ring.NewMemBackend(1, 8, 64)
	mgr := ring.NewManager(backend)

	task := &countingTask{}
	sup := NewSupervisor(mgr, testLog())
	require.NoError(t, sup.Start([]Task{task}))
	defer sup.Stop()

	require.NoError(t, sup.Deactivate("counting"))
	require.NoError(t, sup.Activate("counting"))
	require.Error(t, sup.Activate("no-such-task"))
}
