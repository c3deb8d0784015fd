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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/ring"
)

// wakeupQueueLen bounds how many pending wakeups may queue for one
// task. A task already processing a wakeup simply ignores a redundant
// one: nextRing always consults the ring's live tail, so no wakeup is
// ever "lost" in a way that stalls the task.
const wakeupQueueLen = 4

// handle is the supervisor's bookkeeping for one running task.
type handle struct {
	task   Task
	sig    chan Signal
	state  *runState
	active bool
	busy   bool
}

// MetricsSink receives dispatch-loop observations. Implementations
// must be safe for concurrent use, since every task goroutine calls
// into it. A nil sink (the default) disables observation entirely.
type MetricsSink interface {
	// Wakeup is called once per SigWakeup delivered to an active task.
	Wakeup(task string)
	// Dispatch is called once per runState.dispatch result, labeled by the
	// verdict it returned.
	Dispatch(task string, verdict Verdict)
}

// Supervisor starts, activates, wakes, and stops a fixed set of Tasks
// against a shared ring.Manager: one goroutine per task, replacing the
// original's zactor/zloop task threads signaled over a PAIR socket.
type Supervisor struct {
	mgr     *ring.Manager
	log     *logrus.Entry
	metrics MetricsSink
	mu      sync.Mutex
	tasks   []*handle
	wg      sync.WaitGroup
	died    chan string
}

// NewSupervisor creates a supervisor over mgr; log receives every
// task's lifecycle messages.
func NewSupervisor(mgr *ring.Manager, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		mgr:  mgr,
		log:  log,
		died: make(chan string, 8),
	}
}

// SetMetrics wires a MetricsSink to observe every wakeup and dispatch
// from this point on. Call before Start.
func (s *Supervisor) SetMetrics(sink MetricsSink) {
	s.metrics = sink
}

// Start runs Init on every task and launches its goroutine, blocking
// until each has either become ready or failed to initialize. On the
// first failure, already-started tasks are stopped and the error is
// returned.
func (s *Supervisor) Start(tasks []Task) error {
	for _, t := range tasks {
		h := &handle{
			task:  t,
			sig:   make(chan Signal, wakeupQueueLen),
			state: newRunState(s.mgr.NumRings()),
		}
		if err := h.task.Init(); err != nil {
			s.Stop()
			return fmt.Errorf("tasksup: task %s: init: %w", t.ID(), err)
		}
		if h.task.Autoactivate() {
			if err := h.state.activate(s.mgr); err != nil {
				s.Stop()
				return fmt.Errorf("tasksup: task %s: activate: %w", t.ID(), err)
			}
			h.active = true
		}

		s.mu.Lock()
		s.tasks = append(s.tasks, h)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(h)
		s.log.WithField("task", t.ID()).Debug("task started")
	}
	return nil
}

// run is one task's goroutine body: wait for a signal, act on it,
// repeat until SigStop. It is the Go equivalent of s_task_shim plus
// s_sig_hn's inline wakeup-processing loop.
func (s *Supervisor) run(h *handle) {
	defer s.wg.Done()
	defer func() {
		if err := h.task.Fin(); err != nil {
			s.log.WithField("task", h.task.ID()).WithError(err).
				Warn("task cleanup failed")
		}
	}()

	for sig := range h.sig {
		switch sig {
		case SigStop:
			return
		case SigWakeup:
			if !h.active {
				continue
			}
			if s.metrics != nil {
				s.metrics.Wakeup(h.task.ID())
			}
			if err := s.drain(h); err != nil {
				s.log.WithField("task", h.task.ID()).WithError(err).
					Error("task encountered an error")
				s.died <- h.task.ID()
				return
			}
		}
	}
}

// drain processes every frame the task's private heads have not yet
// seen: repeatedly pick the ring with the next frame and dispatch it,
// until a ring yields VerdictSleep, an error occurs, or there is
// nothing left to process. Grounded on s_sig_hn's inner while(1) loop.
func (s *Supervisor) drain(h *handle) error {
	h.busy = true
	defer func() { h.busy = false }()

	for {
		ringID, _, err := h.state.nextRing(s.mgr)
		if err != nil {
			return err
		}
		if ringID < 0 {
			break
		}

		verdict, err := h.state.dispatch(s.mgr, ringID, h.task.MCASizeMode(), h.task.HandlePacket)
		h.state.justActivated = false
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.Dispatch(h.task.ID(), verdict)
		}

		switch verdict {
		case VerdictSleep:
			h.active = false
			return nil
		case VerdictError:
			return fmt.Errorf("tasksup: task %s: handler reported an error", h.task.ID())
		}
	}
	return nil
}

// Wakeup signals every active task that new frames may be available.
func (s *Supervisor) Wakeup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.tasks {
		select {
		case h.sig <- SigWakeup:
		default:
		}
	}
}

// Activate marks the named task active starting from the ring's
// current heads, mirroring a client request that starts a job (e.g. a
// capture request).
func (s *Supervisor) Activate(id string) error {
	h, err := s.find(id)
	if err != nil {
		return err
	}
	if err := h.state.activate(s.mgr); err != nil {
		return err
	}
	h.active = true
	return nil
}

// Deactivate marks the named task idle: its goroutine stops dispatching
// frames until a later Activate. Its private heads are left where they
// are; a later Activate resets them to each ring's then-current head.
// Mirrors a
// task's task_deactivate call when its last consumer goes away (e.g.
// the MCA histogram publisher's last subscriber unsubscribing).
func (s *Supervisor) Deactivate(id string) error {
	h, err := s.find(id)
	if err != nil {
		return err
	}
	h.active = false
	return nil
}

func (s *Supervisor) find(id string) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.tasks {
		if h.task.ID() == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("tasksup: no such task %q", id)
}

// MinHeads returns, for each ring, the earliest private head among all
// currently active tasks — the frontier the coordinator may safely
// reclaim up to. It returns nil if no task is active, telling the
// caller to fall back to the ring's own tail (nothing to protect).
// Grounded on tasks_get_heads.
func (s *Supervisor) MinHeads() ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	numRings := s.mgr.NumRings()
	heads := make([]uint32, numRings)
	updated := false

	for _, h := range s.tasks {
		if !h.active {
			continue
		}
		if !updated {
			copy(heads, h.state.heads)
			updated = true
			continue
		}
		for r := 0; r < numRings; r++ {
			v, err := s.mgr.View(r)
			if err != nil {
				return nil, err
			}
			if v.EarlierID(h.state.heads[r], heads[r]) {
				heads[r] = h.state.heads[r]
			}
		}
	}
	if !updated {
		return nil, nil
	}
	return heads, nil
}

// Died returns a channel that yields a task's ID whenever its goroutine
// exits due to an internal error, the same signal the coordinator's
// s_die_hn watched for to stop the whole server.
func (s *Supervisor) Died() <-chan string {
	return s.died
}

// Stop signals every running task to terminate and waits for Fin to
// run on each.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	tasks := append([]*handle(nil), s.tasks...)
	s.mu.Unlock()

	for _, h := range tasks {
		h.sig <- SigStop
	}
	s.wg.Wait()
}
