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

// Package coordinator polls the NIC descriptor for newly arrived
// frames, wakes the task supervisor, and reclaims ring slots no active
// task still needs — the Go equivalent of tesd.c's poller registration
// and s_new_pkts_hn.
package coordinator

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/tesdaq/tesd/ring"
	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
)

// pollTimeoutMS bounds how long one unix.Poll call may block, so Run
// periodically rechecks its stop channel even with no traffic.
const pollTimeoutMS = 1000

// Stats accumulates the coordinator's packet-level counters, logged
// periodically the way s_log_stats does.
type Stats struct {
	Polled   uint64
	Skipped  uint64
	Received uint64
	Missed   uint64
}

// Coordinator is the single reader of the NIC's pollable descriptor.
// On every wakeup it lets the task supervisor drain whatever frames
// arrived, then reclaims each ring up to the slowest active task's
// private head (or all the way to the tail, if no task is active).
type Coordinator struct {
	fd  int
	mgr *ring.Manager
	sup *tasksup.Supervisor
	log *logrus.Entry

	stats Stats
}

// New creates a coordinator watching fd (the NIC's pollable file
// descriptor) for new frames.
func New(fd int, mgr *ring.Manager, sup *tasksup.Supervisor, log *logrus.Entry) *Coordinator {
	return &Coordinator{fd: fd, mgr: mgr, sup: sup, log: log}
}

// Run polls fd until stop is closed or an unrecoverable error occurs.
func (c *Coordinator) Run(stop <-chan struct{}) error {
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.Poll(pfd, pollTimeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("coordinator: poll: %w", err)
		}
		if n == 0 || pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}
		if err := c.onNewPackets(); err != nil {
			return err
		}
	}
}

// onNewPackets is the Go equivalent of s_new_pkts_hn: wake every active
// task, open the poll gate all the way to each ring's tail, then
// reclaim up to the slowest active task's private head (everything, if
// none is active).
//
// This departs from the original in one respect: the original moves
// the ring's cursor only as far as the slowest task's head, so a task
// reading ahead of the reclaim point doesn't force an extra poll. Here
// the cursor always opens to the tail and each task's own runState
// bounds how far it reads ahead instead — simpler, at the cost of that
// micro-optimization.
func (c *Coordinator) onNewPackets() error {
	heads, err := c.sup.MinHeads()
	if err != nil {
		return err
	}

	c.sup.Wakeup()
	c.stats.Polled++

	skipped := true
	for r := 0; r < c.mgr.NumRings(); r++ {
		v, err := c.mgr.View(r)
		if err != nil {
			return err
		}
		if v.Head == v.Tail {
			continue
		}

		if err := c.mgr.SetCursor(r, v.Tail); err != nil {
			return err
		}

		newHead := v.Tail
		if heads != nil {
			newHead = heads[r]
		}
		if newHead == v.Head {
			continue
		}
		skipped = false

		headBuf, err := c.mgr.Slot(r, v.Head)
		if err != nil {
			return err
		}
		fseqA := tespkt.New(headBuf).FSeq()

		prevIdx := newHead
		if prevIdx == 0 {
			prevIdx = v.NumSlots - 1
		} else {
			prevIdx--
		}
		precedingBuf, err := c.mgr.Slot(r, prevIdx)
		if err != nil {
			return err
		}
		fseqB := tespkt.New(precedingBuf).FSeq()

		numNew := (newHead - v.Head + v.NumSlots) % v.NumSlots
		c.stats.Received += uint64(numNew)
		c.stats.Missed += uint64(fseqB - fseqA - uint16(numNew) + 1)

		if err := c.mgr.SetHead(r, newHead); err != nil {
			return err
		}
	}

	if skipped {
		c.stats.Skipped++
	}
	return nil
}

// Stats returns a snapshot of the coordinator's accumulated counters.
func (c *Coordinator) Stats() Stats { return c.stats }

// LogStats emits the periodic summary line s_log_stats used to print.
func (c *Coordinator) LogStats() {
	c.log.WithFields(logrus.Fields{
		"polled":   c.stats.Polled,
		"skipped":  c.stats.Skipped,
		"received": c.stats.Received,
		"missed":   c.stats.Missed,
	}).Info("coordinator stats")
}
