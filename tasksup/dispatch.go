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
	"github.com/tesdaq/tesd/ring"
	"github.com/tesdaq/tesd/tespkt"
)

// runState is a task's private navigation state: one head index per
// ring, advanced independently of the ring's shared reclaim point, plus
// enough frame/protocol-sequence history to compute gaps across
// wakeups. Grounded on task_t's heads/prev_fseq/prev_pseq_mca/
// prev_pseq_tr/just_activated fields.
type runState struct {
	heads         []uint32
	prevFSeq      uint16
	prevPSeqMCA   uint16
	prevPSeqTR    uint16
	justActivated bool
}

func newRunState(numRings int) *runState {
	return &runState{heads: make([]uint32, numRings)}
}

// activate resets every ring's private head to the ring's current head
// and marks the next nextRing call to resolve the starting ring from
// scratch, same as s_task_activate.
func (s *runState) activate(mgr *ring.Manager) error {
	for r := range s.heads {
		v, err := mgr.View(r)
		if err != nil {
			return err
		}
		s.heads[r] = v.Head
	}
	s.justActivated = true
	return nil
}

// nextRing picks which ring holds the next frame to inspect. The first
// call after activation compares every ring's head frame directly; every
// later call picks whichever ring's head frame sequence continues
// closest after prevFSeq: the first ring with an exact continuation
// (gap 0) wins outright, and among equal non-zero gaps the highest ring
// index wins. Grounded on
// s_task_next_ring.
func (s *runState) nextRing(mgr *ring.Manager) (ringID int, missed uint16, err error) {
	ringID = -1

	if s.justActivated {
		const threshGap = uint16(1)<<15 - 1
		for r := range s.heads {
			v, verr := mgr.View(r)
			if verr != nil {
				return -1, 0, verr
			}
			if v.Tail == s.heads[r] {
				continue
			}
			b, serr := mgr.Slot(r, s.heads[r])
			if serr != nil {
				return -1, 0, serr
			}
			curFSeq := tespkt.New(b).FSeq()
			if r == 0 || curFSeq-s.prevFSeq > threshGap {
				s.prevFSeq = curFSeq - 1
				ringID = r
			}
		}
		return ringID, 0, nil
	}

	missed = ^uint16(0)
	for r := range s.heads {
		v, verr := mgr.View(r)
		if verr != nil {
			return -1, 0, verr
		}
		if v.Tail == s.heads[r] {
			continue
		}
		b, serr := mgr.Slot(r, s.heads[r])
		if serr != nil {
			return -1, 0, serr
		}
		curFSeq := tespkt.New(b).FSeq()
		gap := curFSeq - s.prevFSeq - 1
		if gap <= missed {
			ringID = r
			missed = gap
			if gap == 0 {
				break
			}
		}
	}
	return ringID, missed, nil
}

// dispatch walks ringID from the task's private head up to the ring's
// tail, calling handler once per frame. A verdict other than
// VerdictContinue stops the walk immediately, before that frame's head
// is advanced — the frame is reprocessed on the next activation, same
// as s_task_dispatch's for-loop structure (the post-statement that
// advances head only runs when the loop body returns normally).
func (s *runState) dispatch(mgr *ring.Manager, ringID int, mcaMode tespkt.MCASizeMode, handler PacketHandler) (Verdict, error) {
	for {
		v, err := mgr.View(ringID)
		if err != nil {
			return VerdictError, err
		}
		if s.heads[ringID] == v.Tail {
			return VerdictContinue, nil
		}

		b, err := mgr.Slot(ringID, s.heads[ringID])
		if err != nil {
			return VerdictError, err
		}
		slotCap, err := mgr.SlotCap(ringID)
		if err != nil {
			return VerdictError, err
		}

		f := tespkt.New(b)
		errs := tespkt.Validate(f, mcaMode)
		flen := f.FLen()
		if flen > uint16(slotCap) {
			errs |= tespkt.EEthLen
			flen = uint16(slotCap)
		}

		curFSeq := f.FSeq()
		gap := curFSeq - s.prevFSeq - 1

		verdict := handler(f, flen, gap, errs)

		s.prevFSeq = curFSeq
		switch {
		case f.IsMCA():
			s.prevPSeqMCA = f.PSeq()
		case f.IsTrace() && !f.IsTraceDP():
			s.prevPSeqTR = f.PSeq()
		}

		if verdict != VerdictContinue {
			return verdict, nil
		}

		next, err := mgr.Following(ringID, s.heads[ringID])
		if err != nil {
			return VerdictError, err
		}
		s.heads[ringID] = next
	}
}
