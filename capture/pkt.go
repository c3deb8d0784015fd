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

package capture

import (
	"github.com/tesdaq/tesd/aiobuf"
	"github.com/tesdaq/tesd/hdf5conv"
	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// HandlePacket records one frame into the active session, updating
// frame/tick/stream indices and statistics exactly as
// s_task_save_pkt_hn does, then reports whether the job is finished.
func (j *Job) HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) tasksup.Verdict {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := j.cur
	if s == nil {
		return tasksup.VerdictSleep
	}

	isTick := f.IsTick()
	if !s.recording && isTick {
		s.recording = true
	}
	if !s.recording {
		return tasksup.VerdictContinue
	}

	isErr := errs != 0
	if isErr && j.cfg.DropBadFrames {
		s.stats.FramesDropped++
		return tasksup.VerdictContinue
	}

	s.stats.Frames++
	s.stats.FramesLost += uint64(missed)

	esize := f.ESize()
	paylen := flen - tespkt.HdrLen
	isHeader := f.IsHeader()
	isMCA := f.IsMCA()
	isTrace := f.IsTrace() && !f.IsTraceDP()

	fidx := FrameIndex{Length: uint32(paylen), ESize: esize, SeqErr: missed > 0}

	var aiodat *aiobuf.Writer
	switch {
	case isErr:
		fidx.FType = FTypeBad
		aiodat = s.df.writerFor(FTypeBad)
	case isMCA:
		fidx.FType = FTypeMCA
		aiodat = s.df.writerFor(FTypeMCA)
	case isTick:
		fidx.FType = FTypeTick
		aiodat = s.df.writerFor(FTypeTick)

		if s.stats.Ticks > 0 {
			if err := s.idx.tick.Stage(encodeTickIndex(s.curTick.idx)); err != nil {
				return j.finish(s, true)
			}
		}
		s.curTick.nframes = 0
	default:
		pt := linearEType(f.PKT(), f.TR())
		fidx.FType = pt
		aiodat = s.df.writerFor(pt)

		if s.stats.Frames > 1 && (s.prevFType != pt || s.prevESize != esize) {
			fidx.Changed = 1
		}
		s.prevESize = esize
		s.prevFType = pt

		if s.curTick.nframes == 0 {
			s.curTick.idx.StartFrame = uint32(s.stats.Frames - 1)
		} else {
			s.curTick.idx.StopFrame = uint32(s.stats.Frames - 1)
		}
		s.curTick.nframes++
	}

	fidx.Start = uint64(aiodat.Size())

	finishing := false
	hadErr := false

	if !isErr {
		continuesStream := ((isTrace && s.curStream.isEvent) || (isMCA && !s.curStream.isEvent)) &&
			s.curStream.size > 0 && !isHeader && missed == 0
		interruptsStream := !continuesStream && s.curStream.size > 0

		if interruptsStream {
			s.curStream.discard = true
			s.curStream.size = 0
			s.curStream.curSize = 0
		}

		// Evaluated against curStream after the interrupt-reset above, so
		// an interrupting frame that is itself a valid header starts its
		// own stream instead of being swallowed by the reset.
		startsStream := (isTrace || isMCA) && isHeader && s.curStream.size == 0

		switch {
		case startsStream || continuesStream:
			if startsStream {
				if isTrace {
					s.curStream.size = uint64(f.TraceSize())
					s.curStream.isEvent = true
				} else {
					s.curStream.size = uint64(f.MCAHistSize(j.MCASizeMode()))
					s.curStream.isEvent = false
				}
				s.curStream.discard = false
				s.curStream.idx.Start = uint64(aiodat.Size())
			}
			s.curStream.curSize += uint64(paylen)

			switch {
			case s.curStream.curSize > s.curStream.size:
				s.curStream.size = 0
				s.curStream.curSize = 0
				s.curStream.discard = true
			case s.curStream.curSize == s.curStream.size:
				var sidx *aiobuf.Writer
				if isTrace {
					sidx = s.idx.stream
					s.stats.Events++
					s.stats.Traces++
				} else {
					sidx = s.idx.mca
					s.stats.Hists++
				}
				s.curStream.idx.Length = s.curStream.size
				s.curStream.size = 0
				s.curStream.curSize = 0
				if err := sidx.Stage(encodeStreamIndex(s.curStream.idx)); err != nil {
					finishing, hadErr = true, true
				}
			}
		case isMCA || isTrace:
			if !interruptsStream && !s.curStream.discard {
				s.curStream.discard = true
			}
		case isTick:
			s.stats.Ticks++
			if s.stats.Ticks > s.minTicks && s.stats.Events >= s.minEvents {
				finishing = true
			}
		default:
			s.stats.Events += uint64(eventCount(esize, paylen))
		}
	}

	payload := f.Bytes()
	if !j.cfg.SaveHeaders {
		payload = f.Payload()
	}
	if err := aiodat.Stage(payload); err != nil {
		finishing, hadErr = true, true
	}
	if err := s.idx.frame.Stage(encodeFrameIndex(fidx)); err != nil {
		finishing, hadErr = true, true
	}

	if finishing {
		return j.finish(s, hadErr)
	}
	return tasksup.VerdictContinue
}

// finish flushes and closes the session's files, writes the stats
// record, optionally hands the session off to HDF5 conversion, and
// sends the deferred reply on s.done. Grounded on s_task_save_pkt_hn's
// "finishing" branch (flush, close, write stats, send reply,
// deactivate).
func (j *Job) finish(s *session, writeErr bool) tasksup.Verdict {
	closeErr := closeSession(s.df, s.idx)
	statErr := writeStatsFile(s.path, s.stats)
	j.log.WithField("task", j.ID()).
		WithField("ticks", s.stats.Ticks).
		WithField("events", s.stats.Events).
		Info("finished capture job")

	status := uint8(wire.CapOK)
	switch {
	case writeErr:
		status = wire.CapEWrite
	case closeErr != nil, statErr != nil:
		status = wire.CapEFin
	case s.mode != wire.CapModeCapOnly:
		req := buildConvRequest(s.path, s.measurement, s.df.layout, s.stats, s.async)
		convStatus, err := j.runConv(req)
		if err != nil || convStatus != hdf5conv.StatusOK {
			status = wire.CapEConv
		}
	}

	s.done <- statsToReply(status, s.stats)
	j.cur = nil

	if writeErr {
		return tasksup.VerdictError
	}
	return tasksup.VerdictSleep
}

// runConv dispatches to the job's converter, or reports StatusEInit if
// none was wired (the caller maps that to CapEConv).
func (j *Job) runConv(req hdf5conv.Request) (int, error) {
	if j.conv == nil {
		return hdf5conv.StatusEInit, nil
	}
	return j.conv.Run(req)
}

// eventCount returns how many fixed-size sub-events a short-event
// frame's payload carries, matching tespkt_event_nums.
func eventCount(esize, paylen uint16) uint16 {
	if esize == 0 {
		return 0
	}
	return paylen / (esize << 3)
}

func encodeFrameIndex(fi FrameIndex) []byte {
	buf := make([]byte, FrameIndexLen)
	w := &byteWriter{buf: buf}
	fi.Encode(w)
	return buf
}

func encodeTickIndex(ti TickIndex) []byte {
	buf := make([]byte, TickIndexLen)
	w := &byteWriter{buf: buf}
	ti.Encode(w)
	return buf
}

func encodeStreamIndex(si StreamIndex) []byte {
	buf := make([]byte, StreamIndexLen)
	w := &byteWriter{buf: buf}
	si.Encode(w)
	return buf
}

// byteWriter adapts a pre-sized slice to io.Writer for the fixed-size
// index record Encode methods, avoiding a bytes.Buffer allocation on
// every frame.
type byteWriter struct {
	buf []byte
	off int
}

func (w *byteWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}
