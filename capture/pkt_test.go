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
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

// buildTick builds a tick frame.
func buildTick(fseq, pseq uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.TickHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 3) // ESize, 8-byte units
	b[23] = 1 << 1                             // T flag
	return b
}

// buildPeak builds a single-frame peak event.
func buildPeak(fseq, pseq uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1) // ESize
	b[23] = tespkt.TypePeak << 2
	return b
}

// buildTraceHeader builds the first frame of a multi-frame trace
// stream. totalSize is the stream's eventual full byte length, which
// may exceed this frame's own payload.
func buildTraceHeader(fseq, totalSize uint16, payload []byte) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.TraceHdrLen+len(payload))
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], 0) // pseq == 0: header
	binary.LittleEndian.PutUint16(b[20:22], 1) // ESize
	b[22] = tespkt.TraceAvg
	b[23] = tespkt.TypeTrace << 2

	body := b[tespkt.HdrLen:]
	binary.LittleEndian.PutUint16(body[0:2], totalSize)
	copy(body[tespkt.TraceHdrLen:], payload)
	return b
}

// buildTraceCont builds a non-header continuation frame of a trace
// stream: no sub-header, just raw payload bytes.
func buildTraceCont(fseq, pseq uint16, payload []byte) []byte {
	b := make([]byte, tespkt.HdrLen+len(payload))
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	b[22] = tespkt.TraceAvg
	b[23] = tespkt.TypeTrace << 2
	copy(b[tespkt.HdrLen:], payload)
	return b
}

func openCaptureSession(t *testing.T, job *Job, name string) {
	t.Helper()
	_, ch := job.HandleRequest(wire.CaptureRequest{
		Filename:  name,
		Mode:      wire.CapModeCapOnly,
		MinTicks:  1000,
		MinEvents: 1000,
	})
	require.NotNil(t, ch)
}

// Scenario 1: a tick followed by two peaks produces the expected
// tick/frame/event counters.
func TestHandlePacketCountsTicksFramesEvents(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	job.SetActivator(func() error { return nil })
	openCaptureSession(t, job, "run1")

	tick := tespkt.New(buildTick(1, 0))
	verdict := job.HandlePacket(tick, tick.FLen(), 0, 0)
	require.Equal(t, tasksup.VerdictContinue, verdict)

	p1 := tespkt.New(buildPeak(2, 0))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(p1, p1.FLen(), 0, 0))
	p2 := tespkt.New(buildPeak(3, 0))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(p2, p2.FLen(), 0, 0))

	job.mu.Lock()
	stats := job.cur.stats
	job.mu.Unlock()

	require.EqualValues(t, 1, stats.Ticks)
	require.EqualValues(t, 3, stats.Frames)
	require.EqualValues(t, 2, stats.Events)
	require.EqualValues(t, 0, stats.Traces)

	require.NoError(t, job.Fin())
}

// Scenario 2: a header that interrupts an in-progress trace stream
// must start its own fresh stream, and every later continuation frame
// of that new stream must complete it rather than being silently
// dropped. Regression test for the startsStream/continuesStream
// ordering bug in HandlePacket.
func TestHandlePacketInterruptingHeaderStartsFreshStream(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	job.SetActivator(func() error { return nil })
	openCaptureSession(t, job, "run2")

	tick := tespkt.New(buildTick(1, 0))
	job.HandlePacket(tick, tick.FLen(), 0, 0)

	// Trace A begins but declares more data (32 bytes) than this frame
	// carries (16 bytes): the stream is left in progress.
	a := tespkt.New(buildTraceHeader(2, 32, make([]byte, 8)))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(a, a.FLen(), 0, 0))

	// Trace B's header arrives before trace A completes, declaring a
	// smaller total than trace A (24 bytes) but more than its own header
	// frame supplies (16 bytes), so it needs one more continuation frame.
	b := tespkt.New(buildTraceHeader(3, 24, make([]byte, 8)))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(b, b.FLen(), 0, 0))

	job.mu.Lock()
	require.EqualValues(t, 0, job.cur.stats.Traces, "trace B must not complete on its header alone")
	job.mu.Unlock()

	// Trace B's continuation, carrying the remaining 8 bytes, must be
	// recognized as continuing the fresh stream B started, not
	// silently discarded.
	c := tespkt.New(buildTraceCont(4, 1, make([]byte, 8)))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(c, c.FLen(), 0, 0))

	job.mu.Lock()
	stats := job.cur.stats
	job.mu.Unlock()

	require.EqualValues(t, 1, stats.Traces, "trace B should have completed")
	require.EqualValues(t, 1, stats.Events)

	require.NoError(t, job.Fin())
}

// Scenario 3: a frame flagged invalid by the caller is routed to
// FTypeBad and counted as a frame without contributing to any
// type-specific stream statistic. Recording only starts at the first
// tick, so one tick is fed before the bad frame.
func TestHandlePacketRoutesBadFramesSeparately(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	job.SetActivator(func() error { return nil })
	openCaptureSession(t, job, "run3")

	tick := tespkt.New(buildTick(1, 0))
	require.Equal(t, tasksup.VerdictContinue, job.HandlePacket(tick, tick.FLen(), 0, 0))

	p := tespkt.New(buildPeak(2, 0))
	verdict := job.HandlePacket(p, p.FLen(), 0, tespkt.EEvtSize)
	require.Equal(t, tasksup.VerdictContinue, verdict)

	job.mu.Lock()
	path := job.cur.path
	stats := job.cur.stats
	job.mu.Unlock()

	require.EqualValues(t, 2, stats.Frames)
	require.EqualValues(t, 0, stats.Events)
	require.EqualValues(t, 1, stats.Ticks)

	require.NoError(t, job.Fin())

	raw, err := os.ReadFile(path + ".fidx")
	require.NoError(t, err)
	require.Len(t, raw, 2*FrameIndexLen)
	require.EqualValues(t, FTypeBad, raw[FrameIndexLen+15]&0x0F)
}
