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

package info

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func buildTick(fseq, pseq uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.TickHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 3)
	b[23] = 1 << 1
	return b
}

func buildPeak(fseq, pseq uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	return b
}

func TestHandleRequestRejectsZeroTimeout(t *testing.T) {
	task := New(testLog())
	rep, ch := task.HandleRequest(wire.InfoRequest{TimeoutSec: 0})
	require.Nil(t, ch)
	require.Equal(t, wire.InfoEInval, rep.Status)
}

func TestHandleRequestRejectsConcurrentRequest(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil }, func() error { return nil })

	_, ch1 := task.HandleRequest(wire.InfoRequest{TimeoutSec: 5})
	require.NotNil(t, ch1)

	rep2, ch2 := task.HandleRequest(wire.InfoRequest{TimeoutSec: 5})
	require.Nil(t, ch2)
	require.Equal(t, wire.InfoEInval, rep2.Status)
}

func TestHandlePacketAccumulatesStats(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil }, func() error { return nil })

	_, ch := task.HandleRequest(wire.InfoRequest{TimeoutSec: 5})
	require.NotNil(t, ch)

	tick := tespkt.New(buildTick(1, 0))
	task.HandlePacket(tick, tick.FLen(), 2, 0)

	peak := tespkt.New(buildPeak(2, 0))
	task.HandlePacket(peak, peak.FLen(), 0, 0)

	bad := tespkt.New(buildPeak(3, 0))
	task.HandlePacket(bad, bad.FLen(), 0, tespkt.EEvtSize)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.EqualValues(t, 3, task.stats.received)
	require.EqualValues(t, 2, task.stats.missed)
	require.EqualValues(t, 1, task.stats.ticks)
	require.EqualValues(t, 1, task.stats.bad)
	require.EqualValues(t, 1, task.stats.events)
	require.NotZero(t, task.stats.eventTypes&(1<<etypePeak))
}

func TestOnTimeoutSendsReplyAndDeactivates(t *testing.T) {
	task := New(testLog())
	var deactivated bool
	task.SetActivator(func() error { return nil }, func() error { deactivated = true; return nil })

	_, ch := task.HandleRequest(wire.InfoRequest{TimeoutSec: 5})
	require.NotNil(t, ch)

	peak := tespkt.New(buildPeak(1, 0))
	task.HandlePacket(peak, peak.FLen(), 0, 0)

	task.onTimeout()
	require.True(t, deactivated)

	select {
	case rep := <-ch:
		require.Equal(t, wire.InfoOK, rep.Status)
		require.EqualValues(t, 1, rep.Frames)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestHandlePacketIgnoredWhileIdle(t *testing.T) {
	task := New(testLog())
	peak := tespkt.New(buildPeak(1, 0))
	verdict := task.HandlePacket(peak, peak.FLen(), 0, 0)
	require.Equal(t, 1, int(verdict)) // VerdictSleep
}
