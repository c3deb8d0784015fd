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

package jitter

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func newTask(t *testing.T) *Task {
	task, err := New(testLog())
	require.NoError(t, err)
	t.Cleanup(func() { task.Close() })
	return task
}

// buildTick builds a tick event frame with the given channel and time
// offset folded into the shared event fields.
func buildTick(fseq, pseq uint16, channel uint8, toff uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.TickHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 3) // esize
	b[23] = 1 << 1                             // T bit
	body := b[tespkt.HdrLen:]
	body[4] = channel & 0x7
	binary.LittleEndian.PutUint16(body[6:8], toff)
	return b
}

// buildPeak builds a non-tick peak event frame.
func buildPeak(fseq, pseq uint16, channel uint8, toff uint16) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1) // esize
	body := b[tespkt.HdrLen:]
	body[4] = channel & 0x7
	binary.LittleEndian.PutUint16(body[6:8], toff)
	return b
}

func TestHandleConfigRequestValidation(t *testing.T) {
	task := newTask(t)

	rep := task.HandleConfigRequest(wire.JitterConfigRequest{Ticks: 0, RefChannel: 0})
	require.Equal(t, wire.JitterEInval, rep.Status)

	rep = task.HandleConfigRequest(wire.JitterConfigRequest{Ticks: 10, RefChannel: 2})
	require.Equal(t, wire.JitterEInval, rep.Status)

	rep = task.HandleConfigRequest(wire.JitterConfigRequest{Ticks: 10, RefChannel: 1})
	require.Equal(t, wire.JitterOK, rep.Status)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.EqualValues(t, 10, task.conf.ticks)
	require.EqualValues(t, 1, task.conf.refCh)
}

func TestOnSubscriberChangeActivatesAndResets(t *testing.T) {
	task := newTask(t)
	task.bins[0] = 7
	task.ticks = 3

	var activated, deactivated bool
	task.SetActivator(
		func() error { activated = true; return nil },
		func() error { deactivated = true; return nil },
	)

	task.onSubscriberChange(1)
	require.True(t, activated)
	require.Zero(t, task.bins[0])
	require.Zero(t, task.ticks)

	task.onSubscriberChange(0)
	require.True(t, deactivated)
}

func TestHandlePacketPublishesAfterWindow(t *testing.T) {
	task := newTask(t)

	task.mu.Lock()
	task.curConf = config{ticks: 1, refCh: 0}
	task.conf = config{ticks: 1, refCh: 0}
	task.mu.Unlock()

	f1 := tespkt.New(buildTick(1, 0, 0, 0))
	task.HandlePacket(f1, f1.FLen(), 0, 0)

	task.mu.Lock()
	require.True(t, task.publishing)
	require.EqualValues(t, 1, task.ticks)
	task.mu.Unlock()

	f2 := tespkt.New(buildTick(2, 0, 0, 0))
	task.HandlePacket(f2, f2.FLen(), 0, 0)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.False(t, task.publishing)
	require.Zero(t, task.ticks)
}

func TestHandlePacketIgnoresNonEventErrFrames(t *testing.T) {
	task := newTask(t)
	task.mu.Lock()
	task.publishing = true
	task.mu.Unlock()

	f := tespkt.New(buildPeak(1, 0, 0, 5))
	verdict := task.HandlePacket(f, f.FLen(), 0, tespkt.EEvtSize)

	require.Equal(t, 0, int(verdict)) // VerdictContinue, no panic on error frame
}
