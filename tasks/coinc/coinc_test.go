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

package coinc

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

func buildPeak(fseq, pseq uint16, channel uint8) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.PeakHdrLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	b[tespkt.HdrLen+4] = channel & 0x7
	return b
}

func TestHandleConfigRequestValidation(t *testing.T) {
	task := newTask(t)

	rep := task.HandleConfigRequest(wire.CoincConfigRequest{WindowTicks: 0})
	require.Equal(t, wire.CoincEInval, rep.Status)

	rep = task.HandleConfigRequest(wire.CoincConfigRequest{WindowTicks: 3, ChannelMask: 0x0F})
	require.Equal(t, wire.CoincOK, rep.Status)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.EqualValues(t, 3, task.conf.windowTicks)
	require.EqualValues(t, 0x0F, task.conf.channelMask)
}

func TestHandlePacketAccumulatesAndPublishes(t *testing.T) {
	task := newTask(t)

	var got uint8
	var called bool
	task.SetVectorSink(func(vec uint8) { got = vec; called = true })

	f1 := tespkt.New(buildPeak(1, 0, 2))
	task.HandlePacket(f1, f1.FLen(), 0, 0)
	f2 := tespkt.New(buildPeak(2, 0, 5))
	task.HandlePacket(f2, f2.FLen(), 0, 0)

	require.False(t, called) // no tick yet, window not closed

	f3 := tespkt.New(buildTick(3, 0))
	task.HandlePacket(f3, f3.FLen(), 0, 0)

	require.True(t, called)
	require.EqualValues(t, (1<<2)|(1<<5), got)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.Zero(t, task.vec)
	require.Zero(t, task.ticks)
}

func TestHandlePacketRespectsChannelMask(t *testing.T) {
	task := newTask(t)
	task.mu.Lock()
	task.curConf.channelMask = 0x01 // only channel 0 counted
	task.mu.Unlock()

	f := tespkt.New(buildPeak(1, 0, 3))
	task.HandlePacket(f, f.FLen(), 0, 0)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.Zero(t, task.vec)
}

func TestHandlePacketIgnoresErrorFrames(t *testing.T) {
	task := newTask(t)
	f := tespkt.New(buildPeak(1, 0, 1))
	task.HandlePacket(f, f.FLen(), 0, tespkt.EEvtSize)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.Zero(t, task.vec)
}
