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

package avgtrace

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

// buildTraceAvg builds a single-frame averaged trace: a header frame
// whose declared size equals its own payload, so one frame completes it.
func buildTraceAvg(fseq, pseq uint16, payload []byte) []byte {
	b := make([]byte, tespkt.HdrLen+tespkt.TraceHdrLen+len(payload))
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeEvent)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], fseq)
	binary.LittleEndian.PutUint16(b[18:20], pseq)
	binary.LittleEndian.PutUint16(b[20:22], uint16((len(b)-tespkt.HdrLen)/8))
	b[22] = tespkt.TraceAvg   // TR bits
	b[23] = tespkt.TypeTrace << 2 // PKT bits, T=0

	body := b[tespkt.HdrLen:]
	binary.LittleEndian.PutUint16(body[0:2], uint16(len(body)))
	copy(body[tespkt.TraceHdrLen:], payload)
	return b
}

func TestHandleRequestRejectsZeroTimeout(t *testing.T) {
	task := New(testLog())
	rep, ch := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 0})
	require.Nil(t, ch)
	require.Equal(t, wire.AvgTraceEInval, rep.Status)
}

func TestHandleRequestRejectsConcurrentRequest(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil })

	_, ch1 := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 5})
	require.NotNil(t, ch1)

	rep2, ch2 := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 5})
	require.Nil(t, ch2)
	require.Equal(t, wire.AvgTraceEInval, rep2.Status)
}

func TestHandlePacketCompletesTrace(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil })

	_, ch := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 5})
	require.NotNil(t, ch)

	payload := make([]byte, 16)
	f := tespkt.New(buildTraceAvg(1, 0, payload))
	verdict := task.HandlePacket(f, f.FLen(), 0, 0)
	require.Equal(t, 1, int(verdict)) // VerdictSleep

	select {
	case rep := <-ch:
		require.Equal(t, wire.AvgTraceOK, rep.Status)
		require.Len(t, rep.Payload, int(f.TraceSize()))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestHandlePacketDropsOnError(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil })

	_, ch := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 5})
	require.NotNil(t, ch)

	f := tespkt.New(buildTraceAvg(1, 0, make([]byte, 16)))
	task.HandlePacket(f, f.FLen(), 0, tespkt.EEvtSize)

	select {
	case rep := <-ch:
		require.Equal(t, wire.AvgTraceEErr, rep.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestFinAnswersPendingRequest(t *testing.T) {
	task := New(testLog())
	task.SetActivator(func() error { return nil })

	_, ch := task.HandleRequest(wire.AvgTraceRequest{TimeoutSec: 5})
	require.NotNil(t, ch)

	require.NoError(t, task.Fin())

	select {
	case rep := <-ch:
		require.Equal(t, wire.AvgTraceETout, rep.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Fin's reply")
	}
}
