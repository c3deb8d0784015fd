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

package mca

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/tespkt"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

// buildMCAHeader builds a single-frame histogram: a header carrying
// every bin, no continuation frame needed.
func buildMCAHeader(bins []uint32) []byte {
	lastBin := uint16(len(bins) - 1)
	b := make([]byte, tespkt.HdrLen+tespkt.McaHdrLen+len(bins)*tespkt.McaBinLen)
	binary.BigEndian.PutUint16(b[12:14], tespkt.EtherTypeMCA)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[16:18], 1) // fseq
	binary.LittleEndian.PutUint16(b[18:20], 0) // pseq == 0 -> header

	body := b[tespkt.HdrLen:]
	binary.LittleEndian.PutUint16(body[2:4], lastBin)
	for i, v := range bins {
		off := tespkt.McaHdrLen + i*tespkt.McaBinLen
		binary.LittleEndian.PutUint32(body[off:off+4], v)
	}
	return b
}

func newTask(t *testing.T) *Task {
	task, err := New(tespkt.MCASizeFromLastBin, testLog())
	require.NoError(t, err)
	t.Cleanup(func() { task.Close() })
	return task
}

func TestHandlePacketCompleteHistogram(t *testing.T) {
	task := newTask(t)
	f := tespkt.New(buildMCAHeader([]uint32{10, 20, 30, 40}))

	verdict := task.HandlePacket(f, f.FLen(), 0, 0)
	require.Equal(t, 0, int(verdict))

	task.mu.Lock()
	defer task.mu.Unlock()
	require.Zero(t, task.curNbins)
	require.Zero(t, task.nbins)
	require.False(t, task.discard)
}

func TestHandlePacketDiscardsOversizedHistogram(t *testing.T) {
	task := newTask(t)
	bins := make([]uint32, 1)
	b := buildMCAHeader(bins)
	body := b[tespkt.HdrLen:]
	// Claim an enormous last_bin so MCAHistSize overflows maxSize.
	binary.LittleEndian.PutUint16(body[2:4], 0xFFFE)
	f := tespkt.New(b)

	task.HandlePacket(f, f.FLen(), 0, 0)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.True(t, task.discard)
}

func TestHandlePacketIgnoresErrorFrames(t *testing.T) {
	task := newTask(t)
	f := tespkt.New(buildMCAHeader([]uint32{1, 2}))

	task.HandlePacket(f, f.FLen(), 0, tespkt.EEthType)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.Zero(t, task.curNbins)
}

func TestOnSubscriberChangeResetsState(t *testing.T) {
	task := newTask(t)
	task.curNbins = 2
	task.nbins = 4

	var activated, deactivated bool
	task.SetActivator(
		func() error { activated = true; return nil },
		func() error { deactivated = true; return nil },
	)

	task.onSubscriberChange(1)
	require.True(t, activated)
	require.Zero(t, task.curNbins)

	task.onSubscriberChange(0)
	require.True(t, deactivated)
}
