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

package coinccount

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/wire"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func TestOnVectorTalliesPairs(t *testing.T) {
	task := New(testLog())
	task.window = 100
	task.curWindow = 100

	task.OnVector((1 << 0) | (1 << 1) | (1 << 3))

	rep := task.HandleRequest(wire.CoincCountRequest{})
	require.Equal(t, wire.CoincCountOK, rep.Status)
	require.EqualValues(t, 1, rep.Counts[wire.PairIndex(0, 1)])
	require.EqualValues(t, 1, rep.Counts[wire.PairIndex(0, 3)])
	require.EqualValues(t, 1, rep.Counts[wire.PairIndex(1, 3)])
	require.Zero(t, rep.Counts[wire.PairIndex(2, 3)])
}

func TestOnVectorIgnoresSingleChannel(t *testing.T) {
	task := New(testLog())
	task.window = 100
	task.curWindow = 100

	task.OnVector(1 << 4)

	rep := task.HandleRequest(wire.CoincCountRequest{})
	for _, c := range rep.Counts {
		require.Zero(t, c)
	}
}

func TestWindowAutoResets(t *testing.T) {
	task := New(testLog())
	task.window = 2
	task.curWindow = 2

	task.OnVector(0x03) // channels 0,1
	task.OnVector(0x03) // window closes here, counts reset after this call

	rep := task.HandleRequest(wire.CoincCountRequest{})
	require.Zero(t, rep.Counts[wire.PairIndex(0, 1)])
}

func TestHandleRequestReconfiguresWindow(t *testing.T) {
	task := New(testLog())

	rep := task.HandleRequest(wire.CoincCountRequest{ResetWindow: 17})
	require.Equal(t, wire.CoincCountOK, rep.Status)

	task.mu.Lock()
	defer task.mu.Unlock()
	require.EqualValues(t, 17, task.window)
}

func TestPairIndexSymmetric(t *testing.T) {
	require.Equal(t, wire.PairIndex(1, 3), wire.PairIndex(3, 1))
	require.NotEqual(t, wire.PairIndex(0, 1), wire.PairIndex(0, 2))
}
