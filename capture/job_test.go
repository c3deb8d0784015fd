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
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/tespkt"
	"github.com/tesdaq/tesd/wire"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{Root: t.TempDir(), Layout: LayoutPerType, MCASizeMode: tespkt.MCASizeFromLastBin}
}

func TestHandleRequestRejectsEmptyFilename(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	rep, ch := job.HandleRequest(wire.CaptureRequest{})
	require.Nil(t, ch)
	require.Equal(t, wire.CapEInval, rep.Status)
}

func TestHandleRequestRejectsOutOfRangeMode(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	rep, ch := job.HandleRequest(wire.CaptureRequest{Filename: "run1", Mode: wire.CapModeConvOnly + 1})
	require.Nil(t, ch)
	require.Equal(t, wire.CapEInval, rep.Status)
}

func TestHandleRequestStatusQueryOnMissingFileFails(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	rep, ch := job.HandleRequest(wire.CaptureRequest{Filename: "nope"})
	require.Nil(t, ch)
	require.Equal(t, wire.CapEAbort, rep.Status)
}

func TestHandleRequestOpensWriteSessionAndActivates(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	var activated bool
	job.SetActivator(func() error { activated = true; return nil })

	rep, ch := job.HandleRequest(wire.CaptureRequest{
		Filename:  "run1",
		Mode:      wire.CapModeCapOnly,
		MinTicks:  1,
		MinEvents: 0,
	})
	require.NotNil(t, ch)
	require.Equal(t, uint8(0), rep.Status)
	require.True(t, activated)

	require.NoError(t, job.Fin())
}

func TestHandleRequestRejectsConcurrentWriteWhileRecording(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	job.SetActivator(func() error { return nil })

	_, ch := job.HandleRequest(wire.CaptureRequest{Filename: "run1", MinTicks: 1})
	require.NotNil(t, ch)
	job.cur.recording = true

	rep, ch2 := job.HandleRequest(wire.CaptureRequest{Filename: "run2", MinTicks: 1})
	require.Nil(t, ch2)
	require.Equal(t, wire.CapEAbort, rep.Status)

	require.NoError(t, job.Fin())
}
