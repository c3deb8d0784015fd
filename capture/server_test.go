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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tesdaq/tesd/wire"
)

func TestHandleMalformedRequestReturns(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	s := &Server{job: job, log: testLog()}

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() { s.handle(server); close(done) }()

	// Writing nothing and closing immediately is as malformed as it
	// gets: DecodeCaptureRequest hits EOF before a full request.
	client.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle did not return")
	}
}

func TestHandleStatusQueryInvokesReplyObserver(t *testing.T) {
	job := New(testConfig(t), nil, testLog())
	s := &Server{job: job, log: testLog()}

	var observed uint8
	var gotCall bool
	s.SetReplyObserver(func(status uint8) {
		gotCall = true
		observed = status
	})

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() { s.handle(server); close(done) }()

	req := wire.CaptureRequest{Filename: "missing-run"}
	require.NoError(t, req.Encode(client))

	rep, err := wire.DecodeCaptureReply(client)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle did not return")
	}

	require.True(t, gotCall)
	require.Equal(t, rep.Status, observed)
	require.Equal(t, wire.CapEAbort, observed)
}
