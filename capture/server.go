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
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/wire"
)

// Server accepts one connection per capture request, matching the
// original's REQ/REP exchange: a client connects, sends exactly one
// CaptureRequest, reads exactly one CaptureReply, and disconnects.
// Grounded on s_task_save_req_hn's role as the capture endpoint's
// frontend handler.
type Server struct {
	ln      net.Listener
	job     *Job
	log     *logrus.Entry
	onReply func(status uint8)
}

// SetReplyObserver installs fn to be called with every reply's status
// byte just before it's sent to the client, for metrics collection.
func (s *Server) SetReplyObserver(fn func(status uint8)) {
	s.onReply = fn
}

// Listen opens the capture endpoint on wire.CaptureLPort.
func Listen(job *Job, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", wire.CaptureLPort))
	if err != nil {
		return nil, fmt.Errorf("capture: listen: %w", err)
	}
	return &Server{ln: ln, job: job, log: log}, nil
}

// Addr reports the listener's bound address, useful when port 0 was
// requested for tests.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	req, err := wire.DecodeCaptureRequest(conn)
	if err != nil {
		s.log.WithError(err).Warn("capture: malformed request")
		wire.CaptureReply{Status: wire.CapEInval}.Encode(conn)
		return
	}

	rep, pending := s.job.HandleRequest(req)
	if pending != nil {
		// A write request: the reply isn't ready until the job
		// finishes, so the connection stays open and this goroutine
		// blocks here — mirroring the original sending the capture
		// endpoint's reply only at job completion, not at accept time.
		rep = <-pending
	}
	if s.onReply != nil {
		s.onReply(rep.Status)
	}
	if err := rep.Encode(conn); err != nil {
		s.log.WithError(err).Warn("capture: failed to send reply")
	}
}
