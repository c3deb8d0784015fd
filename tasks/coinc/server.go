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
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/wire"
)

// Server accepts one connection per reconfiguration request on
// wire.CoincReqLPort.
type Server struct {
	ln   net.Listener
	task *Task
	log  *logrus.Entry
}

func Listen(task *Task, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", wire.CoincReqLPort))
	if err != nil {
		return nil, fmt.Errorf("coinc: listen: %w", err)
	}
	return &Server{ln: ln, task: task, log: log}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Close() error { return s.ln.Close() }

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

	req, err := wire.DecodeCoincConfigRequest(conn)
	if err != nil {
		s.log.WithError(err).Warn("coinc: malformed request")
		wire.CoincConfigReply{Status: wire.CoincEInval}.Encode(conn)
		return
	}

	rep := s.task.HandleConfigRequest(req)
	if err := rep.Encode(conn); err != nil {
		s.log.WithError(err).Warn("coinc: failed to send reply")
	}
}
