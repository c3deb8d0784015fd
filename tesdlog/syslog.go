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

package tesdlog

import (
	"log/syslog"

	"github.com/sirupsen/logrus"
)

// SyslogHook forwards logrus entries to the local syslog daemon at the
// matching severity, for use once the process has daemonized and lost
// its stderr.
type SyslogHook struct {
	writer *syslog.Writer
}

// NewSyslogHook dials the local syslog daemon under the given tag.
// There's no ecosystem logrus-to-syslog hook in reach here, so this
// wraps the standard library's log/syslog directly.
func NewSyslogHook(tag string) (*SyslogHook, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return &SyslogHook{writer: w}, nil
}

func (h *SyslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SyslogHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.writer.Crit(line)
	case logrus.ErrorLevel:
		return h.writer.Err(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	case logrus.InfoLevel:
		return h.writer.Info(line)
	default:
		return h.writer.Debug(line)
	}
}

// AttachSyslog wires a SyslogHook into l and silences its own output
// writer, since syslog is now the sink of record in daemon mode.
func AttachSyslog(l *logrus.Logger, tag string) error {
	hook, err := NewSyslogHook(tag)
	if err != nil {
		return err
	}
	l.AddHook(hook)
	l.SetOutput(discard{})
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
