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

// Package tesdlog sets up the one logrus.Logger the rest of the server
// shares and hands out per-component *logrus.Entry values from it, the
// same way every constructor in this codebase (coordinator.New,
// capture.New, the task constructors) already takes a *logrus.Entry
// rather than reaching for a package-level logger.
package tesdlog

import (
	"github.com/sirupsen/logrus"
)

// New builds the shared root logger. verbose selects Debug level over
// Info, matching the -v flag; foreground selects the text formatter
// (colored when attached to a terminal) the way the original colors
// its foreground log-id prefix, while daemon mode gets the plain text
// formatter since its output goes to a file or syslog, not a tty.
func New(verbose, foreground bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableColors:          !foreground,
		DisableLevelTruncation: true,
	})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For returns the per-component entry every constructor in this
// codebase takes, e.g. tesdlog.For(root, "coordinator").
func For(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}
