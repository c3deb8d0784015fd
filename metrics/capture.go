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

package metrics

import "github.com/tesdaq/tesd/wire"

// CaptureReplyObserver returns a function suitable for
// capture.Server.SetReplyObserver, counting each capture reply status.
func (r *Registry) CaptureReplyObserver() func(status uint8) {
	return func(status uint8) {
		r.CaptureReplies.WithLabelValues(captureStatusLabel(status)).Inc()
	}
}

func captureStatusLabel(status uint8) string {
	switch status {
	case wire.CapOK:
		return "ok"
	case wire.CapEInval:
		return "einval"
	case wire.CapEAbort:
		return "eabort"
	case wire.CapEPerm:
		return "eperm"
	case wire.CapEFail:
		return "efail"
	case wire.CapEWrite:
		return "ewrite"
	case wire.CapEConv:
		return "econv"
	case wire.CapEFin:
		return "efin"
	default:
		return "unknown"
	}
}
