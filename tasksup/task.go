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

package tasksup

import "github.com/tesdaq/tesd/tespkt"

// Verdict is returned by a task's packet handler (and propagated out
// of dispatch) to tell the run loop what to do next, replacing the
// original's TASK_SLEEP/TASK_ERROR/0 return codes.
type Verdict int

const (
	// VerdictContinue means keep dispatching; the task wants more
	// frames from the current ring or the next one.
	VerdictContinue Verdict = iota
	// VerdictSleep means the task has satisfied whatever condition it
	// was activated for (e.g. a capture job's min_ticks/min_events) and
	// should deactivate until reactivated by a client request.
	VerdictSleep
	// VerdictError means the handler hit an unrecoverable error; the
	// task's goroutine will exit and report itself to the supervisor.
	VerdictError
)

// PacketHandler processes one frame already clipped to its ring
// slot's length and validity-checked. missed is the number of frame
// sequence numbers skipped immediately before this frame (0 if none
// were skipped).
type PacketHandler func(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) Verdict

// Task is anything the supervisor can run: a frame consumer wired to
// every ring via its packet handler, with lifecycle hooks mirroring
// the original's data_init/data_fin/client_handler triad.
type Task interface {
	// ID identifies the task in logs and in Supervisor.Activate calls.
	ID() string
	// HandlePacket is called once per frame while the task is active.
	HandlePacket(f tespkt.Frame, flen uint16, missed uint16, errs tespkt.Err) Verdict
	// Init is called once, before the task's run loop starts waiting
	// for wakeups, to open whatever resources the task needs.
	Init() error
	// Fin is called once after the run loop exits, whether cleanly or
	// on error, to release those resources.
	Fin() error
	// Autoactivate reports whether the task should activate itself as
	// soon as it starts, rather than waiting for a client request to
	// call Supervisor.Activate.
	Autoactivate() bool
	// MCASizeMode controls how this task resolves an MCA frame's
	// ambiguous declared size against its last_bin field.
	MCASizeMode() tespkt.MCASizeMode
}
