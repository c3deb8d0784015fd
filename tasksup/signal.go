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

// Package tasksup runs the set of frame-consuming tasks (capture,
// histogram, average-trace, jitter, coincidence, info) against a
// shared ring.Manager: one goroutine per task, woken whenever the
// coordinator observes new frames, replacing the original's
// zactor-per-task threads signaled over a PAIR socket.
package tasksup

// Signal is the small vocabulary the coordinator and a task goroutine
// exchange, standing in for the original's zsock_signal bytes.
type Signal int

const (
	// SigWakeup tells an active task that new frames may be waiting.
	SigWakeup Signal = iota
	// SigStop tells a task to finalize and exit.
	SigStop
)
