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

import "github.com/tesdaq/tesd/tasksup"

// TaskSink adapts Registry to tasksup.MetricsSink, so
// Supervisor.SetMetrics(registry.TaskSink()) is all cmd/tesd needs to
// wire dispatch-loop observation into Prometheus.
type taskSink struct{ r *Registry }

func (r *Registry) TaskSink() tasksup.MetricsSink { return taskSink{r} }

func (s taskSink) Wakeup(task string) {
	s.r.TaskWakeups.WithLabelValues(task).Inc()
}

func (s taskSink) Dispatch(task string, verdict tasksup.Verdict) {
	s.r.TaskDispatches.WithLabelValues(task, verdictLabel(verdict)).Inc()
}

func verdictLabel(v tasksup.Verdict) string {
	switch v {
	case tasksup.VerdictContinue:
		return "continue"
	case tasksup.VerdictSleep:
		return "sleep"
	case tasksup.VerdictError:
		return "error"
	default:
		return "unknown"
	}
}
