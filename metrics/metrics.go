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

// Package metrics exposes Prometheus counters and gauges for the
// dispatch loop, each task, and aiobuf's writers, served over a
// diagnostics HTTP port via promhttp. Grounded on
// exporter_example1/main.go's prometheus.MustRegister +
// promhttp.Handler wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric this server exposes. A Registry is
// created once at startup and its fields are passed down to the
// coordinator, supervisor, and task constructors that increment them.
type Registry struct {
	reg *prometheus.Registry

	// TaskWakeups counts SIG_WAKEUP-equivalent dispatch invocations
	// per task (tesd_tasks.c's tasks_wakeup).
	TaskWakeups *prometheus.CounterVec
	// TaskDispatches counts tasksup dispatch results per task, labeled
	// by the verdict returned.
	TaskDispatches *prometheus.CounterVec
	// RingPending gauges each ring's pending-frame depth
	// (cursor-to-tail distance, as ring.View.Pending).
	RingPending *prometheus.GaugeVec

	// AIOBufSubmits counts aiobuf write submissions, labeled by
	// whether they completed synchronously or queued.
	AIOBufSubmits *prometheus.CounterVec
	// AIOBufRetries counts aiobuf write resubmissions after a write
	// returned EAGAIN (a short write is an error and is not retried).
	AIOBufRetries prometheus.Counter

	// CaptureReplies mirrors capture's REQ/REP status codes, one
	// counter per status.
	CaptureReplies *prometheus.CounterVec
}

// New creates a Registry with every metric registered under it. prefix
// namespaces every metric name (e.g. "tesd"), matching Prometheus
// convention of a single namespace per exporting process.
func New(prefix string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		TaskWakeups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "task",
			Name:      "wakeups_total",
			Help:      "Number of times a task was signaled to process new frames.",
		}, []string{"task"}),
		TaskDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "task",
			Name:      "dispatches_total",
			Help:      "Number of dispatch loop iterations per task, labeled by verdict.",
		}, []string{"task", "verdict"}),
		RingPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Subsystem: "ring",
			Name:      "pending_frames",
			Help:      "Frames between a ring's cursor and tail.",
		}, []string{"ring"}),
		AIOBufSubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "aiobuf",
			Name:      "submits_total",
			Help:      "Buffer submissions to the async double-buffer writer.",
		}, []string{"outcome"}),
		AIOBufRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "aiobuf",
			Name:      "eagain_retries_total",
			Help:      "Write resubmissions after pwrite(2) returned EAGAIN.",
		}),
		CaptureReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "capture",
			Name:      "replies_total",
			Help:      "Capture REQ/REP replies, labeled by status code.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		r.TaskWakeups,
		r.TaskDispatches,
		r.RingPending,
		r.AIOBufSubmits,
		r.AIOBufRetries,
		r.CaptureReplies,
	)
	return r
}

// Handler returns the HTTP handler to mount at the diagnostics port's
// /metrics route.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
