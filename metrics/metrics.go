/*
Copyright 2025 The Jib Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics contains the gateway's prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled HTTP requests by endpoint and
	// response code.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jib_gateway_requests_total",
		Help: "Number of HTTP requests handled by the gateway.",
	}, []string{"endpoint", "code"})

	// PolicyDecisions counts allow/deny outcomes per check.
	PolicyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jib_gateway_policy_decisions_total",
		Help: "Number of policy decisions, by check and outcome.",
	}, []string{"check", "allowed"})

	// RateLimited counts denials per rate-limit class.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jib_gateway_rate_limited_total",
		Help: "Number of requests denied by the rate limiter.",
	}, []string{"class"})

	// SubprocessDuration observes child process wall time.
	SubprocessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jib_gateway_subprocess_duration_seconds",
		Help:    "Wall time of git and gh subprocesses.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"tool"})

	// AuditEvents counts emitted audit events.
	AuditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jib_gateway_audit_events_total",
		Help: "Number of audit events, by type and success.",
	}, []string{"event_type", "success"})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PolicyDecisions)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(SubprocessDuration)
	prometheus.MustRegister(AuditEvents)
}

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
