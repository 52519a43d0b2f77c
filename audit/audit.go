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

// Package audit emits one structured line per privileged attempt. Audit
// lines carry decisions and identifiers, never tokens, helper paths or
// request bodies.
package audit

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/metrics"
)

// Event is an immutable record of one privileged attempt.
type Event struct {
	Type      string
	Operation string
	SourceIP  string
	Success   bool
	Details   map[string]interface{}
}

// Logger writes audit events to a dedicated logrus entry.
type Logger struct {
	logger *logrus.Entry
	now    func() time.Time
}

// NewLogger builds an audit logger on top of base.
func NewLogger(base *logrus.Entry) *Logger {
	return &Logger{
		logger: base.WithField("channel", "audit"),
		now:    time.Now,
	}
}

// Record emits exactly one audit line for the event and bumps the audit
// counter.
func (l *Logger) Record(event Event) {
	fields := logrus.Fields{
		"audit_id":   uuid.NewString(),
		"timestamp":  l.now().UTC().Format(time.RFC3339Nano),
		"event_type": event.Type,
		"operation":  event.Operation,
		"source_ip":  event.SourceIP,
		"success":    event.Success,
	}
	for key, value := range event.Details {
		fields["detail_"+key] = value
	}
	l.logger.WithFields(fields).Info("audit")
	metrics.AuditEvents.WithLabelValues(event.Type, strconv.FormatBool(event.Success)).Inc()
}
