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

package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)

	auditLogger := NewLogger(logrus.NewEntry(logger))
	auditLogger.Record(Event{
		Type:      "push_denied",
		Operation: "git_push",
		SourceIP:  "127.0.0.1",
		Success:   false,
		Details:   map[string]interface{}{"repo": "acme/foo", "branch": "main"},
	})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	for key, expected := range map[string]interface{}{
		"event_type":    "push_denied",
		"operation":     "git_push",
		"source_ip":     "127.0.0.1",
		"success":       false,
		"detail_repo":   "acme/foo",
		"detail_branch": "main",
		"channel":       "audit",
	} {
		if line[key] != expected {
			t.Errorf("field %s = %v, expected %v", key, line[key], expected)
		}
	}
	if line["audit_id"] == "" || line["audit_id"] == nil {
		t.Error("audit line has no id")
	}
	if line["timestamp"] == "" || line["timestamp"] == nil {
		t.Error("audit line has no timestamp")
	}
}
