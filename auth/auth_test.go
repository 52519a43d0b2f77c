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

package auth

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	authenticator := New([]byte("gateway-secret"))
	var testCases = []struct {
		name   string
		header string
		ok     bool
	}{
		{name: "correct", header: "Bearer gateway-secret", ok: true},
		{name: "wrong token", header: "Bearer other-secret", ok: false},
		{name: "wrong trailing byte", header: "Bearer gateway-secreX", ok: false},
		{name: "wrong leading byte", header: "Bearer Xateway-secret", ok: false},
		{name: "prefix of secret", header: "Bearer gateway", ok: false},
		{name: "no scheme", header: "gateway-secret", ok: false},
		{name: "basic scheme", header: "Basic gateway-secret", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest("POST", "/api/v1/git/push", nil)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			if actual := authenticator.Authenticate(request); actual != testCase.ok {
				t.Errorf("got %v, expected %v", actual, testCase.ok)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JIB_TEST_GATEWAY_SECRET", "from-env")
	authenticator, err := Load("JIB_TEST_GATEWAY_SECRET", filepath.Join(t.TempDir(), "gateway-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request := httptest.NewRequest("POST", "/", nil)
	request.Header.Set("Authorization", "Bearer from-env")
	if !authenticator.Authenticate(request) {
		t.Error("env secret not honoured")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("JIB_TEST_GATEWAY_SECRET", "")
	path := filepath.Join(t.TempDir(), "gateway-secret")
	if err := os.WriteFile(path, []byte("file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	authenticator, err := Load("JIB_TEST_GATEWAY_SECRET", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request := httptest.NewRequest("POST", "/", nil)
	request.Header.Set("Authorization", "Bearer file-secret")
	if !authenticator.Authenticate(request) {
		t.Error("file secret not honoured")
	}
}

func TestLoadGenerates(t *testing.T) {
	t.Setenv("JIB_TEST_GATEWAY_SECRET", "")
	path := filepath.Join(t.TempDir(), "gateway-secret")
	if _, err := Load("JIB_TEST_GATEWAY_SECRET", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("secret not persisted: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secret file mode %v, expected 0600", info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	secret := strings.TrimSpace(string(raw))
	if len(secret) < 40 {
		t.Errorf("generated secret suspiciously short: %d bytes", len(secret))
	}

	// a second load returns the persisted secret, not a new one
	authenticator, err := Load("JIB_TEST_GATEWAY_SECRET", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request := httptest.NewRequest("POST", "/", nil)
	request.Header.Set("Authorization", "Bearer "+secret)
	if !authenticator.Authenticate(request) {
		t.Error("persisted secret not honoured on reload")
	}
}
