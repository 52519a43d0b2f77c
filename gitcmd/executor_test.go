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

package gitcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/secretutil"
)

func censoringTestExecutor(t *testing.T, execute executeFunc, secrets ...string) *Executor {
	t.Helper()
	censorer := secretutil.NewCensorer()
	censorer.Refresh(secrets...)
	return &Executor{
		logger:  logrus.WithField("test", t.Name()),
		git:     "git",
		censor:  secretutil.AdaptCensorer(censorer),
		execute: execute,
	}
}

func TestRunCensorsOutput(t *testing.T) {
	executor := censoringTestExecutor(t, func(_ context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		return []byte("pushed with ghs_hush"), []byte("remote said ghs_hush"), 0, false, nil
	}, "ghs_hush")

	result, err := executor.Run(context.Background(), "/tmp", time.Minute, nil, "push")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	for _, output := range []string{result.Stdout, result.Stderr} {
		if strings.Contains(output, "ghs_hush") {
			t.Errorf("secret survived censoring: %q", output)
		}
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	executor := censoringTestExecutor(t, func(_ context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		return nil, []byte("fatal: not a git repository"), 128, false, nil
	})

	result, err := executor.Run(context.Background(), "/tmp", time.Minute, nil, "push")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}
	if result.ReturnCode != 128 {
		t.Errorf("got return code %d", result.ReturnCode)
	}
}

func TestRunTimeout(t *testing.T) {
	executor := censoringTestExecutor(t, func(ctx context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		<-ctx.Done()
		return nil, nil, -1, true, nil
	})

	result, err := executor.Run(context.Background(), "/tmp", 10*time.Millisecond, nil, "fetch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected a timed out result")
	}
	if !strings.Contains(result.Stderr, "timed out after") {
		t.Errorf("stderr %q does not report the timeout", result.Stderr)
	}
}

func TestRunPrependsSafeDirectory(t *testing.T) {
	var seenArgs []string
	executor := censoringTestExecutor(t, func(_ context.Context, _ string, _ []string, _ string, args ...string) ([]byte, []byte, int, bool, error) {
		seenArgs = args
		return nil, nil, 0, false, nil
	})
	if _, err := executor.Run(context.Background(), "/tmp", time.Minute, nil, "fetch", "--all"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"-c", "safe.directory=*", "fetch", "--all"}
	if len(seenArgs) != len(want) {
		t.Fatalf("got args %v", seenArgs)
	}
	for i := range want {
		if seenArgs[i] != want[i] {
			t.Errorf("arg %d: got %q, expected %q", i, seenArgs[i], want[i])
		}
	}
}

func TestWithCredentialHelper(t *testing.T) {
	var helperDir string
	err := WithCredentialHelper("ghs_sekrit", func(extraEnv []string) error {
		var helper string
		for _, kv := range extraEnv {
			if strings.HasPrefix(kv, "GIT_CONFIG_VALUE_0=") {
				helper = strings.TrimPrefix(kv, "GIT_CONFIG_VALUE_0=")
			}
		}
		if helper == "" {
			t.Fatal("no credential.helper in environment")
		}
		helperDir = filepath.Dir(helper)

		info, err := os.Stat(helper)
		if err != nil {
			t.Fatalf("helper not materialised: %v", err)
		}
		if info.Mode().Perm() != 0o700 {
			t.Errorf("helper mode %v, expected 0700", info.Mode().Perm())
		}
		content, err := os.ReadFile(helper)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"username=x-access-token", "password=ghs_sekrit"} {
			if !strings.Contains(string(content), want) {
				t.Errorf("helper script missing %q", want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(helperDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("helper dir %q survived the invocation", helperDir)
	}
}

func TestWithCredentialHelperCleansUpOnError(t *testing.T) {
	var helperDir string
	wantErr := fmt.Errorf("push failed")
	err := WithCredentialHelper("ghs_sekrit", func(extraEnv []string) error {
		for _, kv := range extraEnv {
			if strings.HasPrefix(kv, "GIT_ASKPASS=") {
				helperDir = filepath.Dir(strings.TrimPrefix(kv, "GIT_ASKPASS="))
			}
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if _, err := os.Stat(helperDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("helper dir %q survived the failed invocation", helperDir)
	}
}

func TestWithCredentialHelperCleansUpOnPanic(t *testing.T) {
	var helperDir string
	func() {
		defer func() { recover() }()
		WithCredentialHelper("ghs_sekrit", func(extraEnv []string) error {
			for _, kv := range extraEnv {
				if strings.HasPrefix(kv, "GIT_ASKPASS=") {
					helperDir = filepath.Dir(strings.TrimPrefix(kv, "GIT_ASKPASS="))
				}
			}
			panic("handler exploded")
		})
	}()
	if _, err := os.Stat(helperDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("helper dir %q survived the panic", helperDir)
	}
}
