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

package ghcli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/secretutil"
	"github.com/jib-infra/gateway/tokens"
)

func testClient(t *testing.T, execute executeFunc) *Client {
	t.Helper()
	censorer := secretutil.NewCensorer()
	censorer.Refresh("ghs_token")
	return &Client{
		logger: logrus.WithField("test", t.Name()),
		gh:     "gh",
		tokenFor: func(mode tokens.Mode) (string, error) {
			return "ghs_token", nil
		},
		censor:  secretutil.AdaptCensorer(censorer),
		execute: execute,
	}
}

func TestAuthorUnmarshal(t *testing.T) {
	var testCases = []struct {
		name     string
		input    string
		expected Author
	}{
		{name: "object", input: `{"login":"alice"}`, expected: "alice"},
		{name: "string", input: `"alice"`, expected: "alice"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var actual Author
			if err := json.Unmarshal([]byte(testCase.input), &actual); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if actual != testCase.expected {
				t.Errorf("got %q, expected %q", actual, testCase.expected)
			}
		})
	}
}

func TestPRInfo(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, env []string, _ string, args ...string) ([]byte, []byte, int, bool, error) {
		for _, want := range []string{"pr", "view", "42", "--repo", "acme/foo"} {
			found := false
			for _, arg := range args {
				if arg == want {
					found = true
				}
			}
			if !found {
				t.Errorf("args %v missing %q", args, want)
			}
		}
		hasToken := false
		for _, kv := range env {
			if kv == "GH_TOKEN=ghs_token" {
				hasToken = true
			}
		}
		if !hasToken {
			t.Error("GH_TOKEN not set in child environment")
		}
		return []byte(`{"number":42,"title":"fix","author":{"login":"alice"},"state":"OPEN","headRefName":"fix-1","baseRefName":"main"}`), nil, 0, false, nil
	})

	pr, err := client.PRInfo(context.Background(), tokens.ModeBot, "acme/foo", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := &PullRequest{Number: 42, Title: "fix", Author: "alice", State: "OPEN", HeadRefName: "fix-1", BaseRefName: "main"}
	if diff := cmp.Diff(expected, pr); diff != "" {
		t.Errorf("unexpected PR: %v", diff)
	}
}

func TestPRInfoNotFound(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		return nil, []byte("GraphQL: Could not resolve to a PullRequest"), 1, false, nil
	})
	pr, err := client.PRInfo(context.Background(), tokens.ModeBot, "acme/foo", 9999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr != nil {
		t.Errorf("expected nil for a missing PR, got %+v", pr)
	}
}

func TestListPRsForBranch(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, _ []string, _ string, args ...string) ([]byte, []byte, int, bool, error) {
		return []byte(`[{"number":7,"author":"bob","state":"OPEN","headRefName":"topic"}]`), nil, 0, false, nil
	})
	prs, err := client.ListPRsForBranch(context.Background(), tokens.ModeBot, "acme/foo", "topic", "open")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prs) != 1 || prs[0].Author != "bob" {
		t.Errorf("unexpected PRs: %+v", prs)
	}
}

func TestBranchExists(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, _ []string, _ string, args ...string) ([]byte, []byte, int, bool, error) {
		if args[1] == "repos/acme/foo/branches/main" {
			return nil, nil, 0, false, nil
		}
		return nil, []byte("Not Found"), 1, false, nil
	})
	exists, err := client.BranchExists(context.Background(), tokens.ModeBot, "acme/foo", "main")
	if err != nil || !exists {
		t.Errorf("expected main to exist, got %v, %v", exists, err)
	}
	exists, err = client.BranchExists(context.Background(), tokens.ModeBot, "acme/foo", "ghost")
	if err != nil || exists {
		t.Errorf("expected ghost to be absent, got %v, %v", exists, err)
	}
}

func TestAuthenticatedUser(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		return []byte("jib\n"), nil, 0, false, nil
	})
	login, err := client.AuthenticatedUser(context.Background(), tokens.ModeBot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if login != "jib" {
		t.Errorf("got %q", login)
	}
}

func TestExecuteCensorsOutput(t *testing.T) {
	client := testClient(t, func(_ context.Context, _ string, _ []string, _ string, _ ...string) ([]byte, []byte, int, bool, error) {
		return []byte("token is ghs_token"), []byte("also ghs_token"), 0, false, nil
	})
	result, err := client.Execute(context.Background(), tokens.ModeBot, "", queryTimeout, "pr", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, output := range []string{result.Stdout, result.Stderr} {
		if strings.Contains(output, "ghs_token") {
			t.Errorf("token survived censoring: %q", output)
		}
	}
}
