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

package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/ghcli"
	"github.com/jib-infra/gateway/tokens"
)

type fakeGitHub struct {
	prs         map[string]map[int]ghcli.PullRequest
	prInfoCalls int
	listCalls   int
	err         error
}

func (f *fakeGitHub) PRInfo(_ context.Context, _ tokens.Mode, repo string, number int) (*ghcli.PullRequest, error) {
	f.prInfoCalls++
	if f.err != nil {
		return nil, f.err
	}
	if pr, ok := f.prs[repo][number]; ok {
		return &pr, nil
	}
	return nil, nil
}

func (f *fakeGitHub) ListPRsForBranch(_ context.Context, _ tokens.Mode, repo, branch, state string) ([]ghcli.PullRequest, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []ghcli.PullRequest
	for _, pr := range f.prs[repo] {
		if pr.HeadRefName == branch {
			out = append(out, pr)
		}
	}
	return out, nil
}

func testEngine(t *testing.T, github *fakeGitHub) *Engine {
	t.Helper()
	engine, err := NewEngine(github, Options{
		BotName:       "jib",
		LongBotName:   "jib-automation",
		TrustedUsers:  NewUserSet("carol"),
		IncognitoUser: "alice",
	}, logrus.WithField("test", t.Name()))
	if err != nil {
		t.Fatalf("could not build engine: %v", err)
	}
	return engine
}

func TestIdentitySet(t *testing.T) {
	set := NewIdentitySet("jib", "jib-automation")
	for _, login := range []string{"jib", "Jib", "jib[bot]", "app/jib", "apps/jib-automation", "JIB-AUTOMATION[BOT]"} {
		if !set.Contains(login) {
			t.Errorf("expected %q to be a bot identity", login)
		}
	}
	for _, login := range []string{"alice", "jibx", "app/alice", ""} {
		if set.Contains(login) {
			t.Errorf("expected %q not to be a bot identity", login)
		}
	}
}

func TestCheckBranchOwnershipBotPrefix(t *testing.T) {
	github := &fakeGitHub{}
	engine := testEngine(t, github)

	decision := engine.CheckBranchOwnership(context.Background(), "acme/foo", "jib-fix-typo", tokens.ModeBot)
	if !decision.Allowed || decision.Reason != "bot-prefix" {
		t.Errorf("unexpected decision: %+v", decision)
	}
	decision = engine.CheckBranchOwnership(context.Background(), "acme/foo", "jib/c1/work", tokens.ModeBot)
	if !decision.Allowed {
		t.Errorf("unexpected decision: %+v", decision)
	}
	// prefix decisions never touch GitHub
	if github.listCalls != 0 || github.prInfoCalls != 0 {
		t.Errorf("prefix decision hit the remote: %d list, %d info", github.listCalls, github.prInfoCalls)
	}
}

func TestCheckBranchOwnershipViaPRs(t *testing.T) {
	var testCases = []struct {
		name    string
		author  ghcli.Author
		allowed bool
		reason  string
	}{
		{name: "bot PR", author: "jib[bot]", allowed: true, reason: "bot PR"},
		{name: "trusted user PR", author: "carol", allowed: true, reason: "trusted user PR"},
		{name: "stranger PR", author: "mallory", allowed: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
				"acme/foo": {42: {Number: 42, Author: testCase.author, State: "OPEN", HeadRefName: "feature"}},
			}}
			engine := testEngine(t, github)
			decision := engine.CheckBranchOwnership(context.Background(), "acme/foo", "feature", tokens.ModeBot)
			if decision.Allowed != testCase.allowed {
				t.Fatalf("unexpected decision: %+v", decision)
			}
			if testCase.allowed && decision.Reason != testCase.reason {
				t.Errorf("got reason %q, expected %q", decision.Reason, testCase.reason)
			}
			if !testCase.allowed {
				if _, ok := decision.Details["trusted_users"]; !ok {
					t.Error("deny details should name the trusted user list")
				}
			}
		})
	}
}

func TestCheckBranchOwnershipIncognito(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {7: {Number: 7, Author: "alice", State: "OPEN", HeadRefName: "main"}},
	}}
	engine := testEngine(t, github)

	decision := engine.CheckBranchOwnership(context.Background(), "acme/foo", "main", tokens.ModeIncognito)
	if !decision.Allowed || decision.Reason != "incognito PR" {
		t.Errorf("unexpected decision: %+v", decision)
	}

	// no PR at all: still allowed, GitHub is the enforcement point
	decision = engine.CheckBranchOwnership(context.Background(), "acme/foo", "other", tokens.ModeIncognito)
	if !decision.Allowed || decision.Reason != "incognito auth" {
		t.Errorf("unexpected decision: %+v", decision)
	}
}

func TestCheckBranchOwnershipTransportFailure(t *testing.T) {
	github := &fakeGitHub{err: fmt.Errorf("rate limited")}
	engine := testEngine(t, github)
	decision := engine.CheckBranchOwnership(context.Background(), "acme/foo", "feature", tokens.ModeBot)
	if decision.Allowed {
		t.Errorf("transport failure must deny: %+v", decision)
	}
}

func TestCheckPROwnership(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {
			1: {Number: 1, Author: "jib[bot]", State: "OPEN"},
			2: {Number: 2, Author: "alice", State: "OPEN"},
			3: {Number: 3, Author: "mallory", State: "OPEN"},
		},
	}}
	engine := testEngine(t, github)
	ctx := context.Background()

	if decision := engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeBot); !decision.Allowed {
		t.Errorf("bot should own its PR: %+v", decision)
	}
	if decision := engine.CheckPROwnership(ctx, "acme/foo", 3, tokens.ModeBot); decision.Allowed {
		t.Errorf("bot must not own mallory's PR: %+v", decision)
	}
	if decision := engine.CheckPROwnership(ctx, "acme/foo", 2, tokens.ModeIncognito); !decision.Allowed {
		t.Errorf("incognito user should own their PR: %+v", decision)
	}
	if decision := engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeIncognito); decision.Allowed {
		t.Errorf("incognito user must not own the bot's PR: %+v", decision)
	}
	if decision := engine.CheckPROwnership(ctx, "acme/foo", 999, tokens.ModeBot); decision.Allowed {
		t.Errorf("missing PR must deny: %+v", decision)
	}
}

func TestCheckPRCommentAllowed(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {42: {Number: 42, Author: "alice", State: "OPEN"}},
	}}
	engine := testEngine(t, github)

	if decision := engine.CheckPRCommentAllowed(context.Background(), "acme/foo", 42, tokens.ModeBot); !decision.Allowed {
		t.Errorf("commenting on someone else's PR should be allowed: %+v", decision)
	}
	if decision := engine.CheckPRCommentAllowed(context.Background(), "acme/foo", 999, tokens.ModeBot); decision.Allowed {
		t.Errorf("commenting on a missing PR must deny: %+v", decision)
	}
}

func TestCheckPRCreateAllowed(t *testing.T) {
	engine := testEngine(t, &fakeGitHub{})
	if decision := engine.CheckPRCreateAllowed("acme/foo", tokens.ModeBot); !decision.Allowed {
		t.Errorf("bot mode should create PRs: %+v", decision)
	}
	if decision := engine.CheckPRCreateAllowed("acme/foo", tokens.ModeIncognito); decision.Allowed {
		t.Errorf("incognito mode must not create PRs: %+v", decision)
	}
}

func TestCheckMergeAllowed(t *testing.T) {
	engine := testEngine(t, &fakeGitHub{})
	if decision := engine.CheckMergeAllowed("acme/foo", 42); decision.Allowed {
		t.Errorf("merge must always deny: %+v", decision)
	}
}

func TestPRCacheStaleness(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {1: {Number: 1, Author: "jib", State: "OPEN"}},
	}}
	engine := testEngine(t, github)
	now := time.Now()
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeBot)
	if github.prInfoCalls != 1 {
		t.Fatalf("expected 1 fetch, got %d", github.prInfoCalls)
	}

	// fresh entry: no refetch
	now = now.Add(prStaleAfter - time.Second)
	engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeBot)
	if github.prInfoCalls != 1 {
		t.Errorf("fresh entry was refetched: %d calls", github.prInfoCalls)
	}

	// stale entry: refetch
	now = now.Add(2 * time.Second)
	engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeBot)
	if github.prInfoCalls != 2 {
		t.Errorf("stale entry was not refetched: %d calls", github.prInfoCalls)
	}
}

func TestBranchCachePopulatesPRCache(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {5: {Number: 5, Author: "jib", State: "OPEN", HeadRefName: "feature"}},
	}}
	engine := testEngine(t, github)
	ctx := context.Background()

	engine.CheckBranchOwnership(ctx, "acme/foo", "feature", tokens.ModeBot)
	if github.listCalls != 1 {
		t.Fatalf("expected 1 list call, got %d", github.listCalls)
	}

	// the PR observed during the branch listing is already cached
	engine.CheckPROwnership(ctx, "acme/foo", 5, tokens.ModeBot)
	if github.prInfoCalls != 0 {
		t.Errorf("PR cache was not populated by the branch listing: %d info calls", github.prInfoCalls)
	}

	// a second branch check within the staleness window reuses the cache
	engine.CheckBranchOwnership(ctx, "acme/foo", "feature", tokens.ModeBot)
	if github.listCalls != 1 {
		t.Errorf("fresh branch entry was refetched: %d list calls", github.listCalls)
	}
}

func TestRepoNamesCaseInsensitive(t *testing.T) {
	github := &fakeGitHub{prs: map[string]map[int]ghcli.PullRequest{
		"acme/foo": {1: {Number: 1, Author: "jib", State: "OPEN"}},
	}}
	engine := testEngine(t, github)
	ctx := context.Background()

	engine.CheckPROwnership(ctx, "acme/foo", 1, tokens.ModeBot)
	calls := github.prInfoCalls
	// differently-cased repo hits the same cache entry
	engine.CheckPROwnership(ctx, "Acme/Foo", 1, tokens.ModeBot)
	if github.prInfoCalls != calls {
		t.Errorf("case-insensitive lookup missed the cache: %d calls", github.prInfoCalls)
	}
}
