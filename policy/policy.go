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

// Package policy decides whether the bot may act on a branch or pull
// request. Every decision is a function of remote GitHub state read
// through bounded caches; the gateway is defence in depth, so a decision
// made against state up to one staleness window old is acceptable.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/cache"
	"github.com/jib-infra/gateway/ghcli"
	"github.com/jib-infra/gateway/tokens"
)

const (
	// prCacheSize bounds the PR-metadata cache.
	prCacheSize = 500
	// prStaleAfter is how long a cached PR entry stays authoritative.
	prStaleAfter = 300 * time.Second
	// branchCacheSize bounds the branch-to-PRs cache.
	branchCacheSize = 200
	// branchStaleAfter is how long a cached branch listing stays
	// authoritative.
	branchStaleAfter = 120 * time.Second
)

// Decision is an allow/deny with a structured reason. Details are opaque
// to the transport and surface in the HTTP error body on deny.
type Decision struct {
	Allowed bool
	Reason  string
	Details map[string]interface{}
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason string, details map[string]interface{}) Decision {
	return Decision{Allowed: false, Reason: reason, Details: details}
}

// GitHubClient is the subset of the gh client the engine reads through.
type GitHubClient interface {
	PRInfo(ctx context.Context, mode tokens.Mode, repo string, number int) (*ghcli.PullRequest, error)
	ListPRsForBranch(ctx context.Context, mode tokens.Mode, repo, branch, state string) ([]ghcli.PullRequest, error)
}

type prKey struct {
	repo   string
	number int
}

type prEntry struct {
	pr        ghcli.PullRequest
	fetchedAt time.Time
}

type branchKey struct {
	repo   string
	branch string
}

type branchEntry struct {
	numbers   []int
	fetchedAt time.Time
}

// Engine evaluates ownership rules over cached remote state.
type Engine struct {
	client         GitHubClient
	prCache        *cache.LRUCache
	branchCache    *cache.LRUCache
	botIdentities  IdentitySet
	branchPrefixes []string
	trustedUsers   UserSet
	incognitoUser  string
	logger         *logrus.Entry
	now            func() time.Time
}

// Options configure an Engine.
type Options struct {
	// BotName is the primary bot login; LongBotName the GitHub App's
	// long form, if distinct.
	BotName     string
	LongBotName string
	// TrustedUsers may own branches the bot pushes to.
	TrustedUsers UserSet
	// IncognitoUser is the configured human for incognito mode, if any.
	IncognitoUser string
}

// NewEngine builds an engine with fresh caches.
func NewEngine(client GitHubClient, opts Options, logger *logrus.Entry) (*Engine, error) {
	prCache, err := cache.NewLRUCache(prCacheSize)
	if err != nil {
		return nil, err
	}
	branchCache, err := cache.NewLRUCache(branchCacheSize)
	if err != nil {
		return nil, err
	}
	names := []string{opts.BotName}
	if opts.LongBotName != "" {
		names = append(names, opts.LongBotName)
	}
	trusted := opts.TrustedUsers
	if trusted == nil {
		trusted = UserSet{}
	}
	return &Engine{
		client:         client,
		prCache:        prCache,
		branchCache:    branchCache,
		botIdentities:  NewIdentitySet(names...),
		branchPrefixes: BranchPrefixes(opts.BotName),
		trustedUsers:   trusted,
		incognitoUser:  strings.ToLower(opts.IncognitoUser),
		logger:         logger.WithField("component", "policy"),
		now:            time.Now,
	}, nil
}

func normalizeRepo(repo string) string {
	return strings.ToLower(repo)
}

// prInfo reads a PR through the metadata cache, refetching entries older
// than prStaleAfter. A nil return with nil error means the PR does not
// exist.
func (e *Engine) prInfo(ctx context.Context, mode tokens.Mode, repo string, number int) (*ghcli.PullRequest, error) {
	key := prKey{repo: normalizeRepo(repo), number: number}
	if val, ok := e.prCache.Get(key); ok {
		entry := val.(prEntry)
		if e.now().Sub(entry.fetchedAt) < prStaleAfter {
			pr := entry.pr
			return &pr, nil
		}
		e.prCache.Remove(key)
	}
	pr, err := e.client.PRInfo(ctx, mode, repo, number)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, nil
	}
	e.prCache.Set(key, prEntry{pr: *pr, fetchedAt: e.now()})
	return pr, nil
}

// openPRsForBranch reads the open PRs whose head is branch through the
// branch cache. Filling the branch cache also populates the PR cache for
// every PR observed.
func (e *Engine) openPRsForBranch(ctx context.Context, mode tokens.Mode, repo, branch string) ([]ghcli.PullRequest, error) {
	key := branchKey{repo: normalizeRepo(repo), branch: branch}
	if val, ok := e.branchCache.Get(key); ok {
		entry := val.(branchEntry)
		if e.now().Sub(entry.fetchedAt) < branchStaleAfter {
			var prs []ghcli.PullRequest
			complete := true
			for _, number := range entry.numbers {
				pr, err := e.prInfo(ctx, mode, repo, number)
				if err != nil {
					return nil, err
				}
				if pr == nil {
					complete = false
					break
				}
				prs = append(prs, *pr)
			}
			if complete {
				return prs, nil
			}
		}
		e.branchCache.Remove(key)
	}

	prs, err := e.client.ListPRsForBranch(ctx, mode, repo, branch, "open")
	if err != nil {
		return nil, err
	}
	now := e.now()
	numbers := make([]int, 0, len(prs))
	for _, pr := range prs {
		numbers = append(numbers, pr.Number)
		e.prCache.Set(prKey{repo: normalizeRepo(repo), number: pr.Number}, prEntry{pr: pr, fetchedAt: now})
	}
	e.branchCache.Set(key, branchEntry{numbers: numbers, fetchedAt: now})
	return prs, nil
}

// CheckBranchOwnership decides whether mode may push to branch in repo.
func (e *Engine) CheckBranchOwnership(ctx context.Context, repo, branch string, mode tokens.Mode) Decision {
	if mode == tokens.ModeIncognito {
		// GitHub enforces what the human's own token may push; the
		// gateway adds no second gate in incognito mode.
		prs, err := e.openPRsForBranch(ctx, mode, repo, branch)
		if err == nil {
			for _, pr := range prs {
				if strings.ToLower(string(pr.Author)) == e.incognitoUser {
					return allow("incognito PR")
				}
			}
		}
		return allow("incognito auth")
	}

	for _, prefix := range e.branchPrefixes {
		if strings.HasPrefix(strings.ToLower(branch), prefix) {
			return allow("bot-prefix")
		}
	}

	prs, err := e.openPRsForBranch(ctx, mode, repo, branch)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{"repo": repo, "branch": branch}).Warn("Could not list PRs for ownership check.")
		return deny(fmt.Sprintf("could not read PR state: %v", err), nil)
	}
	var observed []int
	for _, pr := range prs {
		observed = append(observed, pr.Number)
		if e.botIdentities.Contains(string(pr.Author)) {
			return allow("bot PR")
		}
	}
	for _, pr := range prs {
		if e.trustedUsers.Contains(string(pr.Author)) {
			return allow("trusted user PR")
		}
	}
	trusted := e.trustedUsers.Names()
	sort.Strings(trusted)
	return deny(
		fmt.Sprintf("branch %q is not bot-prefixed and has no open PR by the bot or a trusted user", branch),
		map[string]interface{}{
			"open_prs":      observed,
			"trusted_users": trusted,
			"hint":          "set JIB_TRUSTED_BRANCH_OWNERS to extend the trusted user list",
		},
	)
}

// CheckPROwnership decides whether mode may mutate PR number in repo.
func (e *Engine) CheckPROwnership(ctx context.Context, repo string, number int, mode tokens.Mode) Decision {
	pr, err := e.prInfo(ctx, mode, repo, number)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{"repo": repo, "pr": number}).Warn("Could not fetch PR for ownership check.")
		return deny(fmt.Sprintf("could not read PR state: %v", err), nil)
	}
	if pr == nil {
		return deny(fmt.Sprintf("PR #%d not found in %s", number, repo), nil)
	}
	author := string(pr.Author)
	if mode == tokens.ModeIncognito {
		if strings.ToLower(author) == e.incognitoUser && e.incognitoUser != "" {
			return allow("incognito PR author")
		}
		return deny(
			fmt.Sprintf("PR #%d is authored by %q, not the configured incognito user", number, author),
			map[string]interface{}{"author": author},
		)
	}
	if e.botIdentities.Contains(author) {
		return allow("bot PR author")
	}
	return deny(
		fmt.Sprintf("PR #%d is authored by %q, not the bot", number, author),
		map[string]interface{}{"author": author},
	)
}

// CheckPRCommentAllowed allows commenting on any PR that exists: agents
// collaborate on PRs they did not author.
func (e *Engine) CheckPRCommentAllowed(ctx context.Context, repo string, number int, mode tokens.Mode) Decision {
	pr, err := e.prInfo(ctx, mode, repo, number)
	if err != nil {
		return deny(fmt.Sprintf("could not read PR state: %v", err), nil)
	}
	if pr == nil {
		return deny(fmt.Sprintf("PR #%d not found in %s", number, repo), nil)
	}
	return allow("comment allowed on any accessible PR")
}

// CheckPRCreateAllowed allows PR creation in bot mode only. A human
// acting through incognito mode creates PRs in the GitHub UI instead.
func (e *Engine) CheckPRCreateAllowed(repo string, mode tokens.Mode) Decision {
	if mode == tokens.ModeIncognito {
		return deny("incognito mode cannot create PRs", nil)
	}
	return allow("bot may create PRs")
}

// CheckMergeAllowed unconditionally refuses: merging is never a gateway
// operation.
func (e *Engine) CheckMergeAllowed(repo string, number int) Decision {
	return deny("merging is not permitted through the gateway", nil)
}
