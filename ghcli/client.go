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

// Package ghcli wraps the gh CLI. The gateway never gives agents the gh
// binary or a token; it runs gh itself with a mode-selected token in the
// child environment and a fixed PATH, and parses typed results out of the
// JSON gh prints.
package ghcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/gitcmd"
	"github.com/jib-infra/gateway/tokens"
)

const safePATH = "/usr/bin:/bin"

// TokenGetter hands back the token for an auth mode.
type TokenGetter func(mode tokens.Mode) (string, error)

type executeFunc func(ctx context.Context, dir string, env []string, command string, args ...string) (stdout, stderr []byte, returnCode int, timedOut bool, err error)

// Client executes gh with credentials injected per call.
type Client struct {
	logger   *logrus.Entry
	gh       string
	tokenFor TokenGetter
	censor   gitcmd.Censor
	execute  executeFunc
}

// NewClient finds gh on the host PATH and returns a client whose captured
// output is always censored.
func NewClient(tokenFor TokenGetter, censor gitcmd.Censor, logger *logrus.Entry) (*Client, error) {
	gh, err := exec.LookPath("gh")
	if err != nil {
		return nil, err
	}
	return &Client{
		logger:   logger.WithField("client", "gh"),
		gh:       gh,
		tokenFor: tokenFor,
		censor:   censor,
		execute:  execute,
	}, nil
}

func execute(ctx context.Context, dir string, env []string, command string, args ...string) ([]byte, []byte, int, bool, error) {
	c := exec.CommandContext(ctx, command, args...)
	c.Dir = dir
	c.Env = env
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	timedOut := ctx.Err() == context.DeadlineExceeded
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
		err = nil
	} else if timedOut {
		err = nil
		code = -1
	}
	return stdout.Bytes(), stderr.Bytes(), code, timedOut, err
}

// Execute runs gh with the given args in cwd, authenticated for mode.
func (c *Client) Execute(ctx context.Context, mode tokens.Mode, cwd string, timeout time.Duration, args ...string) (gitcmd.Result, error) {
	token, err := c.tokenFor(mode)
	if err != nil {
		return gitcmd.Result{}, err
	}
	env := []string{
		"PATH=" + safePATH,
		"GH_TOKEN=" + token,
		// gh shells out to git internally; worktrees are owned by the
		// container uid, so git must not refuse them
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=safe.directory",
		"GIT_CONFIG_VALUE_0=*",
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := c.logger.WithField("args", strings.Join(args, " "))
	stdout, stderr, code, timedOut, err := c.execute(ctx, cwd, env, c.gh, args...)
	stdout = c.censor(stdout)
	stderr = c.censor(stderr)
	result := gitcmd.Result{
		Success:    err == nil && code == 0 && !timedOut,
		Stdout:     string(stdout),
		Stderr:     string(stderr),
		ReturnCode: code,
		TimedOut:   timedOut,
	}
	if timedOut {
		result.Stderr = fmt.Sprintf("timed out after %ds", int(timeout.Seconds()))
	}
	if err != nil {
		logger.WithError(err).Debug("Running gh failed.")
		return result, err
	}
	logger.WithField("code", code).Debug("gh finished.")
	return result, nil
}

// Author is the PR author field, which gh renders sometimes as a bare
// string and sometimes as an object with a login. It normalises to the
// login string at the parse boundary so the shape never leaks into policy
// code.
type Author string

func (a *Author) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*a = Author(asString)
		return nil
	}
	var asObject struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	*a = Author(asObject.Login)
	return nil
}

// PullRequest is the subset of PR metadata policy decisions need.
type PullRequest struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Author      Author `json:"author"`
	State       string `json:"state"`
	HeadRefName string `json:"headRefName"`
	BaseRefName string `json:"baseRefName"`
}

const queryTimeout = 30 * time.Second

var prJSONFields = "number,title,author,state,headRefName,baseRefName"

// PRInfo fetches one PR's metadata. A missing PR is (nil, nil).
func (c *Client) PRInfo(ctx context.Context, mode tokens.Mode, repo string, number int) (*PullRequest, error) {
	result, err := c.Execute(ctx, mode, "", queryTimeout,
		"pr", "view", fmt.Sprint(number), "--repo", repo, "--json", prJSONFields)
	if err != nil {
		return nil, errors.Wrap(err, "could not run gh pr view")
	}
	if !result.Success {
		if strings.Contains(result.Stderr, "no pull requests found") ||
			strings.Contains(result.Stderr, "Could not resolve") ||
			strings.Contains(result.Stderr, "Not Found") {
			return nil, nil
		}
		return nil, errors.Errorf("gh pr view failed: %s", strings.TrimSpace(result.Stderr))
	}
	var pr PullRequest
	if err := json.Unmarshal([]byte(result.Stdout), &pr); err != nil {
		return nil, errors.Wrap(err, "could not parse gh pr view output")
	}
	return &pr, nil
}

// ListPRsForBranch lists PRs whose head is branch, filtered by state
// ("open", "closed", "all").
func (c *Client) ListPRsForBranch(ctx context.Context, mode tokens.Mode, repo, branch, state string) ([]PullRequest, error) {
	result, err := c.Execute(ctx, mode, "", queryTimeout,
		"pr", "list", "--repo", repo, "--head", branch, "--state", state, "--json", prJSONFields)
	if err != nil {
		return nil, errors.Wrap(err, "could not run gh pr list")
	}
	if !result.Success {
		return nil, errors.Errorf("gh pr list failed: %s", strings.TrimSpace(result.Stderr))
	}
	var prs []PullRequest
	if err := json.Unmarshal([]byte(result.Stdout), &prs); err != nil {
		return nil, errors.Wrap(err, "could not parse gh pr list output")
	}
	return prs, nil
}

// BranchExists reports whether branch exists on the remote.
func (c *Client) BranchExists(ctx context.Context, mode tokens.Mode, repo, branch string) (bool, error) {
	result, err := c.Execute(ctx, mode, "", queryTimeout,
		"api", fmt.Sprintf("repos/%s/branches/%s", repo, branch), "--silent")
	if err != nil {
		return false, errors.Wrap(err, "could not run gh api")
	}
	return result.Success, nil
}

// AuthenticatedUser returns the login the mode's token belongs to.
func (c *Client) AuthenticatedUser(ctx context.Context, mode tokens.Mode) (string, error) {
	result, err := c.Execute(ctx, mode, "", queryTimeout, "api", "/user", "--jq", ".login")
	if err != nil {
		return "", errors.Wrap(err, "could not run gh api /user")
	}
	if !result.Success {
		return "", errors.Errorf("gh api /user failed: %s", strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}
