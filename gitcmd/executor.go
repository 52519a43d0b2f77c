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

// Package gitcmd runs git subprocesses on behalf of agent containers. All
// output is censored before it is logged or returned, and credentials are
// injected through an ephemeral helper script that never outlives the
// subprocess.
package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// safePATH is the only PATH child processes see.
const safePATH = "/usr/bin:/bin"

// Censor censors content to remove secrets.
type Censor func(content []byte) []byte

// Result captures a finished subprocess. A non-zero exit is a result, not
// an error; TimedOut marks a child that had to be killed.
type Result struct {
	Success    bool
	Stdout     string
	Stderr     string
	ReturnCode int
	TimedOut   bool
}

type executeFunc func(ctx context.Context, dir string, env []string, command string, args ...string) (stdout, stderr []byte, returnCode int, timedOut bool, err error)

// Executor knows how to run git commands with censored output.
type Executor struct {
	logger  *logrus.Entry
	git     string
	censor  Censor
	execute executeFunc
}

// NewExecutor returns an executor that finds git on the host and censors
// all captured output with censor.
func NewExecutor(censor Censor, logger *logrus.Entry) (*Executor, error) {
	g, err := exec.LookPath("git")
	if err != nil {
		return nil, err
	}
	return &Executor{
		logger:  logger.WithField("client", "git"),
		git:     g,
		censor:  censor,
		execute: execute,
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

// Run executes `git -c safe.directory=* <args>` in dir with the given
// timeout and extra environment. A timed-out child is killed and reported
// via Result.TimedOut.
func (e *Executor) Run(ctx context.Context, dir string, timeout time.Duration, extraEnv []string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgs := append([]string{"-c", "safe.directory=*"}, args...)
	env := append(baseEnv(), extraEnv...)
	logger := e.logger.WithField("args", strings.Join(args, " "))

	start := time.Now()
	stdout, stderr, code, timedOut, err := e.execute(ctx, dir, env, e.git, fullArgs...)
	duration := time.Since(start)

	stdout = e.censor(stdout)
	stderr = e.censor(stderr)
	result := Result{
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
		logger.WithError(err).WithField("output", result.Stderr).Debug("Running command failed.")
		return result, err
	}
	logger.WithField("duration", duration.String()).Debug("Command finished.")
	return result, nil
}

func baseEnv() []string {
	// children inherit nothing from the gateway's environment
	return []string{"PATH=" + safePATH}
}
