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

package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jib-infra/gateway/audit"
	"github.com/jib-infra/gateway/config"
	"github.com/jib-infra/gateway/gitcmd"
	"github.com/jib-infra/gateway/secretutil"
	"github.com/jib-infra/gateway/tokens"
	"github.com/jib-infra/gateway/validate"
)

const tokenUnavailableMessage = "GitHub token not available; check that the token refresher service is running"

type pushRequest struct {
	RepoPath string `json:"repo_path"`
	Remote   string `json:"remote,omitempty"`
	Refspec  string `json:"refspec,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/git/push"
	ip := sourceIP(r)
	var req pushRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	repoPath, err := validate.RepoPath(req.RepoPath, s.allowedRoots)
	if err != nil {
		s.audit.Record(audit.Event{Type: "push_blocked", Operation: "git push", SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: err.Error()})
		return
	}
	remote := req.Remote
	if remote == "" {
		remote = "origin"
	}
	if err := validate.Identifier("remote", remote); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}

	repo, code, msg := s.remoteRepo(r, repoPath, remote)
	if repo == "" {
		s.audit.Record(audit.Event{Type: "push_blocked", Operation: "git push", SourceIP: ip, Details: map[string]interface{}{"reason": msg}})
		s.writeResponse(w, endpoint, code, response{Message: msg})
		return
	}
	if s.config.AccessLevel(repo) != config.AccessWritable {
		s.audit.Record(audit.Event{Type: "push_denied", Operation: "git push", SourceIP: ip, Details: map[string]interface{}{"repo": repo, "reason": "repository is not writable"}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: fmt.Sprintf("repository %s is not configured as writable", repo)})
		return
	}
	mode := s.config.AuthMode(repo)

	branch := ""
	if req.Refspec != "" {
		if err := validate.PushRefspec(req.Refspec); err != nil {
			s.audit.Record(audit.Event{Type: "push_blocked", Operation: "git push", SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
			s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
			return
		}
		branch = validate.RefspecBranch(req.Refspec)
		if branch == "" {
			s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: fmt.Sprintf("could not determine target branch from refspec %q", req.Refspec)})
			return
		}
	} else {
		head, err := s.runGit(r, repoPath, remoteURLTimeout, nil, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil || !head.Success {
			s.writeResponse(w, endpoint, http.StatusInternalServerError, response{Message: "could not determine the current branch"})
			return
		}
		branch = strings.TrimSpace(head.Stdout)
	}

	decision := policyOutcome("branch_ownership", s.policy.CheckBranchOwnership(r.Context(), repo, branch, mode))
	auditDetails := map[string]interface{}{"repo": repo, "branch": branch, "auth_mode": string(mode)}
	if !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "push_denied", Operation: "git push", SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "Push denied: " + decision.Reason, Details: decision.Details})
		return
	}

	token, err := s.tokens.Get(mode)
	if err != nil {
		auditDetails["reason"] = "token unavailable"
		s.audit.Record(audit.Event{Type: "push_failed", Operation: "git push", SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusServiceUnavailable, response{Message: tokenUnavailableMessage})
		return
	}

	// the terminator keeps a refspec from ever parsing as an option
	args := []string{"push", remote}
	if req.Force {
		args = append(args, "--force")
	}
	args = append(args, "--")
	if req.Refspec != "" {
		args = append(args, req.Refspec)
	} else {
		args = append(args, branch)
	}
	var result gitcmd.Result
	runErr := gitcmd.WithCredentialHelper(token, func(extraEnv []string) error {
		var err error
		result, err = s.runGit(r, repoPath, pushTimeout, extraEnv, args...)
		return err
	})
	if runErr != nil {
		auditDetails["reason"] = "subprocess error"
		s.audit.Record(audit.Event{Type: "push_failed", Operation: "git push", SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusInternalServerError, response{Message: "git push could not be started"})
		return
	}
	s.subprocessReply(w, r, endpoint, "push", result, auditDetails, map[string]interface{}{"repo": repo, "branch": branch})
}

type fetchRequest struct {
	RepoPath  string   `json:"repo_path"`
	Remote    string   `json:"remote,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Args      []string `json:"args,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/git/fetch"
	ip := sourceIP(r)
	var req fetchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	repoPath, err := validate.RepoPath(req.RepoPath, s.allowedRoots)
	if err != nil {
		s.audit.Record(audit.Event{Type: "fetch_blocked", Operation: "git fetch", SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: err.Error()})
		return
	}
	remote := req.Remote
	if remote == "" {
		remote = "origin"
	}
	if err := validate.Identifier("remote", remote); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	operation := req.Operation
	if operation == "" {
		operation = "fetch"
	}
	if err := validate.GitArgs(operation, req.Args); err != nil {
		s.audit.Record(audit.Event{Type: "fetch_blocked", Operation: "git " + operation, SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: err.Error()})
		return
	}

	repo, code, msg := s.remoteRepo(r, repoPath, remote)
	if repo == "" {
		s.audit.Record(audit.Event{Type: "fetch_blocked", Operation: "git " + operation, SourceIP: ip, Details: map[string]interface{}{"reason": msg}})
		s.writeResponse(w, endpoint, code, response{Message: msg})
		return
	}
	if s.config.AccessLevel(repo) == config.AccessNone {
		s.audit.Record(audit.Event{Type: "fetch_denied", Operation: "git " + operation, SourceIP: ip, Details: map[string]interface{}{"repo": repo, "reason": "repository is not configured"}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: fmt.Sprintf("repository %s is not configured for access", repo)})
		return
	}
	mode := s.config.AuthMode(repo)
	token, err := s.tokens.Get(mode)
	if err != nil {
		s.audit.Record(audit.Event{Type: "fetch_failed", Operation: "git " + operation, SourceIP: ip, Details: map[string]interface{}{"repo": repo, "reason": "token unavailable"}})
		s.writeResponse(w, endpoint, http.StatusServiceUnavailable, response{Message: tokenUnavailableMessage})
		return
	}

	args := append([]string{operation, remote}, req.Args...)
	var result gitcmd.Result
	runErr := gitcmd.WithCredentialHelper(token, func(extraEnv []string) error {
		var err error
		result, err = s.runGit(r, repoPath, fetchTimeout, extraEnv, args...)
		return err
	})
	auditDetails := map[string]interface{}{"repo": repo, "operation": operation, "auth_mode": string(mode)}
	if runErr != nil {
		auditDetails["reason"] = "subprocess error"
		s.audit.Record(audit.Event{Type: "fetch_failed", Operation: "git " + operation, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusInternalServerError, response{Message: "git " + operation + " could not be started"})
		return
	}
	s.subprocessReply(w, r, endpoint, "fetch", result, auditDetails, map[string]interface{}{"stdout": result.Stdout})
}

// remoteRepo resolves the upstream owner/repo by asking git inside the
// already-validated repoPath. The empty repo return carries an HTTP
// status and message instead.
func (s *Server) remoteRepo(r *http.Request, repoPath, remote string) (repo string, code int, message string) {
	result, err := s.runGit(r, repoPath, remoteURLTimeout, nil, "remote", "get-url", remote)
	if err != nil {
		return "", http.StatusInternalServerError, "could not determine the remote URL"
	}
	if result.TimedOut {
		return "", http.StatusGatewayTimeout, "git remote get-url timed out"
	}
	if !result.Success {
		return "", http.StatusInternalServerError, fmt.Sprintf("could not determine the remote URL: %s", strings.TrimSpace(secretutil.ScrubURLUserinfo(result.Stderr)))
	}
	repo, ok := validate.RemoteRepo(strings.TrimSpace(result.Stdout))
	if !ok {
		return "", http.StatusForbidden, fmt.Sprintf("remote %q does not point at a github.com repository", remote)
	}
	return repo, 0, ""
}

// subprocessReply maps a finished git/gh child onto the HTTP response
// and emits the operation's audit line.
func (s *Server) subprocessReply(w http.ResponseWriter, r *http.Request, endpoint, operation string, result gitcmd.Result, auditDetails, data map[string]interface{}) {
	ip := sourceIP(r)
	if result.TimedOut {
		auditDetails["reason"] = result.Stderr
		s.audit.Record(audit.Event{Type: operation + "_failed", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusGatewayTimeout, response{Message: fmt.Sprintf("%s %s", operation, result.Stderr)})
		return
	}
	if !result.Success {
		stderr := strings.TrimSpace(secretutil.ScrubURLUserinfo(result.Stderr))
		auditDetails["reason"] = stderr
		s.audit.Record(audit.Event{Type: operation + "_failed", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusInternalServerError, response{Message: fmt.Sprintf("%s failed: %s", operation, stderr)})
		return
	}
	s.audit.Record(audit.Event{Type: operation + "_success", Operation: endpoint, SourceIP: ip, Success: true, Details: auditDetails})
	s.writeResponse(w, endpoint, http.StatusOK, response{Success: true, Message: operation + " succeeded", Data: data})
}

type prCreateRequest struct {
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Base  string `json:"base,omitempty"`
	Head  string `json:"head"`
}

func (s *Server) handlePRCreate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/gh/pr/create"
	ip := sourceIP(r)
	var req prCreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	if err := validate.RepoName(req.Repo); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if req.Title == "" || req.Head == "" {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "title and head are required"})
		return
	}
	repo, mode, ok := s.requireWritable(w, r, endpoint, "pr_create", req.Repo)
	if !ok {
		return
	}

	auditDetails := map[string]interface{}{"repo": repo, "head": req.Head, "auth_mode": string(mode)}
	if decision := policyOutcome("pr_create", s.policy.CheckPRCreateAllowed(repo, mode)); !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "pr_create_denied", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "PR creation denied: " + decision.Reason, Details: decision.Details})
		return
	}
	if decision := policyOutcome("branch_ownership", s.policy.CheckBranchOwnership(r.Context(), repo, req.Head, mode)); !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "pr_create_denied", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "PR creation denied: " + decision.Reason, Details: decision.Details})
		return
	}

	args := []string{"pr", "create", "--repo", repo, "--title", req.Title, "--head", req.Head, "--body", req.Body}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}
	result, err := s.runGH(r, mode, "", prCreateTimeout, args...)
	if s.ghError(w, r, endpoint, "pr_create", err, auditDetails) {
		return
	}
	s.subprocessReply(w, r, endpoint, "pr_create", result, auditDetails, map[string]interface{}{"url": strings.TrimSpace(result.Stdout)})
}

type prCommentRequest struct {
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
	Body     string `json:"body"`
}

func (s *Server) handlePRComment(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/gh/pr/comment"
	ip := sourceIP(r)
	var req prCommentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	if err := validate.RepoName(req.Repo); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if req.PRNumber < 1 || req.Body == "" {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "pr_number and body are required"})
		return
	}
	repo, mode, ok := s.requireWritable(w, r, endpoint, "pr_comment", req.Repo)
	if !ok {
		return
	}

	// comment bodies never reach the audit log
	auditDetails := map[string]interface{}{"repo": repo, "pr_number": req.PRNumber, "auth_mode": string(mode)}
	if decision := policyOutcome("pr_comment", s.policy.CheckPRCommentAllowed(r.Context(), repo, req.PRNumber, mode)); !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "pr_comment_denied", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "Comment denied: " + decision.Reason, Details: decision.Details})
		return
	}

	result, err := s.runGH(r, mode, "", prCommentTimeout, "pr", "comment", strconv.Itoa(req.PRNumber), "--repo", repo, "--body", req.Body)
	if s.ghError(w, r, endpoint, "pr_comment", err, auditDetails) {
		return
	}
	s.subprocessReply(w, r, endpoint, "pr_comment", result, auditDetails, nil)
}

type prEditRequest struct {
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
}

func (s *Server) handlePREdit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/gh/pr/edit"
	ip := sourceIP(r)
	var req prEditRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	if err := validate.RepoName(req.Repo); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if req.PRNumber < 1 || (req.Title == "" && req.Body == "") {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "pr_number and at least one of title or body are required"})
		return
	}
	repo, mode, ok := s.requireWritable(w, r, endpoint, "pr_edit", req.Repo)
	if !ok {
		return
	}

	auditDetails := map[string]interface{}{"repo": repo, "pr_number": req.PRNumber, "auth_mode": string(mode)}
	if decision := policyOutcome("pr_ownership", s.policy.CheckPROwnership(r.Context(), repo, req.PRNumber, mode)); !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "pr_edit_denied", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "Edit denied: " + decision.Reason, Details: decision.Details})
		return
	}

	args := []string{"pr", "edit", strconv.Itoa(req.PRNumber), "--repo", repo}
	if req.Title != "" {
		args = append(args, "--title", req.Title)
	}
	if req.Body != "" {
		args = append(args, "--body", req.Body)
	}
	result, err := s.runGH(r, mode, "", prEditTimeout, args...)
	if s.ghError(w, r, endpoint, "pr_edit", err, auditDetails) {
		return
	}
	s.subprocessReply(w, r, endpoint, "pr_edit", result, auditDetails, nil)
}

type prCloseRequest struct {
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

func (s *Server) handlePRClose(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/gh/pr/close"
	ip := sourceIP(r)
	var req prCloseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	if err := validate.RepoName(req.Repo); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if req.PRNumber < 1 {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "pr_number is required"})
		return
	}
	repo, mode, ok := s.requireWritable(w, r, endpoint, "pr_close", req.Repo)
	if !ok {
		return
	}

	auditDetails := map[string]interface{}{"repo": repo, "pr_number": req.PRNumber, "auth_mode": string(mode)}
	if decision := policyOutcome("pr_ownership", s.policy.CheckPROwnership(r.Context(), repo, req.PRNumber, mode)); !decision.Allowed {
		auditDetails["reason"] = decision.Reason
		s.audit.Record(audit.Event{Type: "pr_close_denied", Operation: endpoint, SourceIP: ip, Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: "Close denied: " + decision.Reason, Details: decision.Details})
		return
	}

	result, err := s.runGH(r, mode, "", prCloseTimeout, "pr", "close", strconv.Itoa(req.PRNumber), "--repo", repo)
	if s.ghError(w, r, endpoint, "pr_close", err, auditDetails) {
		return
	}
	s.subprocessReply(w, r, endpoint, "pr_close", result, auditDetails, nil)
}

type executeRequest struct {
	Args []string `json:"args"`
	Cwd  string   `json:"cwd,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/gh/execute"
	ip := sourceIP(r)
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Args) == 0 {
		s.writeResponse(w, endpoint, http.StatusBadRequest, response{Message: "args is required"})
		return
	}
	command := strings.Join(req.Args, " ")
	if blocked := validate.BlockedGHCommand(req.Args); blocked != "" {
		s.audit.Record(audit.Event{Type: "blocked_command", Operation: "gh " + command, SourceIP: ip, Details: map[string]interface{}{"blocked_command": blocked}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{
			Message: fmt.Sprintf("command %q is blocked; allowed read-only commands: %s", blocked, strings.Join(validate.AllowedGHCommands, ", ")),
		})
		return
	}
	if err := validate.ReadOnlyGHCommand(req.Args); err != nil {
		s.audit.Record(audit.Event{Type: "blocked_command", Operation: "gh " + command, SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{
			Message: fmt.Sprintf("%s; allowed read-only commands: %s", err.Error(), strings.Join(validate.AllowedGHCommands, ", ")),
		})
		return
	}
	cwd := ""
	if req.Cwd != "" {
		var err error
		if cwd, err = validate.RepoPath(req.Cwd, s.allowedRoots); err != nil {
			s.audit.Record(audit.Event{Type: "blocked_command", Operation: "gh " + command, SourceIP: ip, Details: map[string]interface{}{"reason": err.Error()}})
			s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: err.Error()})
			return
		}
	}

	auditDetails := map[string]interface{}{"command": command}
	result, err := s.runGH(r, tokens.ModeBot, cwd, executeTimeout, req.Args...)
	if s.ghError(w, r, endpoint, "gh_execute", err, auditDetails) {
		return
	}
	s.subprocessReply(w, r, endpoint, "gh_execute", result, auditDetails, map[string]interface{}{"stdout": result.Stdout})
}

// requireWritable resolves and checks the access level of a repo named
// directly in a request body. ok=false means the response is written.
func (s *Server) requireWritable(w http.ResponseWriter, r *http.Request, endpoint, operation, repo string) (string, tokens.Mode, bool) {
	normalized := strings.ToLower(repo)
	if s.config.AccessLevel(normalized) != config.AccessWritable {
		s.audit.Record(audit.Event{Type: operation + "_denied", Operation: endpoint, SourceIP: sourceIP(r), Details: map[string]interface{}{"repo": normalized, "reason": "repository is not writable"}})
		s.writeResponse(w, endpoint, http.StatusForbidden, response{Message: fmt.Sprintf("repository %s is not configured as writable", repo)})
		return "", "", false
	}
	return normalized, s.config.AuthMode(normalized), true
}

// ghError handles the error return of a gh dispatch: a missing token is
// a 503, anything else a 500. Returns true when a response was written.
func (s *Server) ghError(w http.ResponseWriter, r *http.Request, endpoint, operation string, err error, auditDetails map[string]interface{}) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tokens.ErrNotAvailable) {
		auditDetails["reason"] = "token unavailable"
		s.audit.Record(audit.Event{Type: operation + "_failed", Operation: endpoint, SourceIP: sourceIP(r), Details: auditDetails})
		s.writeResponse(w, endpoint, http.StatusServiceUnavailable, response{Message: tokenUnavailableMessage})
		return true
	}
	auditDetails["reason"] = "subprocess error"
	s.audit.Record(audit.Event{Type: operation + "_failed", Operation: endpoint, SourceIP: sourceIP(r), Details: auditDetails})
	s.writeResponse(w, endpoint, http.StatusInternalServerError, response{Message: "gh could not be started"})
	return true
}
