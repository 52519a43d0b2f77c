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

// Package gateway is the HTTP surface agent containers talk to. Every
// endpoint runs the same pipeline: authenticate, rate-limit, parse,
// validate, consult policy, dispatch the subprocess, audit, reply.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/audit"
	"github.com/jib-infra/gateway/auth"
	"github.com/jib-infra/gateway/config"
	"github.com/jib-infra/gateway/gitcmd"
	"github.com/jib-infra/gateway/metrics"
	"github.com/jib-infra/gateway/policy"
	"github.com/jib-infra/gateway/ratelimit"
	"github.com/jib-infra/gateway/tokens"
)

// Per-endpoint subprocess deadlines. A child that exceeds its deadline
// is killed and surfaced as a 504.
const (
	pushTimeout      = 120 * time.Second
	fetchTimeout     = 120 * time.Second
	prCreateTimeout  = 60 * time.Second
	executeTimeout   = 60 * time.Second
	prCommentTimeout = 30 * time.Second
	prEditTimeout    = 30 * time.Second
	prCloseTimeout   = 30 * time.Second
	remoteURLTimeout = 10 * time.Second
)

const serviceName = "jib-gateway"

// GitRunner runs a git subprocess. *gitcmd.Executor implements it.
type GitRunner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, extraEnv []string, args ...string) (gitcmd.Result, error)
}

// GHRunner runs a gh subprocess. *ghcli.Client implements it.
type GHRunner interface {
	Execute(ctx context.Context, mode tokens.Mode, cwd string, timeout time.Duration, args ...string) (gitcmd.Result, error)
}

// Options carries the constructed components the server dispatches to.
type Options struct {
	Auth    *auth.Authenticator
	Tokens  *tokens.Store
	Config  *config.Config
	Policy  *policy.Engine
	Limiter *ratelimit.Limiter
	Git     GitRunner
	GH      GHRunner
	Audit   *audit.Logger

	// AllowedRepoRoots are the only directories repo_path may resolve
	// into, typically the worktree root and the main repos directory.
	AllowedRepoRoots []string

	Logger *logrus.Entry
}

// Server owns all process-wide gateway state. Tests construct isolated
// instances; nothing here is a package-level singleton.
type Server struct {
	auth         *auth.Authenticator
	tokens       *tokens.Store
	config       *config.Config
	policy       *policy.Engine
	limiter      *ratelimit.Limiter
	git          GitRunner
	gh           GHRunner
	audit        *audit.Logger
	allowedRoots []string
	logger       *logrus.Entry
}

// NewServer wires a server from its components.
func NewServer(opts Options) *Server {
	return &Server{
		auth:         opts.Auth,
		tokens:       opts.Tokens,
		config:       opts.Config,
		policy:       opts.Policy,
		limiter:      opts.Limiter,
		git:          opts.Git,
		gh:           opts.GH,
		audit:        opts.Audit,
		allowedRoots: opts.AllowedRepoRoots,
		logger:       opts.Logger.WithField("component", "gateway"),
	}
}

// Handler returns the routed HTTP handler for the API surface.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/git/push", s.guarded("/git/push", "git_push", s.handlePush)).Methods(http.MethodPost)
	api.HandleFunc("/git/fetch", s.guarded("/git/fetch", "git_fetch", s.handleFetch)).Methods(http.MethodPost)
	api.HandleFunc("/gh/pr/create", s.guarded("/gh/pr/create", "gh_pr_create", s.handlePRCreate)).Methods(http.MethodPost)
	api.HandleFunc("/gh/pr/comment", s.guarded("/gh/pr/comment", "gh_pr_comment", s.handlePRComment)).Methods(http.MethodPost)
	api.HandleFunc("/gh/pr/edit", s.guarded("/gh/pr/edit", "gh_pr_edit", s.handlePREdit)).Methods(http.MethodPost)
	api.HandleFunc("/gh/pr/close", s.guarded("/gh/pr/close", "gh_pr_close", s.handlePRClose)).Methods(http.MethodPost)
	api.HandleFunc("/gh/execute", s.guarded("/gh/execute", "gh_execute", s.handleExecute)).Methods(http.MethodPost)
	return router
}

// response is the envelope every endpoint replies with.
type response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *Server) writeResponse(w http.ResponseWriter, endpoint string, code int, resp response) {
	metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).WithField("endpoint", endpoint).Error("Failed to encode response.")
	}
}

func sourceIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// guarded authenticates the request and charges the endpoint's
// rate-limit class before handing off to handler.
func (s *Server) guarded(endpoint, class string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Authenticate(r) {
			s.logger.WithFields(logrus.Fields{"endpoint": endpoint, "source_ip": sourceIP(r)}).Warn("Rejected request with missing or invalid bearer token.")
			s.writeResponse(w, endpoint, http.StatusUnauthorized, response{Message: "authentication required"})
			return
		}
		if result := s.limiter.Record(class); !result.Allowed {
			metrics.RateLimited.WithLabelValues(result.Class).Inc()
			s.audit.Record(audit.Event{
				Type:      "rate_limited",
				Operation: endpoint,
				SourceIP:  sourceIP(r),
				Details: map[string]interface{}{
					"class": result.Class,
					"count": result.Count,
					"limit": result.Limit,
				},
			})
			s.writeResponse(w, endpoint, http.StatusTooManyRequests, response{
				Message: fmt.Sprintf("rate limit exceeded for %s: %d/%d per hour", result.Class, result.Count, result.Limit),
			})
			return
		}
		handler(w, r)
	}
}

func decodeBody(r *http.Request, into interface{}) error {
	return json.NewDecoder(r.Body).Decode(into)
}

func policyOutcome(check string, decision policy.Decision) policy.Decision {
	metrics.PolicyDecisions.WithLabelValues(check, strconv.FormatBool(decision.Allowed)).Inc()
	return decision
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RequestsTotal.WithLabelValues("/health", "200").Inc()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":             "ok",
		"github_token_valid": s.tokens.IsValid(tokens.ModeBot),
		"auth_configured":    s.auth != nil,
		"service":            serviceName,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response.")
	}
}

func (s *Server) runGit(r *http.Request, dir string, timeout time.Duration, extraEnv []string, args ...string) (gitcmd.Result, error) {
	start := time.Now()
	result, err := s.git.Run(r.Context(), dir, timeout, extraEnv, args...)
	metrics.SubprocessDuration.WithLabelValues("git").Observe(time.Since(start).Seconds())
	return result, err
}

func (s *Server) runGH(r *http.Request, mode tokens.Mode, cwd string, timeout time.Duration, args ...string) (gitcmd.Result, error) {
	start := time.Now()
	result, err := s.gh.Execute(r.Context(), mode, cwd, timeout, args...)
	metrics.SubprocessDuration.WithLabelValues("gh").Observe(time.Since(start).Seconds())
	return result, err
}
