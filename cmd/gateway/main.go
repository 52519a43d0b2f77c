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

// The gateway sits between sandboxed agent containers and GitHub. It
// holds the credentials the containers must never see, enforces branch
// and PR ownership policy, rate-limits outbound operations, and audits
// every privileged action.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/audit"
	"github.com/jib-infra/gateway/auth"
	"github.com/jib-infra/gateway/config"
	"github.com/jib-infra/gateway/gateway"
	"github.com/jib-infra/gateway/ghcli"
	"github.com/jib-infra/gateway/gitcmd"
	"github.com/jib-infra/gateway/logrusutil"
	"github.com/jib-infra/gateway/metrics"
	"github.com/jib-infra/gateway/policy"
	"github.com/jib-infra/gateway/ratelimit"
	"github.com/jib-infra/gateway/secretutil"
	"github.com/jib-infra/gateway/tokens"
	"github.com/jib-infra/gateway/worktree"
)

const (
	gatewaySecretEnvVar  = "JIB_GATEWAY_SECRET"
	incognitoTokenEnvVar = "JIB_INCOGNITO_TOKEN"
	startupProbeTimeout  = 15 * time.Second
	shutdownGracePeriod  = 10 * time.Second
	orphanSweepTimeout   = 2 * time.Minute
)

type options struct {
	address          string
	metricsAddress   string
	configDir        string
	tokenFile        string
	worktreeRoot     string
	reposDir         string
	activeContainers string
	sweepOrphans     bool
	logLevel         string
}

func gatherOptions() options {
	o := options{}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.address, "address", "127.0.0.1:8088", "Address the API listens on. Keep this localhost-scoped.")
	fs.StringVar(&o.metricsAddress, "metrics-address", "127.0.0.1:9090", "Address the /metrics endpoint listens on. Empty disables metrics.")
	fs.StringVar(&o.configDir, "config-dir", "~/.config/jib", "Directory holding repositories.yaml and the gateway secret.")
	fs.StringVar(&o.tokenFile, "token-file", "~/.jib-gateway/.github-token", "JSON token file maintained by the external refresher.")
	fs.StringVar(&o.worktreeRoot, "worktree-root", "~/.jib-worktrees", "Root directory for per-container worktrees.")
	fs.StringVar(&o.reposDir, "repos-dir", "~/repos", "Directory holding the main repositories.")
	fs.StringVar(&o.activeContainers, "active-containers", "", "Comma-separated container ids the orphan sweep must keep.")
	fs.BoolVar(&o.sweepOrphans, "sweep-orphans", false, "Remove worktrees of containers not named in --active-containers at startup.")
	fs.StringVar(&o.logLevel, "log-level", "info", "Logging level, one of the logrus levels.")
	fs.Parse(os.Args[1:])
	return o
}

func (o *options) expandHome() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	expand := func(path *string) {
		if strings.HasPrefix(*path, "~/") {
			*path = filepath.Join(home, (*path)[2:])
		}
	}
	expand(&o.configDir)
	expand(&o.tokenFile)
	expand(&o.worktreeRoot)
	expand(&o.reposDir)
	return nil
}

func main() {
	o := gatherOptions()
	if err := o.expandHome(); err != nil {
		logrus.WithError(err).Fatal("Could not resolve the home directory.")
	}

	censorer := secretutil.NewCensorer()
	logrusutil.Init(&logrusutil.DefaultFieldsFormatter{
		DefaultFields:    logrus.Fields{"component": "jib-gateway"},
		WrappedFormatter: logrusutil.NewCensoringFormatter(&logrus.JSONFormatter{}, censorer),
	})
	if level, err := logrus.ParseLevel(o.logLevel); err != nil {
		logrus.WithError(err).Fatalf("Invalid --log-level %q.", o.logLevel)
	} else {
		logrus.SetLevel(level)
	}
	logger := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(o.configDir)
	if err != nil {
		logger.WithError(err).Fatal("Could not load repository configuration.")
	}

	authenticator, err := auth.Load(gatewaySecretEnvVar, filepath.Join(o.configDir, "gateway-secret"))
	if err != nil {
		logger.WithError(err).Fatal("Could not load the gateway secret.")
	}

	store := tokens.NewStore(o.tokenFile, incognitoTokenEnvVar, censorer)
	stop := make(chan struct{})
	defer close(stop)
	if err := store.Watch(stop); err != nil {
		logger.WithError(err).Warn("Token file watching disabled; tokens refresh on the expiry guard band only.")
	}

	censor := func(content []byte) []byte {
		censorer.Censor(&content)
		return content
	}
	gitExecutor, err := gitcmd.NewExecutor(censor, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not find git on the host.")
	}
	ghClient, err := ghcli.NewClient(store.Get, censor, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not find gh on the host.")
	}

	validateIncognito(cfg, store, ghClient, logger)

	engine, err := policy.NewEngine(ghClient, policy.Options{
		BotName:       cfg.BotUsername,
		LongBotName:   cfg.GitHubUsername,
		TrustedUsers:  policy.NewUserSet(config.TrustedUsers()...),
		IncognitoUser: cfg.IncognitoUser(),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not build the policy engine.")
	}

	identity := worktree.GitIdentity{}
	if cfg.Incognito != nil {
		identity.Name = cfg.Incognito.GitName
		identity.Email = cfg.Incognito.GitEmail
	}
	manager := worktree.NewManager(o.worktreeRoot, o.reposDir, cfg.BotUsername, identity, gitExecutor, logger)
	if o.sweepOrphans {
		sweepOrphans(manager, o.activeContainers, logger)
	}

	server := gateway.NewServer(gateway.Options{
		Auth:             authenticator,
		Tokens:           store,
		Config:           cfg,
		Policy:           engine,
		Limiter:          ratelimit.NewLimiter(cfg.Limits),
		Git:              gitExecutor,
		GH:               ghClient,
		Audit:            audit.NewLogger(logger),
		AllowedRepoRoots: []string{o.worktreeRoot, o.reposDir},
		Logger:           logger,
	})

	if o.metricsAddress != "" {
		metricsServer := &http.Server{Addr: o.metricsAddress, Handler: metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed.")
			}
		}()
	}

	httpServer := &http.Server{Addr: o.address, Handler: server.Handler()}
	go func() {
		logger.WithField("address", o.address).Info("Gateway listening.")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Gateway server failed.")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.WithField("signal", sig.String()).Info("Shutting down.")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed.")
	}
}

// validateIncognito confirms the incognito token really belongs to the
// configured human. A mismatch disables incognito operation only; bot
// mode keeps serving.
func validateIncognito(cfg *config.Config, store *tokens.Store, ghClient *ghcli.Client, logger *logrus.Entry) {
	configured := cfg.IncognitoUser()
	if configured == "" || !store.IsValid(tokens.ModeIncognito) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
	defer cancel()
	login, err := ghClient.AuthenticatedUser(ctx, tokens.ModeIncognito)
	if err != nil {
		logger.WithError(err).Warn("Could not verify the incognito token owner; incognito mode disabled.")
		cfg.Incognito = nil
		return
	}
	if !strings.EqualFold(login, configured) {
		logger.WithFields(logrus.Fields{"configured": configured, "actual": login}).Warn("Incognito token belongs to a different user; incognito mode disabled.")
		cfg.Incognito = nil
	}
}

func sweepOrphans(manager *worktree.Manager, activeContainers string, logger *logrus.Entry) {
	active := map[string]bool{}
	for _, id := range strings.Split(activeContainers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			active[id] = true
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), orphanSweepTimeout)
	defer cancel()
	removed, err := manager.OrphanSweep(ctx, active)
	if err != nil {
		logger.WithError(err).Warn("Orphan sweep failed.")
		return
	}
	if len(removed) > 0 {
		logger.WithField("containers", removed).Info("Swept orphaned worktrees.")
	}
}
