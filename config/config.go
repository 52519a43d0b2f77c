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

// Package config loads the gateway's on-disk configuration from the jib
// config directory.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/jib-infra/gateway/tokens"
)

// TrustedUsersEnvVar holds the comma-separated trusted branch owners.
const TrustedUsersEnvVar = "JIB_TRUSTED_BRANCH_OWNERS"

// AccessLevel is a repository's configured access.
type AccessLevel string

const (
	AccessWritable AccessLevel = "writable"
	AccessReadable AccessLevel = "readable"
	AccessNone     AccessLevel = "none"
)

// RepoSettings are optional per-repository overrides.
type RepoSettings struct {
	AuthMode                  string `json:"auth_mode,omitempty"`
	RestrictToConfiguredUsers bool   `json:"restrict_to_configured_users,omitempty"`
	DisableAutoFix            bool   `json:"disable_auto_fix,omitempty"`
}

// Incognito configures operating as a specific human.
type Incognito struct {
	GitHubUser string `json:"github_user"`
	GitName    string `json:"git_name"`
	GitEmail   string `json:"git_email"`
}

// Config is the parsed repositories.yaml.
type Config struct {
	GitHubUsername  string                  `json:"github_username"`
	BotUsername     string                  `json:"bot_username"`
	WritableRepos   []string                `json:"writable_repos"`
	ReadableRepos   []string                `json:"readable_repos"`
	DefaultReviewer string                  `json:"default_reviewer,omitempty"`
	RepoSettings    map[string]RepoSettings `json:"repo_settings,omitempty"`
	Incognito       *Incognito              `json:"incognito,omitempty"`
	// UserMode is a legacy alias for Incognito.
	UserMode *Incognito `json:"user_mode,omitempty"`
	// Limits overrides rate-limit classes, per hour.
	Limits map[string]int `json:"limits,omitempty"`

	writable map[string]bool
	readable map[string]bool
	settings map[string]RepoSettings
}

// Load reads repositories.yaml from dir and finalises defaults.
func Load(dir string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "repositories.yaml"))
	if err != nil {
		return nil, errors.Wrap(err, "could not read repositories.yaml")
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "could not parse repositories.yaml")
	}
	c.finalize()
	return &c, nil
}

func (c *Config) finalize() {
	if c.BotUsername == "" {
		c.BotUsername = "jib"
	}
	if c.Incognito == nil && c.UserMode != nil {
		c.Incognito = c.UserMode
	}
	c.writable = lowerSet(c.WritableRepos)
	c.readable = lowerSet(c.ReadableRepos)
	c.settings = map[string]RepoSettings{}
	for repo, settings := range c.RepoSettings {
		c.settings[strings.ToLower(repo)] = settings
	}
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = true
	}
	return set
}

// AccessLevel returns the configured access for repo, case-insensitively.
func (c *Config) AccessLevel(repo string) AccessLevel {
	repo = strings.ToLower(repo)
	switch {
	case c.writable[repo]:
		return AccessWritable
	case c.readable[repo]:
		return AccessReadable
	default:
		return AccessNone
	}
}

// AuthMode returns the auth mode configured for repo, defaulting to bot.
func (c *Config) AuthMode(repo string) tokens.Mode {
	if settings, ok := c.settings[strings.ToLower(repo)]; ok && settings.AuthMode == string(tokens.ModeIncognito) {
		return tokens.ModeIncognito
	}
	return tokens.ModeBot
}

// IncognitoUser returns the configured incognito login, or "".
func (c *Config) IncognitoUser() string {
	if c.Incognito == nil {
		return ""
	}
	return c.Incognito.GitHubUser
}

// TrustedUsers reads the trusted branch owners from the environment,
// lowercased.
func TrustedUsers() []string {
	raw := os.Getenv(TrustedUsersEnvVar)
	if raw == "" {
		return nil
	}
	var users []string
	for _, user := range strings.Split(raw, ",") {
		user = strings.ToLower(strings.TrimSpace(user))
		if user != "" {
			users = append(users, user)
		}
	}
	return users
}
