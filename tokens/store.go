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

// Package tokens holds custody of the gateway's GitHub credentials: the
// short-lived app installation token an external refresher writes to disk,
// and the optional incognito personal token from the environment.
package tokens

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jib-infra/gateway/secretutil"
)

// Mode selects which identity a privileged operation runs as.
type Mode string

const (
	// ModeBot uses the GitHub App installation token.
	ModeBot Mode = "bot"
	// ModeIncognito uses a human's personal access token.
	ModeIncognito Mode = "incognito"
)

// ExpiryGuardBand is how long before its declared expiry a token stops
// being handed out.
const ExpiryGuardBand = 5 * time.Minute

// ErrNotAvailable is returned when no usable token exists for a mode. The
// HTTP layer maps it to 503.
var ErrNotAvailable = errors.New("token not available")

// tokenFile is the shape the external refresher writes.
type tokenFile struct {
	Token         string `json:"token"`
	ExpiresAtUnix int64  `json:"expires_at_unix"`
	ExpiresAt     string `json:"expires_at"`
	GeneratedAt   string `json:"generated_at"`
}

// Store reads tokens lazily and caches the bot token in memory until its
// guard band passes or the refresher rewrites the file. Readers get
// immutable snapshots; the store owns the values.
type Store struct {
	path            string
	incognitoEnvVar string
	censorer        *secretutil.ReloadingCensorer
	now             func() time.Time

	mu        sync.Mutex
	botToken  string
	botExpiry time.Time
	haveBot   bool
}

// NewStore returns a store reading the bot token from path and the
// incognito token from the named environment variable. Every token the
// store hands out is first registered with the censorer.
func NewStore(path, incognitoEnvVar string, censorer *secretutil.ReloadingCensorer) *Store {
	return &Store{
		path:            path,
		incognitoEnvVar: incognitoEnvVar,
		censorer:        censorer,
		now:             time.Now,
	}
}

// Get returns the current token for mode, or ErrNotAvailable.
func (s *Store) Get(mode Mode) (string, error) {
	switch mode {
	case ModeIncognito:
		token := os.Getenv(s.incognitoEnvVar)
		if token == "" {
			return "", errors.Wrapf(ErrNotAvailable, "no incognito token in $%s", s.incognitoEnvVar)
		}
		s.mu.Lock()
		bot := ""
		if s.haveBot {
			bot = s.botToken
		}
		s.mu.Unlock()
		s.register(bot)
		return token, nil
	case ModeBot:
		return s.getBot()
	default:
		return "", errors.Errorf("unknown token mode %q", mode)
	}
}

// IsValid is the boolean form of Get.
func (s *Store) IsValid(mode Mode) bool {
	_, err := s.Get(mode)
	return err == nil
}

func (s *Store) getBot() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveBot && s.now().Before(s.botExpiry.Add(-ExpiryGuardBand)) {
		return s.botToken, nil
	}
	s.haveBot = false

	raw, err := os.ReadFile(s.path)
	if err != nil {
		logrus.WithError(err).WithField("path", s.path).Warn("Could not read token file.")
		return "", errors.Wrap(ErrNotAvailable, "token file unreadable, check the token refresher")
	}
	var parsed tokenFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		logrus.WithError(err).WithField("path", s.path).Warn("Could not parse token file.")
		return "", errors.Wrap(ErrNotAvailable, "token file malformed, check the token refresher")
	}
	if parsed.Token == "" {
		return "", errors.Wrap(ErrNotAvailable, "token file holds no token")
	}
	expiry := time.Unix(parsed.ExpiresAtUnix, 0)
	if parsed.ExpiresAtUnix != 0 && !s.now().Before(expiry.Add(-ExpiryGuardBand)) {
		logrus.WithField("expires_at", expiry.UTC().Format(time.RFC3339)).Warn("GitHub token expired or inside guard band.")
		return "", errors.Wrap(ErrNotAvailable, "token expired, check the token refresher")
	}

	s.botToken = parsed.Token
	s.botExpiry = expiry
	if parsed.ExpiresAtUnix == 0 {
		// no declared expiry, re-read on every invalidation only
		s.botExpiry = s.now().Add(24 * time.Hour)
	}
	s.haveBot = true
	s.register(parsed.Token)
	return s.botToken, nil
}

// register rebuilds the censored-secret set. Refresh replaces the set
// wholesale, so every live secret must be in it each time: the cached
// bot token stays registered even when only the incognito token is
// being handed out.
func (s *Store) register(botToken string) {
	if s.censorer == nil {
		return
	}
	var secrets []string
	if botToken != "" {
		secrets = append(secrets, botToken)
	}
	if incognito := os.Getenv(s.incognitoEnvVar); incognito != "" {
		secrets = append(secrets, incognito)
	}
	s.censorer.Refresh(secrets...)
}

// Invalidate drops the cached bot token so the next Get re-reads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.haveBot = false
	s.mu.Unlock()
}

// Watch invalidates the cached token whenever the refresher rewrites the
// token file. It returns once the watcher is installed; events are handled
// on a background goroutine until stop is closed.
func (s *Store) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create token file watcher")
	}
	// watch the directory: refreshers typically replace the file, which
	// swaps its inode out from under a file-level watch
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "could not watch token directory")
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logrus.Debug("Token file changed, invalidating cached token.")
					s.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Token file watcher error.")
			case <-stop:
				return
			}
		}
	}()
	return nil
}
