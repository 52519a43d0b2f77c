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

// Package auth implements the gateway's shared-secret bearer
// authentication.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// secretBytes is the entropy of a generated secret, 256 bits.
const secretBytes = 32

// Authenticator validates the Authorization header against the gateway
// secret in constant time.
type Authenticator struct {
	secret []byte
}

// New wraps a known secret.
func New(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Load resolves the gateway secret: the environment variable if set,
// otherwise the secret file, otherwise a freshly generated secret that is
// persisted to the file at mode 0600.
func Load(envVar, path string) (*Authenticator, error) {
	if secret := os.Getenv(envVar); secret != "" {
		return New([]byte(strings.TrimSpace(secret))), nil
	}
	if raw, err := os.ReadFile(path); err == nil {
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			return nil, errors.Errorf("gateway secret file %s is empty", path)
		}
		return New([]byte(secret)), nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "could not read gateway secret file")
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "could not generate gateway secret")
	}
	secret := base64.URLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return nil, errors.Wrap(err, "could not persist gateway secret")
	}
	logrus.WithField("path", path).Info("Generated a new gateway secret.")
	return New([]byte(secret)), nil
}

// Authenticate checks the request's bearer token. The comparison runs in
// constant time with respect to the presented token; nothing about the
// expected secret leaks through timing or logs.
func (a *Authenticator) Authenticate(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimPrefix(header, prefix)
	// hashing both sides first makes the comparison length-independent
	expected := sha256.Sum256(a.secret)
	actual := sha256.Sum256([]byte(presented))
	return hmac.Equal(expected[:], actual[:])
}
