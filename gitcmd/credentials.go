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

package gitcmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// helperScript emits the credentials git asks for over stdin. The token
// lives only inside this file, never on a command line or in the parent
// environment.
const helperScript = `#!/bin/sh
echo username=x-access-token
echo password=%s
`

// WithCredentialHelper materialises an ephemeral credential helper for
// token, hands fn the git environment referencing it, and removes the
// helper on every exit path, including panics.
func WithCredentialHelper(token string, fn func(extraEnv []string) error) error {
	dir, err := os.MkdirTemp("", "jib-cred-")
	if err != nil {
		return errors.Wrap(err, "could not create credential helper dir")
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0o700); err != nil {
		return errors.Wrap(err, "could not restrict credential helper dir")
	}

	helper := filepath.Join(dir, "credential-helper.sh")
	if err := os.WriteFile(helper, []byte(fmt.Sprintf(helperScript, token)), 0o700); err != nil {
		return errors.Wrap(err, "could not write credential helper")
	}

	return fn(credentialEnv(helper))
}

func credentialEnv(helper string) []string {
	return []string{
		"GIT_ASKPASS=" + helper,
		"GIT_CONFIG_COUNT=2",
		"GIT_CONFIG_KEY_0=credential.helper",
		"GIT_CONFIG_VALUE_0=" + helper,
		"GIT_CONFIG_KEY_1=safe.directory",
		"GIT_CONFIG_VALUE_1=*",
	}
}
