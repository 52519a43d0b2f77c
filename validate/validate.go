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

// Package validate holds the pure input validators that gate every
// subprocess the gateway spawns. Nothing in this package does I/O except
// ValidateRepoPath, which resolves symlinks to catch escapes.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// identifierPattern constrains container ids and repo names used to build
// filesystem paths: alphanumeric first character, then [A-Za-z0-9._-].
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Identifier rejects any container id or repo name that could traverse
// outside its directory.
func Identifier(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.Contains(value, "..") {
		return fmt.Errorf("%s %q contains a path traversal sequence", name, value)
	}
	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("%s %q contains characters outside [A-Za-z0-9._-] or does not start alphanumeric", name, value)
	}
	return nil
}

// RepoPath ensures that path, after normalisation and symlink resolution,
// is strictly inside one of the allowed roots. The roots themselves are
// not valid repo paths.
func RepoPath(path string, allowedRoots []string) (string, error) {
	if path == "" {
		return "", errors.New("repo_path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "could not absolutise repo_path")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("repo_path %q does not exist", abs)
		}
		return "", errors.Wrap(err, "could not resolve repo_path")
	}
	for _, root := range allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		// resolve the root too, or a symlinked home defeats the check
		if rootResolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
			rootAbs = rootResolved
		}
		rel, err := filepath.Rel(rootAbs, resolved)
		if err != nil {
			continue
		}
		if rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".." {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("repo_path %q is outside the allowed worktree roots", abs)
}

var branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// GitArgs checks the extra arguments for a read-only git operation against
// that operation's allow-list. Anything not explicitly allowed is
// rejected, so no subprocess ever sees an unvetted flag.
func GitArgs(operation string, args []string) error {
	switch operation {
	case "fetch":
		return fetchArgs(args)
	case "ls-remote":
		return lsRemoteArgs(args)
	default:
		return fmt.Errorf("unsupported git operation %q", operation)
	}
}

func fetchArgs(args []string) error {
	seenTerminator := false
	for _, arg := range args {
		if seenTerminator || !strings.HasPrefix(arg, "-") {
			if !branchPattern.MatchString(arg) {
				return fmt.Errorf("invalid ref name %q", arg)
			}
			continue
		}
		switch {
		case arg == "--":
			seenTerminator = true
		case arg == "--all", arg == "--tags", arg == "--prune":
		case strings.HasPrefix(arg, "--depth="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--depth="))
			if err != nil || n < 1 {
				return fmt.Errorf("invalid fetch depth %q", arg)
			}
		default:
			return fmt.Errorf("git fetch argument %q is not allowed", arg)
		}
	}
	return nil
}

func lsRemoteArgs(args []string) error {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return fmt.Errorf("git ls-remote argument %q is not allowed, ref patterns only", arg)
		}
		if !refPatternOK(arg) {
			return fmt.Errorf("invalid ref pattern %q", arg)
		}
	}
	return nil
}

func refPatternOK(pattern string) bool {
	if pattern == "" || strings.Contains(pattern, "..") {
		return false
	}
	for _, r := range pattern {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/', r == '.', r == '_', r == '-', r == '*':
		default:
			return false
		}
	}
	return true
}

// allowedAPIPaths is the full set of gh api calls handlers may make.
// Everything here is a read.
var allowedAPIPaths = []*regexp.Regexp{
	regexp.MustCompile(`^repos/[^/]+/[^/]+/branches/[^/]+$`),
	regexp.MustCompile(`^repos/[^/]+/[^/]+/commits/[^/]+/check-runs$`),
	regexp.MustCompile(`^repos/[^/]+/[^/]+/pulls/[0-9]+/comments$`),
	regexp.MustCompile(`^user$`),
}

// APIPath checks a gh api invocation against the read-only allow-list.
func APIPath(method, path string) error {
	if !strings.EqualFold(method, "GET") {
		return fmt.Errorf("gh api method %q is not allowed, only GET", method)
	}
	trimmed := strings.TrimPrefix(path, "/")
	for _, allowed := range allowedAPIPaths {
		if allowed.MatchString(trimmed) {
			return nil
		}
	}
	return fmt.Errorf("gh api path %q is not on the allow-list", path)
}

// blockedSubcommands are gh invocations the gateway refuses outright,
// whatever endpoint they arrive through.
var blockedSubcommands = [][]string{
	{"pr", "merge"},
	{"repo", "delete"},
	{"auth", "logout"},
	{"secret", "set"},
	{"variable", "set"},
	{"release", "delete"},
}

var apiWriteVerbs = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// BlockedGHCommand returns the blocked command prefix matched by args, or
// "" if the invocation is not blocked.
func BlockedGHCommand(args []string) string {
	for _, blocked := range blockedSubcommands {
		if len(args) < len(blocked) {
			continue
		}
		match := true
		for i := range blocked {
			if args[i] != blocked[i] {
				match = false
				break
			}
		}
		if match {
			return strings.Join(blocked, " ")
		}
	}
	if len(args) > 0 && args[0] == "api" {
		method := "GET"
		for i, arg := range args {
			if (arg == "--method" || arg == "-X") && i+1 < len(args) {
				method = strings.ToUpper(args[i+1])
			}
			if strings.HasPrefix(arg, "--method=") {
				method = strings.ToUpper(strings.TrimPrefix(arg, "--method="))
			}
			if arg == "--field" || arg == "-F" || arg == "-f" || arg == "--raw-field" {
				// field flags imply a write even without an explicit method
				method = "POST"
			}
		}
		if apiWriteVerbs[method] {
			return "api " + strings.ToLower(method)
		}
	}
	return ""
}

// AllowedGHCommands is the read-only set /gh/execute accepts, in the form
// surfaced to callers when a command is refused.
var AllowedGHCommands = []string{
	"pr view", "pr list", "pr diff", "pr checks",
	"issue view", "issue list",
	"run view", "run list",
	"api (GET, allow-listed paths only)",
}

var readOnlySubcommands = [][]string{
	{"pr", "view"}, {"pr", "list"}, {"pr", "diff"}, {"pr", "checks"},
	{"issue", "view"}, {"issue", "list"},
	{"run", "view"}, {"run", "list"},
}

// apiValueFlags take a separate value argument, which must not be
// mistaken for the api path.
var apiValueFlags = map[string]bool{
	"--method": true, "-X": true,
	"--field": true, "-F": true, "-f": true, "--raw-field": true,
	"--jq": true, "-q": true,
	"--header": true, "-H": true,
	"--hostname": true,
}

// ReadOnlyGHCommand enforces the /gh/execute allow-list: the invocation
// must be one of the read-only subcommands, or a GET `gh api` call whose
// path passes APIPath. Use BlockedGHCommand first to get the specific
// deny-list match.
func ReadOnlyGHCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("empty gh command")
	}
	if args[0] == "api" {
		method := "GET"
		path := ""
		for i := 1; i < len(args); i++ {
			arg := args[i]
			switch {
			case arg == "--method" || arg == "-X":
				if i+1 < len(args) {
					method = strings.ToUpper(args[i+1])
				}
				i++
			case strings.HasPrefix(arg, "--method="):
				method = strings.ToUpper(strings.TrimPrefix(arg, "--method="))
			case apiValueFlags[arg]:
				i++
			case strings.HasPrefix(arg, "-"):
			case path == "":
				path = arg
			}
		}
		if path == "" {
			return errors.New("gh api requires a path")
		}
		return APIPath(method, path)
	}
	for _, allowed := range readOnlySubcommands {
		if len(args) < len(allowed) {
			continue
		}
		match := true
		for i := range allowed {
			if args[i] != allowed[i] {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}
	return fmt.Errorf("gh command %q is not on the read-only allow-list", strings.Join(args, " "))
}

// RepoName checks an "owner/repo" request field.
func RepoName(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 {
		return fmt.Errorf("repo %q is not of the form owner/repo", repo)
	}
	if err := Identifier("owner", parts[0]); err != nil {
		return err
	}
	return Identifier("repo", parts[1])
}

// RemoteRepo extracts "owner/repo" from a github.com remote URL. Other
// hosts and malformed URLs yield ok=false.
func RemoteRepo(remoteURL string) (string, bool) {
	remoteURL = strings.TrimSpace(remoteURL)
	var rest string
	switch {
	case strings.HasPrefix(remoteURL, "https://github.com/"):
		rest = strings.TrimPrefix(remoteURL, "https://github.com/")
	case strings.HasPrefix(remoteURL, "git@github.com:"):
		rest = strings.TrimPrefix(remoteURL, "git@github.com:")
	default:
		return "", false
	}
	rest = strings.TrimSuffix(rest, ".git")
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}

// PushRefspec vets a push refspec before it may reach a git argv: an
// optional leading +, then src[:dst], neither side option-shaped. An
// empty src (remote branch deletion) is accepted; the destination still
// goes through ownership policy.
func PushRefspec(refspec string) error {
	stripped := strings.TrimPrefix(refspec, "+")
	if stripped == "" {
		return fmt.Errorf("invalid refspec %q", refspec)
	}
	if strings.HasPrefix(stripped, "-") {
		return fmt.Errorf("refspec %q looks like an option", refspec)
	}
	for _, component := range strings.SplitN(stripped, ":", 2) {
		if component == "" {
			continue
		}
		if component == "HEAD" {
			continue
		}
		if strings.Contains(component, "..") || !branchPattern.MatchString(component) {
			return fmt.Errorf("invalid refspec component %q", component)
		}
	}
	return nil
}

// RefspecBranch recovers the destination branch from a push refspec.
// Returns "" when no branch can be determined.
func RefspecBranch(refspec string) string {
	refspec = strings.TrimPrefix(refspec, "+")
	if idx := strings.Index(refspec, ":"); idx >= 0 {
		refspec = refspec[idx+1:]
	}
	refspec = strings.TrimPrefix(refspec, "refs/heads/")
	return refspec
}
