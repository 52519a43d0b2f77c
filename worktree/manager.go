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

// Package worktree manages the per-container git worktrees agents work
// in. Each container gets an isolated working tree sharing the object
// store of a main repository on the host, checked out on its own branch
// and chowned to the agent uid.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jib-infra/gateway/gitcmd"
	"github.com/jib-infra/gateway/validate"
)

const gitTimeout = 30 * time.Second

// Record describes an allocated worktree.
type Record struct {
	ContainerID  string
	RepoName     string
	Branch       string
	WorktreePath string
	AdminDir     string
}

// RemoveResult reports the outcome of a removal.
type RemoveResult struct {
	Success            bool
	UncommittedChanges bool
	Warning            string
	Stderr             string
}

// GitIdentity is the commit identity configured inside new worktrees,
// when incognito operation attributes commits to a human.
type GitIdentity struct {
	Name  string
	Email string
}

// Manager allocates and reaps worktrees under a single root.
type Manager struct {
	root     string
	reposDir string
	botName  string
	identity GitIdentity
	git      *gitcmd.Executor
	logger   *logrus.Entry
	chown    func(path string, uid, gid int) error
}

// NewManager returns a manager rooted at root, resolving main
// repositories under reposDir.
func NewManager(root, reposDir, botName string, identity GitIdentity, git *gitcmd.Executor, logger *logrus.Entry) *Manager {
	return &Manager{
		root:     root,
		reposDir: reposDir,
		botName:  botName,
		identity: identity,
		git:      git,
		logger:   logger.WithField("component", "worktree"),
		chown:    os.Chown,
	}
}

// BranchFor returns the work branch name for a container.
func (m *Manager) BranchFor(containerID string) string {
	return fmt.Sprintf("%s/%s/work", m.botName, containerID)
}

func (m *Manager) worktreePath(containerID, repoName string) string {
	return filepath.Join(m.root, containerID, repoName)
}

func (m *Manager) mainRepo(repoName string) (string, error) {
	path := filepath.Join(m.reposDir, repoName)
	if info, err := os.Stat(filepath.Join(path, ".git")); err != nil || !info.IsDir() {
		return "", errors.Errorf("repository %q not found under %s", repoName, m.reposDir)
	}
	return path, nil
}

// validGitFile reports whether path/.git is a worktree marker: a regular
// file whose first line begins "gitdir: ".
func validGitFile(worktreePath string) bool {
	gitFile := filepath.Join(worktreePath, ".git")
	info, err := os.Lstat(gitFile)
	if err != nil || info.IsDir() {
		return false
	}
	raw, err := os.ReadFile(gitFile)
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(raw), "gitdir: ")
}

// Create allocates (or reuses) the worktree for (containerID, repoName),
// checked out on the container's work branch and owned by (uid, gid).
// Calling it twice without an intervening Remove returns the same path
// and creates no second branch.
func (m *Manager) Create(ctx context.Context, repoName, containerID, base string, uid, gid int) (*Record, error) {
	if err := validate.Identifier("container_id", containerID); err != nil {
		return nil, err
	}
	if err := validate.Identifier("repo_name", repoName); err != nil {
		return nil, err
	}
	mainRepo, err := m.mainRepo(repoName)
	if err != nil {
		return nil, err
	}
	if base == "" {
		base = "HEAD"
	}

	worktreePath := m.worktreePath(containerID, repoName)
	branch := m.BranchFor(containerID)
	logger := m.logger.WithFields(logrus.Fields{"container": containerID, "repo": repoName, "path": worktreePath})

	if validGitFile(worktreePath) {
		logger.Info("Reusing existing worktree.")
		if err := m.chownTree(worktreePath, uid, gid); err != nil {
			return nil, err
		}
		adminDir, err := m.adminDir(mainRepo, worktreePath)
		if err != nil {
			return nil, err
		}
		return &Record{
			ContainerID:  containerID,
			RepoName:     repoName,
			Branch:       branch,
			WorktreePath: worktreePath,
			AdminDir:     adminDir,
		}, nil
	}
	if _, err := os.Stat(worktreePath); err == nil {
		logger.Warn("Removing stale worktree directory.")
		if err := os.RemoveAll(worktreePath); err != nil {
			return nil, errors.Wrap(err, "could not remove stale worktree directory")
		}
	}
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return nil, errors.Wrap(err, "could not create container directory")
	}

	// a crashed session may have left the branch behind; reuse it
	branchExists, err := m.branchExists(ctx, mainRepo, branch)
	if err != nil {
		return nil, err
	}
	var result gitcmd.Result
	if branchExists {
		logger.WithField("branch", branch).Info("Reusing existing work branch.")
		result, err = m.git.Run(ctx, mainRepo, gitTimeout, nil, "worktree", "add", worktreePath, branch)
	} else {
		result, err = m.git.Run(ctx, mainRepo, gitTimeout, nil, "worktree", "add", "-b", branch, worktreePath, base)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not run git worktree add")
	}
	if !result.Success {
		return nil, errors.Errorf("git worktree add failed: %s", strings.TrimSpace(result.Stderr))
	}

	if m.identity.Name != "" {
		if result, err := m.git.Run(ctx, worktreePath, gitTimeout, nil, "config", "user.name", m.identity.Name); err != nil || !result.Success {
			logger.Warn("Could not set user.name in worktree.")
		}
	}
	if m.identity.Email != "" {
		if result, err := m.git.Run(ctx, worktreePath, gitTimeout, nil, "config", "user.email", m.identity.Email); err != nil || !result.Success {
			logger.Warn("Could not set user.email in worktree.")
		}
	}

	if err := m.chownTree(worktreePath, uid, gid); err != nil {
		return nil, err
	}
	// the agent writes sibling files next to the worktree
	if err := m.chown(filepath.Dir(worktreePath), uid, gid); err != nil {
		return nil, errors.Wrap(err, "could not chown container directory")
	}

	adminDir, err := m.adminDir(mainRepo, worktreePath)
	if err != nil {
		return nil, err
	}
	logger.WithField("branch", branch).Info("Worktree created.")
	return &Record{
		ContainerID:  containerID,
		RepoName:     repoName,
		Branch:       branch,
		WorktreePath: worktreePath,
		AdminDir:     adminDir,
	}, nil
}

func (m *Manager) branchExists(ctx context.Context, mainRepo, branch string) (bool, error) {
	result, err := m.git.Run(ctx, mainRepo, gitTimeout, nil, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		return false, errors.Wrap(err, "could not run git rev-parse")
	}
	return result.Success, nil
}

func (m *Manager) chownTree(root string, uid, gid int) error {
	err := filepath.Walk(root, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return m.chown(path, uid, gid)
	})
	if err != nil {
		return errors.Wrapf(err, "could not chown %s to %d:%d", root, uid, gid)
	}
	return nil
}

// adminDir locates git's per-worktree directory under the main repo.
// Git names it by the worktree's basename and appends a numeric suffix
// on collision, so candidates are confirmed by the gitdir marker file
// referencing our path.
func (m *Manager) adminDir(mainRepo, worktreePath string) (string, error) {
	worktreesDir := filepath.Join(mainRepo, ".git", "worktrees")
	basename := filepath.Base(worktreePath)

	confirm := func(candidate string) bool {
		raw, err := os.ReadFile(filepath.Join(candidate, "gitdir"))
		if err != nil {
			return false
		}
		recorded := strings.TrimSpace(string(raw))
		return filepath.Clean(strings.TrimSuffix(recorded, "/.git")) == filepath.Clean(worktreePath)
	}

	direct := filepath.Join(worktreesDir, basename)
	if confirm(direct) {
		return direct, nil
	}
	entries, err := os.ReadDir(worktreesDir)
	if err != nil {
		return "", errors.Wrap(err, "could not scan worktree admin directories")
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), basename) {
			continue
		}
		candidate := filepath.Join(worktreesDir, entry.Name())
		if confirm(candidate) {
			return candidate, nil
		}
	}
	return "", errors.Errorf("could not locate admin directory for %s", worktreePath)
}

// Remove deletes the worktree for (containerID, repoName). Without force
// it refuses when uncommitted changes exist; with deleteBranch it also
// deletes the work branch, downgrading to a safe delete unless forced.
func (m *Manager) Remove(ctx context.Context, containerID, repoName string, force, deleteBranch bool) (*RemoveResult, error) {
	if err := validate.Identifier("container_id", containerID); err != nil {
		return nil, err
	}
	if err := validate.Identifier("repo_name", repoName); err != nil {
		return nil, err
	}
	mainRepo, err := m.mainRepo(repoName)
	if err != nil {
		return nil, err
	}
	worktreePath := m.worktreePath(containerID, repoName)
	branch := m.BranchFor(containerID)
	logger := m.logger.WithFields(logrus.Fields{"container": containerID, "repo": repoName})

	if !force {
		if status, err := m.git.Run(ctx, worktreePath, gitTimeout, nil, "status", "--porcelain"); err == nil && status.Success && strings.TrimSpace(status.Stdout) != "" {
			return &RemoveResult{
				Success:            false,
				UncommittedChanges: true,
				Warning:            "worktree has uncommitted changes, pass force to remove anyway",
			}, nil
		}
	}

	result, err := m.git.Run(ctx, mainRepo, gitTimeout, nil, "worktree", "remove", "--force", worktreePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not run git worktree remove")
	}
	if !result.Success {
		logger.WithField("stderr", result.Stderr).Warn("git worktree remove refused, deleting directory.")
		if err := os.RemoveAll(worktreePath); err != nil {
			return nil, errors.Wrap(err, "could not delete worktree directory")
		}
	}
	if result, err := m.git.Run(ctx, mainRepo, gitTimeout, nil, "worktree", "prune"); err != nil || !result.Success {
		logger.Warn("git worktree prune failed.")
	}

	removeResult := &RemoveResult{Success: true}
	if deleteBranch {
		deleteFlag := "-d"
		if force {
			deleteFlag = "-D"
		}
		result, err := m.git.Run(ctx, mainRepo, gitTimeout, nil, "branch", deleteFlag, branch)
		if err != nil {
			return nil, errors.Wrap(err, "could not run git branch delete")
		}
		if !result.Success {
			removeResult.Warning = fmt.Sprintf("branch %s not deleted: %s", branch, strings.TrimSpace(result.Stderr))
			removeResult.Stderr = result.Stderr
		}
	}

	// drop the container dir once its last worktree is gone
	containerDir := filepath.Join(m.root, containerID)
	if entries, err := os.ReadDir(containerDir); err == nil && len(entries) == 0 {
		if err := os.Remove(containerDir); err != nil {
			logger.WithError(err).Warn("Could not prune empty container directory.")
		}
	}
	logger.Info("Worktree removed.")
	return removeResult, nil
}

// OrphanSweep removes every container directory under the root whose
// name is not in active. It is called at startup and safe to repeat.
func (m *Manager) OrphanSweep(ctx context.Context, active map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not list worktree root")
	}

	var removed []string
	group, ctx := errgroup.WithContext(ctx)
	results := make(chan string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || active[entry.Name()] {
			continue
		}
		containerID := entry.Name()
		group.Go(func() error {
			m.sweepContainer(ctx, containerID)
			results <- containerID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for containerID := range results {
		removed = append(removed, containerID)
	}
	return removed, nil
}

func (m *Manager) sweepContainer(ctx context.Context, containerID string) {
	containerDir := filepath.Join(m.root, containerID)
	logger := m.logger.WithField("container", containerID)
	if repos, err := os.ReadDir(containerDir); err == nil {
		for _, repo := range repos {
			if !repo.IsDir() {
				continue
			}
			if _, err := m.Remove(ctx, containerID, repo.Name(), true, true); err != nil {
				logger.WithError(err).WithField("repo", repo.Name()).Warn("Could not remove orphaned worktree.")
			}
		}
	}
	// whatever Remove left behind (invalid identifiers, unknown repos)
	if err := os.RemoveAll(containerDir); err != nil {
		logger.WithError(err).Warn("Could not remove orphaned container directory.")
	} else {
		logger.Info("Removed orphaned container directory.")
	}
}
