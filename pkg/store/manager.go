// Package store implements the repository engine: discovery and
// lifecycle of tenant repositories under a root directory, and
// object-level Git operations on each repository.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/google/uuid"
)

const (
	// repoSuffix is the directory suffix that marks a child of the root
	// as a repository.
	repoSuffix = ".git"

	// accessKeyConfig is the repository config key holding the shared
	// secret checked by the smart-HTTP Basic auth.
	accessKeyConfig = "lunchbadger.accesskey"

	// postReceiveHook copies receive-pack's report stream to stdout so
	// the HTTP backend can observe ref updates.
	postReceiveHook = "#!/bin/bash\nexec cat\n"
)

// Manager discovers, creates, opens, and deletes repositories under a
// root directory. A child directory named <name>.git is a repository;
// nothing else is.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a Manager over the given root directory. The
// directory is created if absent.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &Manager{root: root, logger: logger}, nil
}

// Root returns the root directory.
func (m *Manager) Root() string { return m.root }

// Path returns the directory a repository with the given name lives at,
// whether or not it exists.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.root, name+repoSuffix)
}

// Exists reports whether the repository directory is present. It does
// not validate the Git contents.
func (m *Manager) Exists(name string) bool {
	info, err := os.Stat(m.Path(name))
	return err == nil && info.IsDir()
}

// List returns every repository under the root, sorted by name.
func (m *Manager) List() ([]*Repository, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), repoSuffix) {
			names = append(names, strings.TrimSuffix(e.Name(), repoSuffix))
		}
	}
	sort.Strings(names)

	repos := make([]*Repository, 0, len(names))
	for _, name := range names {
		repo, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// Get opens an existing repository.
func (m *Manager) Get(name string) (*Repository, error) {
	path := m.Path(name)
	if !m.Exists(name) {
		return nil, NewError(KindRepoDoesNotExist, "repo %s does not exist", name)
	}
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to open repo %s", name)
	}
	return newRepository(name, path, repo, m.logger), nil
}

// Create initializes a repository if it is absent and returns it opened
// either way. New repositories get a generated access key, the
// updateInstead push policy, and the report-echo post-receive hook.
func (m *Manager) Create(name string) (*Repository, error) {
	if m.Exists(name) {
		return m.Get(name)
	}

	path := m.Path(name)
	gitRepo, err := gogit.PlainInit(path, false)
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to init repo %s", name)
	}

	repo := newRepository(name, path, gitRepo, m.logger)
	err = repo.SetConfig(map[string]any{
		accessKeyConfig:             uuid.NewString(),
		"receive.denycurrentbranch": "updateInstead",
	})
	if err != nil {
		return nil, err
	}
	if err := repo.installPostReceiveHook(); err != nil {
		return nil, err
	}

	m.logger.Info("created repository", "name", name, "path", path)
	return repo, nil
}

// Remove deletes the repository directory recursively. It reports
// whether anything was removed.
func (m *Manager) Remove(name string) (bool, error) {
	if !m.Exists(name) {
		return false, nil
	}
	if err := os.RemoveAll(m.Path(name)); err != nil {
		return false, fmt.Errorf("failed to remove repo %s: %w", name, err)
	}
	m.logger.Info("removed repository", "name", name)
	return true, nil
}

// RemoveAll deletes every repository under the root. Test helper.
func (m *Manager) RemoveAll() error {
	repos, err := m.List()
	if err != nil {
		return err
	}
	for _, r := range repos {
		if _, err := m.Remove(r.Name()); err != nil {
			return err
		}
	}
	return nil
}
