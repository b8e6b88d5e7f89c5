package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/uuid"

	"lunchbadger/configstore/pkg/lock"
)

const (
	// MaxFileSize bounds single-blob reads through GetFile.
	MaxFileSize = 1 << 20

	// EnvBranchPrefix is the branch namespace environments live in.
	EnvBranchPrefix = "env/"

	// ZeroRevision is the sentinel revision reported for a branch that
	// has no commits yet.
	ZeroRevision = "0000000000000000000000000000000000000000"

	branchRefPrefix = "refs/heads/"
	lockFileName    = "txn.lock"
	commitMessage   = "Changes"
)

// Repository is the object-level facade over one tenant repository.
// All mutating operations serialize on the repository's file lock.
type Repository struct {
	name   string
	path   string
	repo   *gogit.Repository
	logger *slog.Logger
}

func newRepository(name, path string, repo *gogit.Repository, logger *slog.Logger) *Repository {
	return &Repository{
		name:   name,
		path:   path,
		repo:   repo,
		logger: logger.With("repo", name),
	}
}

// Name returns the repository name (directory basename without .git).
func (r *Repository) Name() string { return r.name }

// Path returns the repository directory.
func (r *Repository) Path() string { return r.path }

// GitDir returns the .git directory inside the working tree.
func (r *Repository) GitDir() string { return filepath.Join(r.path, ".git") }

// LockPath returns the transaction lock sentinel file.
func (r *Repository) LockPath() string { return filepath.Join(r.GitDir(), lockFileName) }

func (r *Repository) withLock(body func() error) error {
	err := lock.WithLock(r.LockPath(), body)
	if errors.Is(err, lock.ErrLocked) {
		return WrapError(KindLocked, err, "operation in progress on repo %s", r.name)
	}
	return err
}

// serviceSignature is the fixed author/committer identity used for
// commits created through the REST surface.
func serviceSignature() *object.Signature {
	return &object.Signature{
		Name:  "configstore",
		Email: "configstore@lunchbadger.io",
	}
}

// Branches lists all branch names.
func (r *Repository) Branches() ([]string, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to list branches")
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, strings.TrimPrefix(ref.Name().String(), branchRefPrefix))
		return nil
	})
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to iterate branches")
	}
	return names, nil
}

// BranchRevision returns the commit hash the branch points at.
func (r *Repository) BranchRevision(name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return "", WrapError(KindInvalidBranch, err, "branch %s not found", name)
	}
	return ref.Hash().String(), nil
}

// Envs maps environment ids to branch revisions following the env/<id>
// branch convention. A bare master branch is reported as the dev
// environment when no env/dev branch shadows it (migration shim for
// repositories that predate the env namespace).
func (r *Repository) Envs() (map[string]string, error) {
	branches, err := r.Branches()
	if err != nil {
		return nil, err
	}

	envs := make(map[string]string)
	var masterRev string
	for _, b := range branches {
		switch {
		case strings.HasPrefix(b, EnvBranchPrefix):
			rev, err := r.BranchRevision(b)
			if err != nil {
				return nil, err
			}
			envs[strings.TrimPrefix(b, EnvBranchPrefix)] = rev
		case b == "master":
			masterRev, err = r.BranchRevision(b)
			if err != nil {
				return nil, err
			}
		}
	}
	if masterRev != "" {
		if _, ok := envs["dev"]; !ok {
			envs["dev"] = masterRev
		}
	}
	return envs, nil
}

// UpsertBranch points the branch at the commit that revspec resolves to,
// creating the branch if absent and force-moving it if present. The
// resolved hash is returned.
func (r *Repository) UpsertBranch(name, revspec string) (string, error) {
	var hash plumbing.Hash
	err := r.withLock(func() error {
		resolved, err := r.repo.ResolveRevision(plumbing.Revision(revspec))
		if err != nil {
			return WrapError(KindRevisionNotFound, err, "revision %s not found", revspec)
		}
		hash = *resolved
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
		if err := r.repo.Storer.SetReference(ref); err != nil {
			return WrapError(KindGeneric, err, "failed to set branch %s", name)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// DeleteBranch removes the branch, detaching HEAD first when HEAD points
// at it. It returns the number of refs removed (always 1 on success).
func (r *Repository) DeleteBranch(name string) (int, error) {
	refName := plumbing.NewBranchReferenceName(name)
	err := r.withLock(func() error {
		ref, err := r.repo.Reference(refName, false)
		if err != nil {
			return WrapError(KindInvalidBranch, err, "branch %s not found", name)
		}

		if head, err := r.repo.Storer.Reference(plumbing.HEAD); err == nil &&
			head.Type() == plumbing.SymbolicReference && head.Target() == refName {
			detached := plumbing.NewHashReference(plumbing.HEAD, ref.Hash())
			if err := r.repo.Storer.SetReference(detached); err != nil {
				return WrapError(KindGeneric, err, "failed to detach HEAD")
			}
		}

		if err := r.repo.Storer.RemoveReference(refName); err != nil {
			return WrapError(KindGeneric, err, "failed to delete branch %s", name)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// GetFile reads the blob at path in the branch's tree. It returns the
// content and the commit hash of the branch at read time. Non-blob
// entries and blobs over MaxFileSize are rejected with typed errors; the
// size check happens before any content is loaded.
func (r *Repository) GetFile(branch, path string) ([]byte, string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, "", WrapError(KindInvalidBranch, err, "branch %s not found", branch)
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, "", WrapError(KindGeneric, err, "failed to read commit %s", ref.Hash())
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", WrapError(KindGeneric, err, "failed to read tree")
	}

	entry, err := tree.FindEntry(path)
	if err != nil {
		return nil, "", WrapError(KindFileNotFound, err, "file %s not found on branch %s", path, branch)
	}
	if entry.Mode != filemode.Regular && entry.Mode != filemode.Executable {
		return nil, "", NewError(KindNotABlob, "entry %s is not a file", path)
	}

	blob, err := object.GetBlob(r.repo.Storer, entry.Hash)
	if err != nil {
		return nil, "", WrapError(KindGeneric, err, "failed to read blob %s", entry.Hash)
	}
	if blob.Size > MaxFileSize {
		return nil, "", NewError(KindFileTooLarge, "file %s is %d bytes, limit is %d", path, blob.Size, MaxFileSize)
	}

	reader, err := blob.Reader()
	if err != nil {
		return nil, "", WrapError(KindGeneric, err, "failed to open blob %s", entry.Hash)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", WrapError(KindGeneric, err, "failed to read blob %s", entry.Hash)
	}
	return content, ref.Hash().String(), nil
}

// SetConfig writes each key/value into the repository config. Keys are
// dotted ("section.option" or "section.subsection.option"); values must
// be strings or integers.
func (r *Repository) SetConfig(values map[string]any) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return WrapError(KindGeneric, err, "failed to read config")
	}

	for key, value := range values {
		var str string
		switch v := value.(type) {
		case string:
			str = v
		case int:
			str = strconv.Itoa(v)
		case int64:
			str = strconv.FormatInt(v, 10)
		default:
			return NewError(KindBadConfigValue, "unsupported config value type %T for %s", value, key)
		}

		section, subsection, option, err := splitConfigKey(key)
		if err != nil {
			return err
		}
		if subsection == "" {
			cfg.Raw.Section(section).SetOption(option, str)
		} else {
			cfg.Raw.Section(section).Subsection(subsection).SetOption(option, str)
		}
	}

	if err := r.repo.SetConfig(cfg); err != nil {
		return WrapError(KindGeneric, err, "failed to write config")
	}
	return nil
}

// GetConfig returns the string value of a dotted config key.
func (r *Repository) GetConfig(key string) (string, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return "", WrapError(KindGeneric, err, "failed to read config")
	}

	section, subsection, option, err := splitConfigKey(key)
	if err != nil {
		return "", err
	}

	sec := cfg.Raw.Section(section)
	if subsection != "" {
		sub := sec.Subsection(subsection)
		if !sub.HasOption(option) {
			return "", NewError(KindGeneric, "config variable %s is not set", key)
		}
		return sub.Option(option), nil
	}
	if !sec.HasOption(option) {
		return "", NewError(KindGeneric, "config variable %s is not set", key)
	}
	return sec.Option(option), nil
}

// AccessKey returns the repository's shared secret.
func (r *Repository) AccessKey() (string, error) {
	return r.GetConfig(accessKeyConfig)
}

// RegenerateAccessKey replaces the shared secret and returns the new
// value. Existing Basic credentials stop working immediately.
func (r *Repository) RegenerateAccessKey() (string, error) {
	key := uuid.NewString()
	if err := r.SetConfig(map[string]any{accessKeyConfig: key}); err != nil {
		return "", err
	}
	r.logger.Info("regenerated access key")
	return key, nil
}

func (r *Repository) installPostReceiveHook() error {
	hookDir := filepath.Join(r.GitDir(), "hooks")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}
	hookPath := filepath.Join(hookDir, "post-receive")
	if err := os.WriteFile(hookPath, []byte(postReceiveHook), 0o775); err != nil {
		return fmt.Errorf("failed to install post-receive hook: %w", err)
	}
	// WriteFile's mode is subject to the process umask.
	if err := os.Chmod(hookPath, 0o775); err != nil {
		return fmt.Errorf("failed to set post-receive hook mode: %w", err)
	}
	return nil
}

func splitConfigKey(key string) (section, subsection, option string, err error) {
	parts := strings.Split(key, ".")
	switch len(parts) {
	case 2:
		return parts[0], "", parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", NewError(KindBadConfigValue, "malformed config key %q", key)
	}
}
