package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// UpdateBranchFiles materializes the given files on the branch and
// commits them as one transaction, guarded by the repository lock.
//
// parentRevision carries the caller's optimistic-concurrency assertion:
// a commit hash (full or prefix) that must match the branch head, or ""
// to assert the branch has no commits yet. On a no-op write (the files
// already match the tree) no commit is created and parentRevision is
// returned unchanged; otherwise the new commit's hash is returned.
func (r *Repository) UpdateBranchFiles(branch, parentRevision string, files map[string][]byte) (string, error) {
	var result string
	err := r.withLock(func() error {
		headCommit, err := r.openBranchHead(branch)
		if err != nil {
			return err
		}

		parents, err := r.checkParentRevision(parentRevision, headCommit)
		if err != nil {
			return err
		}

		for path, content := range files {
			if err := r.materializeFile(path, content); err != nil {
				return err
			}
		}

		worktree, err := r.repo.Worktree()
		if err != nil {
			return WrapError(KindGeneric, err, "failed to open worktree")
		}
		status, err := worktree.Status()
		if err != nil {
			return WrapError(KindGeneric, err, "failed to read status")
		}
		if status.IsClean() {
			result = parentRevision
			return nil
		}

		if err := worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
			return WrapError(KindGeneric, err, "failed to stage files")
		}

		sig := serviceSignature()
		commit, err := worktree.Commit(commitMessage, &gogit.CommitOptions{
			Author:    sig,
			Committer: sig,
			Parents:   parents,
		})
		if err != nil {
			return WrapError(KindGeneric, err, "failed to create commit")
		}

		result = commit.String()
		r.logger.Debug("committed transaction", "branch", branch, "commit", result, "files", len(files))
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// openBranchHead prepares HEAD for a transaction on the branch and
// returns the current head commit, or nil when HEAD is unborn.
func (r *Repository) openBranchHead(branch string) (*plumbing.Hash, error) {
	refName := plumbing.NewBranchReferenceName(branch)

	head, err := r.repo.Head()
	if err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, WrapError(KindGeneric, err, "failed to read HEAD")
		}
		// Unborn HEAD: the commit created by this transaction becomes
		// the branch's initial commit.
		symbolic := plumbing.NewSymbolicReference(plumbing.HEAD, refName)
		if err := r.repo.Storer.SetReference(symbolic); err != nil {
			return nil, WrapError(KindGeneric, err, "failed to point HEAD at %s", branch)
		}
		return nil, nil
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to open worktree")
	}
	err = worktree.Checkout(&gogit.CheckoutOptions{Branch: refName, Force: true})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, WrapError(KindInvalidBranch, err, "branch %s not found", branch)
		}
		return nil, WrapError(KindGeneric, err, "failed to check out %s", branch)
	}

	head, err = r.repo.Head()
	if err != nil {
		return nil, WrapError(KindGeneric, err, "failed to read HEAD after checkout")
	}
	hash := head.Hash()
	return &hash, nil
}

// checkParentRevision applies the optimistic-concurrency matrix between
// the caller-supplied parent revision and the current head commit, and
// returns the parent list for the commit to create.
func (r *Repository) checkParentRevision(parentRevision string, headCommit *plumbing.Hash) ([]plumbing.Hash, error) {
	switch {
	case parentRevision != "" && headCommit != nil:
		resolved, err := r.repo.ResolveRevision(plumbing.Revision(parentRevision))
		if err != nil {
			return nil, WrapError(KindOptimisticConcurrency, err,
				"parent revision %s does not resolve", parentRevision)
		}
		if *resolved != *headCommit {
			return nil, NewError(KindOptimisticConcurrency,
				"parent revision %s does not match branch head %s", parentRevision, headCommit)
		}
		return []plumbing.Hash{*headCommit}, nil

	case parentRevision != "" && headCommit == nil:
		return nil, NewError(KindGeneric,
			"parent revision %s given for a branch with no commits", parentRevision)

	case parentRevision == "" && headCommit != nil:
		return nil, NewError(KindOptimisticConcurrency,
			"branch already has commits, a parent revision is required")

	default:
		return nil, nil
	}
}

// materializeFile writes content at the working-tree-relative path,
// creating intermediate directories. Paths that escape the working tree
// are rejected.
func (r *Repository) materializeFile(path string, content []byte) error {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return NewError(KindGeneric, "invalid file path %q", path)
	}

	target := filepath.Join(r.path, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directories for %s: %w", path, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
