// Package gitio reads provenance for export files from the git repository
// that holds them, using go-git.
package gitio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	root string
}

// Open opens the repository containing path, walking up parent directories
// until a .git is found. Returns git.ErrRepositoryNotExists when there is
// none.
func Open(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	// go-git wants a directory to start the search from.
	if fi, err := os.Stat(abs); err == nil && !fi.IsDir() {
		abs = filepath.Dir(abs)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &Repository{repo: repo, root: root}, nil
}

// Root returns the worktree root.
func (r *Repository) Root() string {
	return r.root
}

// Head returns the commit hash HEAD points at. An empty repository without
// commits yields "".
func (r *Repository) Head() (string, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// HeadRevision returns the HEAD commit of the repository holding path, or ""
// when path is not inside a git repository.
func HeadRevision(path string) (string, error) {
	r, err := Open(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return r.Head()
}
