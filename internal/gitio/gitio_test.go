package gitio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadRevisionOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))

	rev, err := HeadRevision(path)
	require.NoError(t, err)
	assert.Empty(t, rev)
}

func TestHeadRevisionInsideRepository(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	exports := filepath.Join(dir, "acme-graphs")
	require.NoError(t, os.MkdirAll(exports, 0755))
	path := filepath.Join(exports, "acme.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))

	// No commit yet.
	rev, err := HeadRevision(path)
	require.NoError(t, err)
	assert.Empty(t, rev)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("acme-graphs/acme.jsonl")
	require.NoError(t, err)
	hash, err := wt.Commit("add export", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	rev, err = HeadRevision(path)
	require.NoError(t, err)
	assert.Equal(t, hash.String(), rev)

	r, err := Open(exports)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Root())
}
