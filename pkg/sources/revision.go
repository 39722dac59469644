// pkg/sources/revision.go

// Package sources packs the application sources on the operator's machine
// and unpacks them on a target.
package sources

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	cerr "github.com/cockroachdb/errors"
)

// NoRepository is the revision reported for a plain directory.
const NoRepository = "local"

// FindRepository opens the git repository containing dir and returns it with
// its worktree root. A directory outside any repository yields git.ErrRepositoryNotExists.
func FindRepository(dir string) (*git.Repository, string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		// bare repositories have no worktree to archive from
		return nil, "", cerr.Wrapf(err, "repository at %s has no worktree", dir)
	}
	return repo, wt.Filesystem.Root(), nil
}

// Revision names what would be deployed from dir: the checked-out branch,
// a short hash for a detached HEAD, or NoRepository.
func Revision(dir string) (string, error) {
	repo, _, err := FindRepository(dir)
	if cerr.Is(err, git.ErrRepositoryNotExists) {
		return NoRepository, nil
	}
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if cerr.Is(err, plumbing.ErrReferenceNotFound) {
		// fresh repository without commits
		return "HEAD", nil
	}
	if err != nil {
		return "", cerr.Wrap(err, "failed to resolve HEAD")
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String()[:7], nil
}
