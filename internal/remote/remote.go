// Package remote resolves repository references such as owner/repo@ref and
// clones them into temporary directories for analysis.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Source represents a remote repository to analyze.
type Source struct {
	URL      string // normalized git URL
	Ref      string // branch, tag, or SHA (empty = default branch)
	CloneDir string // temp directory after clone
}

var schemes = []string{"https://", "http://", "ssh://", "git://", "file://"}

// Parse detects if a path is a remote reference.
// Returns nil if path exists on filesystem (local path takes precedence).
func Parse(path string) (*Source, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, nil
	}

	// an @ before the first slash belongs to an SSH user, not a ref
	ref := ""
	if idx := strings.LastIndex(path, "@"); idx != -1 && idx > strings.Index(path, "/") {
		ref = path[idx+1:]
		path = path[:idx]
		if ref == "" {
			return nil, fmt.Errorf("empty ref in %q", path+"@")
		}
	}

	for _, scheme := range schemes {
		if strings.HasPrefix(path, scheme) {
			return &Source{URL: path, Ref: ref}, nil
		}
	}
	if strings.HasPrefix(path, "git@") && strings.Contains(path, ":") {
		return &Source{URL: path, Ref: ref}, nil
	}
	if isHostPath(path) {
		return &Source{URL: "https://" + path, Ref: ref}, nil
	}
	if isGitHubShorthand(path) {
		return &Source{
			URL: "https://github.com/" + path,
			Ref: ref,
		}, nil
	}

	return nil, nil
}

// isHostPath matches host/owner/repo where host contains a dot.
func isHostPath(path string) bool {
	parts := strings.Split(path, "/")
	if len(parts) < 3 || strings.HasPrefix(parts[0], ".") || !strings.Contains(parts[0], ".") {
		return false
	}
	for _, p := range parts[1:] {
		if p == "" {
			return false
		}
	}
	return true
}

// isGitHubShorthand returns true if path matches owner/repo pattern.
func isGitHubShorthand(path string) bool {
	slashIdx := strings.Index(path, "/")
	if slashIdx == -1 {
		return false
	}
	if strings.Count(path, "/") != 1 {
		return false
	}
	// a dot before the slash means a domain
	if strings.Contains(path[:slashIdx], ".") {
		return false
	}
	return slashIdx > 0 && slashIdx < len(path)-1
}

// Clone fetches the repository into a new temporary directory and sets
// CloneDir. Refs are tried as a branch, then a tag, then a revision. A
// revision always needs full history, so shallow only applies to branches,
// tags and the default branch.
func (s *Source) Clone(ctx context.Context, progress io.Writer, shallow bool) error {
	dir, err := os.MkdirTemp("", "embargo-clone-*")
	if err != nil {
		return err
	}
	s.CloneDir = dir

	opts := func(name plumbing.ReferenceName) *git.CloneOptions {
		o := &git.CloneOptions{
			URL:           s.URL,
			Progress:      progress,
			ReferenceName: name,
			SingleBranch:  name != "",
		}
		if shallow {
			o.Depth = 1
		}
		return o
	}

	if s.Ref == "" {
		if _, err := git.PlainCloneContext(ctx, dir, false, opts("")); err != nil {
			s.Cleanup()
			return fmt.Errorf("clone %s: %w", s.URL, err)
		}
		return nil
	}

	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(s.Ref),
		plumbing.NewTagReferenceName(s.Ref),
	} {
		_, err := git.PlainCloneContext(ctx, dir, false, opts(name))
		if err == nil {
			return nil
		}
		if fatalCloneError(ctx, err) {
			s.Cleanup()
			return fmt.Errorf("clone %s: %w", s.URL, err)
		}
		if err := resetDir(dir); err != nil {
			s.Cleanup()
			return err
		}
	}

	if err := s.cloneRevision(ctx, progress); err != nil {
		s.Cleanup()
		return err
	}
	return nil
}

func (s *Source) cloneRevision(ctx context.Context, progress io.Writer) error {
	repo, err := git.PlainCloneContext(ctx, s.CloneDir, false, &git.CloneOptions{
		URL:      s.URL,
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", s.URL, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(s.Ref))
	if err != nil {
		return fmt.Errorf("resolve %s in %s: %w", s.Ref, s.URL, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Hash: *hash})
}

// fatalCloneError reports errors that retrying with another ref kind
// cannot fix.
func fatalCloneError(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, transport.ErrRepositoryNotFound) ||
		errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed)
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// Cleanup removes the clone directory.
func (s *Source) Cleanup() {
	if s.CloneDir == "" {
		return
	}
	_ = os.RemoveAll(s.CloneDir)
	s.CloneDir = ""
}
