// Package discovery checks out git repositories into a local scratch area and
// finds the files of interest in them.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultProject is the project label used when it cannot be derived from
// the repository URL.
const defaultProject = "project"

// Options configures a Git discoverer.
type Options struct {
	// ScratchDir is the directory holding the checkout of the repository
	// being scanned. It is cleared before every scan.
	ScratchDir string
	// User and Token authenticate the clone over HTTP(S).
	User  string
	Token string
	// IgnoreSuffixes lists path suffixes of files that are never returned.
	IgnoreSuffixes []string
}

// Git discovers files in git repositories. Scans share the scratch
// directory, so a Git value must not scan two repositories concurrently.
type Git struct {
	opts   Options
	logger kitlog.Logger

	clone func(ctx context.Context, dir string, opts *git.CloneOptions) error
}

// New returns a Git discoverer.
func New(opts Options, logger kitlog.Logger) *Git {
	return &Git{
		opts:   opts,
		logger: kitlog.With(logger, "component", "discovery"),
		clone: func(ctx context.Context, dir string, opts *git.CloneOptions) error {
			_, err := git.PlainCloneContext(ctx, dir, false, opts)
			return err
		},
	}
}

// ProjectName returns the project label of a repository: the last path
// element of its URL without the extension.
func ProjectName(repoURL string) string {
	slash := strings.LastIndex(repoURL, "/")
	dot := strings.LastIndex(repoURL, ".")
	if slash == -1 || dot == -1 {
		return defaultProject
	}
	name := repoURL[slash+1:]
	if dot > slash {
		name = repoURL[slash+1 : dot]
	}
	if name == "" {
		return defaultProject
	}
	return name
}

// Prepare makes sure the scratch directory can be created and cleared.
func (g *Git) Prepare(ctx context.Context) error {
	if err := os.RemoveAll(g.opts.ScratchDir); err != nil {
		return ctxerr.Wrap(ctx, err, "clear scratch directory")
	}
	return ctxerr.Wrap(ctx, os.MkdirAll(g.opts.ScratchDir, 0o700), "create scratch directory")
}

// CollectFiles clones repo into the cleared scratch directory and returns
// the files whose name ends with one of the extensions, mapped to the project
// label of the repository. A repository that cannot be cloned has no files.
func (g *Git) CollectFiles(ctx context.Context, repo string, extensions []string) (map[string]string, error) {
	if err := g.Prepare(ctx); err != nil {
		return nil, err
	}

	project := ProjectName(repo)
	dir := filepath.Join(g.opts.ScratchDir, project)
	cloneOpts := &git.CloneOptions{
		URL:   repo,
		Depth: 1,
	}
	if g.opts.User != "" || g.opts.Token != "" {
		cloneOpts.Auth = &githttp.BasicAuth{Username: g.opts.User, Password: g.opts.Token}
	}
	if err := g.clone(ctx, dir, cloneOpts); err != nil {
		level.Warn(g.logger).Log("msg", "clone repository", "repo", repo, "err", err)
		return map[string]string{}, nil
	}
	level.Info(g.logger).Log("msg", "repository cloned", "repo", repo, "project", project)

	files := make(map[string]string)
	err := filepath.WalkDir(g.opts.ScratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if hasAnySuffix(path, extensions) && !hasAnySuffix(path, g.opts.IgnoreSuffixes) {
			files[path] = project
		}
		return nil
	})
	if err != nil {
		return nil, ctxerr.Wrapf(ctx, err, "walk checkout of %s", repo)
	}
	return files, nil
}

// Cleanup removes the scratch directory.
func (g *Git) Cleanup(ctx context.Context, repo string) error {
	return ctxerr.Wrapf(ctx, os.RemoveAll(g.opts.ScratchDir), "remove checkout of %s", repo)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
