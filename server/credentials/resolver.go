// Package credentials derives candidate passwords for locked keystore
// archives from the entries of a KeePass vault.
package credentials

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Vault is the two-phase lookup protocol of the secret store: Locate finds
// the entry names matching a keyword and Show returns the secret values of an
// entry.
type Vault interface {
	Locate(ctx context.Context, keyword string) ([]string, error)
	Show(ctx context.Context, entry string) ([]string, error)
}

// Options configures a Resolver.
type Options struct {
	// ScratchDir is the directory where repositories are checked out, which
	// is searched for the vault database file.
	ScratchDir string
	// DatabaseName is the file name (or path suffix) of the vault database.
	DatabaseName string
	// WorkingPath is where the vault database is moved to, i.e. the path the
	// Vault reads.
	WorkingPath string
}

// Resolver returns the candidate passwords of a keystore archive.
type Resolver struct {
	vault  Vault
	boot   *Bootstrap
	opts   Options
	logger kitlog.Logger
}

// NewResolver returns a Resolver querying vault. All the resolvers of the
// process should share the same boot value (typically DefaultBootstrap).
func NewResolver(vault Vault, boot *Bootstrap, opts Options, logger kitlog.Logger) *Resolver {
	if boot == nil {
		boot = DefaultBootstrap
	}
	return &Resolver{
		vault:  vault,
		boot:   boot,
		opts:   opts,
		logger: kitlog.With(logger, "component", "credentials"),
	}
}

var keywordSep = regexp.MustCompile(`[.-]`)

// Keywords returns the lower-cased tokens of target split on "." and "-",
// followed by the tokens of target split on "-" only. Duplicates are kept,
// empty tokens are dropped.
func Keywords(target string) []string {
	var keywords []string
	add := func(tokens []string) {
		for _, tok := range tokens {
			if tok != "" {
				keywords = append(keywords, strings.ToLower(tok))
			}
		}
	}
	add(keywordSep.Split(target, -1))
	add(strings.Split(target, "-"))
	return keywords
}

// Resolve returns the candidate passwords to unlock the archive at target,
// owned by project. Candidates are ordered by the discovery order of the
// vault entries. If the vault fails, the values collected so far are
// returned.
func (r *Resolver) Resolve(ctx context.Context, target, project string) []string {
	logger := kitlog.With(r.logger, "target", target, "project", project)

	if !r.boot.Load(func() bool { return r.relocate(ctx) }) {
		level.Debug(logger).Log("msg", "vault database not available, no password candidates")
		return nil
	}

	var entries []string
	seen := make(map[string]struct{})
	for _, kw := range Keywords(target) {
		found, err := r.vault.Locate(ctx, kw)
		if err != nil {
			level.Error(logger).Log("msg", "locate vault entries", "keyword", kw, "err", err)
			return nil
		}
		for _, e := range found {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				entries = append(entries, e)
			}
		}
	}

	var candidates []string
	for _, e := range entries {
		pwds, err := r.vault.Show(ctx, e)
		if err != nil {
			level.Error(logger).Log("msg", "show vault entry", "entry", e, "err", err)
			return candidates
		}
		candidates = append(candidates, pwds...)
	}
	level.Debug(logger).Log("msg", "resolved password candidates", "entries", len(entries), "candidates", len(candidates))
	return candidates
}

var errFound = errors.New("found")

// relocate moves the vault database from the scratch directory to the
// working path and reports whether the database is available.
func (r *Resolver) relocate(ctx context.Context) bool {
	var dbPath string
	err := filepath.WalkDir(r.opts.ScratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, r.opts.DatabaseName) {
			dbPath = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		level.Error(r.logger).Log("msg", "search vault database", "dir", r.opts.ScratchDir, "err", err)
	}
	if dbPath == "" {
		level.Error(r.logger).Log("msg", "vault database not found", "name", r.opts.DatabaseName, "dir", r.opts.ScratchDir)
		return false
	}

	if err := moveFile(ctx, dbPath, r.opts.WorkingPath); err != nil {
		level.Error(r.logger).Log("msg", "move vault database", "from", dbPath, "to", r.opts.WorkingPath, "err", err)
		return false
	}
	level.Info(r.logger).Log("msg", "vault database found", "from", dbPath, "to", r.opts.WorkingPath)
	return true
}

func moveFile(ctx context.Context, from, to string) error {
	if dir := filepath.Dir(to); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return ctxerr.Wrap(ctx, err, "create working directory")
		}
	}
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return ctxerr.Wrap(ctx, err, "rename vault database")
	}

	// different filesystems, copy then remove
	src, err := os.Open(from)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "open vault database")
	}
	defer src.Close()
	dst, err := os.OpenFile(to, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "create vault database copy")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return ctxerr.Wrap(ctx, err, "copy vault database")
	}
	if err := dst.Close(); err != nil {
		return ctxerr.Wrap(ctx, err, "close vault database copy")
	}
	return ctxerr.Wrap(ctx, os.Remove(from), "remove moved vault database")
}
