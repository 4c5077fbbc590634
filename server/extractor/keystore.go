package extractor

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrArchiveLocked is returned when none of the candidate passwords, nor the
// empty password, unlocks a keystore archive, and its certificates cannot be
// read without the password either.
var ErrArchiveLocked = errors.New("no candidate password unlocks the archive")

const defaultKeystoreConcurrency = 4

// Discoverer finds the keystore archives of a repository, in a local scratch
// checkout of that repository.
type Discoverer interface {
	// CollectFiles returns the paths of the files of repo with one of the
	// extensions, mapped to the project label owning them.
	CollectFiles(ctx context.Context, repo string, extensions []string) (map[string]string, error)
	// Cleanup removes the scratch checkout of repo.
	Cleanup(ctx context.Context, repo string) error
}

// PasswordResolver returns the candidate passwords of a keystore archive, in
// the order they should be tried.
type PasswordResolver interface {
	Resolve(ctx context.Context, target, project string) []string
}

// KeystoreOptions configures the keystore strategy.
type KeystoreOptions struct {
	Repositories []string
	Extensions   []string
	// Concurrency bounds the number of archives of a repository opened
	// concurrently.
	Concurrency int
}

// Keystore extracts the certificates of the keystore archives committed to
// git repositories.
type Keystore struct {
	discoverer Discoverer
	resolver   PasswordResolver
	opts       KeystoreOptions
	logger     kitlog.Logger

	open       openArchiveFunc
	unverified readUnverifiedFunc
}

// NewKeystore returns the keystore extraction strategy.
func NewKeystore(discoverer Discoverer, resolver PasswordResolver, opts KeystoreOptions, logger kitlog.Logger) *Keystore {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{"jks"}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultKeystoreConcurrency
	}
	return &Keystore{
		discoverer: discoverer,
		resolver:   resolver,
		opts:       opts,
		logger:     kitlog.With(logger, "strategy", certwatch.ExtractorKeystore),
		open:       openArchive,
		unverified: readUnverified,
	}
}

func (k *Keystore) Type() certwatch.ExtractorType { return certwatch.ExtractorKeystore }

// ExportAll scans the repositories one after the other, since they share the
// scratch area. Archives that cannot be unlocked are logged and skipped, an
// error is only returned when the scratch area cannot be managed.
func (k *Keystore) ExportAll(ctx context.Context) ([]*certwatch.Certificate, error) {
	var (
		certs    []*certwatch.Certificate
		unlocked *multierror.Error
	)
	for _, repo := range k.opts.Repositories {
		repoCerts, err := k.exportRepository(ctx, repo)
		certs = append(certs, repoCerts...)
		if err != nil {
			unlocked = multierror.Append(unlocked, err)
		}
		if err := k.discoverer.Cleanup(ctx, repo); err != nil {
			return nil, ctxerr.Wrapf(ctx, err, "cleanup checkout of %s", repo)
		}
	}
	if err := unlocked.ErrorOrNil(); err != nil {
		level.Warn(k.logger).Log("msg", "some archives were not exported", "err", err)
	}
	return certs, nil
}

// exportRepository returns the certificates of the archives of repo, in path
// order, and the aggregated errors of the archives that could not be
// exported.
func (k *Keystore) exportRepository(ctx context.Context, repo string) ([]*certwatch.Certificate, error) {
	files, err := k.discoverer.CollectFiles(ctx, repo, k.opts.Extensions)
	if err != nil {
		return nil, ctxerr.Wrapf(ctx, err, "collect archives of %s", repo)
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	results := make([][]*certwatch.Certificate, len(paths))
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(k.opts.Concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = nil
					errs[i] = ctxerr.Errorf(ctx, "export %s: panic: %v", p, r)
				}
			}()
			results[i], errs[i] = k.exportArchive(ctx, p, files[p])
			return nil
		})
	}
	_ = g.Wait()

	var (
		certs  []*certwatch.Certificate
		merged *multierror.Error
	)
	for i := range paths {
		certs = append(certs, results[i]...)
		if errs[i] != nil {
			merged = multierror.Append(merged, errs[i])
		}
	}
	level.Info(k.logger).Log("msg", "repository scanned", "repo", repo, "archives", len(paths), "certificates", len(certs))
	return certs, merged.ErrorOrNil()
}

func (k *Keystore) exportArchive(ctx context.Context, path, project string) ([]*certwatch.Certificate, error) {
	logger := kitlog.With(k.logger, "archive", path, "project", project)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ctxerr.Wrapf(ctx, err, "read %s", path)
	}

	// the empty password is always the last resort
	candidates := append(k.resolver.Resolve(ctx, path, project), "")
	var entries []archiveEntry
	unlocked := false
	for _, pwd := range candidates {
		// wrong passwords are expected, they are not logged
		if entries, err = k.open(path, data, pwd); err == nil {
			unlocked = true
			break
		}
	}
	switch {
	case unlocked:
		level.Info(logger).Log("msg", "archive unlocked")
	default:
		// certificates are not encrypted in a Java keystore, they can be
		// listed without the password
		var uerr error
		if entries, uerr = k.unverified(path, data); uerr != nil {
			level.Error(logger).Log("msg", "archive not unlocked", "candidates", len(candidates), "err", err, "unverified_err", uerr)
			return nil, ctxerr.Wrapf(ctx, ErrArchiveLocked, "%s", path)
		}
		level.Warn(logger).Log("msg", "archive read without integrity check, no candidate password matched", "candidates", len(candidates))
	}

	var certs []*certwatch.Certificate
	for _, e := range entries {
		if e.Cert == nil {
			level.Debug(logger).Log("msg", "skipping entry", "alias", e.Alias, "reason", e.Skip)
			continue
		}
		certs = append(certs, &certwatch.Certificate{
			Alias:        e.Alias,
			Project:      project,
			SerialNumber: e.Cert.SerialNumber.String(),
			NotBefore:    e.Cert.NotBefore,
			NotAfter:     e.Cert.NotAfter,
			Source:       path,
			IssueID:      certwatch.NoIssue,
		})
	}
	return certs, nil
}
