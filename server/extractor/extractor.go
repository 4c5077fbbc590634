// Package extractor pulls certificates out of the configured sources
// (keystore archives found in git repositories, AWS Certificate Manager) and
// merges them into a single deduplicated batch.
package extractor

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Extractor is an extraction strategy, it returns every certificate held by
// one kind of source.
type Extractor interface {
	Type() certwatch.ExtractorType
	ExportAll(ctx context.Context) ([]*certwatch.Certificate, error)
}

// Coordinator runs the configured extraction strategies and merges their
// results.
type Coordinator struct {
	extractors map[certwatch.ExtractorType]Extractor
	enabled    []string
	logger     kitlog.Logger
}

// NewCoordinator returns a Coordinator running, in the order of enabled, the
// extractors whose type matches an enabled name.
func NewCoordinator(enabled []string, logger kitlog.Logger, extractors ...Extractor) *Coordinator {
	byType := make(map[certwatch.ExtractorType]Extractor, len(extractors))
	for _, e := range extractors {
		byType[e.Type()] = e
	}
	return &Coordinator{
		extractors: byType,
		enabled:    enabled,
		logger:     kitlog.With(logger, "component", "extractor"),
	}
}

// Extract runs the enabled strategies concurrently and returns their
// certificates, deduplicated by identity. Results are merged in the
// configured order of the strategies, so the first configured strategy wins
// for a given identity. A failing strategy contributes no certificate.
func (c *Coordinator) Extract(ctx context.Context) []*certwatch.Certificate {
	var selected []Extractor
	seen := make(map[certwatch.ExtractorType]bool)
	for _, name := range c.enabled {
		typ, ok := certwatch.ParseExtractorType(name)
		if !ok {
			level.Warn(c.logger).Log("msg", "unknown extraction strategy, skipping", "strategy", name)
			continue
		}
		e, ok := c.extractors[typ]
		if !ok {
			level.Warn(c.logger).Log("msg", "extraction strategy not available, skipping", "strategy", name)
			continue
		}
		if seen[typ] {
			continue
		}
		seen[typ] = true
		selected = append(selected, e)
	}

	results := make([][]*certwatch.Certificate, len(selected))
	var wg sync.WaitGroup
	for i, e := range selected {
		i, e := i, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, e)
		}()
	}
	wg.Wait()

	var all []*certwatch.Certificate
	for _, r := range results {
		all = append(all, r...)
	}
	certs := certwatch.Dedupe(all)
	level.Info(c.logger).Log("msg", "extraction done", "strategies", len(selected), "found", len(all), "distinct", len(certs))
	return certs
}

func (c *Coordinator) run(ctx context.Context, e Extractor) (certs []*certwatch.Certificate) {
	logger := kitlog.With(c.logger, "strategy", e.Type())
	defer func() {
		if r := recover(); r != nil {
			level.Error(logger).Log("msg", "extraction strategy panicked", "err", fmt.Sprint(r))
			certs = nil
		}
	}()

	certs, err := e.ExportAll(ctx)
	if err != nil {
		err = ctxerr.Wrapf(ctx, err, "extract with %s", e.Type())
		level.Error(logger).Log("msg", "extraction strategy failed", "err", err)
		return nil
	}
	level.Debug(logger).Log("msg", "extraction strategy done", "found", len(certs))
	return certs
}
