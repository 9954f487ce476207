// Package trends picks the subjects for a production run: a caller-chosen
// subject first, then ranked candidates that are neither archived nor
// already selected.
package trends

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Source yields candidate subjects in ranked order.
type Source interface {
	Candidates(ctx context.Context) ([]string, error)
}

// Filter returns candidates in their original order, minus blanks, anything
// archived, anything already selected and repeats. Names are compared after
// studio.NormalizeSubject.
func Filter(candidates, archived, selected []string) []string {
	seen := make(map[string]struct{}, len(archived)+len(selected)+len(candidates))
	for _, name := range archived {
		seen[studio.NormalizeSubject(name)] = struct{}{}
	}
	for _, name := range selected {
		seen[studio.NormalizeSubject(name)] = struct{}{}
	}
	out := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		name := studio.NormalizeSubject(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Discoverer fills the target list from its sources.
type Discoverer struct {
	sources []Source
	limit   int
	logger  *zap.Logger
}

// NewDiscoverer consults sources in order until studio.MaxTargets subjects are
// chosen. Nil sources are ignored.
func NewDiscoverer(logger *zap.Logger, sources ...Source) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Discoverer{sources: kept, limit: studio.MaxTargets, logger: logger}
}

// Fill returns at most studio.MaxTargets subjects. A non-blank userSubject
// takes slot 0 and is never filtered against the archive. Source failures are
// logged and skipped, so the result may be short or empty.
func (d *Discoverer) Fill(ctx context.Context, userSubject string, archived []string) []string {
	targets := make([]string, 0, d.limit)
	if s := studio.NormalizeSubject(userSubject); s != "" {
		targets = append(targets, s)
	}
	for _, src := range d.sources {
		if len(targets) >= d.limit {
			break
		}
		candidates, err := src.Candidates(ctx)
		if err != nil {
			d.logger.Warn("trend discovery failed", zap.Error(err))
			continue
		}
		for _, name := range Filter(candidates, archived, targets) {
			if len(targets) >= d.limit {
				break
			}
			targets = append(targets, name)
		}
	}
	d.logger.Debug("targets selected", zap.Strings("targets", targets))
	return targets
}
