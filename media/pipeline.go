package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for progress and failures.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithEncoder replaces the encoder used for format.
func WithEncoder(format string, e Encoder) Option {
	return func(p *Pipeline) {
		p.encoders[format] = e
	}
}

// Pipeline is the one-shot scan, detect, generate and write job.
type Pipeline struct {
	cfg      Config
	log      *zap.Logger
	encoders map[string]Encoder
	gen      *Generator
}

// Report summarizes one Run.
type Report struct {
	Scanned   int
	Processed []string
	Skipped   []string
	Ignored   []string
	Pruned    []string
	Failed    map[string]error
	// ManifestReset is set when the previous manifest could not be parsed
	// and every asset was reprocessed.
	ManifestReset bool
	Manifest      Manifest
}

// NewPipeline validates cfg and returns a ready Pipeline.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		log:      zap.NewNop(),
		encoders: make(map[string]Encoder),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gen = NewGenerator(cfg, p.encoders)
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

type result struct {
	entry ManifestEntry
	err   error
}

// Run processes every changed asset and writes the manifest once. Per-asset
// failures are logged and reported; only failing to prepare the directories
// or to write the manifest returns an error.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	assets, ignored, err := Scan(p.cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	p.log.Info("scanned input", zap.String("dir", p.cfg.InputDir), zap.Int("assets", len(assets)))
	for _, name := range ignored {
		p.log.Debug("skipping non-image entry", zap.String("file", name))
	}

	rep := &Report{
		Scanned: len(assets),
		Ignored: ignored,
		Failed:  make(map[string]error),
	}

	prev, err := LoadManifest(p.cfg.ManifestPath)
	if errors.Is(err, ErrCorruptManifest) {
		p.log.Warn("could not parse existing manifest, starting fresh",
			zap.String("path", p.cfg.ManifestPath), zap.Error(err))
		rep.ManifestReset = true
	}

	var todo []RawAsset
	for _, a := range assets {
		if NeedsProcessing(prev, a) {
			todo = append(todo, a)
			continue
		}
		rep.Skipped = append(rep.Skipped, a.ID)
		p.log.Debug("up to date", zap.String("id", a.ID))
	}

	results := p.generateAll(ctx, todo)
	updates := make(map[string]ManifestEntry, len(todo))
	for i, a := range todo {
		r := results[i]
		if r.err != nil {
			rep.Failed[a.ID] = r.err
			continue
		}
		updates[a.ID] = r.entry
		rep.Processed = append(rep.Processed, a.ID)
		if old, ok := prev[a.ID]; ok {
			for _, name := range p.cfg.RemoveStale(old, r.entry) {
				p.log.Debug("removed stale output", zap.String("id", a.ID), zap.String("file", name))
			}
		}
	}

	next := prev.Merge(updates)
	if p.cfg.Prune {
		keep := make(map[string]bool, len(assets))
		for _, a := range assets {
			keep[a.ID] = true
		}
		next, rep.Pruned = next.Prune(keep)
		for _, id := range rep.Pruned {
			p.log.Info("pruned stale entry", zap.String("id", id))
		}
	}

	if err := SaveManifest(p.cfg.ManifestPath, next); err != nil {
		return rep, err
	}
	rep.Manifest = next

	p.log.Info("manifest updated",
		zap.String("path", p.cfg.ManifestPath),
		zap.Int("processed", len(rep.Processed)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("failed", len(rep.Failed)),
		zap.Duration("took", time.Since(start)))
	return rep, ctx.Err()
}

// generateAll runs the generator over todo. Results are index-aligned with
// todo so parallel workers never share a map.
func (p *Pipeline) generateAll(ctx context.Context, todo []RawAsset) []result {
	results := make([]result, len(todo))
	if p.cfg.Workers <= 1 {
		for i, a := range todo {
			results[i] = p.generateOne(ctx, a)
		}
		return results
	}

	var eg errgroup.Group
	eg.SetLimit(p.cfg.Workers)
	for i, a := range todo {
		eg.Go(func() error {
			results[i] = p.generateOne(ctx, a)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (p *Pipeline) generateOne(ctx context.Context, a RawAsset) result {
	if err := ctx.Err(); err != nil {
		return result{err: err}
	}
	start := time.Now()
	p.log.Info("processing", zap.String("file", a.ID+a.Ext))
	entry, err := p.gen.Generate(ctx, a)
	if err != nil {
		p.log.Error("error processing asset", zap.String("file", a.ID+a.Ext), zap.Error(err))
		return result{err: err}
	}
	p.log.Info("done",
		zap.String("id", a.ID),
		zap.Int("width", entry.Width),
		zap.Int("height", entry.Height),
		zap.Duration("took", time.Since(start)))
	return result{entry: entry}
}
