// Package pipeline sequences change operations against the manifest, the
// asset loader and the stage. Same-layer edits run in request order; edits
// on different layers run concurrently; a batch loads assets once and
// renders once.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/stagecast/internal/manifest"
	"github.com/ivlev/stagecast/internal/ops"
)

// Stage extends the operations' stage surface with the batch render.
type Stage interface {
	ops.Stage
	Render(ctx context.Context) error
}

// Loader resolves a batch of assets.
type Loader interface {
	Load(ctx context.Context, assets []*manifest.Asset) error
}

// Descriptor is one edit request as received from the host.
type Descriptor struct {
	Type    ops.Type        `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Options control a pipeline run.
type Options struct {
	// ShouldUpdateStage applies the manifest state to the live scene graph
	// and renders once. Off, the batch only mutates the document.
	ShouldUpdateStage bool
}

// Hooks observe applied operations (the per-layer "saved" side channel).
type Hooks struct {
	OnApplied func(op ops.Operation)
}

// Pipeline applies edits to one composition.
type Pipeline struct {
	env    *ops.Env
	loader Loader
	stage  Stage
	hooks  Hooks
	log    zerolog.Logger
}

// New wires a pipeline.
func New(env *ops.Env, loader Loader, stage Stage, hooks Hooks, log zerolog.Logger) *Pipeline {
	return &Pipeline{env: env, loader: loader, stage: stage, hooks: hooks, log: log}
}

// ApplyChange applies a single edit: manifest, then its assets, then
// optionally the stage and one render.
func (p *Pipeline) ApplyChange(ctx context.Context, typ ops.Type, payload json.RawMessage, opt Options) error {
	return p.ApplyChangeList(ctx, []Descriptor{{Type: typ, Payload: payload}}, opt)
}

// ApplyChangeList applies a batch. All operations are constructed (and
// validated) before anything mutates, then:
//
//  1. manifest updates run sequentially within a layer group, groups
//     concurrently,
//  2. every operation's assets resolve in one batched load,
//  3. stage updates run with the same grouping, then exactly one render.
func (p *Pipeline) ApplyChangeList(ctx context.Context, changes []Descriptor, opt Options) error {
	built := make([]ops.Operation, 0, len(changes))
	for _, d := range changes {
		op, err := ops.New(p.env, d.Type, d.Payload)
		if err != nil {
			return err
		}
		built = append(built, op)
	}

	groups := groupByLayer(built)

	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			for _, op := range grp {
				if err := op.UpdateManifest(gctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var toLoad []*manifest.Asset
	for _, op := range built {
		toLoad = append(toLoad, op.AssetsToLoad()...)
	}
	if len(toLoad) > 0 {
		if err := p.loader.Load(ctx, toLoad); err != nil {
			return err
		}
	}

	if opt.ShouldUpdateStage {
		g, gctx := errgroup.WithContext(ctx)
		for _, grp := range groups {
			grp := grp
			g.Go(func() error {
				for _, op := range grp {
					if err := op.UpdateStage(gctx, p.stage); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := p.stage.Render(ctx); err != nil {
			return err
		}
	}

	if p.hooks.OnApplied != nil {
		for _, op := range built {
			p.hooks.OnApplied(op)
		}
	}
	return nil
}

// groupByLayer partitions operations into per-layer groups plus one group
// for operations without a layer target, preserving request order within
// each group and the groups' first-seen order.
func groupByLayer(built []ops.Operation) [][]ops.Operation {
	index := make(map[string]int)
	var groups [][]ops.Operation
	for _, op := range built {
		key := op.LayerKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}
