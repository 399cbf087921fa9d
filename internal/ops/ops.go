// Package ops defines the typed change operations that translate edit
// intents into manifest and stage mutations.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ivlev/stagecast/internal/manifest"
)

// Type identifies one change-operation kind. The set is closed: the registry
// below is checked against AllTypes at init, so a missing or extra entry
// fails on the first import instead of the first edit.
type Type string

const (
	TypeVisibility             Type = "VISIBILITY"
	TypeTextContent            Type = "TEXT_CONTENT"
	TypeFontProperty           Type = "FONT_PROPERTY"
	TypeShapeFillColor         Type = "SHAPE_FILL_COLOR"
	TypeShapeStrokeColor       Type = "SHAPE_STROKE_COLOR"
	TypeShapeGradientFillColor Type = "SHAPE_GRADIENT_FILL_COLOR"
	TypeTextFillColor          Type = "TEXT_FILL_COLOR"
	TypeImageAsset             Type = "IMAGE_ASSET"
	TypeImageLayerProperties   Type = "IMAGE_LAYER_PROPERTIES"
	TypeVideoLayerProperties   Type = "VIDEO_LAYER_PROPERTIES"
	TypeAudioAsset             Type = "AUDIO_ASSET"
	TypeAudioLayerProperties   Type = "AUDIO_LAYER_PROPERTIES"
	TypeLayerAudio             Type = "LAYER_AUDIO"
	TypeLayerVideo             Type = "LAYER_VIDEO"
	TypeAddLayer               Type = "ADD_LAYER"
	TypeRemoveLayer            Type = "REMOVE_LAYER"
)

// AllTypes lists every operation kind.
var AllTypes = []Type{
	TypeVisibility,
	TypeTextContent,
	TypeFontProperty,
	TypeShapeFillColor,
	TypeShapeStrokeColor,
	TypeShapeGradientFillColor,
	TypeTextFillColor,
	TypeImageAsset,
	TypeImageLayerProperties,
	TypeVideoLayerProperties,
	TypeAudioAsset,
	TypeAudioLayerProperties,
	TypeLayerAudio,
	TypeLayerVideo,
	TypeAddLayer,
	TypeRemoveLayer,
}

// ErrUnknownOperation reports a registry miss. This is a programmer error
// and propagates loudly instead of being swallowed.
var ErrUnknownOperation = errors.New("unknown change operation type")

// ValidationError reports a malformed edit descriptor. The operation is
// rejected before any manifest mutation.
type ValidationError struct {
	Op     Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s: %s", e.Op, e.Field, e.Reason)
}

// Stage is the slice of the live scene graph the operations mutate.
type Stage interface {
	// SyncLayer creates or recreates the stage object for a layer from its
	// current manifest state, using only already-loaded assets.
	SyncLayer(ctx context.Context, l *manifest.Layer) error
	// DropLayer removes a layer's stage object and its timeline subtree.
	DropLayer(ctx context.Context, layerUUID string) error
}

// Env is the shared state an operation works against: the live manifest, the
// immutable pre-edit clone, and a logger.
type Env struct {
	Manifest *manifest.Manifest
	Original *manifest.Manifest
	Log      zerolog.Logger
}

// Operation is one atomic, typed edit unit.
type Operation interface {
	Type() Type
	// LayerKey returns the target layer reference, or "" for operations that
	// do not modify a layer. Same-key operations are totally ordered by the
	// pipeline.
	LayerKey() string
	// UpdateManifest mutates the manifest only. It may allocate fresh assets
	// and stash them for AssetsToLoad.
	UpdateManifest(ctx context.Context) error
	// AssetsToLoad lists assets that must resolve before UpdateStage runs.
	AssetsToLoad() []*manifest.Asset
	// UpdateStage mutates the live scene graph to match the manifest.
	UpdateStage(ctx context.Context, st Stage) error
}

type builder func(env *Env, payload json.RawMessage) (Operation, error)

var registry = map[Type]builder{
	TypeVisibility:             newVisibility,
	TypeTextContent:            newTextContent,
	TypeFontProperty:           newFontProperty,
	TypeShapeFillColor:         newShapeFillColor,
	TypeShapeStrokeColor:       newShapeStrokeColor,
	TypeShapeGradientFillColor: newShapeGradientFillColor,
	TypeTextFillColor:          newTextFillColor,
	TypeImageAsset:             newImageAsset,
	TypeImageLayerProperties:   newImageLayerProperties,
	TypeVideoLayerProperties:   newVideoLayerProperties,
	TypeAudioAsset:             newAudioAsset,
	TypeAudioLayerProperties:   newAudioLayerProperties,
	TypeLayerAudio:             newLayerAudio,
	TypeLayerVideo:             newLayerVideo,
	TypeAddLayer:               newAddLayer,
	TypeRemoveLayer:            newRemoveLayer,
}

func init() {
	for _, t := range AllTypes {
		if registry[t] == nil {
			panic(fmt.Sprintf("ops: no builder registered for %s", t))
		}
	}
	if len(registry) != len(AllTypes) {
		panic("ops: registry has entries outside AllTypes")
	}
}

// New instantiates an operation for the descriptor. Constructing an
// operation validates its payload; nothing is mutated yet.
func New(env *Env, typ Type, payload json.RawMessage) (Operation, error) {
	b, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, typ)
	}
	return b(env, payload)
}

// IsAudio reports whether the operation kind edits layer audio, for the
// per-layer "saved" side-channel event.
func IsAudio(t Type) bool {
	return t == TypeLayerAudio || t == TypeAudioAsset || t == TypeAudioLayerProperties
}
