package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ivlev/stagecast/internal/manifest"
)

type textContentPayload struct {
	Layer string `json:"layer"`
	Text  string `json:"text"`
}

type textContentOp struct {
	layerOp
	p textContentPayload
}

func newTextContent(env *Env, payload json.RawMessage) (Operation, error) {
	op := &textContentOp{layerOp: layerOp{env: env, typ: TypeTextContent}}
	ref, err := decodeLayerPayload(TypeTextContent, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

// UpdateManifest replaces the text in every keyframe, covering both the
// static single-keyframe form and the animated form.
func (op *textContentOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	if l.Text == nil {
		return fmt.Errorf("%s: layer %q has no text data", op.typ, op.layerRef)
	}
	l.Text.Doc.EachStyle(func(s *manifest.TextStyle) {
		s.Text = op.p.Text
	})
	return nil
}

func (op *textContentOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}
