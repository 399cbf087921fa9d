package ops

import (
	"context"
	"encoding/json"
)

type visibilityPayload struct {
	Layer  string `json:"layer"`
	Hidden bool   `json:"hidden"`
}

type visibilityOp struct {
	layerOp
	p visibilityPayload
}

func newVisibility(env *Env, payload json.RawMessage) (Operation, error) {
	op := &visibilityOp{layerOp: layerOp{env: env, typ: TypeVisibility}}
	ref, err := decodeLayerPayload(TypeVisibility, payload, &op.p)
	if err != nil {
		return nil, err
	}
	op.layerRef = ref
	return op, nil
}

func (op *visibilityOp) UpdateManifest(ctx context.Context) error {
	l, err := op.layer()
	if err != nil {
		return err
	}
	l.Hidden = op.p.Hidden
	return nil
}

func (op *visibilityOp) UpdateStage(ctx context.Context, st Stage) error {
	return op.syncStage(ctx, st)
}
