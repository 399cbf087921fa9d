package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivlev/stagecast/internal/manifest"
	"github.com/ivlev/stagecast/internal/ops"
)

func testEnv(t *testing.T) *ops.Env {
	t.Helper()
	doc := `{
		"fr": 30, "w": 1280, "h": 720, "ip": 0, "op": 90,
		"layers": [
			{"ty": 5, "nm": "title", "ln": "#title", "ip": 0, "op": 90,
			 "t": {"d": {"k": [{"t": 0, "s": {"t": "Hello", "s": 40}}]}}},
			{"ty": 5, "nm": "caption", "ln": "#caption", "ip": 0, "op": 90,
			 "t": {"d": {"k": [{"t": 0, "s": {"t": "Sub", "s": 20}}]}}},
			{"ty": 2, "nm": "photo", "ln": "#photo", "refId": "img_0", "ip": 0, "op": 90}
		],
		"assets": [{"id": "img_0", "p": "photo.png"}]
	}`
	m, err := manifest.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return &ops.Env{Manifest: m, Original: m.Clone(), Log: zerolog.Nop()}
}

// countStage records sync order and render count.
type countStage struct {
	mu      sync.Mutex
	synced  []string
	renders int
}

func (s *countStage) SyncLayer(ctx context.Context, l *manifest.Layer) error {
	s.mu.Lock()
	s.synced = append(s.synced, l.HTMLID)
	s.mu.Unlock()
	return nil
}

func (s *countStage) DropLayer(ctx context.Context, layerUUID string) error { return nil }

func (s *countStage) Render(ctx context.Context) error {
	s.mu.Lock()
	s.renders++
	s.mu.Unlock()
	return nil
}

// countLoader records every Load batch.
type countLoader struct {
	mu      sync.Mutex
	batches [][]*manifest.Asset
}

func (l *countLoader) Load(ctx context.Context, assets []*manifest.Asset) error {
	l.mu.Lock()
	l.batches = append(l.batches, assets)
	l.mu.Unlock()
	return nil
}

func desc(typ ops.Type, payload string) Descriptor {
	return Descriptor{Type: typ, Payload: json.RawMessage(payload)}
}

func TestBatchRendersOnce(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	changes := []Descriptor{
		desc(ops.TypeTextContent, `{"layer": "#title", "text": "One"}`),
		desc(ops.TypeTextContent, `{"layer": "#caption", "text": "Two"}`),
		desc(ops.TypeVisibility, `{"layer": "#photo", "hidden": true}`),
	}
	if err := p.ApplyChangeList(context.Background(), changes, Options{ShouldUpdateStage: true}); err != nil {
		t.Fatalf("ApplyChangeList failed: %v", err)
	}

	if st.renders != 1 {
		t.Errorf("Expected exactly 1 render for the batch, got %d", st.renders)
	}
	if len(st.synced) != 3 {
		t.Errorf("Expected 3 stage syncs, got %d", len(st.synced))
	}
}

func TestSameLayerOrderPreserved(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	// Size set last must win over the one set first
	changes := []Descriptor{
		desc(ops.TypeFontProperty, `{"layer": "#title", "fontSize": 10}`),
		desc(ops.TypeFontProperty, `{"layer": "#title", "fontSize": 72}`),
	}
	if err := p.ApplyChangeList(context.Background(), changes, Options{}); err != nil {
		t.Fatalf("ApplyChangeList failed: %v", err)
	}

	got := env.Manifest.LayerByName("#title").Text.Doc.Keyframes[0].Style.FontSize
	if got != 72 {
		t.Errorf("Expected last write 72 to win, got %v", got)
	}
}

func TestInvalidDescriptorRejectsWholeBatch(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	changes := []Descriptor{
		desc(ops.TypeTextContent, `{"layer": "#title", "text": "Changed"}`),
		desc(ops.TypeShapeFillColor, `{"layer": "#title", "color": "nope"}`),
	}
	err := p.ApplyChangeList(context.Background(), changes, Options{ShouldUpdateStage: true})
	if err == nil {
		t.Fatal("Expected batch rejected")
	}

	// Validation runs before mutation: the first edit must not have landed
	got := env.Manifest.LayerByName("#title").Text.Doc.Keyframes[0].Style.Text
	if got != "Hello" {
		t.Errorf("Manifest mutated despite rejected batch: %q", got)
	}
	if st.renders != 0 {
		t.Errorf("Expected no render for a rejected batch, got %d", st.renders)
	}
}

func TestBatchLoadsAssetsOnce(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	changes := []Descriptor{
		desc(ops.TypeImageAsset, `{"layer": "#photo", "src": "a.png"}`),
		desc(ops.TypeFontProperty, `{"layer": "#title", "fontFamily": "Roboto"}`),
	}
	if err := p.ApplyChangeList(context.Background(), changes, Options{ShouldUpdateStage: true}); err != nil {
		t.Fatalf("ApplyChangeList failed: %v", err)
	}

	if len(ld.batches) != 1 {
		t.Fatalf("Expected one batched load, got %d", len(ld.batches))
	}
	if len(ld.batches[0]) != 2 {
		t.Errorf("Expected 2 assets in the batch, got %d", len(ld.batches[0]))
	}
}

func TestConcurrentGroupsShareManifest(t *testing.T) {
	// Three groups run their manifest updates in parallel and each allocates
	// an asset record on the shared document. Run with -race.
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	before := len(env.Manifest.Assets)
	changes := []Descriptor{
		desc(ops.TypeImageAsset, `{"layer": "#photo", "src": "swap.png"}`),
		desc(ops.TypeFontProperty, `{"layer": "#title", "fontFamily": "Roboto"}`),
		desc(ops.TypeFontProperty, `{"layer": "#caption", "fontFamily": "Inter"}`),
	}
	if err := p.ApplyChangeList(context.Background(), changes, Options{}); err != nil {
		t.Fatalf("ApplyChangeList failed: %v", err)
	}

	if got := len(env.Manifest.Assets); got != before+3 {
		t.Fatalf("Expected %d assets after the batch, got %d", before+3, got)
	}
	seen := make(map[string]bool)
	for _, a := range env.Manifest.Assets {
		if seen[a.ID] {
			t.Errorf("Duplicate asset id %s", a.ID)
		}
		seen[a.ID] = true
		if env.Manifest.AssetByID(a.ID) == nil {
			t.Errorf("Asset %s not resolvable", a.ID)
		}
	}
	ref := env.Manifest.LayerByName("#photo").RefID
	if ref == "img_0" || env.Manifest.AssetByID(ref) == nil {
		t.Errorf("Photo not rebound to a fresh asset, refId %s", ref)
	}
}

func TestNoLoadWithoutAssets(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	if err := p.ApplyChange(context.Background(), ops.TypeVisibility,
		json.RawMessage(`{"layer": "#photo", "hidden": true}`), Options{}); err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	if len(ld.batches) != 0 {
		t.Errorf("Expected no load call, got %d", len(ld.batches))
	}
}

func TestManifestOnlyModeSkipsStage(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}
	p := New(env, ld, st, Hooks{}, zerolog.Nop())

	err := p.ApplyChange(context.Background(), ops.TypeVisibility,
		json.RawMessage(`{"layer": "#photo", "hidden": true}`), Options{ShouldUpdateStage: false})
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}

	if !env.Manifest.LayerByName("#photo").Hidden {
		t.Error("Manifest not updated")
	}
	if len(st.synced) != 0 || st.renders != 0 {
		t.Errorf("Stage touched in manifest-only mode: %d syncs, %d renders", len(st.synced), st.renders)
	}
}

func TestOnAppliedFiresPerOperation(t *testing.T) {
	env := testEnv(t)
	st := &countStage{}
	ld := &countLoader{}

	var applied []ops.Type
	p := New(env, ld, st, Hooks{OnApplied: func(op ops.Operation) {
		applied = append(applied, op.Type())
	}}, zerolog.Nop())

	changes := []Descriptor{
		desc(ops.TypeTextContent, `{"layer": "#title", "text": "A"}`),
		desc(ops.TypeVisibility, `{"layer": "#photo", "hidden": true}`),
	}
	if err := p.ApplyChangeList(context.Background(), changes, Options{}); err != nil {
		t.Fatalf("ApplyChangeList failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("Expected 2 applied callbacks, got %d", len(applied))
	}
	if applied[0] != ops.TypeTextContent || applied[1] != ops.TypeVisibility {
		t.Errorf("Applied order wrong: %v", applied)
	}
}
