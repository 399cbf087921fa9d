package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LayerType mirrors the bodymovin layer type codes.
type LayerType int

const (
	LayerPrecomp LayerType = 0
	LayerSolid   LayerType = 1
	LayerImage   LayerType = 2
	LayerNull    LayerType = 3
	LayerShape   LayerType = 4
	LayerText    LayerType = 5
	LayerAudio   LayerType = 6
	LayerVideo   LayerType = 9
)

func (t LayerType) String() string {
	switch t {
	case LayerPrecomp:
		return "precomp"
	case LayerSolid:
		return "solid"
	case LayerImage:
		return "image"
	case LayerNull:
		return "null"
	case LayerShape:
		return "shape"
	case LayerText:
		return "text"
	case LayerAudio:
		return "audio"
	case LayerVideo:
		return "video"
	}
	return fmt.Sprintf("layer(%d)", int(t))
}

// IsMedia reports whether layers of this type are backed by a media element
// that seeks and plays on its own clock.
func (t LayerType) IsMedia() bool {
	return t == LayerAudio || t == LayerVideo
}

// Manifest is the composition document. It is mutated in place by change
// operations; callers that need pre-edit values keep a Clone around.
// Operations on different layers run in concurrent goroutines, so the shared
// Layers and Assets slices are only touched through the guarded methods
// below; a layer's own fields belong to the one group editing that layer.
type Manifest struct {
	Framerate float64  `json:"fr"`
	Width     int      `json:"w"`
	Height    int      `json:"h"`
	InPoint   float64  `json:"ip"`
	OutPoint  float64  `json:"op"`
	Layers    []*Layer `json:"layers"`
	Assets    []*Asset `json:"assets"`

	mu sync.RWMutex
}

// Layer is one editable entity in the composition. UUIDs are assigned at
// parse time when the document does not carry them; HTMLID holds the
// human-readable "#name" id used by dynamic layers.
type Layer struct {
	UUID      string    `json:"uuid,omitempty"`
	Name      string    `json:"nm,omitempty"`
	HTMLID    string    `json:"ln,omitempty"`
	Type      LayerType `json:"ty"`
	RefID     string    `json:"refId,omitempty"`
	InPoint   float64   `json:"ip"`
	OutPoint  float64   `json:"op"`
	StartTime float64   `json:"st,omitempty"`
	Hidden    bool      `json:"hd,omitempty"`

	Text   *TextData `json:"t,omitempty"`
	Shapes []*Shape  `json:"shapes,omitempty"`

	SolidColor  string `json:"sc,omitempty"`
	SolidWidth  int    `json:"sw,omitempty"`
	SolidHeight int    `json:"sh,omitempty"`

	Media *MediaProperties `json:"mediaProperties,omitempty"`

	Muted               bool       `json:"muted,omitempty"`
	Volume              *float64   `json:"volume,omitempty"`
	VolumeEnvelope      []Keyframe `json:"volumeEnvelope,omitempty"`
	ContentTrimStart    float64    `json:"contentTrimStart,omitempty"`
	ContentTrimDuration float64    `json:"contentTrimDuration,omitempty"`
	PlaybackDuration    float64    `json:"playbackDuration,omitempty"`
	TimeRemap           []Keyframe `json:"tm,omitempty"`
}

// MediaProperties holds the framing fields shared by image and video layers.
type MediaProperties struct {
	Fit            string    `json:"fit,omitempty"` // "contain", "cover" or "fill"
	Crop           *Rect     `json:"crop,omitempty"`
	Zoom           float64   `json:"zoom,omitempty"`
	Padding        float64   `json:"padding,omitempty"`
	BackgroundFill []float64 `json:"backgroundFill,omitempty"`
}

// Rect is a normalized rectangle, all fields in [0, 1] of the source size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Asset is a referenced resource record. Asset ids are never reused: an edit
// that changes an asset's content allocates a fresh id so layers sharing the
// old id keep resolving to the old content.
type Asset struct {
	ID       string `json:"id"`
	Name     string `json:"nm,omitempty"`
	Path     string `json:"u,omitempty"`
	FileName string `json:"p,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
	Embedded int    `json:"e,omitempty"`

	Kind   string `json:"kind,omitempty"` // "image", "video", "audio", "font"
	Page   int    `json:"page,omitempty"` // page index for document sources
	Family string `json:"fFamily,omitempty"`
	Style  string `json:"fStyle,omitempty"`
}

// Src returns the full source reference of the asset.
func (a *Asset) Src() string {
	return a.Path + a.FileName
}

// NewAssetID allocates a globally unique asset id. Ids are never derived from
// slice positions: concurrent operations may be appending to Assets.
func NewAssetID() string {
	return uuid.NewString()
}

// NewLayerUUID allocates a unique layer id.
func NewLayerUUID() string {
	return uuid.NewString()
}

// Parse decodes a manifest document and assigns UUIDs to layers that lack
// them, so every layer is addressable before the first edit.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if m.Framerate <= 0 {
		return nil, fmt.Errorf("manifest: framerate must be positive, got %v", m.Framerate)
	}
	for _, l := range m.Layers {
		if l.UUID == "" {
			l.UUID = NewLayerUUID()
		}
	}
	return &m, nil
}

// Clone returns a deep copy of the manifest via a JSON round trip. The copy
// is used as the immutable pre-edit document for original-value lookups.
func (m *Manifest) Clone() *Manifest {
	m.mu.RLock()
	data, err := json.Marshal(m)
	m.mu.RUnlock()
	if err != nil {
		// The manifest was produced by Parse or by our own mutations and is
		// always marshalable; reaching this means memory corruption.
		panic(fmt.Sprintf("manifest: clone marshal: %v", err))
	}
	var c Manifest
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("manifest: clone unmarshal: %v", err))
	}
	return &c
}

// LayerByUUID finds a layer by its unique id.
func (m *Manifest) LayerByUUID(id string) *Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.Layers {
		if l.UUID == id {
			return l
		}
	}
	return nil
}

// LayerByName finds a layer by the "#name" convention, matching the ln field
// first and the display name second.
func (m *Manifest) LayerByName(name string) *Layer {
	if !strings.HasPrefix(name, "#") {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.Layers {
		if l.HTMLID == name {
			return l
		}
	}
	trimmed := strings.TrimPrefix(name, "#")
	for _, l := range m.Layers {
		if l.Name == trimmed {
			return l
		}
	}
	return nil
}

// FindLayer resolves a layer reference that is either a UUID or a "#name".
func (m *Manifest) FindLayer(ref string) *Layer {
	if strings.HasPrefix(ref, "#") {
		return m.LayerByName(ref)
	}
	return m.LayerByUUID(ref)
}

// AssetByID finds an asset record.
func (m *Manifest) AssetByID(id string) *Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.Assets {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// AddAsset appends a new asset record.
func (m *Manifest) AddAsset(a *Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Assets = append(m.Assets, a)
}

// AddLayer appends a layer to the composition.
func (m *Manifest) AddLayer(l *Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Layers = append(m.Layers, l)
}

// RemoveLayer deletes a layer by UUID. Its assets stay in the document;
// unreferenced assets are harmless and removing them could break other
// layers that still point at the same id.
func (m *Manifest) RemoveLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.Layers {
		if l.UUID == id {
			m.Layers = append(m.Layers[:i], m.Layers[i+1:]...)
			return true
		}
	}
	return false
}

// LayerList returns a snapshot of the layer stack, front to back. Iterating
// the snapshot is safe while concurrent edits add or remove layers.
func (m *Manifest) LayerList() []*Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Layer, len(m.Layers))
	copy(out, m.Layers)
	return out
}

// Duration returns the index of the last fully visible frame.
func (m *Manifest) Duration() float64 {
	return m.OutPoint - 1
}
