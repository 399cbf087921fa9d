// Package assets resolves manifest asset records into decoded resources
// before stage updates run. Individual failures are logged and recorded, not
// fatal: the rest of the batch proceeds and dependent layers degrade.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ivlev/stagecast/internal/manifest"
)

// Bounded decoder pool, same compromise as the encoder pool it replaces.
const loadWorkers = 4

// AssetLoadError reports one asset that failed to resolve.
type AssetLoadError struct {
	AssetID string
	Src     string
	Err     error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("asset %s (%s): %v", e.AssetID, e.Src, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }

// Fetcher retrieves raw bytes for an asset source.
type Fetcher interface {
	Fetch(ctx context.Context, src string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, src string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, src string) ([]byte, error) {
	return f(ctx, src)
}

// Resource is one resolved asset. Image is nil for audio/video sources,
// which stay as raw bytes for the media elements.
type Resource struct {
	Asset *manifest.Asset
	Image image.Image
	Data  []byte
	Err   error
}

// Loader batches asset resolution. Raw bytes are cached with LRU eviction
// and concurrent fetches of the same source are deduplicated.
type Loader struct {
	fetcher Fetcher
	dpi     int
	log     zerolog.Logger

	cache  *lru.Cache[string, []byte]
	flight singleflight.Group

	mu        sync.RWMutex
	resources map[string]*Resource
}

// New creates a loader. cacheEntries bounds the raw byte cache; dpi is the
// rasterization density for document sources.
func New(fetcher Fetcher, cacheEntries, dpi int, log zerolog.Logger) (*Loader, error) {
	if cacheEntries <= 0 {
		cacheEntries = 128
	}
	if dpi <= 0 {
		dpi = 150
	}
	cache, err := lru.New[string, []byte](cacheEntries)
	if err != nil {
		return nil, err
	}
	return &Loader{
		fetcher:   fetcher,
		dpi:       dpi,
		log:       log,
		cache:     cache,
		resources: make(map[string]*Resource),
	}, nil
}

// Load resolves the batch. Per-asset failures are logged and kept on the
// Resource; only context cancellation fails the whole call.
func (l *Loader) Load(ctx context.Context, assets []*manifest.Asset) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for _, a := range assets {
		a := a
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := l.resolve(ctx, a)
			if res.Err != nil {
				l.log.Warn().Str("asset", a.ID).Str("src", a.Src()).Err(res.Err).
					Msg("asset load failed, dependent layers will degrade")
			}
			l.mu.Lock()
			l.resources[a.ID] = res
			l.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Resource returns the resolved record for an asset id.
func (l *Loader) Resource(assetID string) (*Resource, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.resources[assetID]
	return r, ok
}

// Image returns the decoded image for an asset id, if it resolved to one.
func (l *Loader) Image(assetID string) (image.Image, bool) {
	r, ok := l.Resource(assetID)
	if !ok || r.Err != nil || r.Image == nil {
		return nil, false
	}
	return r.Image, true
}

func (l *Loader) resolve(ctx context.Context, a *manifest.Asset) *Resource {
	res := &Resource{Asset: a}
	src := a.Src()

	switch {
	case a.Kind == "font":
		// Font fetch-and-decode lives outside this system; the record alone
		// is enough for the stage to pick a face.
		return res

	case strings.HasPrefix(src, "qr:"):
		img, err := generateQR(strings.TrimPrefix(src, "qr:"), a.Width)
		if err != nil {
			res.Err = &AssetLoadError{AssetID: a.ID, Src: src, Err: err}
			return res
		}
		res.Image = img
		return res
	}

	data, err := l.fetch(ctx, src)
	if err != nil {
		res.Err = &AssetLoadError{AssetID: a.ID, Src: src, Err: err}
		return res
	}
	res.Data = data

	switch {
	case a.Kind == "audio" || a.Kind == "video":
		// Raw bytes only; the simulated media elements carry their own clock
		// and decoding is out of scope here.
		return res

	case strings.HasSuffix(strings.ToLower(src), ".pdf"):
		img, err := renderDocumentPage(data, a.Page, l.dpi)
		if err != nil {
			res.Err = &AssetLoadError{AssetID: a.ID, Src: src, Err: err}
			return res
		}
		res.Image = img
		return res

	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			res.Err = &AssetLoadError{AssetID: a.ID, Src: src, Err: err}
			return res
		}
		res.Image = img
		return res
	}
}

// fetch retrieves bytes through the LRU cache, collapsing concurrent
// requests for the same source into one fetch.
func (l *Loader) fetch(ctx context.Context, src string) ([]byte, error) {
	if data, ok := l.cache.Get(src); ok {
		return data, nil
	}
	v, err, _ := l.flight.Do(src, func() (interface{}, error) {
		if data, ok := l.cache.Get(src); ok {
			return data, nil
		}
		data, err := l.fetcher.Fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		l.cache.Add(src, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
