package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivlev/stagecast/internal/manifest"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

// mapFetcher serves sources from memory and counts fetches per source.
type mapFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	fetches map[string]int
}

func (f *mapFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	f.mu.Lock()
	if f.fetches == nil {
		f.fetches = make(map[string]int)
	}
	f.fetches[src]++
	data, ok := f.files[src]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such source: %s", src)
	}
	return data, nil
}

func (f *mapFetcher) count(src string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[src]
}

func TestLoadToleratesPerAssetFailures(t *testing.T) {
	fetcher := &mapFetcher{files: map[string][]byte{
		"good.png": pngBytes(t, 4, 4),
	}}
	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	batch := []*manifest.Asset{
		{ID: "a1", FileName: "good.png"},
		{ID: "a2", FileName: "missing.png"},
	}
	if err := l.Load(context.Background(), batch); err != nil {
		t.Fatalf("Load failed for the whole batch: %v", err)
	}

	if _, ok := l.Image("a1"); !ok {
		t.Error("Expected good asset to resolve to an image")
	}
	res, ok := l.Resource("a2")
	if !ok || res.Err == nil {
		t.Error("Expected failing asset recorded with its error")
	}
	if _, ok := l.Image("a2"); ok {
		t.Error("Expected no image for the failing asset")
	}
}

func TestFetchCachedAcrossLoads(t *testing.T) {
	fetcher := &mapFetcher{files: map[string][]byte{
		"photo.png": pngBytes(t, 4, 4),
	}}
	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	l.Load(ctx, []*manifest.Asset{{ID: "a1", FileName: "photo.png"}})
	l.Load(ctx, []*manifest.Asset{{ID: "a2", FileName: "photo.png"}})

	if n := fetcher.count("photo.png"); n != 1 {
		t.Errorf("Expected 1 fetch for a cached source, got %d", n)
	}
	if _, ok := l.Image("a2"); !ok {
		t.Error("Expected second asset to resolve from cache")
	}
}

func TestConcurrentLoadsShareFetch(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	blob := pngBytes(t, 4, 4)
	fetcher := FetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		defer inFlight.Add(-1)
		return blob, nil
	})

	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	batch := make([]*manifest.Asset, 8)
	for i := range batch {
		batch[i] = &manifest.Asset{ID: fmt.Sprintf("a%d", i), FileName: "same.png"}
	}
	if err := l.Load(context.Background(), batch); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if maxInFlight.Load() > 1 {
		t.Errorf("Expected fetches for one source collapsed, saw %d in flight", maxInFlight.Load())
	}
	for _, a := range batch {
		if _, ok := l.Image(a.ID); !ok {
			t.Errorf("Asset %s did not resolve", a.ID)
		}
	}
}

func TestQRSourceGeneratesImage(t *testing.T) {
	fetcher := &mapFetcher{files: map[string][]byte{}}
	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a := &manifest.Asset{ID: "qr1", FileName: "qr:https://example.com"}
	if err := l.Load(context.Background(), []*manifest.Asset{a}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	img, ok := l.Image("qr1")
	if !ok {
		t.Fatal("Expected QR image")
	}
	if img.Bounds().Dx() != 256 {
		t.Errorf("Expected default 256px QR, got %d", img.Bounds().Dx())
	}
	if n := fetcher.count("qr:https://example.com"); n != 0 {
		t.Errorf("QR source must not hit the fetcher, got %d fetches", n)
	}
}

func TestAudioStaysRawBytes(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	fetcher := &mapFetcher{files: map[string][]byte{"music.mp3": raw}}
	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a := &manifest.Asset{ID: "aud1", FileName: "music.mp3", Kind: "audio"}
	if err := l.Load(context.Background(), []*manifest.Asset{a}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, ok := l.Resource("aud1")
	if !ok || res.Err != nil {
		t.Fatalf("Expected audio resource, got %v", res)
	}
	if !bytes.Equal(res.Data, raw) {
		t.Errorf("Expected raw bytes kept, got %v", res.Data)
	}
	if res.Image != nil {
		t.Error("Audio must not decode to an image")
	}
}

func TestFontRecordSkipsFetch(t *testing.T) {
	fetcher := &mapFetcher{files: map[string][]byte{}}
	l, err := New(fetcher, 16, 150, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a := &manifest.Asset{ID: "f1", Kind: "font", Family: "Roboto"}
	if err := l.Load(context.Background(), []*manifest.Asset{a}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	res, ok := l.Resource("f1")
	if !ok || res.Err != nil {
		t.Fatalf("Expected font record, got %v", res)
	}
	if len(fetcher.fetches) != 0 {
		t.Errorf("Font record must not fetch, got %v", fetcher.fetches)
	}
}
