package stage

import (
	"image"
	"sync"
)

// PixmapPool reuses *image.RGBA buffers across renders to keep GC pressure
// down when the stage re-renders at frame rate.
type PixmapPool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex
}

// NewPixmapPool creates an empty pool.
func NewPixmapPool() *PixmapPool {
	return &PixmapPool{pools: make(map[string]*sync.Pool)}
}

// Get returns a buffer for the rectangle, reusing a pooled one when the size
// matches.
func (p *PixmapPool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

// Put returns a buffer to the pool for reuse.
func (p *PixmapPool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}
