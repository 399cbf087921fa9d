package assets

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	qrcode "github.com/skip2/go-qrcode"
)

// renderDocumentPage rasterizes one page of a PDF into an image at the
// loader's DPI, so document pages can back image layers directly.
func renderDocumentPage(data []byte, page, dpi int) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()
	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (%d pages)", page, doc.NumPage())
	}
	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("rasterize page %d: %w", page, err)
	}
	return img, nil
}

// generateQR builds a QR image asset from inline content ("qr:" sources).
func generateQR(content string, size int) (image.Image, error) {
	if content == "" {
		return nil, fmt.Errorf("empty qr content")
	}
	if size <= 0 {
		size = 256
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return q.Image(size), nil
}

// FileFetcher reads sources from the local filesystem, relative to Root.
type FileFetcher struct {
	Root string
}

func (f FileFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	path := src
	if f.Root != "" && !strings.HasPrefix(src, "/") {
		path = f.Root + "/" + src
	}
	return os.ReadFile(path)
}

// HTTPFetcher retrieves http(s) sources and falls back to the file fetcher
// for everything else.
type HTTPFetcher struct {
	Client *http.Client
	Files  FileFetcher
}

func (f HTTPFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return f.Files.Fetch(ctx, src)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", src, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
