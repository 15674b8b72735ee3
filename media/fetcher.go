// Package media stores listing images as blobs keyed by item id.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxImageSize = 20 * 1024 * 1024
	partSuffix   = ".part"
)

// Mirror is an optional remote copy of the blob collection.
type Mirror interface {
	Put(ctx context.Context, name string, data io.Reader, contentType string) error
}

// Fetcher downloads each item's image once and returns a local reference.
type Fetcher struct {
	dir    string
	client *http.Client
	mirror Mirror
	log    *logrus.Entry

	mu    sync.Mutex
	known map[string]string
}

func NewFetcher(dir string, client *http.Client, mirror Mirror) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		dir:    dir,
		client: client,
		mirror: mirror,
		log:    logrus.WithField("component", "media"),
		known:  make(map[string]string),
	}
}

// Fetch returns the local blob path for itemID, downloading imageURL on
// first use. ok is false on any failure; callers may ignore it.
func (f *Fetcher) Fetch(ctx context.Context, itemID, imageURL string) (string, bool) {
	if itemID == "" || imageURL == "" {
		return "", false
	}

	f.mu.Lock()
	p, hit := f.known[itemID]
	f.mu.Unlock()
	if hit {
		return p, true
	}

	base := blobName(itemID)
	if cached := f.onDisk(base); cached != "" {
		f.remember(itemID, cached)
		return cached, true
	}

	p, err := f.download(ctx, base, imageURL)
	if err != nil {
		f.log.Warnf("image %s: %v", itemID, err)
		return "", false
	}
	f.remember(itemID, p)
	return p, true
}

// onDisk finds a completed blob for base, ignoring interrupted downloads.
func (f *Fetcher) onDisk(base string) string {
	matches, _ := filepath.Glob(filepath.Join(f.dir, base+".*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, partSuffix) {
			return m
		}
	}
	return ""
}

func (f *Fetcher) remember(itemID, p string) {
	f.mu.Lock()
	f.known[itemID] = p
	f.mu.Unlock()
}

func (f *Fetcher) download(ctx context.Context, base, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageSize {
		return "", fmt.Errorf("image larger than %d bytes", maxImageSize)
	}

	contentType := resp.Header.Get("Content-Type")
	name := base + guessExtension(imageURL, contentType)

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(f.dir, name)
	tmp := dst + partSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if f.mirror != nil {
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := f.mirror.Put(ctx, "images/"+name, bytes.NewReader(data), contentType); err != nil {
			f.log.Warnf("mirror %s: %v", name, err)
		}
	}
	return dst, nil
}

// blobName maps an item id onto a safe file name.
func blobName(itemID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, itemID)
}

// guessExtension determines file extension from URL or content-type
func guessExtension(rawURL, contentType string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := strings.ToLower(path.Ext(u))
	if isImageExt(ext) {
		return ext
	}

	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
