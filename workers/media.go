package workers

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

	"ikman_scrooper/logging"
	"ikman_scrooper/storage"
)

const (
	DefaultMaxImages = 10
	maxImageSize     = 20 * 1024 * 1024
	defaultImageExt  = "jpg"
)

// Uploader copies a downloaded image somewhere else, e.g. an S3 bucket.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// MediaWorker downloads listing images into <root>/<listing id>/.
type MediaWorker struct {
	client    *http.Client
	root      string
	headers   map[string]string
	maxImages int
	uploader  Uploader
	logger    *logging.Logger
}

func NewMediaWorker(client *http.Client, root string, headers map[string]string, maxImages int, logger *logging.Logger) *MediaWorker {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &MediaWorker{
		client:    client,
		root:      root,
		headers:   headers,
		maxImages: maxImages,
		logger:    logger,
	}
}

func (w *MediaWorker) SetUploader(u Uploader) { w.uploader = u }

// Download fetches up to maxImages of urls in order, one at a time, and
// writes each as image_<n>.<ext> where n is the URL's 1-based position.
// Empty or failing URLs are skipped. The listing's directory is returned
// however many images were saved.
func (w *MediaWorker) Download(ctx context.Context, listingID string, urls []string) string {
	dir := filepath.Join(w.root, listingID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.logger.Errorf("listing %s: %v", listingID, &storage.StorageError{Op: "mkdir", Path: dir, Err: err})
		return dir
	}

	if len(urls) > w.maxImages {
		urls = urls[:w.maxImages]
	}

	saved := 0
	for i, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		name := fmt.Sprintf("image_%d.%s", i+1, ImageExtension(u))
		if err := w.fetchOne(ctx, listingID, u, filepath.Join(dir, name)); err != nil {
			w.logger.Warnf("listing %s: image %s: %v", listingID, u, err)
			continue
		}
		saved++
	}

	w.logger.Infof("listing %s: saved %d/%d images", listingID, saved, len(urls))
	return dir
}

func (w *MediaWorker) fetchOne(ctx context.Context, listingID, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if err := os.WriteFile(dest, data, 0644); err != nil {
		return &storage.StorageError{Op: "write", Path: dest, Err: err}
	}

	if w.uploader != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		key := path.Join("listings", listingID, filepath.Base(dest))
		if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
			w.logger.Warnf("listing %s: upload %s: %v", listingID, key, err)
		}
	}
	return nil
}

// ImageExtension takes the extension from the URL path, ignoring any query
// string. Missing extensions and ones longer than 4 characters become jpg.
func ImageExtension(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.IndexByte(p, '/'); j >= 0 {
			p = p[j:]
		} else {
			p = ""
		}
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" || len(ext) > 4 {
		return defaultImageExt
	}
	return strings.ToLower(ext)
}
