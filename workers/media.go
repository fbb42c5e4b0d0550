package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
	"listing_canon/storage"
)

const maxMediaBytes = 50 * 1024 * 1024

// MediaStore tracks which image URLs still need mirroring.
type MediaStore interface {
	PendingMedia(ctx context.Context, limit, maxAttempts int) ([]storage.MediaTask, error)
	MarkMediaArchived(ctx context.Context, url, key, hash string, size int64) error
	MarkMediaFailed(ctx context.Context, url string, attempts, maxAttempts int, reason string) error
}

// Uploader stores an object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string, meta map[string]string) error
}

// MediaWorker downloads listing images, hashes them, and uploads them to
// the archive under a content-addressed key.
type MediaWorker struct {
	store     MediaStore
	client    *http.Client
	uploader  Uploader
	cfg       config.MediaConfig
	userAgent string
	prefix    string
	pause     time.Duration
	Log       LogFunc
}

// NewMediaWorker creates a new media worker
func NewMediaWorker(cfg *config.Config, store MediaStore, uploader Uploader, client *http.Client) *MediaWorker {
	mc := cfg.Media
	if mc.BatchSize <= 0 {
		mc.BatchSize = 20
	}
	if mc.MaxAttempts <= 0 {
		mc.MaxAttempts = 3
	}
	return &MediaWorker{
		store:     store,
		client:    client,
		uploader:  uploader,
		cfg:       mc,
		userAgent: cfg.Fetch.UserAgent,
		prefix:    "media",
		pause:     200 * time.Millisecond,
		Log:       NoOpLogger,
	}
}

// MediaResult is the outcome of mirroring one image.
type MediaResult struct {
	URL         string
	Key         string
	ContentHash string
	Size        int64
	Error       error
}

// Process downloads one image, computes its hash, and uploads it.
func (w *MediaWorker) Process(ctx context.Context, rawURL string) MediaResult {
	result := MediaResult{URL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		result.Error = fmt.Errorf("unsupported media url %q", rawURL)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return result
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("download: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("download status: %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return result
	}
	if len(data) > maxMediaBytes {
		result.Error = errors.New("media larger than 50MB")
		return result
	}
	if len(data) == 0 {
		result.Error = errors.New("empty media body")
		return result
	}
	result.Size = int64(len(data))

	hash := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	ext := guessExtension(u.Path, contentType)
	// media/{hash_prefix}/{hash}.{ext}
	result.Key = path.Join(w.prefix, result.ContentHash[:2], result.ContentHash+ext)

	meta := map[string]string{"source-url": rawURL}
	if err := w.uploader.Upload(ctx, result.Key, bytes.NewReader(data), contentType, meta); err != nil {
		result.Error = fmt.Errorf("upload: %w", err)
		return result
	}
	return result
}

// guessExtension determines file extension from URL or content-type
func guessExtension(urlPath, contentType string) string {
	ext := strings.ToLower(path.Ext(urlPath))
	if isImageExt(ext) {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}

	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(contentType)) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".svg":
		return true
	}
	return false
}

// Run mirrors a batch every interval until ctx is cancelled.
func (w *MediaWorker) Run(ctx context.Context) {
	interval := w.cfg.Interval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Infof("Media worker started (every %v, batch %d)", interval, w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			logging.Infof("Media worker stopping")
			return
		case <-ticker.C:
			if _, _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Errorf("Media worker: %v", err)
			}
		}
	}
}

// RunOnce mirrors one batch of pending images and reports how many were
// archived and how many failed.
func (w *MediaWorker) RunOnce(ctx context.Context) (int, int, error) {
	tasks, err := w.store.PendingMedia(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("query pending media: %w", err)
	}
	if len(tasks) == 0 {
		return 0, 0, nil
	}
	logging.Debugf("Media worker: processing %d items", len(tasks))

	var processed, failed int
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}
		if i > 0 && w.pause > 0 {
			time.Sleep(w.pause)
		}

		result := w.Process(ctx, task.URL)
		if result.Error != nil {
			failed++
			attempts := task.Attempts + 1
			logging.Warnf("Media worker: failed %s (attempt %d): %v", task.URL, attempts, result.Error)
			if attempts >= w.cfg.MaxAttempts {
				w.Log(models.LogLevelWarn, "", fmt.Sprintf("giving up on media %s: %v", task.URL, result.Error))
			}
			if err := w.store.MarkMediaFailed(ctx, task.URL, attempts, w.cfg.MaxAttempts, result.Error.Error()); err != nil {
				return processed, failed, fmt.Errorf("mark media failed: %w", err)
			}
			continue
		}

		if err := w.store.MarkMediaArchived(ctx, task.URL, result.Key, result.ContentHash, result.Size); err != nil {
			return processed, failed, fmt.Errorf("mark media archived: %w", err)
		}
		processed++
		logging.Debugf("Media worker: uploaded %s -> %s (%d bytes)", task.URL, result.Key, result.Size)
	}

	if processed > 0 || failed > 0 {
		msg := fmt.Sprintf("media archive: %d uploaded, %d failed", processed, failed)
		logging.Infof("Media worker: %s", msg)
		w.Log(models.LogLevelInfo, "", msg)
	}
	return processed, failed, nil
}
