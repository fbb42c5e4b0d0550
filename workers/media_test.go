package workers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"listing_canon/config"
	"listing_canon/models"
	"listing_canon/storage"
)

type memoryMedia struct {
	mu       sync.Mutex
	tasks    []storage.MediaTask
	archived map[string]string
	failed   map[string]int
	gaveUp   map[string]bool
}

func (m *memoryMedia) PendingMedia(_ context.Context, limit, _ int) ([]storage.MediaTask, error) {
	if len(m.tasks) > limit {
		return m.tasks[:limit], nil
	}
	return m.tasks, nil
}

func (m *memoryMedia) MarkMediaArchived(_ context.Context, url, key, _ string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[url] = key
	return nil
}

func (m *memoryMedia) MarkMediaFailed(_ context.Context, url string, attempts, maxAttempts int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[url] = attempts
	m.gaveUp[url] = attempts >= maxAttempts
	return nil
}

type memoryUploader struct {
	objects map[string][]byte
	types   map[string]string
}

func (u *memoryUploader) Upload(_ context.Context, key string, data io.Reader, contentType string, _ map[string]string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	u.objects[key] = b
	u.types[key] = contentType
	return nil
}

func TestMediaWorker_RunOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.jpeg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		case "/plan":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := &memoryMedia{
		tasks: []storage.MediaTask{
			{URL: srv.URL + "/photo.jpeg"},
			{URL: srv.URL + "/plan"},
			{URL: srv.URL + "/gone.jpg", Attempts: 2},
			{URL: "ftp://example.com/x.jpg"},
		},
		archived: map[string]string{},
		failed:   map[string]int{},
		gaveUp:   map[string]bool{},
	}
	uploader := &memoryUploader{objects: map[string][]byte{}, types: map[string]string{}}

	var logged []string
	cfg := &config.Config{Media: config.MediaConfig{BatchSize: 10, MaxAttempts: 3}}
	w := NewMediaWorker(cfg, store, uploader, srv.Client())
	w.pause = 0
	w.Log = func(level models.LogLevel, _, message string) { logged = append(logged, message) }

	processed, failed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 2 || failed != 2 {
		t.Fatalf("got %d processed, %d failed; want 2, 2", processed, failed)
	}

	photoKey := store.archived[srv.URL+"/photo.jpeg"]
	if !strings.HasPrefix(photoKey, "media/") || !strings.HasSuffix(photoKey, ".jpg") {
		t.Errorf("photo key: got %q", photoKey)
	}
	if string(uploader.objects[photoKey]) != "jpeg-bytes" {
		t.Errorf("uploaded content: got %q", uploader.objects[photoKey])
	}
	if planKey := store.archived[srv.URL+"/plan"]; !strings.HasSuffix(planKey, ".png") {
		t.Errorf("plan key: got %q", planKey)
	}

	if !store.gaveUp[srv.URL+"/gone.jpg"] {
		t.Error("third failed attempt should give up")
	}
	if store.failed["ftp://example.com/x.jpg"] != 1 || store.gaveUp["ftp://example.com/x.jpg"] {
		t.Errorf("ftp url: attempts %d", store.failed["ftp://example.com/x.jpg"])
	}
	if len(logged) != 2 {
		t.Errorf("run log lines: got %v", logged)
	}
}

func TestMediaWorker_SameContentSameKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("same"))
	}))
	defer srv.Close()

	uploader := &memoryUploader{objects: map[string][]byte{}, types: map[string]string{}}
	w := NewMediaWorker(&config.Config{}, &memoryMedia{}, uploader, srv.Client())

	a := w.Process(context.Background(), srv.URL+"/a")
	b := w.Process(context.Background(), srv.URL+"/b?size=large")
	if a.Error != nil || b.Error != nil {
		t.Fatalf("process: %v / %v", a.Error, b.Error)
	}
	if a.Key != b.Key || !strings.HasSuffix(a.Key, ".webp") {
		t.Errorf("keys: %q vs %q", a.Key, b.Key)
	}
	if len(uploader.objects) != 1 {
		t.Errorf("got %d objects, want 1", len(uploader.objects))
	}
}

func TestGuessExtension(t *testing.T) {
	tests := []struct {
		path, contentType, want string
	}{
		{"/a/photo.JPEG", "", ".jpg"},
		{"/a/photo.png", "image/jpeg", ".png"},
		{"/a/photo", "image/webp; charset=binary", ".webp"},
		{"/a/photo", "", ".jpg"},
	}
	for _, tt := range tests {
		if got := guessExtension(tt.path, tt.contentType); got != tt.want {
			t.Errorf("guessExtension(%q, %q) = %q, want %q", tt.path, tt.contentType, got, tt.want)
		}
	}
}
