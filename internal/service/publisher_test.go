package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/logger"
)

// fakeStorage records uploads in memory. failKeySuffix makes uploads for
// matching keys fail, to exercise the all-or-nothing contract.
type fakeStorage struct {
	mu            sync.Mutex
	objects       map[string][]byte
	metadata      map[string]map[string]string
	failKeySuffix string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (s *fakeStorage) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string, metadata map[string]string) error {
	if s.failKeySuffix != "" && strings.HasSuffix(key, s.failKeySuffix) {
		return errors.New("upload rejected")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.metadata[key] = metadata
	return nil
}

func (s *fakeStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pngServer(t *testing.T, width, height int) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
}

func testImagination() *domain.Imagination {
	return &domain.Imagination{
		ID:         "imag-1",
		BusinessID: "biz-1",
		UserID:     "user-1",
		Prompt:     "a red fox in the snow",
		Engine:     domain.EngineMidjourney,
	}
}

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text", Output: io.Discard, ServiceName: "test"})
}

func TestPublisher_PublishSplitsIntoQuadrants(t *testing.T) {
	srv := pngServer(t, 64, 48)
	defer srv.Close()

	store := newFakeStorage()
	p := NewPublisher(store, quietLogger(), nil)

	results, err := p.Publish(context.Background(), testImagination(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	for i, res := range results {
		if res.Width != 64 || res.Height != 48 {
			t.Errorf("result %d: got %dx%d, want original 64x48", i, res.Width, res.Height)
		}
		if !strings.HasPrefix(res.URL, "https://cdn.test/imaginations/biz-1/user-1/") {
			t.Errorf("result %d: unexpected url %q", i, res.URL)
		}
	}

	keys := store.keys()
	if len(keys) != 4 {
		t.Fatalf("expected 4 uploaded objects, got %d", len(keys))
	}
	for i, key := range keys {
		if !strings.HasSuffix(key, ".png") {
			t.Errorf("key %q missing png extension", key)
		}
		if meta := store.metadata[key]; meta["prompt"] != "a red fox in the snow" {
			t.Errorf("key %d metadata: got %v", i, meta)
		}
		// Each section must decode back as a proper quadrant.
		img, err := png.Decode(bytes.NewReader(store.objects[key]))
		if err != nil {
			t.Fatalf("stored object %q is not a png: %v", key, err)
		}
		if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
			t.Errorf("section %q: got %dx%d, want 32x24", key, img.Bounds().Dx(), img.Bounds().Dy())
		}
	}
}

func TestPublisher_PublishAllOrNothing(t *testing.T) {
	srv := pngServer(t, 64, 64)
	defer srv.Close()

	store := newFakeStorage()
	store.failKeySuffix = "_3.png"
	p := NewPublisher(store, quietLogger(), nil)

	results, err := p.Publish(context.Background(), testImagination(), srv.URL)
	if err == nil {
		t.Fatal("expected error when one upload fails")
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestPublisher_PublishRejectsMissingURL(t *testing.T) {
	p := NewPublisher(newFakeStorage(), quietLogger(), nil)
	if _, err := p.Publish(context.Background(), testImagination(), ""); err == nil {
		t.Fatal("expected error for missing source url")
	}
}

func TestPublisher_PublishDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewPublisher(newFakeStorage(), quietLogger(), nil)
	if _, err := p.Publish(context.Background(), testImagination(), srv.URL); err == nil {
		t.Fatal("expected error for failed download")
	}
}

func TestPublisher_PublishBadImageData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	p := NewPublisher(newFakeStorage(), quietLogger(), nil)
	if _, err := p.Publish(context.Background(), testImagination(), srv.URL); err == nil {
		t.Fatal("expected error for undecodable body")
	}
}
