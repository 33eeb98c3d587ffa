package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/SergeiKhy/link-preview/internal/netguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryAssetStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemoryAssetStore() *memoryAssetStore {
	return &memoryAssetStore{objects: make(map[string][]byte)}
}

func (s *memoryAssetStore) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	if s.fail {
		return "", errors.New("store is down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 10 {
		for x := 0; x < w; x += 10 {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func imageServer(t *testing.T, contentType string, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testClient() *http.Client {
	return netguard.NewClient(netguard.ClientOptions{AllowPrivate: true, MaxRedirects: 5})
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

// TestOptimizer_Optimize_Success проверяет создание двух вариантов
func TestOptimizer_Optimize_Success(t *testing.T) {
	srv, _ := imageServer(t, "image/png", pngBytes(t, 2000, 1000))
	store := newMemoryAssetStore()
	opt := NewOptimizer(Config{}, store, testClient(), zap.NewNop())

	res, err := opt.Optimize(context.Background(), srv.URL+"/cover.png", "01HX")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.test/previews/01HX/full.jpg", res.OptimizedURL)
	assert.Equal(t, "https://cdn.test/previews/01HX/thumb.jpg", res.ThumbnailURL)
	assert.Equal(t, 2000, res.Width)
	assert.Equal(t, 1000, res.Height)

	w, h := decodeSize(t, store.objects["previews/01HX/full.jpg"])
	assert.Equal(t, 1200, w)
	assert.Equal(t, 600, h)

	w, h = decodeSize(t, store.objects["previews/01HX/thumb.jpg"])
	assert.Equal(t, 400, w)
	assert.Equal(t, 200, h)
}

// TestOptimizer_Optimize_UsesRecentResults проверяет LRU последних результатов
func TestOptimizer_Optimize_UsesRecentResults(t *testing.T) {
	srv, hits := imageServer(t, "image/png", pngBytes(t, 300, 300))
	opt := NewOptimizer(Config{}, newMemoryAssetStore(), testClient(), zap.NewNop())

	first, err := opt.Optimize(context.Background(), srv.URL, "a")
	require.NoError(t, err)
	second, err := opt.Optimize(context.Background(), srv.URL, "a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	_, err = opt.Optimize(context.Background(), srv.URL, "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

// TestOptimizer_Optimize_NotImage проверяет отказ для не-изображений
func TestOptimizer_Optimize_NotImage(t *testing.T) {
	srv, _ := imageServer(t, "text/html", []byte("<html><body>nope</body></html>"))
	opt := NewOptimizer(Config{}, newMemoryAssetStore(), testClient(), zap.NewNop())

	_, err := opt.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrOptimization)
	assert.ErrorIs(t, err, ErrNotImage)
}

// TestOptimizer_Optimize_NonSuccessStatus проверяет отказ при ответе не 2xx
func TestOptimizer_Optimize_NonSuccessStatus(t *testing.T) {
	body := pngBytes(t, 300, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusMultipleChoices)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	store := newMemoryAssetStore()
	opt := NewOptimizer(Config{}, store, testClient(), zap.NewNop())

	_, err := opt.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrOptimization)
	assert.Empty(t, store.objects)
}

// TestOptimizer_Optimize_SniffsOctetStream проверяет определение по сигнатуре
func TestOptimizer_Optimize_SniffsOctetStream(t *testing.T) {
	srv, _ := imageServer(t, "application/octet-stream", pngBytes(t, 50, 50))
	opt := NewOptimizer(Config{}, newMemoryAssetStore(), testClient(), zap.NewNop())

	_, err := opt.Optimize(context.Background(), srv.URL, "x")
	assert.NoError(t, err)
}

// TestOptimizer_Optimize_TooLarge проверяет лимиты размера и пикселей
func TestOptimizer_Optimize_TooLarge(t *testing.T) {
	body := pngBytes(t, 500, 500)
	srv, _ := imageServer(t, "image/png", body)

	bySize := NewOptimizer(Config{MaxBytes: 64}, newMemoryAssetStore(), testClient(), zap.NewNop())
	_, err := bySize.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.ErrorIs(t, err, ErrOptimization)

	byPixels := NewOptimizer(Config{MaxPixels: 1000}, newMemoryAssetStore(), testClient(), zap.NewNop())
	_, err = byPixels.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

// TestOptimizer_Optimize_StoreFailure проверяет ошибку хранилища
func TestOptimizer_Optimize_StoreFailure(t *testing.T) {
	srv, _ := imageServer(t, "image/png", pngBytes(t, 100, 100))
	store := newMemoryAssetStore()
	store.fail = true
	opt := NewOptimizer(Config{}, store, testClient(), zap.NewNop())

	_, err := opt.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrOptimization)

	noStore := NewOptimizer(Config{}, nil, testClient(), zap.NewNop())
	_, err = noStore.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrNoStore)
}

// TestOptimizer_Optimize_BlocksPrivate проверяет клиент по умолчанию
func TestOptimizer_Optimize_BlocksPrivate(t *testing.T) {
	srv, hits := imageServer(t, "image/png", pngBytes(t, 10, 10))
	opt := NewOptimizer(Config{}, newMemoryAssetStore(), nil, zap.NewNop())

	_, err := opt.Optimize(context.Background(), srv.URL, "x")
	assert.ErrorIs(t, err, ErrOptimization)
	assert.Equal(t, int32(0), hits.Load())
}

// TestResizeImage проверяет пропорции и отсутствие увеличения
func TestResizeImage(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 120, 80))
	out := resizeImage(small, 400)
	assert.Equal(t, 120, out.Bounds().Dx())
	assert.Equal(t, 80, out.Bounds().Dy())

	tall := image.NewRGBA(image.Rect(0, 0, 500, 2000))
	out = resizeImage(tall, 400)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 400, out.Bounds().Dy())
}
