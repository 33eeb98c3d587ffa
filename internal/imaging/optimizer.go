// Package imaging загружает изображение превью, уменьшает его и сохраняет
// полноразмерный вариант и миниатюру в хранилище ассетов.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/SergeiKhy/link-preview/internal/metrics"
	"github.com/SergeiKhy/link-preview/internal/netguard"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

var (
	ErrOptimization  = errors.New("не удалось оптимизировать изображение")
	ErrNotImage      = errors.New("ресурс не является изображением")
	ErrImageTooLarge = errors.New("изображение слишком большое")
	ErrNoStore       = errors.New("хранилище изображений не настроено")
)

const (
	DefaultMaxBytes     = 10 << 20
	DefaultMaxPixels    = 40_000_000
	DefaultFullSize     = 1200
	DefaultThumbSize    = 400
	DefaultQuality      = 85
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	defaultCacheSize    = 512
	defaultCacheTTL     = time.Hour
)

// AssetStore сохраняет байты под ключом и возвращает публичный URL
type AssetStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Config: параметры оптимизатора
type Config struct {
	MaxBytes     int64
	MaxPixels    int
	FullSize     int
	ThumbSize    int
	Quality      int
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	CacheSize    int
	CacheTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = DefaultMaxPixels
	}
	if c.FullSize <= 0 {
		c.FullSize = DefaultFullSize
	}
	if c.ThumbSize <= 0 {
		c.ThumbSize = DefaultThumbSize
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}

// Result: адреса сохранённых вариантов
type Result struct {
	OptimizedURL string `json:"optimized_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// Optimizer реализует загрузку, ресайз и сохранение изображений
type Optimizer struct {
	cfg    Config
	client *http.Client
	store  AssetStore
	recent *expirable.LRU[string, *Result]
	logger *zap.Logger
}

// NewOptimizer создаёт оптимизатор. client == nil: клиент netguard.
func NewOptimizer(cfg Config, store AssetStore, client *http.Client, logger *zap.Logger) *Optimizer {
	cfg = cfg.withDefaults()
	if client == nil {
		client = netguard.NewClient(netguard.ClientOptions{
			Timeout:      cfg.Timeout,
			MaxRedirects: cfg.MaxRedirects,
		})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		cfg:    cfg,
		client: client,
		store:  store,
		recent: expirable.NewLRU[string, *Result](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger,
	}
}

// Optimize загружает imageURL и сохраняет варианты для превью previewID.
// Любая ошибка оборачивает ErrOptimization.
func (o *Optimizer) Optimize(ctx context.Context, imageURL, previewID string) (*Result, error) {
	if o.store == nil {
		return nil, wrap(ErrNoStore)
	}

	cacheKey := imageURL + "|" + previewID
	if res, ok := o.recent.Get(cacheKey); ok {
		metrics.ImageOptimizations.WithLabelValues("cached").Inc()
		copied := *res
		return &copied, nil
	}

	data, err := o.fetch(ctx, imageURL)
	if err != nil {
		metrics.ImageOptimizations.WithLabelValues("fetch_error").Inc()
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		metrics.ImageOptimizations.WithLabelValues("decode_error").Inc()
		return nil, wrap(fmt.Errorf("%w: %v", ErrNotImage, err))
	}
	if cfg.Width*cfg.Height > o.cfg.MaxPixels {
		metrics.ImageOptimizations.WithLabelValues("too_large").Inc()
		return nil, wrap(fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		metrics.ImageOptimizations.WithLabelValues("decode_error").Inc()
		return nil, wrap(fmt.Errorf("%w: %v", ErrNotImage, err))
	}

	full, err := encodeJPEG(resizeImage(src, o.cfg.FullSize), o.cfg.Quality)
	if err != nil {
		return nil, wrap(err)
	}
	thumb, err := encodeJPEG(resizeImage(src, o.cfg.ThumbSize), o.cfg.Quality)
	if err != nil {
		return nil, wrap(err)
	}

	fullURL, err := o.store.Put(ctx, AssetKey(previewID, "full.jpg"), "image/jpeg", full)
	if err != nil {
		metrics.ImageOptimizations.WithLabelValues("store_error").Inc()
		return nil, wrap(err)
	}
	thumbURL, err := o.store.Put(ctx, AssetKey(previewID, "thumb.jpg"), "image/jpeg", thumb)
	if err != nil {
		metrics.ImageOptimizations.WithLabelValues("store_error").Inc()
		return nil, wrap(err)
	}

	res := &Result{
		OptimizedURL: fullURL,
		ThumbnailURL: thumbURL,
		Width:        cfg.Width,
		Height:       cfg.Height,
	}
	o.recent.Add(cacheKey, res)
	metrics.ImageOptimizations.WithLabelValues("ok").Inc()

	o.logger.Debug("Image optimized",
		zap.String("image_url", imageURL),
		zap.String("preview_id", previewID),
		zap.Int("original_bytes", len(data)),
		zap.Int("full_bytes", len(full)),
		zap.Int("thumb_bytes", len(thumb)),
	)

	copied := *res
	return &copied, nil
}

func (o *Optimizer) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, wrap(err)
	}
	req.Header.Set("Accept", "image/*")
	if o.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", o.cfg.UserAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, wrap(fmt.Errorf("сервер вернул статус %d", resp.StatusCode))
	}
	if resp.ContentLength > o.cfg.MaxBytes {
		return nil, wrap(fmt.Errorf("%w: %d байт", ErrImageTooLarge, resp.ContentLength))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, o.cfg.MaxBytes+1))
	if err != nil {
		return nil, wrap(err)
	}
	if int64(len(data)) > o.cfg.MaxBytes {
		return nil, wrap(ErrImageTooLarge)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		// Часть CDN отдаёт application/octet-stream: проверяем сигнатуру
		if !strings.HasPrefix(http.DetectContentType(data), "image/") {
			return nil, wrap(fmt.Errorf("%w: %s", ErrNotImage, mediaType))
		}
	}

	return data, nil
}

// AssetKey строит ключ объекта для варианта изображения превью
func AssetKey(previewID, name string) string {
	return "previews/" + previewID + "/" + name
}

func wrap(err error) error {
	if errors.Is(err, ErrOptimization) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOptimization, err)
}
