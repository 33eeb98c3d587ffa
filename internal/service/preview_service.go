package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SergeiKhy/link-preview/internal/cache"
	"github.com/SergeiKhy/link-preview/internal/extractor"
	"github.com/SergeiKhy/link-preview/internal/imaging"
	"github.com/SergeiKhy/link-preview/internal/metrics"
	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/SergeiKhy/link-preview/internal/normalize"
	"github.com/SergeiKhy/link-preview/internal/repository"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"mvdan.cc/xurls/v2"
)

// Сообщения для пользователя
const (
	msgInvalidURL  = "Invalid URL format"
	msgUnsafeLink  = "URL failed security validation"
	msgUnavailable = "Could not load preview"
)

const defaultResolveTimeout = 20 * time.Second

var httpURLRe = xurls.Strict()

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Validator проверяет безопасность ссылки
type Validator interface {
	Validate(ctx context.Context, rawURL, title, description string) *models.ValidationResult
	ReviewContent(res *models.ValidationResult, rawURL, title, description string) *models.ValidationResult
}

// Extractor загружает страницу и извлекает метаданные
type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts extractor.Options) (*extractor.Metadata, error)
}

// ImageOptimizer пересохраняет изображение превью
type ImageOptimizer interface {
	Optimize(ctx context.Context, imageURL, previewID string) (*imaging.Result, error)
}

// ResolveInput: параметры разрешения превью
type ResolveInput struct {
	URL              string
	Refresh          bool
	ValidateSecurity bool
}

// ResolveResult: ответ ResolvePreview
type ResolveResult struct {
	Success   bool                `json:"success"`
	Data      *models.LinkPreview `json:"data,omitempty"`
	FromCache bool                `json:"from_cache"`
	Warnings  []string            `json:"warnings,omitempty"`
	Errors    []string            `json:"errors,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// PreviewService интерфейс сервиса превью
type PreviewService interface {
	ResolvePreview(ctx context.Context, input ResolveInput) (*ResolveResult, error)
	GetCachedPreview(ctx context.Context, rawURL string) (*models.LinkPreview, error)
	InvalidatePreview(ctx context.Context, rawURL string) error
	DetectAndResolve(ctx context.Context, text string, validateSecurity bool) (*ResolveResult, error)
}

// PreviewServiceConfig: параметры сервиса превью
type PreviewServiceConfig struct {
	ResolveTimeout time.Duration
	Extract        extractor.Options
}

// previewService реализация сервиса превью
type previewService struct {
	cache     *cache.PreviewCache
	previews  repository.PreviewRepository
	validator Validator
	extractor Extractor
	optimizer ImageOptimizer
	cfg       PreviewServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewPreviewService создаёт сервис. previews и optimizer могут быть nil:
// без них сервис работает только с кэшем и исходными изображениями.
func NewPreviewService(
	previewCache *cache.PreviewCache,
	previews repository.PreviewRepository,
	validator Validator,
	ext Extractor,
	optimizer ImageOptimizer,
	cfg PreviewServiceConfig,
	logger *zap.Logger,
) PreviewService {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &previewService{
		cache:     previewCache,
		previews:  previews,
		validator: validator,
		extractor: ext,
		optimizer: optimizer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// ResolvePreview возвращает превью из кэша или выполняет проверку,
// извлечение и сохранение. Ошибка классифицируется через errors.Is:
// ErrInvalidURL, ErrUnsafeLink, ErrPreviewUnavailable.
func (s *previewService) ResolvePreview(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	key, err := normalize.Normalize(input.URL)
	if err != nil {
		metrics.Resolutions.WithLabelValues("invalid").Inc()
		return &ResolveResult{Error: msgInvalidURL, Errors: []string{msgInvalidURL}}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()

	var previousID string
	if input.Refresh {
		if prev, ok := s.cache.Get(ctx, key); ok {
			previousID = prev.ID
		}
		if err := s.invalidate(ctx, key); err != nil {
			s.logger.Warn("Failed to invalidate preview before refresh", zap.String("url", key), zap.Error(err))
		}
	} else if preview, ok := s.lookup(ctx, key); ok {
		return cachedResult(preview), nil
	}

	load := func(ctx context.Context) (*models.LinkPreview, error) {
		return s.load(ctx, input.URL, key, previousID, input.ValidateSecurity)
	}

	var preview *models.LinkPreview
	if input.ValidateSecurity {
		preview, _, err = s.cache.Load(ctx, key, load)
	} else {
		// Непроверенный результат не попадает в общий кэш
		preview, _, err = s.cache.Share(ctx, "unvalidated:"+key, load)
	}
	if err != nil {
		return s.failure(key, err)
	}

	metrics.Resolutions.WithLabelValues("extracted").Inc()
	return &ResolveResult{
		Success:  true,
		Data:     preview,
		Warnings: preview.SecurityWarnings,
	}, nil
}

// lookup ищет свежую запись в кэше, затем в долговременном хранилище
func (s *previewService) lookup(ctx context.Context, key string) (*models.LinkPreview, bool) {
	if preview, ok := s.cache.Get(ctx, key); ok {
		return preview, true
	}
	if s.previews == nil {
		return nil, false
	}

	preview, err := s.previews.GetFresh(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrPreviewNotFound) {
			metrics.CacheErrors.WithLabelValues("durable", "get").Inc()
			s.logger.Warn("Durable preview lookup failed", zap.String("url", key), zap.Error(err))
		}
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("durable").Inc()
	s.cache.Put(ctx, key, preview)
	return preview, true
}

// load выполняет проверку, извлечение, оптимизацию изображения и сохранение.
// rawURL сохраняется как введён, key служит нормализованным ключом.
func (s *previewService) load(ctx context.Context, rawURL, key, previousID string, validate bool) (*models.LinkPreview, error) {
	var validation *models.ValidationResult
	if validate {
		validation = s.validator.Validate(ctx, key, "", "")
		metrics.SecurityScores.Observe(float64(validation.SecurityScore))
		if !validation.IsValid {
			return nil, &RejectedError{Result: validation}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	md, err := s.extractor.Extract(ctx, key, s.cfg.Extract)
	metrics.ExtractDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrPreviewUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPreviewUnavailable, err)
	}

	if validate {
		validation = s.validator.ReviewContent(validation, key, md.Title, md.Description)
		if !validation.IsValid {
			return nil, &RejectedError{Result: validation}
		}
	}

	now := s.now()
	preview := &models.LinkPreview{
		ID:            s.stableID(ctx, key, previousID),
		URL:           strings.TrimSpace(rawURL),
		NormalizedURL: key,
		Domain:        normalize.Domain(normalize.Host(key)),
		Title:         md.Title,
		Description:   md.Description,
		SiteName:      md.SiteName,
		ImageURL:      md.ImageURL,
		FaviconURL:    md.FaviconURL,
		VideoURL:      md.VideoURL,
		LinkType:      md.LinkType,
		Author:        md.Author,
		PublishedAt:   md.PublishedAt,
		Images:        md.Images,
		Metadata:      md.Extra,
		ExtractedAt:   now,
		ExpiresAt:     now.Add(s.cache.TTL()),
	}
	if md.FinalURL != "" && md.FinalURL != key {
		if preview.Metadata == nil {
			preview.Metadata = make(map[string]string)
		}
		preview.Metadata["final_url"] = md.FinalURL
	}
	if validation != nil {
		score := validation.SecurityScore
		preview.SecurityScore = &score
		preview.SecurityWarnings = append([]string(nil), validation.Warnings...)
	}

	s.optimizeImage(ctx, preview)

	// Отмена после извлечения: результат отбрасывается целиком
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if validate && s.previews != nil {
		id, err := s.previews.Upsert(ctx, preview)
		if err != nil {
			s.logger.Warn("Failed to persist preview", zap.String("url", key), zap.Error(err))
		} else {
			preview.ID = id
		}
	}

	s.logger.Info("Preview extracted",
		zap.String("url", key),
		zap.String("id", preview.ID),
		zap.String("link_type", preview.LinkType),
	)

	return preview, nil
}

// stableID возвращает id уже существующей записи либо новый ULID
func (s *previewService) stableID(ctx context.Context, key, previousID string) string {
	if s.previews != nil {
		id, err := s.previews.LookupID(ctx, key)
		if err == nil {
			return id
		}
		if !errors.Is(err, repository.ErrPreviewNotFound) {
			s.logger.Warn("Failed to lookup preview id", zap.String("url", key), zap.Error(err))
		}
	}
	if previousID != "" {
		return previousID
	}
	return ulid.Make().String()
}

// optimizeImage пересохраняет изображение; при ошибке остаётся исходный URL
func (s *previewService) optimizeImage(ctx context.Context, preview *models.LinkPreview) {
	if preview.ImageURL == "" {
		return
	}
	preview.OriginalImageURL = preview.ImageURL
	if s.optimizer == nil {
		return
	}

	res, err := s.optimizer.Optimize(ctx, preview.ImageURL, preview.ID)
	if err != nil {
		s.logger.Warn("Image optimization failed, using original image",
			zap.String("image_url", preview.ImageURL),
			zap.Error(err),
		)
		return
	}

	preview.ImageURL = res.OptimizedURL
	preview.ThumbnailURL = res.ThumbnailURL
}

func (s *previewService) failure(key string, err error) (*ResolveResult, error) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		metrics.Resolutions.WithLabelValues("rejected").Inc()
		s.logger.Info("URL rejected by security validation",
			zap.String("url", key),
			zap.Int("score", rejected.Result.SecurityScore),
			zap.Strings("errors", rejected.Result.Errors),
		)
		return &ResolveResult{
			Error:    msgUnsafeLink,
			Warnings: rejected.Result.Warnings,
			Errors:   rejected.Result.Errors,
		}, err
	}

	metrics.Resolutions.WithLabelValues("failed").Inc()
	s.logger.Warn("Preview resolution failed", zap.String("url", key), zap.Error(err))

	if !errors.Is(err, ErrPreviewUnavailable) {
		err = fmt.Errorf("%w: %w", ErrPreviewUnavailable, err)
	}
	return &ResolveResult{Error: msgUnavailable, Errors: []string{msgUnavailable}}, err
}

func cachedResult(preview *models.LinkPreview) *ResolveResult {
	metrics.Resolutions.WithLabelValues("cache_hit").Inc()
	return &ResolveResult{
		Success:   true,
		Data:      preview,
		FromCache: true,
		Warnings:  preview.SecurityWarnings,
	}
}

// GetCachedPreview читает превью без сетевых обращений
func (s *previewService) GetCachedPreview(ctx context.Context, rawURL string) (*models.LinkPreview, error) {
	key, err := normalize.Normalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	preview, ok := s.lookup(ctx, key)
	if !ok {
		return nil, ErrPreviewNotFound
	}
	return preview, nil
}

// InvalidatePreview удаляет превью из кэша и помечает запись недействительной.
// Повторная загрузка не выполняется.
func (s *previewService) InvalidatePreview(ctx context.Context, rawURL string) error {
	key, err := normalize.Normalize(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if err := s.invalidate(ctx, key); err != nil {
		return err
	}

	s.logger.Info("Preview invalidated", zap.String("url", key))
	return nil
}

// invalidate убирает ключ из всех уровней кэша и помечает запись в БД
// недействительной. Ошибка кэша только логируется.
func (s *previewService) invalidate(ctx context.Context, key string) error {
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("Failed to invalidate cache", zap.String("url", key), zap.Error(err))
	}

	if s.previews != nil {
		if err := s.previews.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("failed to invalidate preview: %w", err)
		}
	}
	return nil
}

// DetectAndResolve находит первую http(s)-ссылку в тексте и разрешает её
func (s *previewService) DetectAndResolve(ctx context.Context, text string, validateSecurity bool) (*ResolveResult, error) {
	for _, candidate := range httpURLRe.FindAllString(text, -1) {
		if !isHTTPURL(candidate) {
			continue
		}
		return s.ResolvePreview(ctx, ResolveInput{URL: candidate, ValidateSecurity: validateSecurity})
	}
	return &ResolveResult{Error: "No link found in text"}, ErrNoURLFound
}
