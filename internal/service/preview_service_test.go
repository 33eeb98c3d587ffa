package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SergeiKhy/link-preview/internal/cache"
	"github.com/SergeiKhy/link-preview/internal/extractor"
	"github.com/SergeiKhy/link-preview/internal/security"
	"github.com/SergeiKhy/link-preview/internal/service"
	"github.com/SergeiKhy/link-preview/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	svc       service.PreviewService
	cache     *cache.PreviewCache
	memory    *cache.MemoryStore
	previews  *mocks.MockPreviewRepository
	extractor *mocks.MockExtractor
	optimizer *mocks.MockOptimizer
	validator *mocks.MockValidator
}

// setupTestService создаёт сервис на моках без сетевых обращений
func setupTestService(t *testing.T, cfg service.PreviewServiceConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		memory:    cache.NewMemoryStore(100, time.Hour),
		previews:  mocks.NewMockPreviewRepository(),
		extractor: mocks.NewMockExtractor(),
		optimizer: mocks.NewMockOptimizer(),
		validator: mocks.NewMockValidator(),
	}
	env.cache = cache.NewPreviewCache(time.Hour, zap.NewNop(), env.memory)
	env.svc = service.NewPreviewService(env.cache, env.previews, env.validator, env.extractor, env.optimizer, cfg, zap.NewNop())
	return env
}

func resolve(t *testing.T, svc service.PreviewService, url string) *service.ResolveResult {
	t.Helper()
	res, err := svc.ResolvePreview(context.Background(), service.ResolveInput{URL: url, ValidateSecurity: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

// TestPreviewService_Resolve_SecondCallFromCache проверяет попадание в кэш
func TestPreviewService_Resolve_SecondCallFromCache(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	first := resolve(t, env.svc, "HTTPS://Example.com/article")
	assert.False(t, first.FromCache)
	assert.Equal(t, "https://example.com/article", first.Data.NormalizedURL)
	assert.Equal(t, "HTTPS://Example.com/article", first.Data.URL)
	assert.Equal(t, "example.com", first.Data.Domain)
	assert.NotEmpty(t, first.Data.ID)
	require.NotNil(t, first.Data.SecurityScore)
	assert.Equal(t, 90, *first.Data.SecurityScore)

	second := resolve(t, env.svc, "https://example.com/article#comments")
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, 1, env.extractor.Calls())
	assert.Equal(t, 1, env.previews.Upserts())
}

// TestPreviewService_Resolve_SingleFlight проверяет, что параллельные запросы
// одного URL выполняют одно извлечение
func TestPreviewService_Resolve_SingleFlight(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	release := env.extractor.Block()

	const callers = 20
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
				URL:              "https://example.com/shared",
				ValidateSecurity: true,
			})
			if err == nil && res.Success {
				success.Add(1)
				ids.Store(res.Data.ID, true)
			}
		}()
	}

	require.Eventually(t, func() bool { return env.extractor.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(callers), success.Load())
	assert.Equal(t, 1, env.extractor.Calls())

	distinct := 0
	ids.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	assert.Equal(t, 1, distinct)
}

// TestPreviewService_Resolve_RefreshKeepsID проверяет повторное извлечение с тем же id
func TestPreviewService_Resolve_RefreshKeepsID(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	first := resolve(t, env.svc, "https://example.com/news")
	env.extractor.SetMetadata("https://example.com/news", &extractor.Metadata{
		Title:    "Updated",
		LinkType: extractor.LinkTypeArticle,
	})

	res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/news",
		Refresh:          true,
		ValidateSecurity: true,
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "Updated", res.Data.Title)
	assert.Equal(t, first.Data.ID, res.Data.ID)
	assert.Equal(t, 2, env.extractor.Calls())
}

// TestPreviewService_Resolve_RefreshWithoutStorage проверяет сохранение id только через кэш
func TestPreviewService_Resolve_RefreshWithoutStorage(t *testing.T) {
	previewCache := cache.NewPreviewCache(time.Hour, nil, cache.NewMemoryStore(10, time.Hour))
	ext := mocks.NewMockExtractor()
	svc := service.NewPreviewService(previewCache, nil, mocks.NewMockValidator(), ext, nil, service.PreviewServiceConfig{}, nil)

	first := resolve(t, svc, "https://example.com/a")

	res, err := svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/a",
		Refresh:          true,
		ValidateSecurity: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Data.ID, res.Data.ID)
	assert.Equal(t, 2, ext.Calls())
}

// TestPreviewService_Resolve_KeepsCallerURL проверяет, что url хранит ввод как есть
func TestPreviewService_Resolve_KeepsCallerURL(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	res := resolve(t, env.svc, "HTTPS://Example.com/article#frag")

	assert.Equal(t, "HTTPS://Example.com/article#frag", res.Data.URL)
	assert.Equal(t, "https://example.com/article", res.Data.NormalizedURL)

	stored, ok := env.previews.Get("https://example.com/article")
	require.True(t, ok)
	assert.Equal(t, "HTTPS://Example.com/article#frag", stored.URL)
}

// TestPreviewService_Resolve_IDSurvivesExpiryCleanup проверяет стабильный id
// после истечения TTL и периодической очистки БД
func TestPreviewService_Resolve_IDSurvivesExpiryCleanup(t *testing.T) {
	previews := mocks.NewMockPreviewRepository()
	ext := mocks.NewMockExtractor()
	previewCache := cache.NewPreviewCache(50*time.Millisecond, nil, cache.NewMemoryStore(10, time.Hour))
	svc := service.NewPreviewService(previewCache, previews, mocks.NewMockValidator(), ext, nil, service.PreviewServiceConfig{}, nil)

	first := resolve(t, svc, "https://example.com/ttl")
	time.Sleep(80 * time.Millisecond)

	purged, err := previews.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = svc.GetCachedPreview(context.Background(), "https://example.com/ttl")
	require.ErrorIs(t, err, service.ErrPreviewNotFound)

	second := resolve(t, svc, "https://example.com/ttl")
	assert.False(t, second.FromCache)
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, 2, ext.Calls())
}

// TestPreviewService_Resolve_FailedRefreshDropsOldEntry проверяет, что refresh
// сначала инвалидирует все уровни, включая БД
func TestPreviewService_Resolve_FailedRefreshDropsOldEntry(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	first := resolve(t, env.svc, "https://example.com/refresh")

	env.extractor.SetError(&extractor.UpstreamError{StatusCode: 503})
	_, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/refresh",
		Refresh:          true,
		ValidateSecurity: true,
	})
	require.ErrorIs(t, err, service.ErrPreviewUnavailable)

	_, err = env.svc.GetCachedPreview(context.Background(), "https://example.com/refresh")
	require.ErrorIs(t, err, service.ErrPreviewNotFound)

	_, err = env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/refresh",
		ValidateSecurity: true,
	})
	require.ErrorIs(t, err, service.ErrPreviewUnavailable)
	assert.Equal(t, 3, env.extractor.Calls())

	env.extractor.SetError(nil)
	res := resolve(t, env.svc, "https://example.com/refresh")
	assert.False(t, res.FromCache)
	assert.Equal(t, first.Data.ID, res.Data.ID)
}

// TestPreviewService_Resolve_OptimizedImage проверяет замену изображения оптимизированным
func TestPreviewService_Resolve_OptimizedImage(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	env.extractor.SetMetadata("https://example.com/img", &extractor.Metadata{
		Title:    "With image",
		ImageURL: "https://example.com/cover.png",
	})

	res := resolve(t, env.svc, "https://example.com/img")

	assert.Equal(t, "https://example.com/cover.png", res.Data.OriginalImageURL)
	assert.Contains(t, res.Data.ImageURL, "optimized.jpg")
	assert.Contains(t, res.Data.ThumbnailURL, res.Data.ID)
	assert.Equal(t, []string{"https://example.com/cover.png"}, env.optimizer.Calls())
}

// TestPreviewService_Resolve_OptimizerFailure проверяет откат на исходное изображение
func TestPreviewService_Resolve_OptimizerFailure(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	env.optimizer.SetError(mocks.ErrInjected)
	env.extractor.SetMetadata("https://example.com/img", &extractor.Metadata{
		Title:    "With image",
		ImageURL: "https://example.com/cover.png",
	})

	res := resolve(t, env.svc, "https://example.com/img")

	assert.Equal(t, "https://example.com/cover.png", res.Data.ImageURL)
	assert.Empty(t, res.Data.ThumbnailURL)
}

// TestPreviewService_Resolve_StorageDown проверяет работу без долговременного хранилища
func TestPreviewService_Resolve_StorageDown(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	env.previews.SetFail(true)

	res := resolve(t, env.svc, "https://example.com/down")
	assert.NotEmpty(t, res.Data.ID)

	again := resolve(t, env.svc, "https://example.com/down")
	assert.True(t, again.FromCache)
	assert.Equal(t, res.Data.ID, again.Data.ID)
}

// TestPreviewService_Resolve_DurableHit проверяет чтение из БД при пустом кэше
func TestPreviewService_Resolve_DurableHit(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	first := resolve(t, env.svc, "https://example.com/durable")
	require.NoError(t, env.memory.Delete(context.Background(), "https://example.com/durable"))

	res := resolve(t, env.svc, "https://example.com/durable")
	assert.True(t, res.FromCache)
	assert.Equal(t, first.Data.ID, res.Data.ID)
	assert.Equal(t, 1, env.extractor.Calls())
	assert.Equal(t, 1, env.memory.Len())
}

// TestPreviewService_Resolve_InvalidURL проверяет ошибку формата
func TestPreviewService_Resolve_InvalidURL(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{URL: "not a url", ValidateSecurity: true})

	require.ErrorIs(t, err, service.ErrInvalidURL)
	assert.False(t, res.Success)
	assert.Equal(t, 0, env.extractor.Calls())
}

// TestPreviewService_Resolve_Rejected проверяет отказ валидатора
func TestPreviewService_Resolve_Rejected(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	env.validator.Reject("https://internal.example/", security.MsgInternalAddress)

	res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://internal.example",
		ValidateSecurity: true,
	})

	require.ErrorIs(t, err, service.ErrUnsafeLink)
	assert.False(t, res.Success)
	assert.Equal(t, []string{security.MsgInternalAddress}, res.Errors)
	assert.Equal(t, 0, env.extractor.Calls())
	assert.Equal(t, 0, env.memory.Len())
}

// TestPreviewService_Resolve_SuspiciousDomain проверяет полный путь с настоящим валидатором
func TestPreviewService_Resolve_SuspiciousDomain(t *testing.T) {
	memory := cache.NewMemoryStore(10, time.Hour)
	previewCache := cache.NewPreviewCache(time.Hour, nil, memory)
	ext := mocks.NewMockExtractor()
	validator := security.NewValidator(security.DefaultPolicy(), failingProber{}, zap.NewNop())
	svc := service.NewPreviewService(previewCache, nil, validator, ext, nil, service.PreviewServiceConfig{}, nil)

	res, err := svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://suspicious-free-prize.tk/win",
		ValidateSecurity: true,
	})

	require.ErrorIs(t, err, service.ErrUnsafeLink)
	assert.False(t, res.Success)
	assert.Contains(t, res.Warnings, security.MsgSuspicious)
	assert.Equal(t, 0, ext.Calls())
	assert.Equal(t, 0, memory.Len())
}

// TestPreviewService_Resolve_WithoutValidation проверяет, что непроверенный результат не кэшируется
func TestPreviewService_Resolve_WithoutValidation(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	for i := 0; i < 2; i++ {
		res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{URL: "https://example.com/raw"})
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Nil(t, res.Data.SecurityScore)
	}

	assert.Equal(t, 0, env.validator.Calls())
	assert.Equal(t, 2, env.extractor.Calls())
	assert.Equal(t, 0, env.memory.Len())
	assert.Equal(t, 0, env.previews.Upserts())
}

// TestPreviewService_Resolve_UpstreamError проверяет ошибку загрузки страницы
func TestPreviewService_Resolve_UpstreamError(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	env.extractor.SetError(&extractor.UpstreamError{StatusCode: 404})

	res, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/missing",
		ValidateSecurity: true,
	})

	require.ErrorIs(t, err, service.ErrPreviewUnavailable)
	require.ErrorIs(t, err, extractor.ErrUpstreamStatus)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	_, err = env.svc.GetCachedPreview(context.Background(), "https://example.com/missing")
	assert.ErrorIs(t, err, service.ErrPreviewNotFound)
}

// TestPreviewService_Resolve_Timeout проверяет общий дедлайн разрешения
func TestPreviewService_Resolve_Timeout(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{ResolveTimeout: 50 * time.Millisecond})
	release := env.extractor.Block()
	defer close(release)

	start := time.Now()
	_, err := env.svc.ResolvePreview(context.Background(), service.ResolveInput{
		URL:              "https://example.com/slow",
		ValidateSecurity: true,
	})

	require.ErrorIs(t, err, service.ErrPreviewUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, env.memory.Len())
}

// TestPreviewService_GetCachedPreview проверяет чтение без сетевых обращений
func TestPreviewService_GetCachedPreview(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	_, err := env.svc.GetCachedPreview(context.Background(), "https://example.com/x")
	require.ErrorIs(t, err, service.ErrPreviewNotFound)

	resolve(t, env.svc, "https://example.com/x")

	preview, err := env.svc.GetCachedPreview(context.Background(), "https://EXAMPLE.com:443/x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", preview.NormalizedURL)
	assert.Equal(t, 1, env.extractor.Calls())

	_, err = env.svc.GetCachedPreview(context.Background(), "::bad")
	assert.ErrorIs(t, err, service.ErrInvalidURL)
}

// TestPreviewService_InvalidatePreview проверяет удаление из кэша и БД
func TestPreviewService_InvalidatePreview(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})
	first := resolve(t, env.svc, "https://example.com/gone")

	require.NoError(t, env.svc.InvalidatePreview(context.Background(), "https://example.com/gone"))

	_, err := env.svc.GetCachedPreview(context.Background(), "https://example.com/gone")
	require.ErrorIs(t, err, service.ErrPreviewNotFound)

	res := resolve(t, env.svc, "https://example.com/gone")
	assert.False(t, res.FromCache)
	assert.Equal(t, first.Data.ID, res.Data.ID)
	assert.Equal(t, 2, env.extractor.Calls())
}

// TestPreviewService_DetectAndResolve проверяет поиск ссылки в тексте
func TestPreviewService_DetectAndResolve(t *testing.T) {
	env := setupTestService(t, service.PreviewServiceConfig{})

	res, err := env.svc.DetectAndResolve(context.Background(),
		"mail me at ftp://files.example.com or read https://example.com/post today", true)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", res.Data.NormalizedURL)

	_, err = env.svc.DetectAndResolve(context.Background(), "no links here", true)
	assert.ErrorIs(t, err, service.ErrNoURLFound)
}

type failingProber struct{}

func (failingProber) Probe(context.Context, string) bool { return false }
