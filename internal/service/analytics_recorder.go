package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/link-preview/internal/metrics"
	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/SergeiKhy/link-preview/internal/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Параметры worker pool по умолчанию
const (
	defaultWorkerCount   = 3
	defaultChannelBuffer = 1000
	defaultMaxRetries    = 3
	defaultWriteTimeout  = 5 * time.Second

	defaultPopularLimit = 10
	maxPopularLimit     = 100
	defaultPopularDays  = 7
)

var ErrInvalidEvent = errors.New("невалидное событие")

// AnalyticsRecorder асинхронно записывает события превью и отдаёт статистику
type AnalyticsRecorder interface {
	Start()
	Stop()
	RecordEvent(ctx context.Context, input models.RecordEventInput) error
	GetAnalytics(ctx context.Context, previewID string) (*models.LinkAnalytics, error)
	GetPopularLinks(ctx context.Context, limit, days int) ([]models.PopularLink, error)
	Stats() ChannelStats
}

// AnalyticsConfig: параметры пула воркеров
type AnalyticsConfig struct {
	Workers      int
	Buffer       int
	MaxRetries   int
	WriteTimeout time.Duration
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int   `json:"buffer_size"`
	BufferUsed  int   `json:"buffer_used"`
	WorkerCount int   `json:"worker_count"`
	Dropped     int64 `json:"dropped"`
}

type analyticsRecorder struct {
	repo    repository.AnalyticsRepository
	logger  *zap.Logger
	cfg     AnalyticsConfig
	events  chan *models.AnalyticsEvent
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
	now     func() time.Time
}

// NewAnalyticsRecorder создаёт процессор событий. Нулевые значения
// конфигурации заменяются значениями по умолчанию.
func NewAnalyticsRecorder(repo repository.AnalyticsRepository, cfg AnalyticsConfig, logger *zap.Logger) AnalyticsRecorder {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultChannelBuffer
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &analyticsRecorder{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		events: make(chan *models.AnalyticsEvent, cfg.Buffer),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start запускает worker pool
func (r *analyticsRecorder) Start() {
	r.logger.Info("Запуск воркеров аналитики", zap.Int("count", r.cfg.Workers))

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
}

// Stop останавливает воркеры, предварительно дописав события из буфера
func (r *analyticsRecorder) Stop() {
	r.logger.Info("Остановка воркеров аналитики...")
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Воркеры аналитики остановлены", zap.Int64("dropped", r.dropped.Load()))
}

func (r *analyticsRecorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("Воркер аналитики запущен", zap.Int("id", id))

	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			r.logger.Debug("Воркер аналитики остановлен", zap.Int("id", id))
			return
		case event := <-r.events:
			r.write(r.ctx, event)
		}
	}
}

// drain дописывает оставшиеся события без учёта отмены пула
func (r *analyticsRecorder) drain() {
	ctx := context.WithoutCancel(r.ctx)
	for {
		select {
		case event := <-r.events:
			r.write(ctx, event)
		default:
			return
		}
	}
}

// write сохраняет событие с экспоненциальными повторами
func (r *analyticsRecorder) write(parent context.Context, event *models.AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.WriteTimeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxRetries-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := r.repo.Insert(ctx, event)
		if err != nil && attempt < r.cfg.MaxRetries {
			r.logger.Debug("Повторная попытка записи события",
				zap.String("preview_id", event.LinkPreviewID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, policy)
	if err != nil {
		metrics.AnalyticsEvents.WithLabelValues(string(event.EventType), "failed").Inc()
		r.logger.Error("Не удалось записать событие после всех попыток",
			zap.String("preview_id", event.LinkPreviewID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err),
		)
		return
	}
	metrics.AnalyticsEvents.WithLabelValues(string(event.EventType), "stored").Inc()
}

// RecordEvent ставит событие в очередь. Ошибка не возвращается никогда:
// потеря статистики не должна влиять на запрос.
func (r *analyticsRecorder) RecordEvent(ctx context.Context, input models.RecordEventInput) error {
	if !input.EventType.Valid() || input.LinkPreviewID == "" {
		metrics.AnalyticsEvents.WithLabelValues("invalid", "dropped").Inc()
		r.logger.Warn("Событие отброшено",
			zap.String("preview_id", input.LinkPreviewID),
			zap.String("event_type", string(input.EventType)),
			zap.Error(ErrInvalidEvent),
		)
		return nil
	}

	event := &models.AnalyticsEvent{
		ID:            uuid.NewString(),
		LinkPreviewID: input.LinkPreviewID,
		PostID:        input.PostID,
		UserID:        input.UserID,
		EventType:     input.EventType,
		OccurredAt:    r.now().UTC(),
		UserAgent:     input.UserAgent,
		Referrer:      input.Referrer,
		IPAddress:     input.IPAddress,
	}

	select {
	case r.events <- event:
	default:
		r.dropped.Add(1)
		metrics.AnalyticsEvents.WithLabelValues(string(event.EventType), "dropped").Inc()
		r.logger.Warn("Буфер событий заполнен, событие потеряно",
			zap.String("preview_id", event.LinkPreviewID),
		)
	}
	return nil
}

// GetAnalytics возвращает счётчики событий и CTR в процентах
func (r *analyticsRecorder) GetAnalytics(ctx context.Context, previewID string) (*models.LinkAnalytics, error) {
	counts, err := r.repo.CountByPreview(ctx, previewID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	a := &models.LinkAnalytics{
		LinkPreviewID: previewID,
		Views:         counts[models.EventView],
		Clicks:        counts[models.EventClick],
		Shares:        counts[models.EventShare],
		Bookmarks:     counts[models.EventBookmark],
	}
	a.ClickThroughRate = clickThroughRate(a.Clicks, a.Views)
	return a, nil
}

// GetPopularLinks возвращает самые кликаемые превью за последние days дней
func (r *analyticsRecorder) GetPopularLinks(ctx context.Context, limit, days int) ([]models.PopularLink, error) {
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	if limit > maxPopularLimit {
		limit = maxPopularLimit
	}
	if days <= 0 {
		days = defaultPopularDays
	}

	since := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	links, err := r.repo.PopularSince(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load popular links: %w", err)
	}

	for i := range links {
		links[i].ClickThroughRate = clickThroughRate(links[i].Clicks, links[i].Views)
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Clicks != links[j].Clicks {
			return links[i].Clicks > links[j].Clicks
		}
		return links[i].Views > links[j].Views
	})
	return links, nil
}

// Stats возвращает состояние канала для мониторинга
func (r *analyticsRecorder) Stats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(r.events),
		BufferUsed:  len(r.events),
		WorkerCount: r.cfg.Workers,
		Dropped:     r.dropped.Load(),
	}
}

func clickThroughRate(clicks, views int64) float64 {
	if views == 0 {
		return 0
	}
	return math.Round(float64(clicks)/float64(views)*10000) / 100
}
