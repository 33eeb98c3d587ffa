package cache

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/link-preview/internal/metrics"
	"github.com/SergeiKhy/link-preview/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 24 * time.Hour

// LoadFunc выполняет полную загрузку превью при промахе
type LoadFunc func(ctx context.Context) (*models.LinkPreview, error)

// PreviewCache объединяет уровни кэша (от быстрого к медленному)
// и не допускает параллельных загрузок одного ключа.
type PreviewCache struct {
	tiers  []Store
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time
}

// NewPreviewCache создаёт кэш. Уровни перечисляются от быстрого к медленному.
func NewPreviewCache(ttl time.Duration, logger *zap.Logger, tiers ...Store) *PreviewCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreviewCache{
		tiers:  tiers,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// TTL возвращает время жизни новых записей
func (c *PreviewCache) TTL() time.Duration {
	return c.ttl
}

// Get ищет свежую запись по уровням. Попадание на глубоком уровне
// копируется на более быстрые. Ошибки уровня считаются промахом.
func (c *PreviewCache) Get(ctx context.Context, key string) (*models.LinkPreview, bool) {
	now := c.now()

	for i, tier := range c.tiers {
		p, err := tier.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				c.tierError(tier, "get", key, err)
			}
			continue
		}
		if p == nil || !p.IsFresh(now) {
			// Просроченную запись удаляем, чтобы не читать её повторно
			if delErr := tier.Delete(ctx, key); delErr != nil {
				c.tierError(tier, "delete", key, delErr)
			}
			continue
		}

		metrics.CacheHits.WithLabelValues(tier.Name()).Inc()

		remaining := p.ExpiresAt.Sub(now)
		for _, upper := range c.tiers[:i] {
			if err := upper.Set(ctx, key, p, remaining); err != nil {
				c.tierError(upper, "backfill", key, err)
			}
		}
		return p, true
	}

	metrics.CacheMisses.Inc()
	return nil, false
}

// Put записывает превью во все уровни на оставшийся срок жизни
func (c *PreviewCache) Put(ctx context.Context, key string, preview *models.LinkPreview) {
	remaining := preview.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		return
	}
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, key, preview, remaining); err != nil {
			c.tierError(tier, "set", key, err)
		}
	}
}

// Invalidate удаляет ключ со всех уровней. Повторная загрузка не выполняется.
func (c *PreviewCache) Invalidate(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			c.tierError(tier, "delete", key, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load выполняет fn не более одного раза на ключ среди одновременных
// вызовов. Остальные ждут результат загрузки, каждый со своим ctx.
// Результат пишется в кэш, только если fn завершилась успешно и контекст
// загрузки ещё жив. shared == true, если вызов получил чужой результат.
func (c *PreviewCache) Load(ctx context.Context, key string, fn LoadFunc) (preview *models.LinkPreview, shared bool, err error) {
	return c.do(ctx, key, key, fn)
}

// Share объединяет одновременные вызовы по flightKey, но ничего не пишет в кэш
func (c *PreviewCache) Share(ctx context.Context, flightKey string, fn LoadFunc) (preview *models.LinkPreview, shared bool, err error) {
	return c.do(ctx, flightKey, "", fn)
}

func (c *PreviewCache) do(ctx context.Context, flightKey, cacheKey string, fn LoadFunc) (*models.LinkPreview, bool, error) {
	// Второй заход нужен, если загрузку вёл вызов, чей контекст отменили
	for attempt := 0; attempt < 2; attempt++ {
		led := false
		ch := c.group.DoChan(flightKey, func() (interface{}, error) {
			led = true
			p, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			if cacheKey != "" && ctx.Err() == nil {
				c.Put(ctx, cacheKey, p)
			}
			return p, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if !led {
				metrics.SharedFlights.Inc()
			}
			if res.Err != nil {
				if !led && isCancellation(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, !led, res.Err
			}
			return res.Val.(*models.LinkPreview).Clone(), !led, nil
		}
	}
	return nil, true, context.Canceled
}

func (c *PreviewCache) tierError(tier Store, op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(tier.Name(), op).Inc()
	c.logger.Warn("Ошибка уровня кэша",
		zap.String("tier", tier.Name()),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
