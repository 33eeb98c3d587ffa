package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/link-preview/internal/models"
)

// AnalyticsRepository: журнал событий превью (только добавление)
type AnalyticsRepository interface {
	Insert(ctx context.Context, event *models.AnalyticsEvent) error
	CountByPreview(ctx context.Context, previewID string) (map[models.EventType]int64, error)
	PopularSince(ctx context.Context, since time.Time, limit int) ([]models.PopularLink, error)
}

type analyticsRepository struct {
	db *PostgresDB
}

func NewAnalyticsRepository(db *PostgresDB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) Insert(ctx context.Context, e *models.AnalyticsEvent) error {
	query := `
		INSERT INTO link_analytics (id, link_preview_id, post_id, user_id, event_type, user_agent, referrer, ip_address, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		e.ID,
		e.LinkPreviewID,
		e.PostID,
		e.UserID,
		string(e.EventType),
		e.UserAgent,
		e.Referrer,
		e.IPAddress,
		e.OccurredAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}

	return nil
}

func (r *analyticsRepository) CountByPreview(ctx context.Context, previewID string) (map[models.EventType]int64, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM link_analytics
		WHERE link_preview_id = $1
		GROUP BY event_type
	`

	rows, err := r.db.Pool.Query(ctx, query, previewID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventType]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventType(eventType)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}

	return counts, nil
}

// PopularSince возвращает превью с наибольшим числом кликов начиная с since
func (r *analyticsRepository) PopularSince(ctx context.Context, since time.Time, limit int) ([]models.PopularLink, error) {
	query := `
		SELECT
			a.link_preview_id,
			COALESCE(p.url, ''),
			COALESCE(p.title, ''),
			COUNT(*) FILTER (WHERE a.event_type = 'click') AS clicks,
			COUNT(*) FILTER (WHERE a.event_type = 'view') AS views
		FROM link_analytics a
		LEFT JOIN link_previews p ON p.id = a.link_preview_id
		WHERE a.occurred_at >= $1
		GROUP BY a.link_preview_id, p.url, p.title
		ORDER BY clicks DESC, views DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get popular links: %w", err)
	}
	defer rows.Close()

	links := []models.PopularLink{}
	for rows.Next() {
		var l models.PopularLink
		if err := rows.Scan(&l.LinkPreviewID, &l.URL, &l.Title, &l.Clicks, &l.Views); err != nil {
			return nil, fmt.Errorf("failed to scan popular link: %w", err)
		}
		links = append(links, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating popular links: %w", err)
	}

	return links, nil
}
