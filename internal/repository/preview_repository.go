package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/jackc/pgx/v5"
)

var ErrPreviewNotFound = errors.New("preview not found")

// PreviewRepository: долговременное хранилище превью (таблица link_previews)
type PreviewRepository interface {
	Upsert(ctx context.Context, preview *models.LinkPreview) (string, error)
	GetFresh(ctx context.Context, normalizedURL string) (*models.LinkPreview, error)
	LookupID(ctx context.Context, normalizedURL string) (string, error)
	Invalidate(ctx context.Context, normalizedURL string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

type previewRepository struct {
	db *PostgresDB
}

func NewPreviewRepository(db *PostgresDB) PreviewRepository {
	return &previewRepository{db: db}
}

const previewColumns = `
	id, url, normalized_url, domain,
	COALESCE(title, ''), COALESCE(description, ''), COALESCE(site_name, ''),
	COALESCE(image_url, ''), COALESCE(thumbnail_url, ''), COALESCE(original_image_url, ''),
	COALESCE(favicon_url, ''), COALESCE(video_url, ''), link_type,
	COALESCE(author, ''), COALESCE(published_at, ''),
	images, metadata, security_score, security_warnings,
	extracted_at, expires_at
`

// Upsert сохраняет превью. При конфликте по normalized_url сохраняется
// исходный id, его и возвращает.
func (r *previewRepository) Upsert(ctx context.Context, p *models.LinkPreview) (string, error) {
	images, metadata, warnings, err := marshalPreviewJSON(p)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO link_previews (
			id, url, normalized_url, domain, title, description, site_name,
			image_url, thumbnail_url, original_image_url, favicon_url, video_url,
			link_type, author, published_at, images, metadata,
			security_score, security_warnings, is_valid, extracted_at, expires_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16::jsonb, $17::jsonb,
			$18, $19::jsonb, TRUE, $20, $21
		)
		ON CONFLICT (normalized_url) DO UPDATE SET
			url = EXCLUDED.url,
			domain = EXCLUDED.domain,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			site_name = EXCLUDED.site_name,
			image_url = EXCLUDED.image_url,
			thumbnail_url = EXCLUDED.thumbnail_url,
			original_image_url = EXCLUDED.original_image_url,
			favicon_url = EXCLUDED.favicon_url,
			video_url = EXCLUDED.video_url,
			link_type = EXCLUDED.link_type,
			author = EXCLUDED.author,
			published_at = EXCLUDED.published_at,
			images = EXCLUDED.images,
			metadata = EXCLUDED.metadata,
			security_score = EXCLUDED.security_score,
			security_warnings = EXCLUDED.security_warnings,
			is_valid = TRUE,
			extracted_at = EXCLUDED.extracted_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id
	`

	var id string
	err = r.db.Pool.QueryRow(ctx, query,
		p.ID,
		p.URL,
		p.NormalizedURL,
		p.Domain,
		p.Title,
		p.Description,
		p.SiteName,
		p.ImageURL,
		p.ThumbnailURL,
		p.OriginalImageURL,
		p.FaviconURL,
		p.VideoURL,
		p.LinkType,
		p.Author,
		p.PublishedAt,
		images,
		metadata,
		p.SecurityScore,
		warnings,
		p.ExtractedAt,
		p.ExpiresAt,
	).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert preview: %w", err)
	}

	return id, nil
}

// GetFresh возвращает действительную и не просроченную запись
func (r *previewRepository) GetFresh(ctx context.Context, normalizedURL string) (*models.LinkPreview, error) {
	query := `SELECT ` + previewColumns + `
		FROM link_previews
		WHERE normalized_url = $1 AND is_valid AND expires_at > NOW()
	`

	preview, err := scanPreview(r.db.Pool.QueryRow(ctx, query, normalizedURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPreviewNotFound
		}
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}

	return preview, nil
}

// LookupID возвращает id записи независимо от её срока и флага is_valid
func (r *previewRepository) LookupID(ctx context.Context, normalizedURL string) (string, error) {
	query := `SELECT id FROM link_previews WHERE normalized_url = $1`

	var id string
	err := r.db.Pool.QueryRow(ctx, query, normalizedURL).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPreviewNotFound
		}
		return "", fmt.Errorf("failed to lookup preview id: %w", err)
	}

	return id, nil
}

// Invalidate помечает запись недействительной; строка остаётся ради стабильного id
func (r *previewRepository) Invalidate(ctx context.Context, normalizedURL string) error {
	query := `UPDATE link_previews SET is_valid = FALSE WHERE normalized_url = $1`

	if _, err := r.db.Pool.Exec(ctx, query, normalizedURL); err != nil {
		return fmt.Errorf("failed to invalidate preview: %w", err)
	}

	return nil
}

// PurgeExpired помечает просроченные записи недействительными и очищает
// извлечённые данные. Строка остаётся: id, url и title нужны для стабильного
// id при следующем извлечении и для отчётов аналитики.
func (r *previewRepository) PurgeExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE link_previews SET
			is_valid = FALSE,
			description = NULL,
			site_name = NULL,
			image_url = NULL,
			thumbnail_url = NULL,
			original_image_url = NULL,
			favicon_url = NULL,
			video_url = NULL,
			author = NULL,
			published_at = NULL,
			images = '[]'::jsonb,
			metadata = '{}'::jsonb,
			security_warnings = '[]'::jsonb
		WHERE expires_at <= NOW() AND (is_valid OR images <> '[]'::jsonb OR metadata <> '{}'::jsonb)
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired previews: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanPreview(row pgx.Row) (*models.LinkPreview, error) {
	p := &models.LinkPreview{}
	var images, metadata, warnings []byte

	err := row.Scan(
		&p.ID,
		&p.URL,
		&p.NormalizedURL,
		&p.Domain,
		&p.Title,
		&p.Description,
		&p.SiteName,
		&p.ImageURL,
		&p.ThumbnailURL,
		&p.OriginalImageURL,
		&p.FaviconURL,
		&p.VideoURL,
		&p.LinkType,
		&p.Author,
		&p.PublishedAt,
		&images,
		&metadata,
		&p.SecurityScore,
		&warnings,
		&p.ExtractedAt,
		&p.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(images, &p.Images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(warnings, &p.SecurityWarnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}

	return p, nil
}

func marshalPreviewJSON(p *models.LinkPreview) (string, string, string, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	warnings := p.SecurityWarnings
	if warnings == nil {
		warnings = []string{}
	}

	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal images: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal warnings: %w", err)
	}

	return string(imagesJSON), string(metadataJSON), string(warningsJSON), nil
}
