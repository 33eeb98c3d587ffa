package models

import (
	"time"
)

// LinkPreview: кэшируемый результат извлечения метаданных ссылки
type LinkPreview struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	NormalizedURL    string            `json:"normalized_url"`
	Domain           string            `json:"domain"`
	Title            string            `json:"title,omitempty"`
	Description      string            `json:"description,omitempty"`
	SiteName         string            `json:"site_name,omitempty"`
	ImageURL         string            `json:"image_url,omitempty"`
	ThumbnailURL     string            `json:"thumbnail_url,omitempty"`
	OriginalImageURL string            `json:"original_image_url,omitempty"`
	FaviconURL       string            `json:"favicon_url,omitempty"`
	VideoURL         string            `json:"video_url,omitempty"`
	LinkType         string            `json:"link_type,omitempty"`
	Author           string            `json:"author,omitempty"`
	PublishedAt      string            `json:"published_at,omitempty"`
	Images           []string          `json:"images,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SecurityScore    *int              `json:"security_score,omitempty"`
	SecurityWarnings []string          `json:"security_warnings,omitempty"`
	ExtractedAt      time.Time         `json:"extracted_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// IsFresh сообщает, актуальна ли запись на момент now
func (p *LinkPreview) IsFresh(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// Clone возвращает глубокую копию, чтобы кэш не делил срезы с вызывающим кодом
func (p *LinkPreview) Clone() *LinkPreview {
	if p == nil {
		return nil
	}
	c := *p
	if p.Images != nil {
		c.Images = append([]string(nil), p.Images...)
	}
	if p.SecurityWarnings != nil {
		c.SecurityWarnings = append([]string(nil), p.SecurityWarnings...)
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	if p.SecurityScore != nil {
		score := *p.SecurityScore
		c.SecurityScore = &score
	}
	return &c
}

type DomainReputation string

const (
	ReputationGood       DomainReputation = "good"
	ReputationNeutral    DomainReputation = "neutral"
	ReputationSuspicious DomainReputation = "suspicious"
	ReputationMalicious  DomainReputation = "malicious"
)

// ValidationResult: результат проверки безопасности, никогда не кэшируется
type ValidationResult struct {
	IsValid          bool             `json:"is_valid"`
	SecurityScore    int              `json:"security_score"`
	Warnings         []string         `json:"warnings"`
	Errors           []string         `json:"errors"`
	DomainReputation DomainReputation `json:"domain_reputation,omitempty"`
	SSLValid         bool             `json:"ssl_valid"`
	PhishingRisk     bool             `json:"phishing_risk"`
}
