package models

import (
	"time"
)

type EventType string

const (
	EventView     EventType = "view"
	EventClick    EventType = "click"
	EventShare    EventType = "share"
	EventBookmark EventType = "bookmark"
)

// Valid проверяет, что тип события входит в допустимый набор
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventClick, EventShare, EventBookmark:
		return true
	}
	return false
}

// AnalyticsEvent: запись о взаимодействии пользователя с превью (append-only)
type AnalyticsEvent struct {
	ID            string    `json:"id"`
	LinkPreviewID string    `json:"link_preview_id"`
	PostID        string    `json:"post_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	EventType     EventType `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Referrer      string    `json:"referrer,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
}

// RecordEventInput: входные данные для записи события
type RecordEventInput struct {
	EventType     EventType
	LinkPreviewID string
	PostID        string
	UserID        string
	UserAgent     string
	Referrer      string
	IPAddress     string
}

type LinkAnalytics struct {
	LinkPreviewID    string  `json:"link_preview_id"`
	Views            int64   `json:"views"`
	Clicks           int64   `json:"clicks"`
	Shares           int64   `json:"shares"`
	Bookmarks        int64   `json:"bookmarks"`
	ClickThroughRate float64 `json:"click_through_rate"`
}

type PopularLink struct {
	LinkPreviewID    string  `json:"link_preview_id"`
	URL              string  `json:"url"`
	Title            string  `json:"title,omitempty"`
	Clicks           int64   `json:"clicks"`
	Views            int64   `json:"views"`
	ClickThroughRate float64 `json:"click_through_rate"`
}
