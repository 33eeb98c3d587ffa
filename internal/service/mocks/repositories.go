package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/link-preview/internal/extractor"
	"github.com/SergeiKhy/link-preview/internal/imaging"
	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/SergeiKhy/link-preview/internal/repository"
)

var ErrInjected = errors.New("injected failure")

// MockPreviewRepository implements repository.PreviewRepository for testing
type MockPreviewRepository struct {
	mu       sync.RWMutex
	previews map[string]*models.LinkPreview
	invalid  map[string]bool
	fail     bool
	upserts  int
}

func NewMockPreviewRepository() *MockPreviewRepository {
	return &MockPreviewRepository{
		previews: make(map[string]*models.LinkPreview),
		invalid:  make(map[string]bool),
	}
}

// SetFail makes every call return ErrInjected
func (m *MockPreviewRepository) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *MockPreviewRepository) Upsert(ctx context.Context, p *models.LinkPreview) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return "", ErrInjected
	}
	m.upserts++

	stored := p.Clone()
	if existing, ok := m.previews[p.NormalizedURL]; ok {
		stored.ID = existing.ID
	}
	m.previews[p.NormalizedURL] = stored
	m.invalid[p.NormalizedURL] = false
	return stored.ID, nil
}

func (m *MockPreviewRepository) GetFresh(ctx context.Context, normalizedURL string) (*models.LinkPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, ErrInjected
	}
	p, ok := m.previews[normalizedURL]
	if !ok || m.invalid[normalizedURL] || !p.IsFresh(time.Now()) {
		return nil, repository.ErrPreviewNotFound
	}
	return p.Clone(), nil
}

func (m *MockPreviewRepository) LookupID(ctx context.Context, normalizedURL string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return "", ErrInjected
	}
	p, ok := m.previews[normalizedURL]
	if !ok {
		return "", repository.ErrPreviewNotFound
	}
	return p.ID, nil
}

func (m *MockPreviewRepository) Invalidate(ctx context.Context, normalizedURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return ErrInjected
	}
	if _, ok := m.previews[normalizedURL]; ok {
		m.invalid[normalizedURL] = true
	}
	return nil
}

func (m *MockPreviewRepository) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return 0, ErrInjected
	}
	var n int64
	now := time.Now()
	for k, p := range m.previews {
		if p.IsFresh(now) || m.invalid[k] {
			continue
		}
		m.previews[k] = &models.LinkPreview{
			ID:            p.ID,
			URL:           p.URL,
			NormalizedURL: p.NormalizedURL,
			Domain:        p.Domain,
			Title:         p.Title,
			LinkType:      p.LinkType,
			ExtractedAt:   p.ExtractedAt,
			ExpiresAt:     p.ExpiresAt,
		}
		m.invalid[k] = true
		n++
	}
	return n, nil
}

// Get returns the stored row regardless of validity
func (m *MockPreviewRepository) Get(normalizedURL string) (*models.LinkPreview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.previews[normalizedURL]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *MockPreviewRepository) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

// MockAnalyticsRepository implements repository.AnalyticsRepository for testing
type MockAnalyticsRepository struct {
	mu      sync.RWMutex
	events  []*models.AnalyticsEvent
	popular []models.PopularLink
	fail    bool
	delay   time.Duration
	inserts atomic.Int64
}

func NewMockAnalyticsRepository() *MockAnalyticsRepository {
	return &MockAnalyticsRepository{}
}

// SetFail makes Insert and the queries return ErrInjected
func (m *MockAnalyticsRepository) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// SetDelay slows down every Insert
func (m *MockAnalyticsRepository) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetPopular sets the rows returned by PopularSince
func (m *MockAnalyticsRepository) SetPopular(links []models.PopularLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popular = links
}

func (m *MockAnalyticsRepository) Insert(ctx context.Context, e *models.AnalyticsEvent) error {
	m.inserts.Add(1)

	m.mu.RLock()
	fail, delay := m.fail, m.delay
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return ErrInjected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.events = append(m.events, &copied)
	return nil
}

func (m *MockAnalyticsRepository) CountByPreview(ctx context.Context, previewID string) (map[models.EventType]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, ErrInjected
	}
	counts := make(map[models.EventType]int64)
	for _, e := range m.events {
		if e.LinkPreviewID == previewID {
			counts[e.EventType]++
		}
	}
	return counts, nil
}

func (m *MockAnalyticsRepository) PopularSince(ctx context.Context, since time.Time, limit int) ([]models.PopularLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, ErrInjected
	}
	out := append([]models.PopularLink(nil), m.popular...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a snapshot of stored events
func (m *MockAnalyticsRepository) Events() []*models.AnalyticsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.AnalyticsEvent(nil), m.events...)
}

// InsertCalls counts Insert attempts including failed ones
func (m *MockAnalyticsRepository) InsertCalls() int64 {
	return m.inserts.Load()
}

// MockExtractor returns canned metadata and counts calls
type MockExtractor struct {
	mu       sync.Mutex
	metadata map[string]*extractor.Metadata
	err      error
	calls    atomic.Int64
	block    chan struct{}
}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{metadata: make(map[string]*extractor.Metadata)}
}

func (m *MockExtractor) SetMetadata(url string, md *extractor.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[url] = md
}

func (m *MockExtractor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Block makes Extract wait until the returned channel is closed
func (m *MockExtractor) Block() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = make(chan struct{})
	return m.block
}

func (m *MockExtractor) Calls() int {
	return int(m.calls.Load())
}

func (m *MockExtractor) Extract(ctx context.Context, rawURL string, opts extractor.Options) (*extractor.Metadata, error) {
	m.calls.Add(1)

	m.mu.Lock()
	block, err := m.block, m.err
	md, ok := m.metadata[rawURL]
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, extractor.ErrTimeout
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		md = &extractor.Metadata{
			FinalURL: rawURL,
			Title:    "Title of " + rawURL,
			LinkType: extractor.LinkTypeWebsite,
		}
	}
	copied := *md
	return &copied, nil
}

// MockOptimizer records optimized images or fails on demand
type MockOptimizer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func NewMockOptimizer() *MockOptimizer {
	return &MockOptimizer{}
}

func (m *MockOptimizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockOptimizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockOptimizer) Optimize(ctx context.Context, imageURL, previewID string) (*imaging.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, imageURL)
	if m.err != nil {
		return nil, m.err
	}
	base := "https://cdn.test/" + imaging.AssetKey(previewID, "")
	return &imaging.Result{
		OptimizedURL: base + "optimized.jpg",
		ThumbnailURL: base + "thumbnail.jpg",
		Width:        1200,
		Height:       630,
	}, nil
}

// MockValidator accepts everything except the configured hosts
type MockValidator struct {
	mu       sync.Mutex
	rejected map[string][]string
	warnings []string
	score    int
	calls    int
}

func NewMockValidator() *MockValidator {
	return &MockValidator{rejected: make(map[string][]string), score: 90}
}

// Reject makes Validate fail for rawURL with errs
func (m *MockValidator) Reject(rawURL string, errs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[rawURL] = errs
}

// SetWarnings sets warnings attached to accepted results
func (m *MockValidator) SetWarnings(warnings ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = warnings
}

func (m *MockValidator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockValidator) Validate(ctx context.Context, rawURL, title, description string) *models.ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if errs, ok := m.rejected[rawURL]; ok {
		return &models.ValidationResult{
			IsValid:       false,
			SecurityScore: 0,
			Errors:        append([]string(nil), errs...),
			Warnings:      []string{},
		}
	}
	return &models.ValidationResult{
		IsValid:          true,
		SecurityScore:    m.score,
		Warnings:         append([]string{}, m.warnings...),
		Errors:           []string{},
		DomainReputation: models.ReputationNeutral,
		SSLValid:         true,
	}
}

func (m *MockValidator) ReviewContent(res *models.ValidationResult, rawURL, title, description string) *models.ValidationResult {
	return res
}

// SortedEventTypes is a helper for stable assertions
func SortedEventTypes(events []*models.AnalyticsEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, string(e.EventType))
	}
	sort.Strings(out)
	return out
}
