// Package extractor загружает страницу и извлекает из неё метаданные превью:
// Open Graph, Twitter Card и обычные HTML-теги.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/SergeiKhy/link-preview/internal/netguard"
	"github.com/SergeiKhy/link-preview/internal/normalize"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

var (
	ErrTimeout          = errors.New("превышено время ожидания ответа")
	ErrTooManyRedirects = errors.New("слишком много редиректов")
	ErrUpstreamStatus   = errors.New("сервер вернул ошибку")
	ErrFetch            = errors.New("не удалось загрузить страницу")
)

// UpstreamError: ответ сервера со статусом >= 400
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("сервер вернул статус %d", e.StatusCode)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamStatus
}

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 2 << 20
	DefaultMaxImages    = 10
	DefaultUserAgent    = "Mozilla/5.0 (compatible; LinkPreviewBot/1.0)"
)

// Options управляют одной загрузкой
type Options struct {
	Timeout       time.Duration
	MaxRedirects  int
	ExtractImages bool
	ExtractVideos bool
	UserAgent     string
	MaxBodyBytes  int64
	MaxImages     int
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		MaxRedirects:  DefaultMaxRedirects,
		ExtractImages: true,
		ExtractVideos: true,
		UserAgent:     DefaultUserAgent,
		MaxBodyBytes:  DefaultMaxBodyBytes,
		MaxImages:     DefaultMaxImages,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = d.MaxRedirects
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = d.MaxBodyBytes
	}
	if o.MaxImages <= 0 {
		o.MaxImages = d.MaxImages
	}
	return o
}

// Metadata: нормализованный результат извлечения
type Metadata struct {
	FinalURL    string
	Title       string
	Description string
	SiteName    string
	ImageURL    string
	Images      []string
	FaviconURL  string
	VideoURL    string
	LinkType    string
	Author      string
	PublishedAt string
	Extra       map[string]string
}

// Extractor выполняет загрузку через клиент с защитой от SSRF
type Extractor struct {
	transport http.RoundTripper
	logger    *zap.Logger
}

// Config задаёт транспорт экстрактора
type Config struct {
	// Transport переопределяет транспорт; nil: защищённый транспорт netguard
	Transport http.RoundTripper
	// AllowPrivate разрешает loopback; только для тестов
	AllowPrivate bool
}

// New создаёт экстрактор
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = netguard.NewClient(netguard.ClientOptions{AllowPrivate: cfg.AllowPrivate}).Transport
	}
	return &Extractor{transport: transport, logger: logger}
}

// Extract загружает rawURL и извлекает метаданные
func (e *Extractor) Extract(ctx context.Context, rawURL string, opts Options) (*Metadata, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := &http.Client{
		Transport:     e.transport,
		CheckRedirect: netguard.CheckRedirect(opts.MaxRedirects),
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	finalURL := resp.Request.URL
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	e.logger.Debug("Page fetched",
		zap.String("url", rawURL),
		zap.String("final_url", finalURL.String()),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", mediaType),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
	case strings.HasPrefix(mediaType, "image/"):
		return &Metadata{
			FinalURL: finalURL.String(),
			SiteName: siteDomain(finalURL),
			ImageURL: finalURL.String(),
			Images:   []string{finalURL.String()},
			LinkType: LinkTypeImage,
			Extra:    map[string]string{"content_type": mediaType},
		}, nil
	default:
		return &Metadata{
			FinalURL: finalURL.String(),
			SiteName: siteDomain(finalURL),
			LinkType: LinkTypeOther,
			Extra:    map[string]string{"content_type": mediaType},
		}, nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, opts.MaxBodyBytes), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	return parseDocument(doc, finalURL, opts), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, netguard.ErrTooManyRedirects) {
		return ErrTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrFetch, err)
}

func siteDomain(u *url.URL) string {
	return normalize.Domain(strings.ToLower(u.Hostname()))
}
