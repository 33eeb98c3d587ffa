package security

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/SergeiKhy/link-preview/internal/netguard"
	"go.uber.org/zap"
)

const defaultProbeTimeout = 5 * time.Second

// HTTPProber подтверждает доступность HTTPS коротким HEAD-запросом
type HTTPProber struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

// NewHTTPProber создаёт prober. client == nil: используется клиент netguard.
func NewHTTPProber(client *http.Client, timeout time.Duration, userAgent string, logger *zap.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if client == nil {
		client = netguard.NewClient(netguard.ClientOptions{Timeout: timeout, MaxRedirects: 5})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{client: client, timeout: timeout, userAgent: userAgent, logger: logger}
}

// Probe возвращает true, если сервер ответил по HTTPS без ошибки
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status, err := p.do(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		// Часть серверов не поддерживает HEAD: пробуем лёгкий GET
		status, err = p.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		p.logger.Debug("HTTPS probe failed", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	return status >= 200 && status < 400
}

func (p *HTTPProber) do(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}
