// Package netguard защищает исходящие запросы от SSRF: запрещает соединения
// с приватными и служебными адресами и ограничивает число редиректов.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	ErrPrivateAddress   = errors.New("соединение с внутренним адресом запрещено")
	ErrTooManyRedirects = errors.New("слишком много редиректов")
	ErrUnsupportedProto = errors.New("редирект на неподдерживаемую схему")
)

// privateRanges: CIDR-блоки loopback, частных, link-local и служебных сетей
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.0.0.0/24",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"::/128",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
		"ff00::/8",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		privateRanges = append(privateRanges, block)
	}
}

// IsPrivateIP сообщает, относится ли адрес к внутренним диапазонам
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, block := range privateRanges {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver абстрагирует DNS для тестов
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Dialer выполняет соединение только с публичными адресами
type Dialer struct {
	Resolver Resolver
	Timeout  time.Duration
}

// DialContext резолвит хост, отбрасывает приватные адреса и соединяется
// с первым разрешённым.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("нет адресов для %s", host)
	}

	for _, ip := range ips {
		if IsPrivateIP(ip.IP) {
			return nil, fmt.Errorf("%w: %s", ErrPrivateAddress, ip.IP)
		}
	}

	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

type ClientOptions struct {
	Timeout      time.Duration
	MaxRedirects int
	// AllowPrivate отключает проверку адресов; только для тестов с httptest
	AllowPrivate bool
}

// NewClient создаёт HTTP-клиент с защитой от SSRF и лимитом редиректов
func NewClient(opts ClientOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		ForceAttemptHTTP2:     true,
	}
	if opts.AllowPrivate {
		transport.DialContext = (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext
	} else {
		transport.DialContext = (&Dialer{Timeout: opts.Timeout}).DialContext
	}

	return &http.Client{
		Timeout:       opts.Timeout,
		Transport:     transport,
		CheckRedirect: CheckRedirect(opts.MaxRedirects),
	}
}

// CheckRedirect ограничивает цепочку редиректов и разрешает только http(s)
func CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return ErrTooManyRedirects
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return fmt.Errorf("%w: %s", ErrUnsupportedProto, req.URL.Scheme)
		}
		return nil
	}
}
