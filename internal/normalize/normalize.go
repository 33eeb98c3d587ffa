// Package normalize приводит URL к каноничной форме, которая служит ключом кэша.
package normalize

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var ErrInvalidURL = errors.New("невалидный URL")

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize приводит raw к каноничной форме: схема и хост в нижнем регистре,
// порт по умолчанию убран, путь и query сохранены как есть, фрагмент отброшен.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: пустая строка", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: отсутствует схема", ErrInvalidURL)
	}
	if u.Opaque != "" || u.Host == "" {
		return "", fmt.Errorf("%w: отсутствует хост", ErrInvalidURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: отсутствует хост", ErrInvalidURL)
	}
	port := u.Port()
	if port == defaultPorts[u.Scheme] {
		port = ""
	}

	hostPart := host
	if strings.Contains(host, ":") {
		// IPv6-литерал
		hostPart = "[" + host + "]"
	}
	if port != "" {
		hostPart = net.JoinHostPort(host, port)
	}
	u.Host = hostPart

	// Фрагмент не уходит на сервер и не влияет на содержимое страницы
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}

// Domain возвращает хост без префикса www.
func Domain(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// RegistrableDomain возвращает eTLD+1 (example.co.uk для a.b.example.co.uk).
// Если publicsuffix не может определить домен, возвращается сам хост.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// Host извлекает хост из нормализованного или сырого URL
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
