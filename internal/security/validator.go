// Package security оценивает безопасность ссылки до того, как сервис
// обратится к целевой странице.
package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/SergeiKhy/link-preview/internal/models"
	"github.com/SergeiKhy/link-preview/internal/netguard"
	"github.com/SergeiKhy/link-preview/internal/normalize"
	"go.uber.org/zap"
)

// Тексты ошибок и предупреждений, которые видит пользователь
const (
	MsgInvalidFormat   = "Invalid URL format"
	MsgInvalidProtocol = "Invalid protocol. Only HTTP and HTTPS are allowed."
	MsgInvalidHostname = "Invalid hostname"
	MsgIPNotAllowed    = "IP addresses are not allowed. Use domain names."
	MsgInternalAddress = "Local/internal addresses are not allowed"
	MsgNoSSL           = "SSL certificate validation failed or not using HTTPS"
	MsgSuspicious      = "Domain has suspicious characteristics"
	MsgMalicious       = "Domain is flagged as potentially malicious"
	MsgPhishingURL     = "URL contains potential phishing indicators"
	MsgPhishingContent = "Page content contains potential phishing indicators"
)

// numericHostRe ловит десятичную, восьмеричную и шестнадцатеричную запись IPv4
// (2130706433, 0x7f.1, 017700000001), которую net.ParseIP не распознаёт.
var numericHostRe = regexp.MustCompile(`^(0x[0-9a-f]+|[0-9]+)(\.(0x[0-9a-f]+|[0-9]+)){0,3}$`)

var internalSuffixes = []string{".localhost", ".local", ".internal", ".localdomain"}

// Prober проверяет доступность HTTPS у ссылки
type Prober interface {
	Probe(ctx context.Context, rawURL string) bool
}

// Validator реализует проверку формата, репутации домена и фишинговых признаков
type Validator struct {
	policy  Policy
	prober  Prober
	logger  *zap.Logger
	digitRe *regexp.Regexp
}

// NewValidator создаёт валидатор. prober может быть nil: тогда проверка
// транспорта всегда считается неуспешной.
func NewValidator(policy Policy, prober Prober, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := policy.DigitRunLength
	if n <= 0 {
		n = 4
	}
	return &Validator{
		policy:  policy,
		prober:  prober,
		logger:  logger,
		digitRe: regexp.MustCompile(fmt.Sprintf(`\d{%d,}`, n)),
	}
}

// Policy возвращает действующую политику
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate выполняет проверки по порядку: формат (SSRF), транспорт,
// репутация домена, фишинг, расчёт оценки и итоговое решение.
func (v *Validator) Validate(ctx context.Context, rawURL, title, description string) *models.ValidationResult {
	result := &models.ValidationResult{
		Warnings: []string{},
		Errors:   []string{},
	}

	parsed, formatErr := v.CheckFormat(rawURL)
	if formatErr != "" {
		result.Errors = append(result.Errors, formatErr)
		v.logger.Debug("URL rejected by format check",
			zap.String("url", rawURL),
			zap.String("reason", formatErr),
		)
		return result
	}

	if v.prober != nil && parsed.Scheme == "https" {
		result.SSLValid = v.prober.Probe(ctx, rawURL)
	}
	if !result.SSLValid {
		result.Warnings = append(result.Warnings, MsgNoSSL)
	}

	result.DomainReputation = v.Reputation(parsed.Hostname())
	switch result.DomainReputation {
	case models.ReputationSuspicious:
		result.Warnings = append(result.Warnings, MsgSuspicious)
	case models.ReputationMalicious:
		result.Errors = append(result.Errors, MsgMalicious)
	}

	result.PhishingRisk = v.PhishingRisk(rawURL, title, description)
	if result.PhishingRisk {
		result.Warnings = append(result.Warnings, MsgPhishingURL)
	}

	v.decide(result)

	v.logger.Debug("URL validated",
		zap.String("url", rawURL),
		zap.Int("score", result.SecurityScore),
		zap.String("reputation", string(result.DomainReputation)),
		zap.Bool("valid", result.IsValid),
	)

	return result
}

// ReviewContent повторно применяет фишинговую эвристику к тексту страницы,
// полученному после извлечения, и пересчитывает решение. Сеть не используется.
func (v *Validator) ReviewContent(res *models.ValidationResult, rawURL, title, description string) *models.ValidationResult {
	out := *res
	out.Warnings = append([]string(nil), res.Warnings...)
	out.Errors = append([]string(nil), res.Errors...)

	if !out.PhishingRisk && v.PhishingRisk(rawURL, title, description) {
		out.PhishingRisk = true
		out.Warnings = append(out.Warnings, MsgPhishingContent)
	}

	v.decide(&out)
	return &out
}

func (v *Validator) decide(result *models.ValidationResult) {
	result.SecurityScore = v.Score(result.SSLValid, result.DomainReputation, result.PhishingRisk, true)
	result.IsValid = len(result.Errors) == 0 && result.SecurityScore >= v.policy.MinScore
	if len(result.Errors) == 0 && !result.IsValid {
		result.Warnings = appendOnce(result.Warnings,
			fmt.Sprintf("Security score %d is below the required minimum of %d", result.SecurityScore, v.policy.MinScore))
	}
}

// CheckFormat проверяет схему и хост. Возвращает текст ошибки или пустую строку.
func (v *Validator) CheckFormat(rawURL string) (*url.URL, string) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, MsgInvalidFormat
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, MsgInvalidProtocol
	}
	parsed.Scheme = scheme

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return nil, MsgInvalidHostname
	}

	if host == "localhost" {
		return nil, MsgInternalAddress
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, MsgInternalAddress
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if netguard.IsPrivateIP(ip) {
			return nil, MsgInternalAddress
		}
		return nil, MsgIPNotAllowed
	}
	if numericHostRe.MatchString(host) {
		return nil, MsgIPNotAllowed
	}
	if !strings.Contains(host, ".") {
		// Одноимённые хосты резолвятся только во внутренних сетях
		return nil, MsgInternalAddress
	}

	return parsed, ""
}

// Reputation классифицирует домен по спискам политики
func (v *Validator) Reputation(host string) models.DomainReputation {
	host = normalize.Domain(strings.TrimSuffix(host, "."))
	if host == "" {
		return models.ReputationNeutral
	}

	if matchDomain(host, v.policy.BlockedDomains) {
		return models.ReputationMalicious
	}
	if matchDomain(host, v.policy.GoodDomains) {
		return models.ReputationGood
	}
	if matchDomain(host, v.policy.ShortenerDomains) {
		return models.ReputationSuspicious
	}

	labels := strings.Split(host, ".")
	tld := labels[len(labels)-1]
	for _, t := range v.policy.SuspiciousTLDs {
		if tld == strings.TrimPrefix(strings.ToLower(t), ".") {
			return models.ReputationSuspicious
		}
	}

	name := strings.TrimSuffix(host, "."+tld)
	for _, word := range v.policy.SuspiciousDomainWords {
		if word != "" && strings.Contains(name, strings.ToLower(word)) {
			return models.ReputationSuspicious
		}
	}

	return models.ReputationNeutral
}

// PhishingRisk ищет слова-триггеры и структурные признаки в URL, заголовке и описании.
// Однословные ключи сравниваются по токенам, фразы: подстрокой.
func (v *Validator) PhishingRisk(rawURL, title, description string) bool {
	lowerURL := strings.ToLower(rawURL)
	combined := lowerURL + " " + strings.ToLower(title) + " " + strings.ToLower(description)

	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(combined, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = struct{}{}
	}

	for _, kw := range v.policy.PhishingKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.ContainsAny(kw, " -") {
			if strings.Contains(combined, kw) {
				return true
			}
			continue
		}
		if _, ok := tokens[kw]; ok {
			return true
		}
	}

	for _, p := range v.policy.PhishingPatterns {
		if p != "" && strings.Contains(lowerURL, strings.ToLower(p)) {
			return true
		}
	}

	return v.digitRe.MatchString(lowerURL)
}

// Score считает итоговую оценку 0..100
func (v *Validator) Score(sslValid bool, reputation models.DomainReputation, phishing, formatValid bool) int {
	score := 100

	if !sslValid {
		score -= v.policy.PenaltyNoSSL
	}

	switch reputation {
	case models.ReputationMalicious:
		score -= v.policy.PenaltyMalicious
	case models.ReputationSuspicious:
		score -= v.policy.PenaltySuspicious
	case models.ReputationNeutral:
		score -= v.policy.PenaltyNeutral
	}

	if phishing {
		score -= v.policy.PenaltyPhishing
	}
	if !formatValid {
		score -= v.policy.PenaltyFormat
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func matchDomain(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func appendOnce(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
