package security

// Policy: эвристические константы валидатора. Все значения можно
// переопределить конфигурацией без пересборки.
type Policy struct {
	GoodDomains           []string
	ShortenerDomains      []string
	SuspiciousTLDs        []string
	SuspiciousDomainWords []string
	BlockedDomains        []string
	PhishingKeywords      []string
	PhishingPatterns      []string
	DigitRunLength        int

	PenaltyNoSSL      int
	PenaltyMalicious  int
	PenaltySuspicious int
	PenaltyNeutral    int
	PenaltyPhishing   int
	PenaltyFormat     int
	MinScore          int
}

// DefaultPolicy возвращает политику по умолчанию
func DefaultPolicy() Policy {
	return Policy{
		GoodDomains: []string{
			"google.com",
			"youtube.com",
			"facebook.com",
			"twitter.com",
			"x.com",
			"instagram.com",
			"linkedin.com",
			"github.com",
			"amazon.com",
			"wikipedia.org",
			"reddit.com",
		},
		ShortenerDomains: []string{
			"bit.ly",
			"tinyurl.com",
			"t.co",
			"goo.gl",
			"ow.ly",
			"is.gd",
			"short.link",
		},
		SuspiciousTLDs: []string{
			"tk", "ml", "ga", "cf", "gq", "xyz", "top", "click", "download", "stream", "online",
		},
		SuspiciousDomainWords: []string{"free", "win", "prize", "click"},
		BlockedDomains:        nil,
		PhishingKeywords: []string{
			"verify",
			"confirm",
			"update",
			"secure",
			"account",
			"suspended",
			"locked",
			"urgent",
			"free",
			"win",
			"prize",
			"action required",
			"click here",
		},
		PhishingPatterns: []string{"verify-", "confirm-", "update-", "secure-"},
		DigitRunLength:   4,

		PenaltyNoSSL:      30,
		PenaltyMalicious:  40,
		PenaltySuspicious: 20,
		PenaltyNeutral:    5,
		PenaltyPhishing:   20,
		PenaltyFormat:     10,
		MinScore:          50,
	}
}
