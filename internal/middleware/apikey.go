package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Ключи контекста gin
const (
	ContextAPIKeyValidated = "api_key_validated"
	ContextAPIKeyName      = "api_key_name"
)

// APIKeyConfig конфигурация API key аутентификации
type APIKeyConfig struct {
	// ValidKeys ключ -> описание
	ValidKeys map[string]string
	// HeaderName по умолчанию X-API-Key
	HeaderName string
	// Optional пропускает запросы без ключа, помечая их как непроверенные
	Optional bool
}

// DefaultAPIKeyConfig конфигурация по умолчанию
var DefaultAPIKeyConfig = APIKeyConfig{
	HeaderName: "X-API-Key",
}

type APIKey struct {
	config APIKeyConfig
}

// NewAPIKey создаёт API key middleware
func NewAPIKey(config APIKeyConfig) *APIKey {
	if config.HeaderName == "" {
		config.HeaderName = DefaultAPIKeyConfig.HeaderName
	}
	return &APIKey{config: config}
}

// Middleware проверяет ключ из заголовка или Authorization: Bearer
func (ak *APIKey) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(ak.config.HeaderName)
		if apiKey == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if apiKey == "" {
			if ak.config.Optional {
				c.Set(ContextAPIKeyValidated, false)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "API key is required: pass it in X-API-Key or Authorization: Bearer",
			})
			return
		}

		name, ok := ak.lookup(apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Invalid API key",
			})
			return
		}

		c.Set(ContextAPIKeyValidated, true)
		c.Set(ContextAPIKeyName, name)
		c.Next()
	}
}

// lookup сравнивает ключ со всеми допустимыми за постоянное время
func (ak *APIKey) lookup(apiKey string) (string, bool) {
	var (
		found bool
		name  string
	)
	for key, keyName := range ak.config.ValidKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			found = true
			name = keyName
		}
	}
	return name, found
}

// RequireAPIKey создаёт middleware, требующий API ключ.
// Пустой набор ключей отключает проверку.
func RequireAPIKey(validKeys map[string]string) gin.HandlerFunc {
	if len(validKeys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return NewAPIKey(APIKeyConfig{ValidKeys: validKeys}).Middleware()
}

// IsAPIKeyValidated проверяет, был ли API ключ успешно валидирован
func IsAPIKeyValidated(c *gin.Context) bool {
	return c.GetBool(ContextAPIKeyValidated)
}
