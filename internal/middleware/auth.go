package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rwandacancerrelief/notify-api/pkg/security"
)

const (
	HeaderAPIKey       = "X-API-Key"
	ContextServiceName = "service_name"
)

// ServiceAuthConfig holds credentials accepted on the notification
// surface: an HMAC secret for service-issued JWTs and a bcrypt hash of
// the scheduler's API key.
type ServiceAuthConfig struct {
	JWTSecret  string
	APIKeyHash string
}

// ServiceAuthMiddleware authenticates the two legitimate callers of this
// API: the application backend (Bearer service token) and the dispatch
// scheduler (static API key).
type ServiceAuthMiddleware struct {
	config ServiceAuthConfig
	hasher security.KeyHasher
}

func NewServiceAuthMiddleware(config ServiceAuthConfig, hasher security.KeyHasher) *ServiceAuthMiddleware {
	return &ServiceAuthMiddleware{
		config: config,
		hasher: hasher,
	}
}

type serviceClaims struct {
	ServiceName string `json:"service_name"`
	jwt.RegisteredClaims
}

// Authenticate accepts either credential form and rejects everything else.
func (m *ServiceAuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderAPIKey); key != "" {
			if m.config.APIKeyHash == "" || m.hasher.Compare(m.config.APIKeyHash, key) != nil {
				m.reject(c, "invalid API key")
				return
			}
			c.Set(ContextServiceName, "scheduler")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.reject(c, "missing credentials")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(c, "invalid authorization format")
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.reject(c, "invalid token")
			return
		}

		c.Set(ContextServiceName, claims.ServiceName)
		c.Next()
	}
}

func (m *ServiceAuthMiddleware) validateToken(token string) (*serviceClaims, error) {
	claims := &serviceClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

func (m *ServiceAuthMiddleware) reject(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Code:    http.StatusUnauthorized,
		Message: message,
		TraceID: c.GetString(ContextRequestID),
	})
}
