package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	InternalIssuer   = "threatwatch"
	CallerContextKey = "internalCaller"
)

var ErrInternalToken = errors.New("invalid internal token")

// InternalClaims identify the service calling the internal API.
type InternalClaims struct {
	jwt.RegisteredClaims
}

// IssueInternalToken signs an HS256 token for subject valid for ttl.
func IssueInternalToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := InternalClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    InternalIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseInternalToken verifies signature, algorithm, issuer and expiry.
func ParseInternalToken(secret, raw string) (*InternalClaims, error) {
	claims := &InternalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(InternalIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Join(ErrInternalToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInternalToken
	}
	return claims, nil
}

// InternalAuth guards the internal API with a bearer JWT. An empty secret
// disables the internal API entirely.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "internal API not configured"})
			return
		}
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		claims, err := ParseInternalToken(secret, raw)
		if err != nil {
			GetRequestLogger(c).WithError(err).Warn("rejected internal token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(CallerContextKey, claims.Subject)
		c.Set(loggerKey, GetRequestLogger(c).WithField("caller", claims.Subject))
		c.Next()
	}
}
