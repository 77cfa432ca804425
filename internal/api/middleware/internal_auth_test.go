package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-internal"

func internalRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(InternalAuth(secret))
	r.GET("/internal", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CallerContextKey))
	})
	return r
}

func doInternal(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInternalAuth_ValidToken(t *testing.T) {
	token, err := IssueInternalToken(testSecret, "scanner", time.Minute)
	require.NoError(t, err)

	w := doInternal(internalRouter(testSecret), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scanner", w.Body.String())
}

func TestInternalAuth_Rejections(t *testing.T) {
	r := internalRouter(testSecret)

	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Bearer not.a.jwt").Code)

	wrongKey, err := IssueInternalToken("another-secret-entirely", "scanner", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Bearer "+wrongKey).Code)

	expired, err := IssueInternalToken(testSecret, "scanner", -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Bearer "+expired).Code)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: InternalIssuer, Subject: "scanner"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Bearer "+noExp).Code)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer: InternalIssuer, Subject: "scanner", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doInternal(r, "Bearer "+noneAlg).Code)
}

func TestInternalAuth_Disabled(t *testing.T) {
	token, err := IssueInternalToken(testSecret, "scanner", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, doInternal(internalRouter(""), "Bearer "+token).Code)
}
