package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/telemetry"
)

const secret = "test-secret"

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString("userID"),
			"request_id": telemetry.RequestIDFromContext(c.Request.Context()),
		})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := SignToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	expired, err := SignToken(secret, "alice", -time.Hour)
	require.NoError(t, err)
	foreign, err := SignToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		ws     bool
		status int
	}{
		{name: "valid bearer", header: "Bearer " + valid, status: http.StatusOK},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "query ignored for http", query: valid, status: http.StatusUnauthorized},
		{name: "query accepted for ws", query: valid, ws: true, status: http.StatusOK},
	}

	validator := NewJWTValidator(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := AuthMiddleware(validator)
			if tt.ws {
				mw = WSAuthMiddleware(validator)
			}
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(mw).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"user_id":"alice"`)
			}
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	token, err := SignToken(secret, "alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	newRouter(AuthMiddleware(NewJWTValidator(secret))).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
	assert.Contains(t, w.Body.String(), `"request_id":"req-42"`)
}
