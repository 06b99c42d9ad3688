package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/auth"
	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
	"github.com/rms-knowledge-service/services/impl"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLimiter struct {
	decision *services.RateDecision
	err      error
}

func (s *stubLimiter) Allow(context.Context, string, string) (*services.RateDecision, error) {
	return s.decision, s.err
}

func testAccessControl(t *testing.T) services.AccessControlService {
	t.Helper()
	return impl.NewAccessControlService(&config.AccessConfig{
		Sections: []string{"restaurant_ops", "procedures", "standards"},
		DetailedAccess: map[string]map[string]string{
			"restaurant_management": {
				"restaurant_ops": "full",
				"procedures":     "full",
				"standards":      "read_only",
			},
			"kitchen_management": {
				"procedures": "read_only",
			},
		},
	})
}

func authedRouter(t *testing.T, validator *auth.JWTValidator, limiter services.RateLimiter) *gin.Engine {
	t.Helper()
	router := gin.New()
	group := router.Group("/api/v1", AuthMiddleware(validator, testAccessControl(t)))
	handle := func(c *gin.Context) {
		principal := principalFrom(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":  principal.UserID,
			"sections": principal.AllowedSections,
		})
	}
	if limiter != nil {
		group.GET("/probe", RateLimitMiddleware(limiter), handle)
	} else {
		group.GET("/probe", handle)
	}
	return router
}

func doProbe(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/probe", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	validator := auth.NewJWTValidator("middleware-test-secret", nil)
	router := authedRouter(t, validator, nil)

	t.Run("valid token passes with principal in context", func(t *testing.T) {
		token, err := validator.GenerateToken("user-7", "restaurant_management", time.Hour)
		require.NoError(t, err)

		rec := doProbe(router, "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "user-7")
		assert.Contains(t, rec.Body.String(), "procedures")
	})

	t.Run("missing header is 401", func(t *testing.T) {
		rec := doProbe(router, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "detail")
	})

	t.Run("malformed header is 401", func(t *testing.T) {
		rec := doProbe(router, "Token abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		other := auth.NewJWTValidator("different-secret", nil)
		token, err := other.GenerateToken("user-7", "restaurant_management", time.Hour)
		require.NoError(t, err)

		rec := doProbe(router, "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	validator := auth.NewJWTValidator("middleware-test-secret", nil)
	token, err := validator.GenerateToken("user-7", "kitchen_management", time.Hour)
	require.NoError(t, err)

	t.Run("allowed request passes through", func(t *testing.T) {
		limiter := &stubLimiter{decision: &services.RateDecision{Allowed: true}}
		rec := doProbe(authedRouter(t, validator, limiter), "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("blocked request gets 429 with Retry-After", func(t *testing.T) {
		limiter := &stubLimiter{decision: &services.RateDecision{Allowed: false, RetryAfter: 30 * time.Second}}
		rec := doProbe(authedRouter(t, validator, limiter), "Bearer "+token)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		limiter := &stubLimiter{err: fmt.Errorf("redis down")}
		rec := doProbe(authedRouter(t, validator, limiter), "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRespondError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"document not found", services.ErrDocumentNotFound, http.StatusNotFound},
		{"session not found", services.ErrSessionNotFound, http.StatusNotFound},
		{"access denied", services.ErrAccessDenied, http.StatusForbidden},
		{"session busy", services.ErrSessionBusy, http.StatusConflict},
		{"unsupported file type", services.ErrUnsupportedFileType, http.StatusBadRequest},
		{"file too large", services.ErrFileTooLarge, http.StatusBadRequest},
		{"unknown section", services.ErrUnknownSection, http.StatusBadRequest},
		{"wrapped sentinel", fmt.Errorf("upload: %w", services.ErrAccessDenied), http.StatusForbidden},
		{"unexpected error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondError(c, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}
