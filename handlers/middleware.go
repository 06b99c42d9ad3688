package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rms-knowledge-service/auth"
	"github.com/rms-knowledge-service/services"
)

// detail writes the error envelope used across the whole API.
func detail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}

// AuthMiddleware validates the bearer token and stores the principal's
// identity, access level and allowed sections in the request context.
func AuthMiddleware(validator *auth.JWTValidator, access services.AccessControlService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			detail(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			detail(c, http.StatusUnauthorized, "Неверный формат токена авторизации")
			return
		}

		claims, err := validator.ValidateToken(header)
		if err != nil {
			log.Printf("[WARN] Token validation failed: %v", err)
			detail(c, http.StatusUnauthorized, "Недействительный токен авторизации")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("access_level", claims.SubscriptionType)
		c.Set("allowed_sections", access.AllowedSections(claims.SubscriptionType))
		c.Next()
	}
}

// RateLimitMiddleware gates chat and search per principal. A limiter failure
// fails open: availability over strictness.
func RateLimitMiddleware(limiter services.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalFrom(c)
		decision, err := limiter.Allow(c.Request.Context(), principal.UserID, principal.AccessLevel)
		if err != nil {
			log.Printf("[WARN] Rate limiter failed for user %s: %v", principal.UserID, err)
			c.Next()
			return
		}
		if !decision.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
			detail(c, http.StatusTooManyRequests, "Превышен лимит запросов. Попробуйте позже.")
			return
		}
		c.Next()
	}
}

// principalFrom rebuilds the authenticated principal from the gin context.
// Must only be called behind AuthMiddleware.
func principalFrom(c *gin.Context) services.Principal {
	principal := services.Principal{}
	if v, ok := c.Get("user_id"); ok {
		principal.UserID, _ = v.(string)
	}
	if v, ok := c.Get("access_level"); ok {
		principal.AccessLevel, _ = v.(string)
	}
	if v, ok := c.Get("allowed_sections"); ok {
		principal.AllowedSections, _ = v.([]string)
	}
	return principal
}

// respondError maps domain errors onto HTTP statuses with the shared envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDocumentNotFound):
		detail(c, http.StatusNotFound, "Документ не найден")
	case errors.Is(err, services.ErrSessionNotFound):
		detail(c, http.StatusNotFound, "Сессия не найдена")
	case errors.Is(err, services.ErrAccessDenied):
		detail(c, http.StatusForbidden, "Недостаточно прав для выполнения операции")
	case errors.Is(err, services.ErrSessionBusy):
		detail(c, http.StatusConflict, "Сессия обрабатывает предыдущий запрос")
	case errors.Is(err, services.ErrUnsupportedFileType):
		detail(c, http.StatusBadRequest, "Неподдерживаемый тип файла")
	case errors.Is(err, services.ErrFileTooLarge):
		detail(c, http.StatusBadRequest, "Файл превышает допустимый размер")
	case errors.Is(err, services.ErrUnknownSection):
		detail(c, http.StatusBadRequest, "Неизвестный раздел")
	default:
		log.Printf("[ERROR] Request failed: %v", err)
		detail(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
	}
}
