package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid"

	"github.com/lox/waterbudget/internal/auth"
	"github.com/lox/waterbudget/internal/metrics"
)

const (
	requestIDHeader   = "X-Request-ID"
	requestIDKey      = "request_id"
	scopeKey          = "scope"
	subjectKey        = "subject"
	requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// requestID tags each request with an id, reusing a client-supplied one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			generated, err := gonanoid.Generate(requestIDAlphabet, 12)
			if err == nil {
				id = generated
			}
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", elapsed.Milliseconds(),
			"request_id", c.GetString(requestIDKey),
		}
		if sub := c.GetString(subjectKey); sub != "" {
			attrs = append(attrs, "subject", sub)
		}
		switch {
		case status >= 500:
			s.logger.Error("http request", attrs...)
		case status >= 400:
			s.logger.Warn("http request", attrs...)
		default:
			s.logger.Info("http request", attrs...)
		}
	}
}

// requireAuth verifies the bearer token and stores its scope on the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}

		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "authorization header format must be Bearer {token}")
			return
		}

		claims, err := auth.ParseToken(strings.TrimSpace(parts[1]), s.secret)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(scopeKey, claims.Scope())
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// scopeOf returns the caller's scope. A request that somehow skipped the
// auth middleware sees nothing.
func scopeOf(c *gin.Context) auth.Scope {
	if v, ok := c.Get(scopeKey); ok {
		if scope, ok := v.(auth.Scope); ok {
			return scope
		}
	}
	return auth.NewSystems()
}
