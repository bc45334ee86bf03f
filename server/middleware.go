package server

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/types"
)

const (
	loggerKey       = "payterm.logger"
	requestIDHeader = "X-Request-ID"
)

// RequestLogger tags every request with an id, stores a request scoped
// logger in the context and logs the completed request.
func RequestLogger(base logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		reqLogger := logger.With(base, map[string]any{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		c.Header(requestIDHeader, requestID)
		c.Set(loggerKey, reqLogger)

		c.Next()

		fields := map[string]any{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		reqLogger.Info("request completed", fields)
	}
}

// LoggerFrom returns the request scoped logger, or a no-op logger outside
// RequestLogger.
func LoggerFrom(c *gin.Context) logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logger.Logger); ok {
			return l
		}
	}
	return logger.NoopLogger{}
}

// NewRateLimiter builds an in-memory limiter from a "<limit>-<period>"
// rate such as "120-M".
func NewRateLimiter(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "rate limit %q: %v", formatted, err)
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// RateLimit limits requests per client IP.
func RateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		lctx, err := l.Get(c.Request.Context(), ip)
		if err != nil {
			LoggerFrom(c).Error("rate limit check failed", map[string]any{"ip": ip, "error": err})
			Error(c, err)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			LoggerFrom(c).Warn("rate limit exceeded", map[string]any{"ip": ip, "limit": lctx.Limit})
			Error(c, types.NewError(CodeRateLimited, "too many requests, retry later"))
			return
		}
		c.Next()
	}
}

// CORS allows the configured origins. A single "*" allows any origin.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
