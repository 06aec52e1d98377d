package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	obscontext "github.com/smallbiznis/upimatch/internal/observability/context"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (errorType string, code string)
	// QuietRoutes are logged at debug unless they fail with a 5xx.
	QuietRoutes []string
	// WebhookRoutes log validation rejects at debug. SMS gateways resend malformed
	// payloads until they get a 2xx.
	WebhookRoutes []string
	// Fields runs after the handler and adds request-specific fields such as the
	// payment id or the match outcome.
	Fields func(c *gin.Context) []zap.Field
}

// GinMiddleware writes one http_request line per request, correlated by request id.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := routeSet(cfg.QuietRoutes)
	webhooks := routeSet(cfg.WebhookRoutes)

	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if cfg.Fields != nil {
			fields = append(fields, cfg.Fields(c)...)
		}

		errorType := ""
		if lastErr := c.Errors.Last(); lastErr != nil {
			errorCode := ""
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		level := zapcore.InfoLevel
		_, isQuiet := quiet[route]
		_, isWebhook := webhooks[route]
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status == http.StatusTooManyRequests:
			level = zapcore.WarnLevel
		case isQuiet:
			level = zapcore.DebugLevel
		case isWebhook && errorType == "validation_error":
			level = zapcore.DebugLevel
		}

		if ce := FromContext(c.Request.Context()).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

func routeSet(routes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		if route = strings.TrimSpace(route); route != "" {
			set[route] = struct{}{}
		}
	}
	return set
}
