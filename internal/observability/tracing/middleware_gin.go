package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	obscontext "github.com/smallbiznis/upimatch/internal/observability/context"
)

const (
	AttrSMSSender  = attribute.Key("upimatch.sms.sender")
	AttrPaymentID  = attribute.Key("upimatch.payment_id")
	AttrSMSMatched = attribute.Key("upimatch.sms.matched")

	eventRateLimited = "rate_limited"
)

// MiddlewareConfig controls the server span.
type MiddlewareConfig struct {
	// Attributes runs after the handler; its result passes through SafeAttributes.
	Attributes func(c *gin.Context) []attribute.KeyValue
}

// GinMiddleware opens a server span per request, renamed to the matched route once
// the handler has run.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer("upimatch/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", method)),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		annotate(span, c, cfg)
	}
}

func annotate(span trace.Span, c *gin.Context, cfg MiddlewareConfig) {
	route := c.FullPath()
	if route == "" {
		route = "unknown"
	}
	status := c.Writer.Status()
	span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)

	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if sender := obscontext.SenderFromContext(ctx); sender != "" {
		attrs = append(attrs, AttrSMSSender.String(sender))
	}
	if cfg.Attributes != nil {
		attrs = append(attrs, cfg.Attributes(c)...)
	}
	span.SetAttributes(SafeAttributes(attrs...)...)

	switch {
	case status == http.StatusTooManyRequests:
		span.AddEvent(eventRateLimited, trace.WithAttributes(
			attribute.String("retry_after", c.Writer.Header().Get("Retry-After")),
		))
	case status >= http.StatusInternalServerError:
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
