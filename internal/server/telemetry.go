package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	obstracing "github.com/smallbiznis/upimatch/internal/observability/tracing"
)

const (
	routeSMS       = "/api/notifications/sms"
	routeLegacySMS = "/sms-webhook"

	// gin context keys set by handlers for the request log and span
	keyPaymentID  = "upimatch.payment_id"
	keySMSMatched = "upimatch.sms_matched"
)

var (
	quietRoutes   = []string{"/health", "/metrics"}
	webhookRoutes = []string{routeSMS, routeLegacySMS}
)

// paymentIDOf is the intent a request acted on, whichever way it was addressed.
func paymentIDOf(c *gin.Context) string {
	if id := c.GetString(keyPaymentID); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query("paymentId"))
}

func smsMatchedOf(c *gin.Context) (matched bool, ok bool) {
	v, exists := c.Get(keySMSMatched)
	if !exists {
		return false, false
	}
	matched, ok = v.(bool)
	return matched, ok
}

func requestLogFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if id := paymentIDOf(c); id != "" {
		fields = append(fields, zap.String("payment_id", id))
	}
	if matched, ok := smsMatchedOf(c); ok {
		fields = append(fields, zap.Bool("sms_matched", matched))
	}
	return fields
}

func spanAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := paymentIDOf(c); id != "" {
		attrs = append(attrs, obstracing.AttrPaymentID.String(id))
	}
	if matched, ok := smsMatchedOf(c); ok {
		attrs = append(attrs, obstracing.AttrSMSMatched.Bool(matched))
	}
	return attrs
}
