package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	obscontext "github.com/smallbiznis/upimatch/internal/observability/context"
	"github.com/smallbiznis/upimatch/internal/observability/logger"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

type ingestSMSRequest struct {
	Message string          `json:"message"`
	From    string          `json:"from"`
	Time    json.RawMessage `json:"time"`
}

type ingestSMSResponse struct {
	Matched          bool       `json:"matched"`
	PaymentID        string     `json:"payment_id,omitempty"`
	Amount           string     `json:"amount,omitempty"`
	Reference        *string    `json:"reference,omitempty"`
	NotificationTime *time.Time `json:"notification_time,omitempty"`
}

func (s *Server) IngestSMS(c *gin.Context) {
	var req ingestSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, domain.ErrMissingMessage)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	sourceTime, ok := parseSourceTime(req.Time)
	if !ok {
		// time is informational only; the match uses the server clock
		logger.FromContext(c.Request.Context()).Warn("unrecognised sms time ignored",
			zap.String("time", truncate(string(req.Time), 64)),
		)
	}

	sender := strings.TrimSpace(req.From)
	ctx := c.Request.Context()
	if sender != "" {
		ctx = obscontext.WithSender(ctx, sender)
		c.Request = c.Request.WithContext(ctx)
	}

	result, err := s.reconciler.IngestNotification(ctx, domain.Notification{
		Message:    req.Message,
		SourceTime: sourceTime,
		Sender:     sender,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(keySMSMatched, result.Matched)
	resp := ingestSMSResponse{Matched: result.Matched}
	if result.Matched {
		c.Set(keyPaymentID, result.IntentID.String())
		resp.PaymentID = result.IntentID.String()
		resp.Amount = domain.MinorToDecimal(result.AmountMinor).StringFixed(2)
		resp.Reference = result.Reference
		resp.NotificationTime = result.NotificationTime
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// SMSRateLimit throttles the webhook per sender, falling back to the client IP.
func (s *Server) SMSRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.smsLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := readSMSSender(c)
		if err != nil {
			logger.FromContext(ctx).Warn("sms rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key == "" {
			key = c.ClientIP()
		}

		res, err := s.smsLimiter.Allow(ctx, key)
		if err != nil {
			logger.FromContext(ctx).Warn("sms rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			endpoint := normalizeRateLimitEndpoint(c)
			logger.FromContext(ctx).Warn("sms rate limit exceeded", zap.String("endpoint", endpoint))
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func readSMSSender(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.From), nil
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 100_000_000_000

// parseSourceTime reads the gateway's receive time: RFC3339, or epoch seconds or
// milliseconds as a JSON number or string. Absent values are (nil, true); anything
// unrecognised is (nil, false).
func parseSourceTime(raw json.RawMessage) (*time.Time, bool) {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return nil, true
	}
	if unquoted, err := strconv.Unquote(value); err == nil {
		value = strings.TrimSpace(unquoted)
	}
	if value == "" {
		return nil, true
	}

	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, true
	}
	epoch, err := strconv.ParseInt(value, 10, 64)
	if err != nil || epoch <= 0 {
		return nil, false
	}
	var parsed time.Time
	if epoch >= epochMillisThreshold {
		parsed = time.UnixMilli(epoch).UTC()
	} else {
		parsed = time.Unix(epoch, 0).UTC()
	}
	return &parsed, true
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
