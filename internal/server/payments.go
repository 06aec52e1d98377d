package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
	"github.com/smallbiznis/upimatch/internal/upilink"
)

type createPaymentRequest struct {
	Amount json.RawMessage `json:"amount"`
	UserID string          `json:"userId"`
}

type createPaymentResponse struct {
	PaymentID    string    `json:"payment_id"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	UPILink      string    `json:"upi_link"`
	UPIID        string    `json:"upi_id"`
	MerchantName string    `json:"merchant_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type paymentStatusResponse struct {
	PaymentID        string     `json:"payment_id"`
	Status           string     `json:"status"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	UserID           *string    `json:"user_id,omitempty"`
	Reference        *string    `json:"reference"`
	NotificationTime *time.Time `json:"notification_time"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, domain.ErrInvalidAmount)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.reconciler.CreateIntent(c.Request.Context(), domain.CreateIntentRequest{
		Amount: amount,
		UserID: strings.TrimSpace(req.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(keyPaymentID, intent.ID.String())
	c.JSON(http.StatusOK, gin.H{"data": createPaymentResponse{
		PaymentID:    intent.ID.String(),
		Amount:       intent.Amount().StringFixed(2),
		Currency:     intent.Currency,
		Status:       string(intent.Status),
		UPILink:      upilink.Build(s.cfg.Payee, intent.AmountMinor),
		UPIID:        s.cfg.Payee.VPA,
		MerchantName: s.cfg.Payee.Name,
		CreatedAt:    intent.CreatedAt,
	}})
}

// parseAmount accepts a JSON number or numeric string. Anything else is an invalid amount.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var amount decimal.Decimal
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return amount, domain.ErrInvalidAmount
	}
	if err := amount.UnmarshalJSON([]byte(value)); err != nil {
		return decimal.Decimal{}, domain.ErrInvalidAmount
	}
	return amount, nil
}

func (s *Server) GetPayment(c *gin.Context) {
	s.writePaymentStatus(c, c.Param("id"))
}

func (s *Server) CheckPayment(c *gin.Context) {
	s.writePaymentStatus(c, c.Query("paymentId"))
}

func (s *Server) writePaymentStatus(c *gin.Context, id string) {
	intent, err := s.reconciler.GetStatus(c.Request.Context(), strings.TrimSpace(id))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": paymentStatusResponse{
		PaymentID:        intent.ID.String(),
		Status:           string(intent.Status),
		Amount:           intent.Amount().StringFixed(2),
		Currency:         intent.Currency,
		UserID:           intent.UserID,
		Reference:        intent.MatchedReference,
		NotificationTime: intent.NotificationTime,
		PaidAt:           intent.PaidAt,
		ExpiredAt:        intent.ExpiredAt,
		CreatedAt:        intent.CreatedAt,
	}})
}

func (s *Server) GetPaymentReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	intent, err := s.reconciler.GetStatus(ctx, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pdf, err := s.receipts.Render(ctx, intent)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", pdf, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="receipt-%s.pdf"`, intent.ID.String()),
	})
}

func (s *Server) ListPaymentNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	intent, err := s.reconciler.GetStatus(ctx, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records := []domain.NotificationRecord{}
	if s.journal != nil {
		records, err = s.journal.ListByIntent(ctx, intent.ID.Int64())
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}
