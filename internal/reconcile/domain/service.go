package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type CreateIntentRequest struct {
	Amount decimal.Decimal
	UserID string
}

type Service interface {
	CreateIntent(context.Context, CreateIntentRequest) (PaymentIntent, error)
	IngestNotification(context.Context, Notification) (MatchResult, error)
	GetStatus(ctx context.Context, id string) (PaymentIntent, error)
	ExpirePending(ctx context.Context, before time.Time) ([]PaymentIntent, error)
	Purge(ctx context.Context, before time.Time) (int, error)
	Stats(ctx context.Context) IntentStats
}

var (
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrMissingMessage = errors.New("missing_message")
	ErrNotFound       = errors.New("not_found")
	ErrNotPaid        = errors.New("not_paid")
)
