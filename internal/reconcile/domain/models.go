package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusPending IntentStatus = "PENDING"
	IntentStatusPaid    IntentStatus = "PAID"
	IntentStatusExpired IntentStatus = "EXPIRED"
)

// PaymentIntent is one expected incoming payment. Amount is held in paise.
type PaymentIntent struct {
	ID               snowflake.ID `json:"id"`
	AmountMinor      int64        `json:"amount_minor"`
	Currency         string       `json:"currency"`
	UserID           *string      `json:"user_id,omitempty"`
	Status           IntentStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	MatchedReference *string      `json:"matched_reference,omitempty"`
	NotificationTime *time.Time   `json:"notification_time,omitempty"`
	ExpiredAt        *time.Time   `json:"expired_at,omitempty"`
}

// Amount returns the intent amount in rupees.
func (p PaymentIntent) Amount() decimal.Decimal {
	return MinorToDecimal(p.AmountMinor)
}

func (p PaymentIntent) IsTerminal() bool {
	return p.Status == IntentStatusPaid || p.Status == IntentStatusExpired
}

// TerminalAt reports when the intent left PENDING.
func (p PaymentIntent) TerminalAt() (time.Time, bool) {
	switch {
	case p.Status == IntentStatusPaid && p.PaidAt != nil:
		return *p.PaidAt, true
	case p.Status == IntentStatusExpired && p.ExpiredAt != nil:
		return *p.ExpiredAt, true
	default:
		return time.Time{}, false
	}
}

// Clone returns a deep copy so callers never alias store-owned state.
func (p PaymentIntent) Clone() PaymentIntent {
	out := p
	out.UserID = cloneString(p.UserID)
	out.PaidAt = cloneTime(p.PaidAt)
	out.MatchedReference = cloneString(p.MatchedReference)
	out.NotificationTime = cloneTime(p.NotificationTime)
	out.ExpiredAt = cloneTime(p.ExpiredAt)
	return out
}

// Signals are the structured values extracted from one SMS body.
type Signals struct {
	AmountMinor int64   `json:"amount_minor"`
	AmountFound bool    `json:"amount_found"`
	Reference   *string `json:"reference,omitempty"`
}

// Notification is a raw bank SMS handed to IngestNotification.
type Notification struct {
	Message    string
	SourceTime *time.Time
	Sender     string
}

type MatchResult struct {
	Matched          bool
	IntentID         snowflake.ID
	AmountMinor      int64
	Reference        *string
	NotificationTime *time.Time
}

// IntentStats counts intents by status.
type IntentStats struct {
	Pending int
	Paid    int
	Expired int
}

// MinorToDecimal converts paise to rupees.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
