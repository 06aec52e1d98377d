package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// NotificationRecord is the durable trace of one ingested SMS and its outcome.
type NotificationRecord struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(26)"`
	Sender      string         `json:"sender" gorm:"type:text;not null;default:''"`
	Message     string         `json:"message" gorm:"type:text;not null"`
	AmountMinor *int64         `json:"amount_minor"`
	Reference   *string        `json:"reference" gorm:"type:text"`
	Matched     bool           `json:"matched" gorm:"not null;index"`
	IntentID    *int64         `json:"intent_id" gorm:"index"`
	Signals     datatypes.JSON `json:"signals" gorm:"not null"`
	SourceTime  *time.Time     `json:"source_time"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null;index"`
}

func (NotificationRecord) TableName() string { return "sms_notifications" }

// Journal records ingested notifications. Implementations must not be called while the
// store lock is held.
type Journal interface {
	Record(ctx context.Context, record *NotificationRecord) error
	ListByIntent(ctx context.Context, intentID int64) ([]NotificationRecord, error)
}
