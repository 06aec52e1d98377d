// Package journal keeps a durable trace of every SMS the service ingested. Intents stay in
// memory; the journal exists for audit and replay.
package journal

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
	"github.com/smallbiznis/upimatch/pkg/db"
)

type gormJournal struct {
	db *gorm.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New returns a journal backed by conn.
func New(conn *gorm.DB) domain.Journal {
	return &gormJournal{
		db:      conn,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (j *gormJournal) Record(ctx context.Context, record *domain.NotificationRecord) error {
	if record == nil {
		return nil
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now().UTC()
	}
	if record.ID == "" {
		id, err := j.newID(record.ReceivedAt)
		if err != nil {
			return err
		}
		record.ID = id
	}
	if len(record.Signals) == 0 {
		record.Signals = datatypes.JSON("{}")
	}

	err := j.db.WithContext(ctx).Create(record).Error
	if db.IsDuplicateKeyErr(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

func (j *gormJournal) ListByIntent(ctx context.Context, intentID int64) ([]domain.NotificationRecord, error) {
	var records []domain.NotificationRecord
	err := j.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("received_at ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return records, nil
}

func (j *gormJournal) newID(at time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(at), j.entropy)
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id.String(), nil
}

// NewRecord builds the journal entry for one ingested SMS.
func NewRecord(n domain.Notification, signals domain.Signals, result domain.MatchResult, receivedAt time.Time) (*domain.NotificationRecord, error) {
	blob, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("encode signals: %w", err)
	}

	record := &domain.NotificationRecord{
		Sender:     n.Sender,
		Message:    n.Message,
		Reference:  signals.Reference,
		Matched:    result.Matched,
		Signals:    datatypes.JSON(blob),
		SourceTime: n.SourceTime,
		ReceivedAt: receivedAt.UTC(),
	}
	if signals.AmountFound {
		amount := signals.AmountMinor
		record.AmountMinor = &amount
	}
	if result.Matched {
		id := result.IntentID.Int64()
		record.IntentID = &id
	}
	return record, nil
}

type noop struct{}

// Noop discards every record.
func Noop() domain.Journal { return noop{} }

func (noop) Record(context.Context, *domain.NotificationRecord) error { return nil }

func (noop) ListByIntent(context.Context, int64) ([]domain.NotificationRecord, error) {
	return nil, nil
}
