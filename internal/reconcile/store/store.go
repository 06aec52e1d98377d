// Package store owns every payment intent held by the process. All mutations and match scans
// run under one exclusive lock; reads take the shared lock and receive copies.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/upimatch/internal/clock"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
)

var ErrDuplicateID = errors.New("duplicate intent id")

// MatchRequest describes one attempt to settle a pending intent.
type MatchRequest struct {
	AmountMinor      int64
	Reference        *string
	NotificationTime *time.Time
	Window           time.Duration
}

type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	intents map[snowflake.ID]*domain.PaymentIntent
	// pending indexes PENDING intents by amount, each bucket ordered by (CreatedAt, ID).
	pending map[int64][]snowflake.ID
}

func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.System()
	}
	return &Store{
		clock:   c,
		intents: make(map[snowflake.ID]*domain.PaymentIntent),
		pending: make(map[int64][]snowflake.ID),
	}
}

// Insert stores a copy of intent. PENDING intents join the pending index.
func (s *Store) Insert(intent domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; ok {
		return ErrDuplicateID
	}
	stored := intent.Clone()
	s.intents[stored.ID] = &stored
	if stored.Status == domain.IntentStatusPending {
		s.indexPending(&stored)
	}
	return nil
}

func (s *Store) Get(id snowflake.ID) (domain.PaymentIntent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[id]
	if !ok {
		return domain.PaymentIntent{}, false
	}
	return intent.Clone(), true
}

// Match settles the oldest pending intent for the requested amount whose age is strictly
// below the window. The clock is read under the lock so that eligibility and paidAt agree.
func (s *Store) Match(req MatchRequest) (domain.PaymentIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	bucket := s.pending[req.AmountMinor]
	for i, id := range bucket {
		intent := s.intents[id]
		if now.Sub(intent.CreatedAt) >= req.Window {
			continue
		}

		notificationTime := now
		if req.NotificationTime != nil {
			notificationTime = *req.NotificationTime
		}
		paidAt := now
		intent.Status = domain.IntentStatusPaid
		intent.PaidAt = &paidAt
		intent.NotificationTime = &notificationTime
		if req.Reference != nil {
			ref := *req.Reference
			intent.MatchedReference = &ref
		}

		s.removePendingAt(req.AmountMinor, i)
		return intent.Clone(), true
	}
	return domain.PaymentIntent{}, false
}

// ExpirePending moves every PENDING intent created before the cutoff to EXPIRED.
func (s *Store) ExpirePending(before time.Time) []domain.PaymentIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired []domain.PaymentIntent
	for amount, bucket := range s.pending {
		kept := bucket[:0]
		for _, id := range bucket {
			intent := s.intents[id]
			if !intent.CreatedAt.Before(before) {
				kept = append(kept, id)
				continue
			}
			expiredAt := now
			intent.Status = domain.IntentStatusExpired
			intent.ExpiredAt = &expiredAt
			expired = append(expired, intent.Clone())
		}
		if len(kept) == 0 {
			delete(s.pending, amount)
		} else {
			s.pending[amount] = kept
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return less(&expired[i], &expired[j])
	})
	return expired
}

// Purge deletes terminal intents that left PENDING before the cutoff.
func (s *Store) Purge(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, intent := range s.intents {
		at, ok := intent.TerminalAt()
		if !ok || !at.Before(before) {
			continue
		}
		delete(s.intents, id)
		removed++
	}
	return removed
}

func (s *Store) Stats() domain.IntentStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.IntentStats
	for _, intent := range s.intents {
		switch intent.Status {
		case domain.IntentStatusPending:
			stats.Pending++
		case domain.IntentStatusPaid:
			stats.Paid++
		case domain.IntentStatusExpired:
			stats.Expired++
		}
	}
	return stats
}

func (s *Store) indexPending(intent *domain.PaymentIntent) {
	bucket := s.pending[intent.AmountMinor]
	pos := sort.Search(len(bucket), func(i int) bool {
		return less(intent, s.intents[bucket[i]])
	})
	bucket = append(bucket, 0)
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = intent.ID
	s.pending[intent.AmountMinor] = bucket
}

func (s *Store) removePendingAt(amount int64, i int) {
	bucket := s.pending[amount]
	bucket = append(bucket[:i], bucket[i+1:]...)
	if len(bucket) == 0 {
		delete(s.pending, amount)
		return
	}
	s.pending[amount] = bucket
}

func less(a, b *domain.PaymentIntent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
