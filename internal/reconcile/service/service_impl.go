package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/upimatch/internal/clock"
	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/observability/logger"
	"github.com/smallbiznis/upimatch/internal/observability/metrics"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
	"github.com/smallbiznis/upimatch/internal/reconcile/extract"
	"github.com/smallbiznis/upimatch/internal/reconcile/journal"
	"github.com/smallbiznis/upimatch/internal/reconcile/store"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Store   *store.Store
	Rules   *config.MatchingRulesHolder
	Journal domain.Journal   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	store    *store.Store
	rules    *config.MatchingRulesHolder
	journal  domain.Journal
	metrics  *metrics.Metrics
	currency string
}

func New(p Params) domain.Service {
	j := p.Journal
	if j == nil {
		j = journal.Noop()
	}
	currency := strings.TrimSpace(p.Config.Payee.Currency)
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		log:      p.Log.Named("reconcile.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		store:    p.Store,
		rules:    p.Rules,
		journal:  j,
		metrics:  p.Metrics,
		currency: currency,
	}
}

var hundred = decimal.NewFromInt(100)

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.PaymentIntent, error) {
	amountMinor, err := toMinor(req.Amount)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	intent := domain.PaymentIntent{
		ID:          s.genID.Generate(),
		AmountMinor: amountMinor,
		Currency:    s.currency,
		Status:      domain.IntentStatusPending,
		CreatedAt:   s.clock.Now(),
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		intent.UserID = &userID
	}

	if err := s.store.Insert(intent); err != nil {
		return domain.PaymentIntent{}, err
	}
	s.metrics.RecordIntentCreated(ctx)
	logger.WithContext(ctx, s.log).Debug("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.Int64("amount_minor", intent.AmountMinor),
	)
	return intent.Clone(), nil
}

// toMinor accepts positive rupee amounts with at most two fractional digits.
func toMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	minor := amount.Mul(hundred)
	if !minor.IsInteger() || !minor.BigInt().IsInt64() {
		return 0, domain.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func (s *Service) IngestNotification(ctx context.Context, n domain.Notification) (domain.MatchResult, error) {
	if n.Message == "" {
		return domain.MatchResult{}, domain.ErrMissingMessage
	}

	signals := extract.Extract(n.Message)
	log := logger.WithContext(ctx, s.log)

	var result domain.MatchResult
	outcome := metrics.OutcomeNoAmount
	if signals.AmountFound {
		outcome = metrics.OutcomeUnmatched
		intent, ok := s.store.Match(store.MatchRequest{
			AmountMinor:      signals.AmountMinor,
			Reference:        signals.Reference,
			NotificationTime: n.SourceTime,
			Window:           s.rules.Get().Window,
		})
		if ok {
			outcome = metrics.OutcomeMatched
			result = domain.MatchResult{
				Matched:          true,
				IntentID:         intent.ID,
				AmountMinor:      intent.AmountMinor,
				Reference:        intent.MatchedReference,
				NotificationTime: intent.NotificationTime,
			}
			if intent.PaidAt != nil {
				s.metrics.RecordMatchLatency(ctx, intent.PaidAt.Sub(intent.CreatedAt))
			}
			log.Info("payment intent matched",
				zap.String("intent_id", intent.ID.String()),
				zap.Int64("amount_minor", intent.AmountMinor),
				zap.Bool("has_reference", intent.MatchedReference != nil),
			)
		}
	}
	s.metrics.RecordNotification(ctx, outcome)
	if !result.Matched {
		log.Debug("notification not matched",
			zap.String("outcome", outcome),
			zap.Int64("amount_minor", signals.AmountMinor),
		)
	}

	s.recordJournal(ctx, n, signals, result)
	return result, nil
}

func (s *Service) recordJournal(ctx context.Context, n domain.Notification, signals domain.Signals, result domain.MatchResult) {
	record, err := journal.NewRecord(n, signals, result, s.clock.Now())
	if err == nil {
		err = s.journal.Record(ctx, record)
	}
	if err != nil {
		s.metrics.RecordJournalFailure(ctx)
		logger.WithContext(ctx, s.log).Warn("failed to journal notification", zap.Error(err))
	}
}

func (s *Service) GetStatus(ctx context.Context, id string) (domain.PaymentIntent, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	intent, ok := s.store.Get(snowflake.ID(parsed))
	if !ok {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	return intent, nil
}

func (s *Service) ExpirePending(ctx context.Context, before time.Time) ([]domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expired := s.store.ExpirePending(before)
	s.metrics.RecordExpired(ctx, len(expired))
	if len(expired) > 0 {
		s.log.Info("expired pending intents",
			zap.Int("count", len(expired)),
			zap.Time("before", before),
		)
	}
	return expired, nil
}

func (s *Service) Purge(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := s.store.Purge(before)
	if removed > 0 {
		s.log.Info("purged terminal intents",
			zap.Int("count", removed),
			zap.Time("before", before),
		)
	}
	return removed, nil
}

func (s *Service) Stats(context.Context) domain.IntentStats {
	return s.store.Stats()
}
