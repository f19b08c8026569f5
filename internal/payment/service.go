package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/notify"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrUnknownGateway   = errors.New("unknown payment gateway")
	ErrNotConfigured    = errors.New("webhook secret not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrUnknownReference = errors.New("unknown transaction reference")
	// ErrCreditFailed leaves the transaction pending for a later delivery
	ErrCreditFailed = errors.New("meter credit failed")
)

// RoutingKeyPaymentSettled is published after a transaction reaches a
// terminal state.
const RoutingKeyPaymentSettled = "payment.settled"

// Outcome describes what a delivery did
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomePending   Outcome = "pending"
	OutcomeRejected  Outcome = "rejected"
)

// TransactionStore locks and updates transactions and records deliveries
type TransactionStore interface {
	WithLockedTransaction(ctx context.Context, reference string, fn func(txn *db.Transaction) error) error
	InsertWebhookLog(ctx context.Context, entry *db.WebhookLog) error
}

// Crediter tops up the meter a transaction paid for
type Crediter interface {
	Credit(ctx context.Context, txn *db.Transaction) (saleID string, err error)
}

// Notifier tells operators and customers about outcomes
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) notify.Result
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Secrets are the per-gateway webhook signing keys
type Secrets struct {
	Paystack string
	IvoryPay string
}

func (s Secrets) For(gateway string) (string, error) {
	switch gateway {
	case GatewayPaystack:
		return s.Paystack, nil
	case GatewayIvoryPay:
		return s.IvoryPay, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownGateway, gateway)
}

// SettledEvent is the payload of RoutingKeyPaymentSettled
type SettledEvent struct {
	Reference string    `json:"reference"`
	Gateway   string    `json:"gateway"`
	RoomNo    string    `json:"roomNo"`
	MeterID   string    `json:"meterId"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	SaleID    string    `json:"saleId,omitempty"`
	SettledAt time.Time `json:"settledAt"`
}

// Service applies gateway webhooks to transactions
type Service struct {
	store     TransactionStore
	crediter  Crediter
	notifier  Notifier
	publisher Publisher
	secrets   Secrets
	now       func() time.Time
	// async runs post-commit side effects
	async   func(func())
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates the webhook service
func NewService(store TransactionStore, crediter Crediter, notifier Notifier, publisher Publisher, secrets Secrets, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		crediter:  crediter,
		notifier:  notifier,
		publisher: publisher,
		secrets:   secrets,
		now:       time.Now,
		async:     func(f func()) { go f() },
		metrics:   m,
		logger:    logger,
	}
}

// errUnchanged aborts the locked section without writing
var errUnchanged = errors.New("transaction unchanged")

// HandleWebhook verifies and applies one gateway delivery. The transaction
// moves pending -> success only after the meter was credited, and
// pending -> failed only when the gateway reports failure. A settled
// transaction is never credited twice.
func (s *Service) HandleWebhook(ctx context.Context, gateway string, body []byte, signature string) (Outcome, error) {
	secret, err := s.secrets.For(gateway)
	if err != nil {
		return OutcomeRejected, err
	}
	if secret == "" {
		s.logger.Error("webhook secret not configured; rejecting webhook", zap.String("gateway", gateway))
		return OutcomeRejected, ErrNotConfigured
	}

	entry := &db.WebhookLog{
		Gateway:    gateway,
		Payload:    body,
		ReceivedAt: s.now(),
	}

	if !VerifySignature(body, signature, secret) {
		s.logger.Warn("invalid webhook signature", zap.String("gateway", gateway))
		s.finish(ctx, entry, OutcomeRejected, ErrInvalidSignature)
		return OutcomeRejected, ErrInvalidSignature
	}
	entry.SignatureValid = true

	ev, err := parseEvent(gateway, body)
	if err != nil {
		s.logger.Warn("invalid webhook payload", zap.String("gateway", gateway), zap.Error(err))
		s.finish(ctx, entry, OutcomeRejected, err)
		return OutcomeRejected, err
	}
	entry.Event = ev.Name
	entry.Reference = ev.Reference

	logger := s.logger.With(
		zap.String("gateway", gateway),
		zap.String("event", ev.Name),
		zap.String("reference", ev.Reference),
	)

	if ev.Kind == eventOther || ev.Reference == "" {
		logger.Debug("ignoring unhandled webhook event")
		s.finish(ctx, entry, OutcomeIgnored, nil)
		return OutcomeIgnored, nil
	}

	var (
		outcome   Outcome
		creditErr error
		settled   db.Transaction
	)

	err = s.store.WithLockedTransaction(ctx, ev.Reference, func(txn *db.Transaction) error {
		if txn.Settled() {
			outcome = OutcomeDuplicate
			return errUnchanged
		}
		if txn.Status == db.TxStatusFailed {
			outcome = OutcomeIgnored
			return errUnchanged
		}

		if ev.AmountKobo != 0 && ev.AmountKobo != txn.AmountKobo {
			logger.Warn("gateway amount differs from transaction amount",
				zap.Int64("gateway_kobo", ev.AmountKobo),
				zap.Int64("transaction_kobo", txn.AmountKobo))
		}

		now := s.now()
		switch ev.Kind {
		case eventFailed:
			reason := ev.Reason
			if reason == "" {
				reason = "payment failed at gateway"
			}
			txn.Status = db.TxStatusFailed
			txn.ErrorMessage = &reason
			txn.ProcessedAt = &now
			outcome = OutcomeFailed

		case eventSuccess:
			saleID, err := s.crediter.Credit(ctx, txn)
			if err != nil {
				msg := err.Error()
				txn.ErrorMessage = &msg
				creditErr = err
				outcome = OutcomePending
				break
			}
			txn.Status = db.TxStatusSuccess
			txn.SaleID = &saleID
			txn.ErrorMessage = nil
			txn.ProcessedAt = &now
			outcome = OutcomeSettled
		}

		settled = *txn
		return nil
	})

	switch {
	case errors.Is(err, errUnchanged):
		logger.Info("webhook for finished transaction, skipping", zap.String("outcome", string(outcome)))
		s.finish(ctx, entry, outcome, nil)
		return outcome, nil

	case errors.Is(err, repository.ErrNotFound):
		logger.Warn("webhook for unknown transaction")
		s.finish(ctx, entry, OutcomeRejected, ErrUnknownReference)
		return OutcomeRejected, ErrUnknownReference

	case err != nil:
		logger.Error("failed to apply webhook", zap.Error(err))
		s.finish(ctx, entry, OutcomePending, err)
		return OutcomePending, fmt.Errorf("failed to apply webhook: %w", err)
	}

	if creditErr != nil {
		logger.Error("meter credit failed; transaction left pending", zap.Error(creditErr))
		s.finish(ctx, entry, outcome, creditErr)
		return outcome, fmt.Errorf("%w: %v", ErrCreditFailed, creditErr)
	}

	logger.Info("transaction settled",
		zap.String("status", settled.Status),
		zap.String("room_no", settled.RoomNo),
		zap.Int64("amount_kobo", settled.AmountKobo))
	s.finish(ctx, entry, outcome, nil)
	s.announce(settled, gateway)
	return outcome, nil
}

func (s *Service) finish(ctx context.Context, entry *db.WebhookLog, outcome Outcome, procErr error) {
	s.metrics.Webhook(entry.Gateway, string(outcome))

	if procErr != nil {
		msg := procErr.Error()
		entry.Error = &msg
	}
	if err := s.store.InsertWebhookLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record webhook delivery", zap.String("gateway", entry.Gateway), zap.Error(err))
	}
}

// announce notifies and publishes after commit. Neither can affect the
// committed state.
func (s *Service) announce(txn db.Transaction, gateway string) {
	amount := KoboToNaira(txn.AmountKobo)
	ev := notify.Event{
		Kind:          notify.KindPaymentSuccess,
		Reference:     txn.Reference,
		Gateway:       gateway,
		RoomNo:        txn.RoomNo,
		MeterID:       txn.MeterID,
		Amount:        amount,
		CustomerName:  txn.CustomerName,
		CustomerEmail: txn.CustomerEmail,
		CustomerPhone: txn.CustomerPhone,
		OccurredAt:    s.now(),
	}
	if txn.Status == db.TxStatusFailed {
		ev.Kind = notify.KindPaymentFailed
		if txn.ErrorMessage != nil {
			ev.Reason = *txn.ErrorMessage
		}
	}

	settledEvent := SettledEvent{
		Reference: txn.Reference,
		Gateway:   gateway,
		RoomNo:    txn.RoomNo,
		MeterID:   txn.MeterID,
		Amount:    amount,
		Status:    txn.Status,
		SettledAt: ev.OccurredAt,
	}
	if txn.SaleID != nil {
		settledEvent.SaleID = *txn.SaleID
	}

	s.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if s.notifier != nil {
			s.notifier.Notify(ctx, ev)
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, RoutingKeyPaymentSettled, settledEvent); err != nil {
				s.logger.Warn("failed to publish payment event", zap.String("reference", txn.Reference), zap.Error(err))
			}
		}
	})
}

// KoboToNaira converts a persisted amount to the unit the platform and API use
func KoboToNaira(kobo int64) float64 {
	return float64(kobo) / 100
}
