package service

import (
	"context"
	"encoding/json"
	"time"

	"zemi/config"
	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"
	"zemi/pkg/payment"

	"go.uber.org/zap"
)

const (
	queryAttempts    = 3
	queryBackoffBase = 2 * time.Second
)

// ReconcileService resolves payments stuck in pending because a push callback
// was lost. It periodically asks the provider for the true status and feeds
// the answer through the same intake pipeline a webhook would take. No work
// queue lives in memory; every cycle reads fresh rows, so restarts are free.
type ReconcileService struct {
	payments *repository.PaymentRepository
	intake   *IntakeService
	provider payment.Provider
	cfg      config.EscrowConfig
	log      *zap.Logger
}

func NewReconcileService(payments *repository.PaymentRepository, intake *IntakeService, provider payment.Provider, cfg config.EscrowConfig, log *zap.Logger) *ReconcileService {
	return &ReconcileService{payments: payments, intake: intake, provider: provider, cfg: cfg, log: log.Named("reconcile")}
}

// Run loops until the context is cancelled.
func (s *ReconcileService) Run(ctx context.Context) {
	s.log.Info("reconciler started",
		zap.Duration("interval", s.cfg.ReconcileInterval),
		zap.Duration("stale_after", s.cfg.ReconcileStaleAfter))
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.log.Error("reconcile cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle processes one batch of stale pending payments, oldest first. Each
// item is resolved independently; one failure never aborts the rest.
func (s *ReconcileService) RunCycle(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.ReconcileStaleAfter)
	stale, err := s.payments.ListStalePending(cutoff, s.cfg.ReconcileBatchSize)
	if err != nil {
		return err
	}
	for i := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.resolve(ctx, &stale[i]); err != nil {
			s.log.Warn("payment left pending for next cycle",
				zap.Uint("payment_id", stale[i].ID),
				zap.String("order_reference", stale[i].OrderReference),
				zap.Error(err))
		}
	}
	return nil
}

func (s *ReconcileService) resolve(ctx context.Context, p *models.Payment) error {
	if p.CheckoutRequestID == "" {
		// Nothing to correlate against; burns an attempt until exhaustion.
		return s.recordUnresolved(ctx, p)
	}
	result, err := s.queryWithBackoff(ctx, p.CheckoutRequestID)
	if err != nil {
		// Provider unreachable after the retry budget; leave the payment
		// untouched apart from the attempt count.
		if recErr := s.recordUnresolved(ctx, p); recErr != nil {
			return recErr
		}
		return domain.NewError(domain.KindProviderUnavailable, "status query failed: %v", err)
	}

	switch result.Outcome {
	case payment.StatusPending:
		return s.recordUnresolved(ctx, p)
	case payment.StatusSuccess:
		txnID := result.ReceiptNumber
		if txnID == "" {
			// The status query does not always echo a receipt; derive a
			// stable id from the correlation reference so replays stay
			// idempotent across cycles.
			txnID = "RECON-" + p.CheckoutRequestID
		}
		amount := p.AmountCents
		if result.Amount > 0 {
			amount = result.Amount
		}
		return s.applyDefinitive(ctx, p, PaymentEvent{
			Type:              domain.WebhookReconcile,
			OrderReference:    p.OrderReference,
			TransactionID:     txnID,
			AmountCents:       amount,
			Method:            p.Method,
			CheckoutRequestID: p.CheckoutRequestID,
			Outcome:           EventSuccess,
			RawPayload:        marshalStatus(result),
			Metadata: models.STKMetadata{
				ResultDesc: result.ResultDesc,
				Source:     "reconcile",
			},
		})
	case payment.StatusFailed:
		return s.applyDefinitive(ctx, p, PaymentEvent{
			Type:              domain.WebhookReconcile,
			OrderReference:    p.OrderReference,
			CheckoutRequestID: p.CheckoutRequestID,
			AmountCents:       p.AmountCents,
			Method:            p.Method,
			Outcome:           EventFailed,
			FailureReason:     result.ResultDesc,
			RawPayload:        marshalStatus(result),
			Metadata: models.STKMetadata{
				ResultDesc: result.ResultDesc,
				Source:     "reconcile",
			},
		})
	default:
		return domain.NewError(domain.KindInternal, "unknown status outcome %q", result.Outcome)
	}
}

// applyDefinitive feeds a provider answer through intake. A definitive answer
// the state machine refuses (amount mismatch, duplicate transaction) still
// spends an attempt; otherwise the payment would be re-selected every cycle
// forever, appending a fresh audit row each time.
func (s *ReconcileService) applyDefinitive(ctx context.Context, p *models.Payment, ev PaymentEvent) error {
	_, err := s.intake.Ingest(ctx, ev)
	if err != nil {
		if recErr := s.recordUnresolved(ctx, p); recErr != nil {
			return recErr
		}
	}
	return err
}

// recordUnresolved bumps the persisted attempt counter and fails the payment
// once the budget is spent. The repository's guarded WHERE keeps a concurrent
// webhook that completed the payment from being clobbered.
func (s *ReconcileService) recordUnresolved(ctx context.Context, p *models.Payment) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	attempts := p.ReconcileAttempts + 1
	if attempts >= s.cfg.ReconcileMaxAttempts {
		moved, err := s.payments.FailPending(p.ID, attempts, "reconciliation exhausted")
		if err != nil {
			return err
		}
		if moved {
			s.log.Warn("payment failed after reconciliation budget",
				zap.Uint("payment_id", p.ID),
				zap.String("order_reference", p.OrderReference),
				zap.Int("attempts", attempts))
		}
		return nil
	}
	return s.payments.UpdateReconcileAttempts(p.ID, attempts)
}

// queryWithBackoff retries transient provider failures with bounded
// exponential backoff. No database transaction is held across these calls.
func (s *ReconcileService) queryWithBackoff(ctx context.Context, checkoutID string) (*payment.StatusResult, error) {
	var lastErr error
	delay := queryBackoffBase
	for i := 0; i < queryAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		result, err := s.provider.QueryStatus(ctx, checkoutID)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func marshalStatus(r *payment.StatusResult) string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}
