package service

import (
	"context"
	"errors"
	"fmt"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event outcomes as reported by the provider (or synthesized by the
// reconciler). Failure and cancellation both terminate the payment attempt;
// the order stays awaiting_payment and can be retried.
const (
	EventSuccess   = "success"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// PaymentEvent is one inbound payment notification, already parsed out of
// whatever wire format delivered it.
type PaymentEvent struct {
	Type              string // audit log type, e.g. mpesa_stk
	OrderReference    string // may be empty when only the checkout id is known
	TransactionID     string
	AmountCents       int64
	PayerPhone        string
	Method            string
	CheckoutRequestID string
	Outcome           string
	FailureReason     string
	RawPayload        string
	RawHeaders        string
	Metadata          models.STKMetadata
}

// IntakeService applies inbound payment events idempotently. Callbacks arrive
// at least once, in any order; duplicates and stale events are the normal
// case here, not the exception.
type IntakeService struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	escrow   *EscrowService
	log      *zap.Logger
}

func NewIntakeService(db *gorm.DB, payments *repository.PaymentRepository, escrow *EscrowService, log *zap.Logger) *IntakeService {
	return &IntakeService{db: db, payments: payments, escrow: escrow, log: log.Named("intake")}
}

// Ingest writes the audit record, routes the event through the state machine
// and records the branch taken back onto the audit row. The audit write comes
// first, before any state mutation; if it fails nothing else happens.
func (s *IntakeService) Ingest(ctx context.Context, ev PaymentEvent) (string, error) {
	audit := &models.WebhookLog{
		WebhookType:    ev.Type,
		Payload:        ev.RawPayload,
		Headers:        ev.RawHeaders,
		OrderReference: ev.OrderReference,
		TransactionID:  ev.TransactionID,
	}
	if err := s.db.WithContext(ctx).Create(audit).Error; err != nil {
		// Losing the audit trail is worse than dropping the event; the
		// provider will redeliver.
		s.log.Error("webhook audit write failed", zap.String("type", ev.Type), zap.Error(err))
		return "", fmt.Errorf("webhook audit write: %w", err)
	}

	outcome, err := s.apply(ctx, &ev)
	s.finishAudit(ctx, audit, &ev, outcome, err)
	return outcome, err
}

func (s *IntakeService) apply(ctx context.Context, ev *PaymentEvent) (string, error) {
	if ev.OrderReference == "" && ev.CheckoutRequestID != "" {
		pay, err := s.payments.GetByCheckoutRequestID(ev.CheckoutRequestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.OutcomeRejected,
					domain.NotFoundErr("no payment for checkout request %s", ev.CheckoutRequestID)
			}
			return domain.OutcomeRejected, err
		}
		ev.OrderReference = pay.OrderReference
	}
	if ev.OrderReference == "" {
		return domain.OutcomeRejected, domain.ValidationErr("event carries no order reference")
	}

	switch ev.Outcome {
	case EventSuccess:
		applied, err := s.escrow.MarkPaid(ctx, PaidInput{
			OrderReference:    ev.OrderReference,
			TransactionID:     ev.TransactionID,
			AmountCents:       ev.AmountCents,
			PayerPhone:        ev.PayerPhone,
			Method:            ev.Method,
			CheckoutRequestID: ev.CheckoutRequestID,
			Metadata:          ev.Metadata,
		})
		switch {
		case err == nil && applied:
			return domain.OutcomeApplied, nil
		case err == nil:
			// Same transaction already applied; providers retry delivery.
			return domain.OutcomeReplay, nil
		case domain.IsKind(err, domain.KindDuplicateTransaction):
			// Integrity conflict, never auto-resolved.
			s.log.Error("duplicate transaction requires manual review",
				zap.String("order_reference", ev.OrderReference),
				zap.String("transaction_id", ev.TransactionID),
				zap.Error(err))
			return domain.OutcomeRejected, err
		default:
			return domain.OutcomeRejected, err
		}
	case EventFailed, EventCancelled:
		if err := s.failPayment(ctx, ev); err != nil {
			return domain.OutcomeRejected, err
		}
		return domain.OutcomePaymentFailed, nil
	default:
		return domain.OutcomeRejected, domain.ValidationErr("unknown event outcome %q", ev.Outcome)
	}
}

// failPayment marks the in-flight payment failed with a structured reason.
// The order itself is untouched and remains eligible for a retry.
func (s *IntakeService) failPayment(ctx context.Context, ev *PaymentEvent) error {
	reason := ev.FailureReason
	if reason == "" {
		reason = ev.Outcome
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		err := tx.Select("id").Where("order_reference = ?", ev.OrderReference).First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Never mint a payment row for an order that does not exist.
				return domain.NotFoundErr("order %s not found", ev.OrderReference)
			}
			return err
		}

		var pay models.Payment
		q := tx.Where("order_reference = ? AND status = ?", ev.OrderReference, domain.PaymentPending)
		if ev.CheckoutRequestID != "" {
			q = tx.Where("order_reference = ? AND status = ? AND checkout_request_id = ?",
				ev.OrderReference, domain.PaymentPending, ev.CheckoutRequestID)
		}
		err = q.Order("created_at DESC").First(&pay).Error
		switch {
		case err == nil:
			pay.Status = domain.PaymentFailed
			pay.FailureReason = reason
			pay.SetMetadata(ev.Metadata)
			return tx.Save(&pay).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			created := models.Payment{
				OrderReference:    ev.OrderReference,
				Method:            nonEmpty(ev.Method, domain.MethodMpesa),
				AmountCents:       ev.AmountCents,
				CheckoutRequestID: ev.CheckoutRequestID,
				Status:            domain.PaymentFailed,
				FailureReason:     reason,
			}
			created.SetMetadata(ev.Metadata)
			return tx.Create(&created).Error
		default:
			return err
		}
	})
}

func (s *IntakeService) finishAudit(ctx context.Context, audit *models.WebhookLog, ev *PaymentEvent, outcome string, applyErr error) {
	updates := map[string]any{
		"processed":       true,
		"outcome":         outcome,
		"order_reference": ev.OrderReference,
		"transaction_id":  ev.TransactionID,
	}
	if applyErr != nil {
		updates["processing_error"] = applyErr.Error()
	}
	if err := s.db.WithContext(ctx).Model(audit).Updates(updates).Error; err != nil {
		s.log.Error("webhook audit update failed", zap.Uint("webhook_log_id", audit.ID), zap.Error(err))
	}
}

func nonEmpty(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
