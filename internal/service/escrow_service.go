package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"zemi/config"
	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/secrets"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errTransitionConflict signals that a guarded status update matched zero
// rows because a concurrent transaction got there first. Never escapes the
// service; the loser re-reads committed state and classifies the outcome.
var errTransitionConflict = errors.New("transition conflict")

const referenceRetries = 5

// PaidInput carries everything MarkPaid needs to move an order to paid.
type PaidInput struct {
	OrderReference    string
	TransactionID     string
	AmountCents       int64
	PayerPhone        string
	Method            string
	CheckoutRequestID string
	Metadata          models.STKMetadata
}

// EscrowService is the order state machine. Every transition runs as one
// database transaction scoped to the order; status changes are applied with
// guarded updates (WHERE status = expected) so two racing writers can never
// both advance the same order.
type EscrowService struct {
	db     *gorm.DB
	cfg    config.EscrowConfig
	hasher *secrets.Hasher
	guard  *AbuseGuard
	log    *zap.Logger
}

func NewEscrowService(db *gorm.DB, cfg config.EscrowConfig, hasher *secrets.Hasher, guard *AbuseGuard, log *zap.Logger) *EscrowService {
	return &EscrowService{db: db, cfg: cfg, hasher: hasher, guard: guard, log: log.Named("escrow")}
}

// CreateOrder validates input, consults the abuse guard and persists a new
// awaiting_payment order. The plaintext delivery code is returned to the
// caller exactly once; only its bcrypt digest is stored.
func (s *EscrowService) CreateOrder(ctx context.Context, buyerPhone string, amountCents int64, description string) (*models.Order, string, error) {
	phone := secrets.NormalizePhone(buyerPhone)
	if phone == "" {
		return nil, "", domain.ValidationErr("invalid phone number")
	}
	if amountCents <= 0 {
		return nil, "", domain.ValidationErr("amount must be positive")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, "", domain.ValidationErr("product description is required")
	}
	digest := s.hasher.PhoneDigest(phone)
	if err := s.guard.CheckCreate(ctx, digest, amountCents, time.Now()); err != nil {
		return nil, "", err
	}
	code, err := secrets.GenerateDeliveryCode()
	if err != nil {
		return nil, "", err
	}
	codeHash, err := s.hasher.HashDeliveryCode(code)
	if err != nil {
		return nil, "", err
	}

	var order *models.Order
	for i := 0; i < referenceRetries; i++ {
		ref, err := secrets.GenerateOrderReference()
		if err != nil {
			return nil, "", err
		}
		o := &models.Order{
			OrderReference:   ref,
			BuyerPhoneHash:   digest,
			BuyerPhoneLast4:  secrets.LastFour(phone),
			AmountCents:      amountCents,
			Description:      description,
			DeliveryCodeHash: codeHash,
			Status:           domain.OrderAwaitingPayment,
		}
		err = s.db.WithContext(ctx).Create(o).Error
		if err == nil {
			order = o
			break
		}
		if !isDuplicateErr(err) {
			return nil, "", err
		}
		// reference collision, regenerate
	}
	if order == nil {
		return nil, "", domain.NewError(domain.KindInternal, "could not allocate a unique order reference")
	}
	s.log.Info("order created",
		zap.String("order_reference", order.OrderReference),
		zap.Int64("amount_cents", order.AmountCents))
	return order, code, nil
}

// MarkPaid moves awaiting_payment -> paid for the given provider transaction.
// Returns applied=false with a nil error when the identical transaction has
// already been applied (idempotent replay). It never applies twice for the
// same transaction id, even under concurrent delivery.
func (s *EscrowService) MarkPaid(ctx context.Context, in PaidInput) (bool, error) {
	if in.OrderReference == "" || in.TransactionID == "" {
		return false, domain.ValidationErr("order reference and transaction id are required")
	}
	replay := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Where("order_reference = ?", in.OrderReference).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundErr("order %s not found", in.OrderReference)
			}
			return err
		}

		// Global transaction-id uniqueness. The same id landing on the same
		// order again is a provider retry; anywhere else it is an integrity
		// conflict that must reach an operator.
		var existing models.Payment
		err := tx.Where("transaction_id = ?", in.TransactionID).First(&existing).Error
		switch {
		case err == nil:
			if existing.OrderReference == in.OrderReference &&
				existing.Status == domain.PaymentCompleted &&
				order.Status != domain.OrderAwaitingPayment {
				replay = true
				return nil
			}
			return domain.NewError(domain.KindDuplicateTransaction,
				"transaction %s already recorded", in.TransactionID)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		switch order.Status {
		case domain.OrderAwaitingPayment:
			// proceed
		case domain.OrderPaid, domain.OrderCompleted:
			return domain.NewError(domain.KindDuplicateTransaction,
				"order %s was paid with a different transaction", in.OrderReference)
		default:
			return domain.InvalidTransitionErr("order %s is %s", in.OrderReference, order.Status)
		}
		if order.AmountCents != in.AmountCents {
			return domain.NewError(domain.KindAmountMismatch,
				"payment amount does not match order amount")
		}

		now := time.Now()
		res := tx.Model(&models.Order{}).
			Where("order_reference = ? AND status = ?", in.OrderReference, domain.OrderAwaitingPayment).
			Updates(map[string]any{"status": domain.OrderPaid, "paid_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTransitionConflict
		}
		return s.completePayment(tx, &order, in, now)
	})
	if errors.Is(err, errTransitionConflict) {
		// Lost the race; classify against the winner's committed state.
		return s.classifyConflict(ctx, in)
	}
	if err != nil {
		return false, err
	}
	if replay {
		return false, nil
	}
	s.log.Info("order paid",
		zap.String("order_reference", in.OrderReference),
		zap.String("transaction_id", in.TransactionID))
	return true, nil
}

// completePayment upserts the Payment row to completed inside the MarkPaid
// transaction. An STK attempt created a pending row up front; a direct
// webhook may arrive with no prior row.
func (s *EscrowService) completePayment(tx *gorm.DB, order *models.Order, in PaidInput, now time.Time) error {
	payerHash, payerLast4 := "", ""
	if phone := secrets.NormalizePhone(in.PayerPhone); phone != "" {
		payerHash = s.hasher.PhoneDigest(phone)
		payerLast4 = secrets.LastFour(phone)
	}
	method := in.Method
	if method == "" {
		method = domain.MethodMpesa
	}

	var pay models.Payment
	q := tx.Where("order_reference = ? AND status = ?", in.OrderReference, domain.PaymentPending)
	if in.CheckoutRequestID != "" {
		q = tx.Where("order_reference = ? AND status = ? AND checkout_request_id = ?",
			in.OrderReference, domain.PaymentPending, in.CheckoutRequestID)
	}
	err := q.Order("created_at DESC").First(&pay).Error
	switch {
	case err == nil:
		pay.Status = domain.PaymentCompleted
		pay.TransactionID = &in.TransactionID
		pay.AmountCents = in.AmountCents
		pay.PayerPhoneHash = payerHash
		pay.PayerPhoneLast4 = payerLast4
		pay.CompletedAt = &now
		pay.SetMetadata(in.Metadata)
		return tx.Save(&pay).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		created := models.Payment{
			OrderReference:    in.OrderReference,
			Method:            method,
			AmountCents:       in.AmountCents,
			TransactionID:     &in.TransactionID,
			CheckoutRequestID: in.CheckoutRequestID,
			PayerPhoneHash:    payerHash,
			PayerPhoneLast4:   payerLast4,
			Status:            domain.PaymentCompleted,
			CompletedAt:       &now,
		}
		created.SetMetadata(in.Metadata)
		return tx.Create(&created).Error
	default:
		return err
	}
}

// classifyConflict runs after a lost guarded update, outside the losing
// transaction so it sees the winner's commit.
func (s *EscrowService) classifyConflict(ctx context.Context, in PaidInput) (bool, error) {
	var pay models.Payment
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", in.TransactionID).First(&pay).Error
	if err == nil && pay.OrderReference == in.OrderReference && pay.Status == domain.PaymentCompleted {
		return false, nil // identical transaction won; replay
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	var order models.Order
	if err := s.db.WithContext(ctx).
		Where("order_reference = ?", in.OrderReference).First(&order).Error; err != nil {
		return false, err
	}
	if order.Status == domain.OrderPaid || order.Status == domain.OrderCompleted {
		return false, domain.NewError(domain.KindDuplicateTransaction,
			"order %s was paid with a different transaction", in.OrderReference)
	}
	return false, domain.InvalidTransitionErr("order %s is %s", in.OrderReference, order.Status)
}

// ConfirmDelivery moves paid -> completed when the delivery code matches, and
// atomically creates the pending payout funded by the completed payment.
func (s *EscrowService) ConfirmDelivery(ctx context.Context, ref, code string) (*models.Payout, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("order_reference = ?", ref).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundErr("order %s not found", ref)
		}
		return nil, err
	}
	if !domain.CanTransition(order.Status, domain.OrderCompleted) {
		return nil, domain.InvalidTransitionErr("order %s cannot be completed from %s", ref, order.Status)
	}
	now := time.Now()
	// Lock check comes before any digest comparison.
	if order.Locked(now) {
		return nil, domain.NewError(domain.KindOrderLocked, "order is locked; try again later")
	}
	if !s.hasher.VerifyDeliveryCode(order.DeliveryCodeHash, code) {
		return nil, s.failDeliveryAttempt(ctx, &order, now)
	}

	var payout *models.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("order_reference = ? AND status = ?", ref, domain.OrderPaid).
			Updates(map[string]any{"status": domain.OrderCompleted, "completed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.InvalidTransitionErr("order %s changed state; retry", ref)
		}
		var pay models.Payment
		err := tx.Where("order_reference = ? AND status = ?", ref, domain.PaymentCompleted).
			First(&pay).Error
		if err != nil {
			return err // a paid order without a completed payment is a bug
		}
		// Seller identity is its own field set; today's flow pays out to the
		// buyer's number until seller onboarding exists.
		payout = &models.Payout{
			OrderReference:   ref,
			PaymentID:        pay.ID,
			AmountCents:      order.AmountCents,
			SellerPhoneHash:  order.BuyerPhoneHash,
			SellerPhoneLast4: order.BuyerPhoneLast4,
			Status:           domain.PayoutPending,
		}
		if err := tx.Create(payout).Error; err != nil {
			return err
		}
		return tx.Create(&models.DeliveryAttempt{OrderReference: ref, Success: true}).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("delivery confirmed",
		zap.String("order_reference", ref),
		zap.Uint("payout_id", payout.ID))
	return payout, nil
}

func (s *EscrowService) failDeliveryAttempt(ctx context.Context, order *models.Order, now time.Time) error {
	locked := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		locked, err = s.guard.RegisterFailedAttempt(tx, order, now)
		return err
	})
	if err != nil {
		return err
	}
	if locked {
		s.log.Warn("order locked after repeated failed delivery attempts",
			zap.String("order_reference", order.OrderReference))
		return domain.NewError(domain.KindOrderLocked, "order is locked; try again later")
	}
	return domain.NewError(domain.KindInvalidDeliveryCode, "invalid delivery code")
}

// Cancel is the administrative awaiting_payment -> cancelled transition.
func (s *EscrowService) Cancel(ctx context.Context, ref string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Where("order_reference = ?", ref).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundErr("order %s not found", ref)
			}
			return err
		}
		if !domain.CanTransition(order.Status, domain.OrderCancelled) {
			return domain.InvalidTransitionErr("order %s cannot be cancelled from %s", ref, order.Status)
		}
		res := tx.Model(&models.Order{}).
			Where("order_reference = ? AND status = ?", ref, order.Status).
			Update("status", domain.OrderCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.InvalidTransitionErr("order %s changed state; retry", ref)
		}
		return nil
	})
}

// Refund is the administrative paid -> refunded transition. A payout that has
// already left pending blocks the refund; reversing money in flight is a
// product decision this system does not make on its own.
func (s *EscrowService) Refund(ctx context.Context, ref string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Where("order_reference = ?", ref).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundErr("order %s not found", ref)
			}
			return err
		}
		if !domain.CanTransition(order.Status, domain.OrderRefunded) {
			return domain.InvalidTransitionErr("order %s cannot be refunded from %s", ref, order.Status)
		}
		var payout models.Payout
		err := tx.Where("order_reference = ?", ref).First(&payout).Error
		if err == nil && payout.Status != domain.PayoutPending {
			return domain.InvalidTransitionErr("payout for %s is already %s; manual reversal required", ref, payout.Status)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		res := tx.Model(&models.Order{}).
			Where("order_reference = ? AND status = ?", ref, domain.OrderPaid).
			Update("status", domain.OrderRefunded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.InvalidTransitionErr("order %s changed state; retry", ref)
		}
		if err := tx.Model(&models.Payment{}).
			Where("order_reference = ? AND status = ?", ref, domain.PaymentCompleted).
			Update("status", domain.PaymentRefunded).Error; err != nil {
			return err
		}
		if payout.ID != 0 && payout.Status == domain.PayoutPending {
			return tx.Model(&payout).
				Updates(map[string]any{"status": domain.PayoutFailed, "failure_reason": "order refunded"}).Error
		}
		return nil
	})
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
