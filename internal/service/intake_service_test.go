package service

import (
	"context"
	"testing"

	"zemi/internal/domain"
	"zemi/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successEvent(ref, txnID string, amountCents int64) PaymentEvent {
	return PaymentEvent{
		Type:           domain.WebhookPayment,
		OrderReference: ref,
		TransactionID:  txnID,
		AmountCents:    amountCents,
		PayerPhone:     "254712345678",
		Outcome:        EventSuccess,
		RawPayload:     `{"test":true}`,
	}
}

func (e *testEnv) auditRows(t *testing.T) []models.WebhookLog {
	t.Helper()
	var logs []models.WebhookLog
	require.NoError(t, e.db.Order("id ASC").Find(&logs).Error)
	return logs
}

func TestIngestSuccessApplied(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)

	outcome, err := env.intake.Ingest(context.Background(), successEvent(order.OrderReference, "T1", 150000))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderPaid, env.getOrder(t, order.OrderReference).Status)

	logs := env.auditRows(t)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Processed)
	assert.Equal(t, domain.OutcomeApplied, logs[0].Outcome)
	assert.Equal(t, order.OrderReference, logs[0].OrderReference)
	assert.Equal(t, "T1", logs[0].TransactionID)
	assert.Empty(t, logs[0].ProcessingError)
}

func TestIngestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	ev := successEvent(order.OrderReference, "T1", 150000)

	outcome, err := env.intake.Ingest(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, err = env.intake.Ingest(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReplay, outcome)

	// Every delivery gets its own audit row even when the effect is a no-op.
	logs := env.auditRows(t)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OutcomeReplay, logs[1].Outcome)

	var completed int64
	env.db.Model(&models.Payment{}).
		Where("order_reference = ? AND status = ?", order.OrderReference, domain.PaymentCompleted).
		Count(&completed)
	assert.Equal(t, int64(1), completed)
}

func TestIngestDuplicateTransactionRejected(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.createOrder(t, "0712345678", 150000)
	second, _ := env.createOrder(t, "0712345679", 150000)

	_, err := env.intake.Ingest(context.Background(), successEvent(first.OrderReference, "T1", 150000))
	require.NoError(t, err)

	outcome, err := env.intake.Ingest(context.Background(), successEvent(second.OrderReference, "T1", 150000))
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome)
	assert.Equal(t, domain.KindDuplicateTransaction, domain.KindOf(err))

	logs := env.auditRows(t)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OutcomeRejected, logs[1].Outcome)
	assert.NotEmpty(t, logs[1].ProcessingError)
}

func TestIngestFailureLeavesOrderRetriable(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)

	// An STK attempt opened a pending payment.
	pending := &models.Payment{
		OrderReference:    order.OrderReference,
		Method:            domain.MethodMpesa,
		AmountCents:       150000,
		CheckoutRequestID: "ws_CO_1",
		Status:            domain.PaymentPending,
	}
	require.NoError(t, env.db.Create(pending).Error)

	outcome, err := env.intake.Ingest(context.Background(), PaymentEvent{
		Type:              domain.WebhookMpesaSTK,
		OrderReference:    order.OrderReference,
		CheckoutRequestID: "ws_CO_1",
		Outcome:           EventCancelled,
		FailureReason:     "Request cancelled by user",
		RawPayload:        `{}`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePaymentFailed, outcome)

	var pay models.Payment
	require.NoError(t, env.db.First(&pay, pending.ID).Error)
	assert.Equal(t, domain.PaymentFailed, pay.Status)
	assert.Equal(t, "Request cancelled by user", pay.FailureReason)

	// The order is untouched and a fresh payment can still succeed.
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
	outcome, err = env.intake.Ingest(context.Background(), successEvent(order.OrderReference, "T2", 150000))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
}

func TestIngestResolvesOrderByCheckoutID(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	require.NoError(t, env.db.Create(&models.Payment{
		OrderReference:    order.OrderReference,
		Method:            domain.MethodMpesa,
		AmountCents:       150000,
		CheckoutRequestID: "ws_CO_9",
		Status:            domain.PaymentPending,
	}).Error)

	ev := successEvent("", "T1", 150000)
	ev.CheckoutRequestID = "ws_CO_9"
	outcome, err := env.intake.Ingest(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderPaid, env.getOrder(t, order.OrderReference).Status)
}

func TestIngestUnknownOrderRejected(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.intake.Ingest(context.Background(), successEvent("ZEM-MISSIN", "T1", 1000))
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	logs := env.auditRows(t)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.OutcomeRejected, logs[0].Outcome)
	assert.NotEmpty(t, logs[0].ProcessingError)
}

func TestIngestFailureUnknownOrderRejected(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.intake.Ingest(context.Background(), PaymentEvent{
		Type:           domain.WebhookPayment,
		OrderReference: "ZEM-MISSIN",
		Outcome:        EventFailed,
		FailureReason:  "insufficient funds",
		RawPayload:     `{}`,
	})
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	// No payment row is minted for an order that never existed.
	var payments int64
	env.db.Model(&models.Payment{}).Count(&payments)
	assert.Equal(t, int64(0), payments)
}

func TestIngestAmountMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)

	outcome, err := env.intake.Ingest(context.Background(), successEvent(order.OrderReference, "T1", 150001))
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRejected, outcome)
	assert.Equal(t, domain.KindAmountMismatch, domain.KindOf(err))
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
}
