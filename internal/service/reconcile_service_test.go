package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"
	"zemi/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProvider answers status queries from a fixed table keyed by checkout id.
type stubProvider struct {
	mu      sync.Mutex
	results map[string]*payment.StatusResult
	queried []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{results: map[string]*payment.StatusResult{}}
}

func (p *stubProvider) InitiateSTKPush(context.Context, payment.STKPushRequest) (*payment.STKPushResponse, error) {
	return &payment.STKPushResponse{CheckoutRequestID: "stub"}, nil
}

func (p *stubProvider) InitiateB2C(context.Context, payment.B2CRequest) (*payment.B2CResponse, error) {
	return &payment.B2CResponse{ConversationID: "stub"}, nil
}

func (p *stubProvider) QueryStatus(_ context.Context, checkoutID string) (*payment.StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queried = append(p.queried, checkoutID)
	if r, ok := p.results[checkoutID]; ok {
		return r, nil
	}
	return &payment.StatusResult{Outcome: payment.StatusPending}, nil
}

func (e *testEnv) stalePayment(t *testing.T, ref, checkoutID string, amountCents int64, age time.Duration) *models.Payment {
	t.Helper()
	p := &models.Payment{
		OrderReference:    ref,
		Method:            domain.MethodMpesa,
		AmountCents:       amountCents,
		CheckoutRequestID: checkoutID,
		Status:            domain.PaymentPending,
		CreatedAt:         time.Now().Add(-age),
	}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func newReconciler(env *testEnv, provider payment.Provider) *ReconcileService {
	return NewReconcileService(repository.NewPaymentRepository(env.db), env.intake, provider, env.cfg, zap.NewNop())
}

func TestReconcileAppliesSuccess(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)

	provider := newStubProvider()
	provider.results["ws_CO_1"] = &payment.StatusResult{
		Outcome:    payment.StatusSuccess,
		ResultCode: "0",
		ResultDesc: "The service request is processed successfully.",
	}
	rec := newReconciler(env, provider)

	require.NoError(t, rec.RunCycle(context.Background()))

	assert.Equal(t, domain.OrderPaid, env.getOrder(t, order.OrderReference).Status)

	var pay models.Payment
	require.NoError(t, env.db.
		Where("order_reference = ? AND status = ?", order.OrderReference, domain.PaymentCompleted).
		First(&pay).Error)
	require.NotNil(t, pay.TransactionID)
	// The status query carries no receipt; the id is derived from the
	// checkout reference so replays stay idempotent.
	assert.Equal(t, "RECON-ws_CO_1", *pay.TransactionID)
	assert.Equal(t, "reconcile", pay.GetMetadata().Source)
}

func TestReconcileIsIdempotentAcrossCycles(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)

	provider := newStubProvider()
	provider.results["ws_CO_1"] = &payment.StatusResult{Outcome: payment.StatusSuccess}
	rec := newReconciler(env, provider)

	require.NoError(t, rec.RunCycle(context.Background()))
	require.NoError(t, rec.RunCycle(context.Background()))

	var completed int64
	env.db.Model(&models.Payment{}).
		Where("order_reference = ? AND status = ?", order.OrderReference, domain.PaymentCompleted).
		Count(&completed)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, domain.OrderPaid, env.getOrder(t, order.OrderReference).Status)
}

func TestReconcilePendingBurnsAttempt(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	p := env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)

	rec := newReconciler(env, newStubProvider()) // answers pending

	require.NoError(t, rec.RunCycle(context.Background()))

	var got models.Payment
	require.NoError(t, env.db.First(&got, p.ID).Error)
	assert.Equal(t, domain.PaymentPending, got.Status)
	assert.Equal(t, 1, got.ReconcileAttempts)
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
}

func TestReconcileExhaustion(t *testing.T) {
	cfg := testEscrowConfig()
	cfg.ReconcileMaxAttempts = 3
	env := newTestEnvWithConfig(t, cfg)
	order, _ := env.createOrder(t, "0712345678", 150000)
	p := env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)
	require.NoError(t, env.db.Model(p).Update("reconcile_attempts", 2).Error)

	rec := newReconciler(env, newStubProvider())

	require.NoError(t, rec.RunCycle(context.Background()))

	var got models.Payment
	require.NoError(t, env.db.First(&got, p.ID).Error)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	assert.Equal(t, "reconciliation exhausted", got.FailureReason)
	assert.Equal(t, 3, got.ReconcileAttempts)
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
}

func TestReconcileRejectedAnswerExhausts(t *testing.T) {
	cfg := testEscrowConfig()
	cfg.ReconcileMaxAttempts = 3
	env := newTestEnvWithConfig(t, cfg)
	order, _ := env.createOrder(t, "0712345678", 150000)
	p := env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)

	provider := newStubProvider()
	// A definitive answer intake refuses every time: the reported amount no
	// longer matches the order. It must still burn attempts, not be
	// re-selected forever.
	provider.results["ws_CO_1"] = &payment.StatusResult{Outcome: payment.StatusSuccess, Amount: 140000}
	rec := newReconciler(env, provider)

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.RunCycle(context.Background()))
	}

	var got models.Payment
	require.NoError(t, env.db.First(&got, p.ID).Error)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	assert.Equal(t, "reconciliation exhausted", got.FailureReason)
	assert.Equal(t, 3, got.ReconcileAttempts)
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
	// Once failed the payment leaves the stale set; the extra cycles never
	// query the provider again.
	assert.Len(t, provider.queried, 3)
}

func TestReconcileAppliesFailure(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	p := env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, 2*time.Hour)

	provider := newStubProvider()
	provider.results["ws_CO_1"] = &payment.StatusResult{
		Outcome:    payment.StatusFailed,
		ResultCode: "1032",
		ResultDesc: "Request cancelled by user",
	}
	rec := newReconciler(env, provider)

	require.NoError(t, rec.RunCycle(context.Background()))

	var got models.Payment
	require.NoError(t, env.db.First(&got, p.ID).Error)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	assert.Equal(t, "Request cancelled by user", got.FailureReason)
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, order.OrderReference).Status)
}

func TestReconcileSkipsFreshPayments(t *testing.T) {
	env := newTestEnv(t)
	order, _ := env.createOrder(t, "0712345678", 150000)
	env.stalePayment(t, order.OrderReference, "ws_CO_1", 150000, time.Minute)

	provider := newStubProvider()
	rec := newReconciler(env, provider)

	require.NoError(t, rec.RunCycle(context.Background()))
	assert.Empty(t, provider.queried)
}

func TestReconcileBatchIsolation(t *testing.T) {
	env := newTestEnv(t)
	bad, _ := env.createOrder(t, "0712345678", 150000)
	good, _ := env.createOrder(t, "0712345679", 150000)
	env.stalePayment(t, bad.OrderReference, "ws_CO_bad", 140000, 3*time.Hour)
	env.stalePayment(t, good.OrderReference, "ws_CO_good", 150000, 2*time.Hour)

	provider := newStubProvider()
	// The bad item resolves to an amount that no longer matches its order.
	provider.results["ws_CO_bad"] = &payment.StatusResult{Outcome: payment.StatusSuccess, Amount: 140000}
	provider.results["ws_CO_good"] = &payment.StatusResult{Outcome: payment.StatusSuccess}
	rec := newReconciler(env, provider)

	require.NoError(t, rec.RunCycle(context.Background()))

	// The mismatch is rejected but does not stop the rest of the batch, and
	// the rejected item still burns an attempt.
	assert.Equal(t, domain.OrderAwaitingPayment, env.getOrder(t, bad.OrderReference).Status)
	assert.Equal(t, domain.OrderPaid, env.getOrder(t, good.OrderReference).Status)

	var badPay models.Payment
	require.NoError(t, env.db.
		Where("order_reference = ?", bad.OrderReference).First(&badPay).Error)
	assert.Equal(t, 1, badPay.ReconcileAttempts)
}
