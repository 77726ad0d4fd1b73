package service

import (
	"context"
	"fmt"
	"testing"

	"zemi/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVelocityLimit(t *testing.T) {
	cfg := testEscrowConfig()
	cfg.VelocityLimit = 3
	env := newTestEnvWithConfig(t, cfg)

	for i := 0; i < 3; i++ {
		_, _, err := env.escrow.CreateOrder(context.Background(), "0712345678", 1000, fmt.Sprintf("order %d", i))
		require.NoError(t, err)
	}
	_, _, err := env.escrow.CreateOrder(context.Background(), "0712345678", 1000, "one too many")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))

	// Equivalent formats of the same number share the digest and the limit.
	_, _, err = env.escrow.CreateOrder(context.Background(), "+254712345678", 1000, "same buyer")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))

	// A different buyer is unaffected.
	_, _, err = env.escrow.CreateOrder(context.Background(), "0712345679", 1000, "other buyer")
	require.NoError(t, err)
}

func TestDailyAmountCap(t *testing.T) {
	cfg := testEscrowConfig()
	cfg.DailyAmountCapCents = 500_000
	env := newTestEnvWithConfig(t, cfg)

	_, _, err := env.escrow.CreateOrder(context.Background(), "0712345678", 400_000, "big one")
	require.NoError(t, err)

	// 400,000 + 200,000 would cross the cap.
	_, _, err = env.escrow.CreateOrder(context.Background(), "0712345678", 200_000, "over the top")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))

	// Exactly reaching the cap is allowed.
	_, _, err = env.escrow.CreateOrder(context.Background(), "0712345678", 100_000, "to the brim")
	require.NoError(t, err)
}

func TestDailyCapPerBuyer(t *testing.T) {
	cfg := testEscrowConfig()
	cfg.DailyAmountCapCents = 500_000
	env := newTestEnvWithConfig(t, cfg)

	_, _, err := env.escrow.CreateOrder(context.Background(), "0712345678", 500_000, "maxed out")
	require.NoError(t, err)

	_, _, err = env.escrow.CreateOrder(context.Background(), "0712345679", 500_000, "different wallet")
	require.NoError(t, err)
}
