package stake

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whistlechain/backend/internal/protocol"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(protocol.CategoryFinancial, 0), "free tier always allowed")
	assert.NoError(t, Validate(protocol.CategoryFinancial, 25_000_000))
	assert.NoError(t, Validate(protocol.CategoryFinancial, MaxStake))

	err := Validate(protocol.CategoryFinancial, 24_999_999)
	assert.ErrorContains(t, err, "stake too low")

	err = Validate(protocol.CategoryAcademic, MaxStake+1)
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestMinimumsPerCategory(t *testing.T) {
	assert.EqualValues(t, 25_000_000, MinFor(protocol.CategoryFinancial))
	assert.EqualValues(t, 50_000_000, MinFor(protocol.CategoryConstruction))
	assert.EqualValues(t, 25_000_000, MinFor(protocol.CategoryFood))
	assert.EqualValues(t, 15_000_000, MinFor(protocol.CategoryAcademic))
}

func TestCalculatePayout(t *testing.T) {
	verified := CalculatePayout(protocol.CategoryFood, 25_000_000, "VERIFIED")
	assert.EqualValues(t, 150_000_000, verified.BountyReward)
	assert.EqualValues(t, 25_000_000, verified.StakeRefund)
	assert.EqualValues(t, 175_000_000, verified.TotalPayout)
	assert.Equal(t, "BOUNTY_PLUS_REFUND", verified.PayoutType)

	insufficient := CalculatePayout(protocol.CategoryFood, 25_000_000, "INSUFFICIENT")
	assert.EqualValues(t, 25_000_000, insufficient.TotalPayout)
	assert.Equal(t, "STAKE_REFUND_ONLY", insufficient.PayoutType)

	rejected := CalculatePayout(protocol.CategoryFood, 25_000_000, "REJECTED")
	assert.Zero(t, rejected.TotalPayout)
	assert.Equal(t, "STAKE_FORFEITED", rejected.PayoutType)

	pending := CalculatePayout(protocol.CategoryFood, 25_000_000, "DISPUTED")
	assert.Equal(t, "PENDING", pending.PayoutType)
}

func TestTierLabel(t *testing.T) {
	assert.Equal(t, "FREE", TierLabel(0))
	assert.Equal(t, "STAKED", TierLabel(25_000_000))
}
