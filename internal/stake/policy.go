// Package stake holds the per-category stake bounds and the bounty/payout
// arithmetic. All amounts are micro-units (1 ALGO = 1,000,000 microAlgos).
package stake

import (
	"fmt"

	"github.com/whistlechain/backend/internal/protocol"
)

// Minimum stakes per category.
var minStake = map[protocol.Category]uint64{
	protocol.CategoryFinancial:    25_000_000,
	protocol.CategoryConstruction: 50_000_000,
	protocol.CategoryFood:         25_000_000,
	protocol.CategoryAcademic:     15_000_000,
}

// Bounty rewards per category, paid to verified whistleblowers only.
var bountyReward = map[protocol.Category]uint64{
	protocol.CategoryFinancial:    200_000_000,
	protocol.CategoryConstruction: 300_000_000,
	protocol.CategoryFood:         150_000_000,
	protocol.CategoryAcademic:     100_000_000,
}

// MaxStake is the global maximum for any category.
const MaxStake uint64 = 500_000_000

// MinFor returns the minimum stake for a category.
func MinFor(cat protocol.Category) uint64 {
	if m, ok := minStake[cat]; ok {
		return m
	}
	return 15_000_000
}

// BountyFor returns the bounty reward for a category.
func BountyFor(cat protocol.Category) uint64 {
	if b, ok := bountyReward[cat]; ok {
		return b
	}
	return 100_000_000
}

// Validate checks a stake amount against the category minimum and the global
// maximum. Zero is always accepted: free-tier submissions lock no stake.
func Validate(cat protocol.Category, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if min := MinFor(cat); amount < min {
		return &protocol.ValidationError{Msg: fmt.Sprintf(
			"stake too low for %s: %d microAlgos provided, minimum is %d", cat, amount, min)}
	}
	if amount > MaxStake {
		return &protocol.ValidationError{Msg: fmt.Sprintf(
			"stake exceeds maximum: %d microAlgos (max %d)", amount, MaxStake)}
	}
	return nil
}

// TierLabel names the submission tier for an amount.
func TierLabel(amount uint64) string {
	if amount == 0 {
		return "FREE"
	}
	return "STAKED"
}

// Info is the public stake requirement view for a category.
type Info struct {
	Category  protocol.Category `json:"category"`
	MinStake  uint64            `json:"min_stake_microalgos"`
	MaxStake  uint64            `json:"max_stake_microalgos"`
	MinAlgo   float64           `json:"min_stake_algo"`
	MaxAlgo   float64           `json:"max_stake_algo"`
	Bounty    uint64            `json:"bounty_reward_microalgos"`
	BountyAlg float64           `json:"bounty_reward_algo"`
}

// InfoFor returns the stake requirements and bounty for a category.
func InfoFor(cat protocol.Category) Info {
	min := MinFor(cat)
	bounty := BountyFor(cat)
	return Info{
		Category:  cat,
		MinStake:  min,
		MaxStake:  MaxStake,
		MinAlgo:   float64(min) / 1_000_000,
		MaxAlgo:   float64(MaxStake) / 1_000_000,
		Bounty:    bounty,
		BountyAlg: float64(bounty) / 1_000_000,
	}
}

// Payout is the whistleblower payout derived from a verdict.
type Payout struct {
	BountyReward uint64 `json:"bounty_reward"`
	StakeRefund  uint64 `json:"stake_refund"`
	TotalPayout  uint64 `json:"total_payout"`
	PayoutType   string `json:"payout_type"`
}

// CalculatePayout is total over all verdict strings. VERIFIED pays bounty
// plus refund; INSUFFICIENT refunds the stake only; REJECTED pays nothing;
// anything else is pending.
func CalculatePayout(cat protocol.Category, stakeMicro uint64, verdict string) Payout {
	switch verdict {
	case string(protocol.StatusVerified):
		bounty := BountyFor(cat)
		return Payout{
			BountyReward: bounty,
			StakeRefund:  stakeMicro,
			TotalPayout:  bounty + stakeMicro,
			PayoutType:   "BOUNTY_PLUS_REFUND",
		}
	case "INSUFFICIENT":
		return Payout{
			StakeRefund: stakeMicro,
			TotalPayout: stakeMicro,
			PayoutType:  "STAKE_REFUND_ONLY",
		}
	case string(protocol.StatusRejected):
		return Payout{PayoutType: "STAKE_FORFEITED"}
	default:
		return Payout{PayoutType: "PENDING"}
	}
}
