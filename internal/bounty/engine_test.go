package bounty

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlechain/backend/internal/protocol"
)

type stubDisburser struct {
	fail   bool
	lastTo string
	lastAmt uint64
}

func (d *stubDisburser) Disburse(_ context.Context, to string, amountMicro uint64, _ string) (string, error) {
	if d.fail {
		return "", errors.New("treasury empty")
	}
	d.lastTo = to
	d.lastAmt = amountMicro
	return "TXPAYOUT", nil
}

func verifiedInput() Input {
	return Input{
		EvidenceID:    "EVD-2026-00001",
		Category:      protocol.CategoryFinancial,
		Verdict:       "VERIFIED",
		WalletAddress: "WHISTLEBLOWER",
		StakeMicro:    25_000_000,
	}
}

func TestProcessVerifiedPaysBountyPlusRefund(t *testing.T) {
	d := &stubDisburser{}
	e := NewEngine(d)

	p, err := e.Process(context.Background(), verifiedInput())
	require.NoError(t, err)

	assert.EqualValues(t, 200_000_000, p.BountyReward)
	assert.EqualValues(t, 25_000_000, p.StakeRefund)
	assert.EqualValues(t, 225_000_000, p.TotalPayout)
	assert.Equal(t, "BOUNTY_PLUS_REFUND", p.PayoutType)
	assert.Equal(t, StatusPaid, p.Status)
	assert.Equal(t, "TXPAYOUT", p.OnChainTx)
	assert.Equal(t, "WHISTLEBLOWER", d.lastTo)
	assert.EqualValues(t, 225_000_000, d.lastAmt)
}

func TestProcessInsufficientRefundsStakeOnly(t *testing.T) {
	e := NewEngine(nil)
	in := verifiedInput()
	in.Verdict = "INSUFFICIENT"

	p, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, p.BountyReward)
	assert.EqualValues(t, 25_000_000, p.TotalPayout)
	assert.Equal(t, "STAKE_REFUND_ONLY", p.PayoutType)
	assert.Equal(t, StatusPaid, p.Status)
}

func TestProcessRejectedForfeits(t *testing.T) {
	e := NewEngine(nil)
	in := verifiedInput()
	in.Verdict = "REJECTED"

	p, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, p.TotalPayout)
	assert.Equal(t, "STAKE_FORFEITED", p.PayoutType)
	assert.Equal(t, StatusForfeited, p.Status)
}

func TestProcessDisputedIsPending(t *testing.T) {
	e := NewEngine(nil)
	in := verifiedInput()
	in.Verdict = "DISPUTED"

	p, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", p.PayoutType)
	assert.Equal(t, StatusPending, p.Status)
}

func TestProcessOncePerEvidence(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Process(context.Background(), verifiedInput())
	require.NoError(t, err)

	_, err = e.Process(context.Background(), verifiedInput())
	var sErr *protocol.StateError
	assert.ErrorAs(t, err, &sErr)
	assert.ErrorContains(t, err, "already processed")
}

func TestProcessSkipsDisbursalWhenSettled(t *testing.T) {
	d := &stubDisburser{}
	e := NewEngine(d)
	in := verifiedInput()
	in.TxID = "TXINNER"

	p, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "TXINNER", p.OnChainTx, "inner-transaction settlement kept")
	assert.Empty(t, d.lastTo, "no second transfer")
}

func TestProcessAnnotatesDisbursalFailure(t *testing.T) {
	e := NewEngine(&stubDisburser{fail: true})

	p, err := e.Process(context.Background(), verifiedInput())
	require.NoError(t, err)
	assert.Contains(t, p.OnChainError, "treasury empty")
	assert.Equal(t, StatusPaid, p.Status, "record kept with the error annotated")
}

func TestStats(t *testing.T) {
	e := NewEngine(nil)

	_, err := e.Process(context.Background(), verifiedInput())
	require.NoError(t, err)

	rejected := verifiedInput()
	rejected.EvidenceID = "EVD-2026-00002"
	rejected.Verdict = "REJECTED"
	_, err = e.Process(context.Background(), rejected)
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, 2, s.TotalProcessed)
	assert.Equal(t, 1, s.TotalPaid)
	assert.Equal(t, 1, s.TotalForfeited)
	assert.EqualValues(t, 225, s.TotalPaidAlgo)
	assert.EqualValues(t, 200, s.TotalBountyAlgo)
	assert.EqualValues(t, 25, s.TotalRefundedAlgo)
	assert.EqualValues(t, 25, s.TotalForfeitedAlgo)
	assert.EqualValues(t, 300, s.BountyRates["CONSTRUCTION"])
}
