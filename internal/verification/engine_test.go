package verification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/wallet"
)

const testEvidenceID = "EVD-2026-00001"

func testPool(t *testing.T, n int) *inspector.Registry {
	t.Helper()
	reg := inspector.NewRegistry()
	for i := 0; i < n; i++ {
		_, err := reg.Register(inspector.Profile{
			Address:         fmt.Sprintf("INSPECTOR%02d", i),
			Name:            fmt.Sprintf("Inspector %d", i),
			Specializations: []string{"FINANCIAL"},
		})
		require.NoError(t, err)
	}
	return reg
}

func testEngine(t *testing.T, poolSize int) (*Engine, *submission.MemoryStore) {
	t.Helper()
	store := submission.NewMemoryStore()
	require.NoError(t, store.Insert(&submission.Record{
		EvidenceID: testEvidenceID,
		Category:   protocol.CategoryFinancial,
		Status:     protocol.StatusPending,
	}))
	return NewEngine(testPool(t, poolSize), store, nil), store
}

func runToRevealPhase(t *testing.T, e *Engine) map[string]*CommitTicket {
	t.Helper()
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)

	tickets := make(map[string]*CommitTicket)
	for _, a := range session.Assigned {
		ticket, err := GenerateCommitTicket(protocol.VerdictAuthentic, "")
		require.NoError(t, err)
		tickets[a.Address] = ticket

		_, err = e.Commit(context.Background(), CommitInput{
			EvidenceID:       testEvidenceID,
			InspectorAddress: a.Address,
			CommitHash:       ticket.CommitHash,
		})
		require.NoError(t, err)
	}
	return tickets
}

func TestCommitHashKnownVector(t *testing.T) {
	// SHA-256 of the 8-byte big-endian verdict followed by the UTF-8 nonce.
	got := CommitHash(protocol.VerdictAuthentic, "abc")
	assert.Len(t, got, 64)
	assert.Equal(t, got, CommitHash(protocol.VerdictAuthentic, "abc"), "deterministic")
	assert.NotEqual(t, got, CommitHash(protocol.VerdictFake, "abc"))
	assert.NotEqual(t, got, CommitHash(protocol.VerdictAuthentic, "abd"))
}

func TestGenerateCommitTicket(t *testing.T) {
	ticket, err := GenerateCommitTicket(protocol.VerdictFake, "")
	require.NoError(t, err)
	assert.Len(t, ticket.Nonce, 32, "minted nonce is 16 random bytes hex")
	assert.Equal(t, CommitHash(protocol.VerdictFake, ticket.Nonce), ticket.CommitHash)
	assert.Equal(t, "FAKE", ticket.VerdictLabel)

	_, err = GenerateCommitTicket(protocol.Verdict(9), "")
	assert.Error(t, err)
}

func TestBeginRequiresQuorumPool(t *testing.T) {
	e, _ := testEngine(t, 2)
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	assert.ErrorContains(t, err, "not enough inspectors")
}

func TestBeginAssignsPanelAndOpensWindow(t *testing.T) {
	e, store := testEngine(t, 5)

	result, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)
	assert.Equal(t, 3, result.InspectorsAssigned)
	assert.Equal(t, 72, result.WindowHours)
	assert.Equal(t, PhaseCommit, result.Phase)
	assert.Equal(t, "RANDOM_BLIND", result.AssignmentMethod)

	rec, err := store.Get(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusUnderVerification, rec.Status)

	_, err = e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	assert.ErrorContains(t, err, "already started")
}

func TestBeginFallsBackToGeneralPool(t *testing.T) {
	reg := inspector.NewRegistry()
	for i := 0; i < 3; i++ {
		_, err := reg.Register(inspector.Profile{
			Address:         fmt.Sprintf("GEN%02d", i),
			Name:            "Generalist",
			Specializations: []string{"FOOD"},
		})
		require.NoError(t, err)
	}
	e := NewEngine(reg, nil, nil)

	result, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)
	assert.Equal(t, 3, result.InspectorsAssigned, "general pool backfills missing specialists")
}

func TestCategoryWindows(t *testing.T) {
	assert.Equal(t, 72, WindowHoursFor(protocol.CategoryFinancial))
	assert.Equal(t, 168, WindowHoursFor(protocol.CategoryConstruction))
	assert.Equal(t, 48, WindowHoursFor(protocol.CategoryFood))
	assert.Equal(t, 72, WindowHoursFor(protocol.CategoryAcademic))
}

func TestCommitRules(t *testing.T) {
	e, _ := testEngine(t, 3)
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	first := session.Assigned[0].Address

	ticket, err := GenerateCommitTicket(protocol.VerdictAuthentic, "")
	require.NoError(t, err)

	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: "OUTSIDER", CommitHash: ticket.CommitHash,
	})
	assert.ErrorContains(t, err, "not assigned")

	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: first, CommitHash: "nothex",
	})
	assert.ErrorContains(t, err, "64 hex characters")

	result, err := e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: first, CommitHash: ticket.CommitHash,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CommitsReceived)
	assert.Equal(t, PhaseCommit, result.Phase)

	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: first, CommitHash: ticket.CommitHash,
	})
	assert.ErrorContains(t, err, "already committed")

	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: "EVD-2026-09999", InspectorAddress: first, CommitHash: ticket.CommitHash,
	})
	var nf *protocol.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCommitAutoAdvancesToReveal(t *testing.T) {
	e, _ := testEngine(t, 3)
	runToRevealPhase(t, e)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, PhaseReveal, session.Phase, "all commits received advances phase")
}

func TestRevealRejectsTamperedVerdict(t *testing.T) {
	e, _ := testEngine(t, 3)
	tickets := runToRevealPhase(t, e)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	addr := session.Assigned[0].Address
	ticket := tickets[addr]

	// Committed AUTHENTIC, tries to reveal FAKE with the same nonce.
	_, err = e.Reveal(context.Background(), RevealInput{
		EvidenceID:       testEvidenceID,
		InspectorAddress: addr,
		Verdict:          protocol.VerdictFake,
		Nonce:            ticket.Nonce,
		JustificationCID: "QmJustification1",
	})
	var cErr *protocol.CryptoError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, ticket.CommitHash, cErr.ExpectedHash)
	assert.Equal(t, CommitHash(protocol.VerdictFake, ticket.Nonce), cErr.ComputedHash)

	session, err = e.Session(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.TamperAttempts)

	// The honest reveal still goes through afterwards.
	_, err = e.Reveal(context.Background(), RevealInput{
		EvidenceID:       testEvidenceID,
		InspectorAddress: addr,
		Verdict:          ticket.Verdict,
		Nonce:            ticket.Nonce,
		JustificationCID: "QmJustification1",
	})
	assert.NoError(t, err)
}

func TestRevealRequiresJustification(t *testing.T) {
	e, _ := testEngine(t, 3)
	tickets := runToRevealPhase(t, e)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	addr := session.Assigned[0].Address

	_, err = e.Reveal(context.Background(), RevealInput{
		EvidenceID:       testEvidenceID,
		InspectorAddress: addr,
		Verdict:          protocol.VerdictAuthentic,
		Nonce:            tickets[addr].Nonce,
		JustificationCID: "  x ",
	})
	assert.ErrorContains(t, err, "mandatory")
}

func TestRevealWithoutCommitRefused(t *testing.T) {
	e, _ := testEngine(t, 4)
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	addr := session.Assigned[0].Address

	_, err = e.Reveal(context.Background(), RevealInput{
		EvidenceID:       testEvidenceID,
		InspectorAddress: addr,
		Verdict:          protocol.VerdictAuthentic,
		Nonce:            "n",
		JustificationCID: "QmJustification1",
	})
	assert.ErrorContains(t, err, "COMMIT phase, not", "session still collecting commits")
}

func runSession(t *testing.T, e *Engine, verdicts []protocol.Verdict) *FinalizeResult {
	t.Helper()
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	require.Len(t, session.Assigned, len(verdicts))

	type pending struct {
		addr   string
		ticket *CommitTicket
	}
	var reveals []pending
	for i, a := range session.Assigned {
		ticket, err := GenerateCommitTicket(verdicts[i], "")
		require.NoError(t, err)
		_, err = e.Commit(context.Background(), CommitInput{
			EvidenceID: testEvidenceID, InspectorAddress: a.Address, CommitHash: ticket.CommitHash,
		})
		require.NoError(t, err)
		reveals = append(reveals, pending{a.Address, ticket})
	}

	for _, p := range reveals {
		_, err := e.Reveal(context.Background(), RevealInput{
			EvidenceID:       testEvidenceID,
			InspectorAddress: p.addr,
			Verdict:          p.ticket.Verdict,
			Nonce:            p.ticket.Nonce,
			JustificationCID: "QmJustificationFor" + p.addr,
		})
		require.NoError(t, err)
	}

	result, err := e.Finalize(context.Background(), testEvidenceID)
	require.NoError(t, err)
	return result
}

func TestFinalizeUnanimousVerified(t *testing.T) {
	e, store := testEngine(t, 3)
	result := runSession(t, e, []protocol.Verdict{
		protocol.VerdictAuthentic, protocol.VerdictAuthentic, protocol.VerdictAuthentic,
	})

	assert.Equal(t, protocol.StatusVerified, result.Status)
	assert.True(t, result.ConsensusReached)
	assert.Equal(t, "67%", result.ConsensusThreshold)
	assert.EqualValues(t, 100, result.VoteBreakdown["AUTHENTIC"])
	assert.EqualValues(t, 0, result.VoteBreakdown["FAKE"])

	rec, err := store.Get(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusVerified, rec.Status)
}

func TestFinalizeTwoThirdsIsDisputed(t *testing.T) {
	// 2/3 with equal weights is 66.7%, just under the 67% threshold.
	e, store := testEngine(t, 3)
	result := runSession(t, e, []protocol.Verdict{
		protocol.VerdictAuthentic, protocol.VerdictAuthentic, protocol.VerdictFake,
	})

	assert.Equal(t, protocol.StatusDisputed, result.Status)
	assert.False(t, result.ConsensusReached)
	assert.EqualValues(t, 66.7, result.VoteBreakdown["AUTHENTIC"])

	rec, err := store.Get(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusDisputed, rec.Status)
}

func TestFinalizeUnanimousFakeRejected(t *testing.T) {
	e, _ := testEngine(t, 3)
	result := runSession(t, e, []protocol.Verdict{
		protocol.VerdictFake, protocol.VerdictFake, protocol.VerdictFake,
	})
	assert.Equal(t, protocol.StatusRejected, result.Status)
}

func TestFinalizeWeightsByCredibility(t *testing.T) {
	store := submission.NewMemoryStore()
	require.NoError(t, store.Insert(&submission.Record{
		EvidenceID: testEvidenceID, Category: protocol.CategoryFinancial, Status: protocol.StatusPending,
	}))
	reg := testPool(t, 3)
	// Decay one inspector to weight 0.5 before the session.
	for i := 0; i < 3; i++ {
		reg.RecordOutcome("INSPECTOR02", false)
	}
	require.EqualValues(t, 0.5, reg.CredibilityOf("INSPECTOR02"))

	e := NewEngine(reg, store, nil)

	verdictFor := func(addr string) protocol.Verdict {
		if addr == "INSPECTOR02" {
			return protocol.VerdictFake
		}
		return protocol.VerdictAuthentic
	}

	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)
	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)

	type pending struct {
		addr   string
		ticket *CommitTicket
	}
	var reveals []pending
	for _, a := range session.Assigned {
		ticket, err := GenerateCommitTicket(verdictFor(a.Address), "")
		require.NoError(t, err)
		_, err = e.Commit(context.Background(), CommitInput{
			EvidenceID: testEvidenceID, InspectorAddress: a.Address, CommitHash: ticket.CommitHash,
		})
		require.NoError(t, err)
		reveals = append(reveals, pending{a.Address, ticket})
	}
	for _, p := range reveals {
		_, err := e.Reveal(context.Background(), RevealInput{
			EvidenceID:       testEvidenceID,
			InspectorAddress: p.addr,
			Verdict:          p.ticket.Verdict,
			Nonce:            p.ticket.Nonce,
			JustificationCID: "QmJustificationFor" + p.addr,
		})
		require.NoError(t, err)
	}

	result, err := e.Finalize(context.Background(), testEvidenceID)
	require.NoError(t, err)

	// 2.0 of 2.5 weighted AUTHENTIC: 80%, over the threshold.
	assert.Equal(t, protocol.StatusVerified, result.Status)
	assert.EqualValues(t, 80, result.VoteBreakdown["AUTHENTIC"])
	assert.EqualValues(t, 20, result.VoteBreakdown["FAKE"])
}

func TestFinalizeUpdatesReputation(t *testing.T) {
	e, _ := testEngine(t, 3)
	runSession(t, e, []protocol.Verdict{
		protocol.VerdictAuthentic, protocol.VerdictAuthentic, protocol.VerdictAuthentic,
	})

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	for _, a := range session.Assigned {
		rep, err := e.inspectors.ReputationOf(a.Address)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.TotalVotes)
		assert.Equal(t, 1, rep.ConsensusMatches)
		assert.EqualValues(t, 1.0, rep.ConsistencyScore)
	}
}

func TestFinalizeNeedsQuorumReveals(t *testing.T) {
	e, _ := testEngine(t, 3)
	runToRevealPhase(t, e)

	_, err := e.Finalize(context.Background(), testEvidenceID)
	assert.ErrorContains(t, err, "need at least 3 reveals")
}

func TestAdvanceToReveal(t *testing.T) {
	e, _ := testEngine(t, 4)
	_, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	_, err = e.AdvanceToReveal(testEvidenceID)
	assert.ErrorContains(t, err, "need at least 3 commits")
}

func TestStatusHidesVerdictsUntilFinalized(t *testing.T) {
	e, _ := testEngine(t, 3)
	runToRevealPhase(t, e)

	view, err := e.Status(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, "UNDER_VERIFICATION", view.Status)
	assert.Empty(t, view.InspectorVerdicts)
	assert.Equal(t, 3, view.CommitsReceived)
}

func TestStatusAnonymizesInspectorsAfterFinalize(t *testing.T) {
	e, _ := testEngine(t, 3)
	runSession(t, e, []protocol.Verdict{
		protocol.VerdictAuthentic, protocol.VerdictAuthentic, protocol.VerdictAuthentic,
	})

	view, err := e.Status(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", view.Status)
	require.Len(t, view.InspectorVerdicts, 3)
	for _, iv := range view.InspectorVerdicts {
		assert.Contains(t, iv.Inspector, "...", "addresses anonymized")
		assert.Equal(t, "AUTHENTIC", iv.Verdict)
		assert.NotEmpty(t, iv.JustificationCID)
	}
}

func TestCasesOf(t *testing.T) {
	e, _ := testEngine(t, 3)
	tickets := runToRevealPhase(t, e)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	addr := session.Assigned[0].Address

	cases := e.CasesOf(addr)
	require.Len(t, cases, 1)
	assert.True(t, cases[0].HasCommitted)
	assert.False(t, cases[0].HasRevealed)

	_, err = e.Reveal(context.Background(), RevealInput{
		EvidenceID:       testEvidenceID,
		InspectorAddress: addr,
		Verdict:          tickets[addr].Verdict,
		Nonce:            tickets[addr].Nonce,
		JustificationCID: "QmJustification1",
	})
	require.NoError(t, err)

	cases = e.CasesOf(addr)
	require.Len(t, cases, 1)
	assert.True(t, cases[0].HasRevealed)
	assert.Equal(t, "AUTHENTIC", cases[0].YourVerdict)
}

func TestAnonymize(t *testing.T) {
	assert.Equal(t, "ABCDEFGH...WXYZ", Anonymize("ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	assert.Equal(t, "SHORT", Anonymize("SHORT"))
}

func TestCommitRejectedAfterDeadline(t *testing.T) {
	e, _ := testEngine(t, 3)
	base := time.Now()
	e.now = func() time.Time { return base }

	result, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
	require.NoError(t, err)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	addr := session.Assigned[0].Address

	ticket, err := GenerateCommitTicket(protocol.VerdictAuthentic, "")
	require.NoError(t, err)

	// One second past the deadline.
	e.now = func() time.Time { return result.WindowDeadline.Add(time.Second) }
	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: addr, CommitHash: ticket.CommitHash,
	})
	assert.ErrorContains(t, err, "window has expired")

	// On the deadline itself the commit still lands.
	e.now = func() time.Time { return result.WindowDeadline }
	_, err = e.Commit(context.Background(), CommitInput{
		EvidenceID: testEvidenceID, InspectorAddress: addr, CommitHash: ticket.CommitHash,
	})
	assert.NoError(t, err)
}

func TestDrawPanelUniformRandom(t *testing.T) {
	pool := make([]*inspector.View, 6)
	for i := range pool {
		pool[i] = &inspector.View{Profile: inspector.Profile{
			Address: fmt.Sprintf("INSPECTOR%02d", i),
		}}
	}

	counts := make(map[string]int)
	for i := 0; i < 100; i++ {
		panel, err := drawPanel(pool, 3)
		require.NoError(t, err)
		require.Len(t, panel, 3)
		seen := make(map[string]bool)
		for _, ins := range panel {
			require.False(t, seen[ins.Address], "panel members are distinct")
			seen[ins.Address] = true
			counts[ins.Address]++
		}
	}

	// Three seats drawn from six: each inspector sits on about half the
	// panels. The bounds are loose enough to never flake.
	require.Len(t, counts, 6)
	for addr, n := range counts {
		assert.Greater(t, n, 20, addr)
		assert.Less(t, n, 80, addr)
	}
}

// gatedChain holds its BeginVerification call open until released, standing
// in for a ledger that needs several rounds to confirm.
type gatedChain struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gatedChain) BeginVerification(_ context.Context, _ string, _ int64, _ int) (string, error) {
	close(c.entered)
	<-c.release
	return "TXBEGIN", nil
}

func (c *gatedChain) CommitVerdict(_ context.Context, _ *wallet.Wallet, _, _ string) (string, error) {
	return "", nil
}

func (c *gatedChain) RevealVerdict(_ context.Context, _ *wallet.Wallet, _ string, _ protocol.Verdict, _, _ string) (string, error) {
	return "", nil
}

func (c *gatedChain) FinalizeVerification(_ context.Context, _ string, _ protocol.Status) (string, error) {
	return "TXFINAL", nil
}

func TestReadsProceedDuringLedgerBegin(t *testing.T) {
	chain := &gatedChain{entered: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(testPool(t, 5), nil, chain)

	done := make(chan *BeginResult, 1)
	go func() {
		result, err := e.Begin(context.Background(), testEvidenceID, protocol.CategoryFinancial)
		assert.NoError(t, err)
		done <- result
	}()

	<-chain.entered

	// The session table stays readable while the chain call is in flight.
	start := time.Now()
	sessions := e.Sessions()
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, sessions, 1)
	assert.Equal(t, PhaseCommit, sessions[0].Phase)

	view, err := e.Status(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.InspectorsAssigned)

	close(chain.release)
	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, "TXBEGIN", result.TxID)

	session, err := e.Session(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, "TXBEGIN", session.BeginTx, "tx id annotated after the call returns")
}
