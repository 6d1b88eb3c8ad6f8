package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
)

const testEvidenceID = "EVD-2026-00001"

type stubSessions struct {
	session *verification.Session
}

func (s *stubSessions) Session(evidenceID string) (*verification.Session, error) {
	if s.session == nil {
		return nil, &protocol.NotFoundError{Kind: "session", ID: evidenceID}
	}
	return s.session, nil
}

type stubResolutions struct {
	res *resolution.Resolution
}

func (s *stubResolutions) Resolution(evidenceID string) (*resolution.Resolution, error) {
	if s.res == nil {
		return nil, &protocol.NotFoundError{Kind: "resolution", ID: evidenceID}
	}
	return s.res, nil
}

type stubChain struct {
	fail        bool
	lastBlob    string
	lastSummary []byte
}

func (c *stubChain) PublishEvidence(_ context.Context, _ string, blob, summary []byte) (string, error) {
	if c.fail {
		return "", &protocol.LedgerError{Op: "publish_evidence", Err: errors.New("node unreachable")}
	}
	c.lastBlob = string(blob)
	c.lastSummary = summary
	return "TXPUBLISH", nil
}

func resolvedFixture() (*stubSessions, *stubResolutions) {
	now := time.Now()
	session := &verification.Session{
		EvidenceID:  testEvidenceID,
		Category:    protocol.CategoryFood,
		Phase:       verification.PhaseFinalized,
		StartedAt:   now.Add(-48 * time.Hour),
		WindowEnd:   now.Add(-time.Hour),
		WindowHours: 48,
		FinalStatus: protocol.StatusVerified,
		FinalizedAt: now.Add(-2 * time.Hour),
		VoteBreakdown: map[string]float64{
			"AUTHENTIC": 100, "FAKE": 0, "INCONCLUSIVE": 0,
		},
		Commits: map[string]*verification.Commit{
			"INSPECTORAAAAAAAA0001": {}, "INSPECTORAAAAAAAA0002": {}, "INSPECTORAAAAAAAA0003": {},
		},
		Reveals: map[string]*verification.Reveal{
			"INSPECTORAAAAAAAA0001": {VerdictLabel: "AUTHENTIC", JustificationCID: "QmJust1"},
			"INSPECTORAAAAAAAA0002": {VerdictLabel: "AUTHENTIC", JustificationCID: "QmJust2"},
			"INSPECTORAAAAAAAA0003": {VerdictLabel: "AUTHENTIC", JustificationCID: "QmJust3"},
		},
		BeginTx:    "TXBEGIN",
		FinalizeTx: "TXFINAL",
	}
	res := &resolution.Resolution{
		EvidenceID:          testEvidenceID,
		VerificationVerdict: protocol.StatusVerified,
		ResolutionAction:    resolution.ActionStakeReleased,
		StakeAction:         "refund",
		ResolvedAt:          now.Add(-time.Hour),
		OnChainTx:           "TXRESOLVE",
	}
	return &stubSessions{session}, &stubResolutions{res}
}

func TestPublishBuildsCompleteTrail(t *testing.T) {
	sessions, resolutions := resolvedFixture()
	store := submission.NewMemoryStore()
	require.NoError(t, store.Insert(&submission.Record{
		EvidenceID: testEvidenceID, Status: protocol.StatusResolved,
	}))
	chain := &stubChain{}
	e := NewEngine(sessions, resolutions, store, chain)

	result, err := e.Publish(context.Background(), testEvidenceID)
	require.NoError(t, err)

	assert.Equal(t, "PUBLISHED", result.Status)
	assert.Equal(t, "TXPUBLISH", result.TxID)

	trail := result.Trail
	assert.Equal(t, protocol.CategoryFood, trail.Category)
	assert.Equal(t, 3, trail.Verification.TotalInspectors)
	assert.Equal(t, "67%", trail.Verification.ConsensusThreshold)
	assert.Equal(t, "VERIFIED", trail.Verification.FinalVerdict)
	assert.Equal(t, resolution.ActionStakeReleased, trail.Timeline.ResolutionAction)
	assert.Equal(t, "TXBEGIN", trail.OnChain.VerificationTx)
	assert.Equal(t, "TXFINAL", trail.OnChain.FinalizeTx)
	assert.Equal(t, "TXRESOLVE", trail.OnChain.ResolutionTx)
	assert.Equal(t, "TXPUBLISH", trail.OnChain.PublishTx)
	assert.True(t, trail.Integrity.TamperProof)

	require.Len(t, trail.InspectorVerdicts, 3)
	for _, iv := range trail.InspectorVerdicts {
		assert.Contains(t, iv.InspectorID, "...")
	}

	assert.Contains(t, chain.lastBlob, "published|EVD-2026-00001|status=PUBLISHED|verdict=VERIFIED")
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(chain.lastSummary, &summary))
	assert.Equal(t, testEvidenceID, summary["evidence_id"])
	assert.Equal(t, "STAKE_RELEASED", summary["resolution_action"])

	rec, err := store.Get(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPublished, rec.Status)
}

func TestPublishRequiresResolution(t *testing.T) {
	sessions, _ := resolvedFixture()
	e := NewEngine(sessions, &stubResolutions{}, nil, &stubChain{})

	_, err := e.Publish(context.Background(), testEvidenceID)
	assert.ErrorContains(t, err, "must be resolved before publication")
}

func TestPublishOnce(t *testing.T) {
	sessions, resolutions := resolvedFixture()
	e := NewEngine(sessions, resolutions, nil, &stubChain{})

	_, err := e.Publish(context.Background(), testEvidenceID)
	require.NoError(t, err)

	_, err = e.Publish(context.Background(), testEvidenceID)
	var sErr *protocol.StateError
	assert.ErrorAs(t, err, &sErr)
	assert.ErrorContains(t, err, "already published")
}

func TestPublishAnnotatesLedgerFailure(t *testing.T) {
	sessions, resolutions := resolvedFixture()
	e := NewEngine(sessions, resolutions, nil, &stubChain{fail: true})

	result, err := e.Publish(context.Background(), testEvidenceID)
	require.NoError(t, err, "publication proceeds off-chain")
	assert.Contains(t, result.Trail.PublishError, "node unreachable")
	assert.Empty(t, result.TxID)
}

func TestTrailForUnpublishedCase(t *testing.T) {
	sessions, _ := resolvedFixture()
	e := NewEngine(sessions, &stubResolutions{}, nil, nil)

	trail, err := e.Trail(testEvidenceID)
	require.NoError(t, err)
	assert.Nil(t, trail.Resolution, "no settlement yet")
	assert.Nil(t, trail.PublishedAt)
	assert.Equal(t, 3, trail.Verification.TotalInspectors)
}

func TestPublicEvidenceAndStats(t *testing.T) {
	sessions, resolutions := resolvedFixture()
	e := NewEngine(sessions, resolutions, nil, nil)

	assert.Empty(t, e.PublicEvidence())

	_, err := e.Publish(context.Background(), testEvidenceID)
	require.NoError(t, err)

	records := e.PublicEvidence()
	require.Len(t, records, 1)
	assert.Equal(t, testEvidenceID, records[0].EvidenceID)
	assert.Equal(t, "VERIFIED", records[0].FinalVerdict)
	assert.Equal(t, "STAKE_RELEASED", records[0].ResolutionAction)
	assert.Equal(t, 3, records[0].InspectorCount)

	stats := e.Stats()
	assert.Equal(t, 1, stats.TotalPublished)
	assert.Equal(t, 1, stats.VerifiedPublished)
	assert.Zero(t, stats.RejectedPublished)
	assert.Equal(t, "100%", stats.TransparencyScore)
	assert.True(t, stats.Immutable)
}

// gatedChain holds its PublishEvidence call open until released.
type gatedChain struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gatedChain) PublishEvidence(_ context.Context, _ string, _, _ []byte) (string, error) {
	close(c.entered)
	<-c.release
	return "TXPUBLISH", nil
}

func TestReadsProceedDuringLedgerPublish(t *testing.T) {
	sessions, resolutions := resolvedFixture()
	chain := &gatedChain{entered: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(sessions, resolutions, nil, chain)

	done := make(chan *PublishResult, 1)
	go func() {
		result, err := e.Publish(context.Background(), testEvidenceID)
		assert.NoError(t, err)
		done <- result
	}()

	<-chain.entered

	// Reads keep working while the box write is in flight.
	start := time.Now()
	stats := e.Stats()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, stats.TotalPublished)

	// A second publish mid-flight is refused.
	_, err := e.Publish(context.Background(), testEvidenceID)
	assert.ErrorContains(t, err, "already published")

	close(chain.release)
	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, "TXPUBLISH", result.TxID)

	trail, err := e.Trail(testEvidenceID)
	require.NoError(t, err)
	assert.Equal(t, "TXPUBLISH", trail.OnChain.PublishTx, "tx id annotated after the call returns")
}
