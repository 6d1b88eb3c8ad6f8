package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistlechain/backend/internal/audit"
	"github.com/whistlechain/backend/internal/bounty"
	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/ipfs"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/publication"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := submission.NewMemoryStore()
	submissions := submission.NewService(store, ipfs.NewGateway(""), nil)
	inspectors := inspector.NewRegistry()
	verifier := verification.NewEngine(inspectors, store, nil)
	resolver := resolution.NewEngine(verifier, store, nil)
	bounties := bounty.NewEngine(nil)
	auditor := audit.NewEngine(verifier, resolver, store, nil)
	publisher := publication.NewBot()

	srv := NewServer("0", Deps{
		Submissions: submissions,
		Inspectors:  inspectors,
		Verifier:    verifier,
		Resolver:    resolver,
		Bounties:    bounties,
		Auditor:     auditor,
		Publisher:   publisher,
		Bus:         events.NewBus(),
	})

	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeJSON(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp, decodeJSON(t, resp)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

func submitTestEvidence(t *testing.T, base string, stakeMicro uint64) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "ledger.pdf")
	require.NoError(t, err)
	fw.Write([]byte("falsified accounts, scanned"))
	mw.WriteField("category", "FOOD")
	mw.WriteField("organization", "Midday Meal Contractor")
	mw.WriteField("description", "Expired stock relabeled and served in schools")
	mw.WriteField("stake_microalgos", fmt.Sprintf("%d", stakeMicro))
	require.NoError(t, mw.Close())

	resp, err := http.Post(base+"/api/v1/evidence", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)

	assert.True(t, body["simulated_cid"].(bool), "no Pinata credentials in tests")
	assert.NotEmpty(t, body["encryption_key_hex"])
	assert.NotEmpty(t, body["wallet_mnemonic"])
	return body["evidence_id"].(string)
}

func registerTestPanel(t *testing.T, base string) []string {
	t.Helper()
	addrs := []string{
		"FSSAIINSPECTOR000000000001",
		"FSSAIINSPECTOR000000000002",
		"FSSAIINSPECTOR000000000003",
	}
	for i, addr := range addrs {
		resp, body := postJSON(t, base+"/api/v1/inspectors", map[string]interface{}{
			"address":         addr,
			"name":            fmt.Sprintf("Inspector %d", i+1),
			"specializations": []string{"FOOD"},
			"department":      "FSSAI",
			"active":          true,
			"availability":    "AVAILABLE",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	}
	return addrs
}

func TestHealthWithoutNode(t *testing.T) {
	ts := testServer(t)

	resp, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["algorand"])
}

func TestWalletEndpoints(t *testing.T) {
	ts := testServer(t)

	resp, created := postJSON(t, ts.URL+"/api/v1/wallets", map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	mnemonic := created["mnemonic"].(string)
	address := created["address"].(string)

	resp, recovered := postJSON(t, ts.URL+"/api/v1/wallets/recover", map[string]string{
		"mnemonic": mnemonic,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, address, recovered["address"])

	resp, _ = postJSON(t, ts.URL+"/api/v1/wallets/recover", map[string]string{
		"mnemonic": "not a real phrase",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStakeEndpoints(t *testing.T) {
	ts := testServer(t)

	resp, body := getJSON(t, ts.URL+"/api/v1/stake/requirements/FOOD")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 25_000_000, body["min_stake_microalgos"])
	assert.EqualValues(t, 150_000_000, body["bounty_reward_microalgos"])

	resp, _ = getJSON(t, ts.URL+"/api/v1/stake/requirements/GAMBLING")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payout := getJSON(t, ts.URL+"/api/v1/stake/payout-preview?category=FOOD&stake=25000000&verdict=VERIFIED")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 175_000_000, payout["total_payout"])
}

func TestEvidenceNotFound(t *testing.T) {
	ts := testServer(t)
	resp, _ := getJSON(t, ts.URL+"/api/v1/evidence/EVD-2026-99999")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The full custody lifecycle through the HTTP surface: submit, verify with
// a commit-reveal panel, finalize, resolve, pay, publish, fan out.
func TestCustodyLifecycle(t *testing.T) {
	ts := testServer(t)
	base := ts.URL

	evidenceID := submitTestEvidence(t, base, 25_000_000)
	addrs := registerTestPanel(t, base)

	// Begin verification
	resp, begin := postJSON(t, base+"/api/v1/verification/begin", map[string]string{
		"evidence_id": evidenceID,
		"category":    "FOOD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", begin)
	assert.EqualValues(t, 3, begin["inspectors_assigned"])
	assert.EqualValues(t, 48, begin["verification_window_hours"])

	// Each inspector seals a verdict
	nonces := make(map[string]string)
	for _, addr := range addrs {
		resp, ticket := postJSON(t, base+"/api/v1/verification/commit-ticket", map[string]interface{}{
			"verdict": 1,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		nonces[addr] = ticket["nonce"].(string)

		resp, body := postJSON(t, base+"/api/v1/verification/commit", map[string]string{
			"evidence_id":       evidenceID,
			"inspector_address": addr,
			"commit_hash":       ticket["commit_hash"].(string),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	}

	// A changed verdict is caught against the sealed hash
	resp, tamper := postJSON(t, base+"/api/v1/verification/reveal", map[string]interface{}{
		"evidence_id":        evidenceID,
		"inspector_address":  addrs[0],
		"verdict":            2,
		"nonce":              nonces[addrs[0]],
		"justification_ipfs": "QmTamperedJustification",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, tamper["expected_hash"])

	// Honest reveals
	for _, addr := range addrs {
		resp, body := postJSON(t, base+"/api/v1/verification/reveal", map[string]interface{}{
			"evidence_id":        evidenceID,
			"inspector_address":  addr,
			"verdict":            1,
			"nonce":              nonces[addr],
			"justification_ipfs": "QmLabReportJustification",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	}

	// Finalize to consensus
	resp, final := postJSON(t, base+"/api/v1/verification/"+evidenceID+"/finalize", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", final)
	assert.Equal(t, "VERIFIED", final["status"])
	assert.EqualValues(t, 100, final["vote_breakdown"].(map[string]interface{})["AUTHENTIC"])

	// Resolve the stake
	resp, res := postJSON(t, base+"/api/v1/resolutions", map[string]string{
		"evidence_id": evidenceID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", res)
	assert.Equal(t, "STAKE_RELEASED", res["resolution_action"])
	assert.Equal(t, "refund", res["stake_action"])

	// Bounty: FOOD pays 150 ALGO plus the 25 ALGO stake back
	resp, payout := postJSON(t, base+"/api/v1/bounties", map[string]string{
		"evidence_id": evidenceID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", payout)
	assert.Equal(t, "BOUNTY_PLUS_REFUND", payout["payout_type"])
	assert.EqualValues(t, 175_000_000, payout["total_payout"])

	// Publish the audit trail
	resp, published := postJSON(t, base+"/api/v1/audit/publish", map[string]string{
		"evidence_id": evidenceID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", published)
	assert.Equal(t, "PUBLISHED", published["status"])

	// Fan out to every channel
	resp, fanout := postJSON(t, base+"/api/v1/publications", map[string]string{
		"evidence_id": evidenceID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", fanout)
	summary := fanout["summary"].(map[string]interface{})
	assert.EqualValues(t, 4, summary["platforms_reached"])

	// The case is public record now
	resp, public := getJSON(t, base+"/api/v1/public/evidence")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, public["count"])

	// Transparency report aggregates the outcome
	resp, report := getJSON(t, base+"/api/v1/contract/transparency")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", report["contract"].(map[string]interface{})["status"])
	assert.EqualValues(t, 1, report["total_submissions"])
	assert.EqualValues(t, 1, report["resolutions"].(map[string]interface{})["stakes_released"])

	// Settling twice is refused
	resp, _ = postJSON(t, base+"/api/v1/resolutions", map[string]string{
		"evidence_id": evidenceID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// The same lifecycle over the documented integration paths: /wallet/create,
// /stake/info, /evidence/submit, the /verification verbs with query-string
// ids, /resolution/resolve, /bounty/process and /publication/publish.
func TestDocumentedPathsLifecycle(t *testing.T) {
	ts := testServer(t)
	base := ts.URL

	resp, created := postJSON(t, base+"/wallet/create", map[string]string{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created["mnemonic"])

	resp, info := getJSON(t, base+"/stake/info/FOOD")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 25_000_000, info["min_stake_microalgos"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "lab-report.pdf")
	require.NoError(t, err)
	fw.Write([]byte("adulterated samples, lab confirmed"))
	mw.WriteField("category", "FOOD")
	mw.WriteField("organization", "Canteen Supplier")
	mw.WriteField("description", "Expired stock relabeled and served")
	mw.WriteField("stake_microalgos", "25000000")
	require.NoError(t, mw.Close())

	httpResp, err := http.Post(base+"/evidence/submit", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	submitted := decodeJSON(t, httpResp)
	require.Equal(t, http.StatusCreated, httpResp.StatusCode, "body: %v", submitted)
	evidenceID := submitted["evidence_id"].(string)

	resp, _ = getJSON(t, base+"/evidence/"+evidenceID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	addrs := []string{"FOODPANEL0000000000000001", "FOODPANEL0000000000000002", "FOODPANEL0000000000000003"}
	for i, addr := range addrs {
		resp, body := postJSON(t, base+"/verification/register-inspector", map[string]interface{}{
			"address":         addr,
			"name":            fmt.Sprintf("Inspector %d", i+1),
			"specializations": []string{"FOOD"},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	}

	resp, begin := postJSON(t, base+"/verification/begin", map[string]string{
		"evidence_id": evidenceID,
		"category":    "FOOD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", begin)

	nonces := make(map[string]string)
	for _, addr := range addrs {
		ticket, err := verification.GenerateCommitTicket(protocol.VerdictAuthentic, "")
		require.NoError(t, err)
		nonces[addr] = ticket.Nonce

		resp, body := postJSON(t, base+"/verification/commit", map[string]string{
			"evidence_id":       evidenceID,
			"inspector_address": addr,
			"commit_hash":       ticket.CommitHash,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	}

	resp, adv := postJSON(t, base+"/verification/advance-to-reveal?evidence_id="+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", adv)
	assert.Equal(t, "REVEAL", adv["phase"])

	for _, addr := range addrs {
		resp, body := postJSON(t, base+"/verification/reveal", map[string]interface{}{
			"evidence_id":        evidenceID,
			"inspector_address":  addr,
			"verdict":            1,
			"nonce":              nonces[addr],
			"justification_ipfs": "QmFieldInspectionReport",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	}

	resp, status := getJSON(t, base+"/verification/status/"+evidenceID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, status["reveals_received"])

	resp, final := postJSON(t, base+"/verification/finalize?evidence_id="+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", final)
	assert.Equal(t, "VERIFIED", final["status"])

	resp, res := postJSON(t, base+"/resolution/resolve?evidence_id="+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", res)
	assert.Equal(t, "STAKE_RELEASED", res["resolution_action"])

	resp, payout := postJSON(t, base+"/bounty/process/"+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", payout)
	assert.Equal(t, "BOUNTY_PLUS_REFUND", payout["payout_type"])

	resp, published := postJSON(t, base+"/audit/publish?evidence_id="+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", published)
	assert.Equal(t, "PUBLISHED", published["status"])

	resp, trail := getJSON(t, base+"/audit/"+evidenceID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PUBLISHED", trail["status"])

	resp, fanout := postJSON(t, base+"/publication/publish/"+evidenceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", fanout)
	assert.EqualValues(t, 4, fanout["summary"].(map[string]interface{})["platforms_reached"])

	resp, report := getJSON(t, base+"/contract/transparency")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, report["total_submissions"])
}

func TestBeginVerificationNeedsQuorum(t *testing.T) {
	ts := testServer(t)
	evidenceID := submitTestEvidence(t, ts.URL, 0)

	resp, body := postJSON(t, ts.URL+"/api/v1/verification/begin", map[string]string{
		"evidence_id": evidenceID,
		"category":    "FOOD",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "body: %v", body)
}
