package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/bounty"
	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
)

// HandleProcessBounty computes and records the whistleblower payout for a
// resolved case. The settlement record supplies verdict and stake; the
// submission record supplies the destination wallet.
func HandleProcessBounty(engine *bounty.Engine, resolutions *resolution.Engine, store submission.Store, bus events.Emitter, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evidenceID := evidenceIDParam(r)
		if evidenceID == "" {
			var req struct {
				EvidenceID string `json:"evidence_id"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			evidenceID = req.EvidenceID
		}

		res, err := resolutions.Resolution(evidenceID)
		if err != nil {
			writeError(w, err)
			return
		}

		in := bounty.Input{
			EvidenceID: evidenceID,
			Verdict:    string(res.VerificationVerdict),
			StakeMicro: res.StakeMicro,
			TxID:       res.OnChainTx,
		}
		if rec, err := store.Get(evidenceID); err == nil {
			in.Category = rec.Category
			in.WalletAddress = rec.WalletAddress
			in.StakeMicro = rec.StakeMicro
		}

		payout, err := engine.Process(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		m.RecordBountyPaid(payout.TotalPayout)
		if bus != nil {
			bus.Emit(events.TypeBountyProcessed, "/bounty", evidenceID, map[string]interface{}{
				"payout_type":  payout.PayoutType,
				"total_payout": payout.TotalPayout,
			})
		}
		writeJSON(w, http.StatusOK, payout)
	}
}

// HandleGetBounty returns one payout record.
func HandleGetBounty(engine *bounty.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payout, err := engine.Payout(mux.Vars(r)["evidence_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payout)
	}
}

// HandleBountyStats summarizes payouts and the per-category bounty rates.
func HandleBountyStats(engine *bounty.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, engine.Stats())
	}
}
