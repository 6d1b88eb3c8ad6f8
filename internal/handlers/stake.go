package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/stake"
)

// HandleStakeRequirements lists the stake minimums and bounty rates for
// every category.
func HandleStakeRequirements() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]stake.Info, 0, len(protocol.Categories))
		for _, cat := range protocol.Categories {
			out = append(out, stake.InfoFor(cat))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"categories":           out,
			"max_stake_microalgos": stake.MaxStake,
			"free_tier":            "A zero stake is accepted in every category with no bounty eligibility.",
		})
	}
}

// HandleStakeInfo returns the requirements for one category.
func HandleStakeInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := protocol.ParseCategory(mux.Vars(r)["category"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stake.InfoFor(cat))
	}
}

// HandlePayoutPreview computes what a given stake and verdict would pay.
func HandlePayoutPreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := protocol.ParseCategory(r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, err)
			return
		}
		verdict := r.URL.Query().Get("verdict")
		if verdict == "" {
			verdict = string(protocol.StatusVerified)
		}
		stakeMicro, err := strconv.ParseUint(r.URL.Query().Get("stake"), 10, 64)
		if err != nil {
			writeError(w, &protocol.ValidationError{Msg: "stake must be a microAlgo amount"})
			return
		}
		writeJSON(w, http.StatusOK, stake.CalculatePayout(cat, stakeMicro, verdict))
	}
}
