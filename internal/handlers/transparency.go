package handlers

import (
	"net/http"

	"github.com/whistlechain/backend/internal/audit"
	"github.com/whistlechain/backend/internal/bounty"
	"github.com/whistlechain/backend/internal/ledger"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
)

// HandleTransparency is the public accountability report: contract
// identity, escrow balance and aggregate outcomes in one response.
// Registry may be nil when no contract is deployed.
func HandleTransparency(registry *ledger.Registry, store submission.Store, resolver *resolution.Engine, auditor *audit.Engine, bounties *bounty.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contract := map[string]interface{}{"status": "disabled"}
		if registry != nil {
			contract = map[string]interface{}{
				"status":         "deployed",
				"app_id":         registry.AppID(),
				"escrow_address": registry.AppAddress(),
			}
			if balance, err := registry.AppBalance(r.Context()); err == nil {
				contract["escrow_balance_microalgos"] = balance
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"contract":             contract,
			"total_submissions":    len(store.All()),
			"resolutions":          resolver.Stats(),
			"audit":                auditor.Stats(),
			"bounties":             bounties.Stats(),
			"censorship_resistant": true,
		})
	}
}
