package handlers

import (
	"net/http"

	"github.com/whistlechain/backend/internal/wallet"
)

// HandleCreateWallet mints a burner identity for an anonymous submitter.
// The mnemonic is returned once and never stored.
func HandleCreateWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wlt, err := wallet.New()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"address":  wlt.Address,
			"mnemonic": wlt.Mnemonic,
			"warning":  "Save the mnemonic. It is the only way to recover this wallet and claim payouts.",
		})
	}
}

// HandleRecoverWallet re-derives a wallet address from its mnemonic.
func HandleRecoverWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mnemonic string `json:"mnemonic"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		wlt, err := wallet.FromMnemonic(req.Mnemonic)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address": wlt.Address,
		})
	}
}
