package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/protocol"
)

// HandleRegisterInspector adds an inspector to the verification pool.
func HandleRegisterInspector(registry *inspector.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p inspector.Profile
		if !decodeBody(w, r, &p) {
			return
		}
		if p.Address == "" || p.Name == "" {
			writeError(w, &protocol.ValidationError{Msg: "address and name are required"})
			return
		}
		view, err := registry.Register(p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

// HandleGetInspector returns a profile with its reputation.
func HandleGetInspector(registry *inspector.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := registry.Get(mux.Vars(r)["address"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleUpdateInspector patches the mutable profile fields.
func HandleUpdateInspector(registry *inspector.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u inspector.Update
		if !decodeBody(w, r, &u) {
			return
		}
		view, err := registry.UpdateProfile(mux.Vars(r)["address"], u)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleListInspectors lists the pool, optionally by category specialty.
func HandleListInspectors(registry *inspector.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cat protocol.Category
		if raw := r.URL.Query().Get("category"); raw != "" {
			parsed, err := protocol.ParseCategory(raw)
			if err != nil {
				writeError(w, err)
				return
			}
			cat = parsed
		}
		pool := registry.Pool(cat)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":      len(pool),
			"inspectors": pool,
		})
	}
}
