package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mudengine/internal/apperr"
)

// compendiumClient is a short-timeout client for the read-only pass-through
// to the external compendium service (§1 Non-goals: this server is not the
// source of truth for rules content, it only relays).
var compendiumClient = &http.Client{Timeout: 10 * time.Second}

// handleCompendiumList implements `GET /api/compendium/{category}`.
func (a *API) handleCompendiumList(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	a.proxyCompendium(w, r, category)
}

// handleCompendiumItem implements `GET /api/compendium/{category}/{name}`.
func (a *API) handleCompendiumItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a.proxyCompendium(w, r, vars["category"]+"/"+vars["name"])
}

// proxyCompendium relays a read-only GET to the configured compendium
// service and streams its response back verbatim. The compendium is an
// external collaborator this server never caches or owns the schema of, so
// there is nothing here to parse — only to forward.
func (a *API) proxyCompendium(w http.ResponseWriter, r *http.Request, path string) {
	if a.cfg.CompendiumURL == "" {
		writeError(w, apperr.NotFound("compendium_unavailable", "no compendium service configured"))
		return
	}
	target := strings.TrimRight(a.cfg.CompendiumURL, "/") + "/" + path

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, apperr.Transient("compendium_request_failed", "could not build compendium request", err))
		return
	}
	resp, err := compendiumClient.Do(req)
	if err != nil {
		writeError(w, apperr.Transient("compendium_unreachable", "could not reach compendium service", err))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
