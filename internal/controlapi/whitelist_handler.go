package controlapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/logger"
)

// handleCreateWhitelistEntry processes POST /api/v1/whitelist.
func (a *API) handleCreateWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateWhitelistRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	entry := req.toStore()
	if err := a.rules.CreateWhitelistEntry(r.Context(), entry); err != nil {
		writeStoreError(w, r, log, err, "create whitelist entry")
		return
	}

	a.invalidate(r, fmt.Sprintf("whitelist entry %d created", entry.ID))

	log.Info("whitelist entry created", slog.Int64("entry_id", entry.ID), slog.Int64("rule_id", entry.RuleID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toWhitelistEntry(entry))
}

// handleBatchWhitelist processes POST /api/v1/whitelist/batch. Values
// already present on the rule are skipped, not rejected.
func (a *API) handleBatchWhitelist(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req BatchWhitelistRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}

	submitted := len(req.Values)
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	res, err := a.rules.BatchCreateWhitelist(r.Context(), req.RuleID, req.Values, req.ValueType)
	if err != nil {
		writeStoreError(w, r, log, err, "batch create whitelist")
		return
	}
	// Blank and repeated values dropped by Sanitize count as skipped.
	res.Skipped += submitted - len(req.Values)

	if res.Added > 0 {
		a.invalidate(r, fmt.Sprintf("whitelist of rule %d extended", req.RuleID))
	}

	log.Info("whitelist batch applied",
		slog.Int64("rule_id", req.RuleID),
		slog.Int("added", res.Added),
		slog.Int("skipped", res.Skipped))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, BatchWhitelistResponse{Added: res.Added, Skipped: res.Skipped})
}

// handleDeleteWhitelistEntry processes DELETE /api/v1/whitelist/{id}.
func (a *API) handleDeleteWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := a.rules.DeleteWhitelistEntry(r.Context(), id); err != nil {
		writeStoreError(w, r, log, err, "delete whitelist entry")
		return
	}

	a.invalidate(r, fmt.Sprintf("whitelist entry %d deleted", id))

	log.Info("whitelist entry deleted", slog.Int64("entry_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleWhitelistEntry processes PATCH /api/v1/whitelist/{id}/toggle.
func (a *API) handleToggleWhitelistEntry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entry, err := a.rules.ToggleWhitelistEntry(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, log, err, "toggle whitelist entry")
		return
	}

	a.invalidate(r, fmt.Sprintf("whitelist entry %d toggled", id))

	log.Info("whitelist entry toggled", slog.Int64("entry_id", id), slog.Bool("enabled", entry.Enabled))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toWhitelistEntry(entry))
}
