package controlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// handleListRules processes GET /api/v1/rules?page&page_size&enabled.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidQuery, Message: err.Error()})
		return
	}
	pageSize, err := parseOptionalInt(r, "page_size", defaultPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidQuery, Message: err.Error()})
		return
	}
	enabled, err := parseOptionalBool(r, "enabled")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidQuery, Message: err.Error()})
		return
	}

	// Out-of-range paging is clamped rather than rejected.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	rules, totalItems, err := a.rules.ListRules(r.Context(), store.RuleFilter{
		Enabled: enabled,
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
	if err != nil {
		writeStoreError(w, r, log, err, "list rules")
		return
	}

	dtos := make([]Rule, len(rules))
	for i, rule := range rules {
		dtos[i] = toRule(rule)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleCreateRule processes POST /api/v1/rules.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateRuleRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	rule := req.toStore()
	if err := a.rules.CreateRule(r.Context(), rule); err != nil {
		writeStoreError(w, r, log, err, "create rule")
		return
	}

	a.invalidate(r, fmt.Sprintf("rule %d created", rule.ID))

	log.Info("rule created", slog.Int64("rule_id", rule.ID), slog.String("rule_name", rule.Name))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toRule(rule))
}

// handleGetRule processes GET /api/v1/rules/{id}.
func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rule, err := a.rules.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, log, err, "get rule")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRule(rule))
}

// handleUpdateRule processes PUT and PATCH /api/v1/rules/{id}. Both are
// partial: omitted fields keep their stored value.
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if !decodeJSON(w, r, log, &req) {
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	rule, err := a.rules.UpdateRule(r.Context(), id, req.apply)
	if err != nil {
		var invalid *errInvalidMerge
		if errors.As(err, &invalid) {
			writeError(w, r, http.StatusBadRequest, *invalid.resp)
			return
		}
		writeStoreError(w, r, log, err, "update rule")
		return
	}

	a.invalidate(r, fmt.Sprintf("rule %d updated", id))

	log.Info("rule updated", slog.Int64("rule_id", id))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRule(rule))
}

// handleDeleteRule processes DELETE /api/v1/rules/{id}.
func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := a.rules.DeleteRule(r.Context(), id); err != nil {
		writeStoreError(w, r, log, err, "delete rule")
		return
	}

	a.invalidate(r, fmt.Sprintf("rule %d deleted", id))

	log.Info("rule deleted", slog.Int64("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleRule processes PATCH /api/v1/rules/{id}/toggle.
func (a *API) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rule, err := a.rules.ToggleRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, log, err, "toggle rule")
		return
	}

	a.invalidate(r, fmt.Sprintf("rule %d toggled", id))

	log.Info("rule toggled", slog.Int64("rule_id", id), slog.Bool("enabled", rule.Enabled))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRule(rule))
}

// handleListRuleWhitelist processes GET /api/v1/rules/{id}/whitelist.
func (a *API) handleListRuleWhitelist(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entries, err := a.rules.ListRuleWhitelist(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, log, err, "list whitelist")
		return
	}

	dtos := make([]WhitelistEntry, len(entries))
	for i, e := range entries {
		dtos[i] = toWhitelistEntry(e)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, dtos)
}
