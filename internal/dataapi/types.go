package dataapi

import (
	"github.com/rafaeljc/bifrost/internal/decision"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// DecideRequest is the body of POST /api/gray/decide. Every field is optional.
type DecideRequest struct {
	UserID  string            `json:"user_id,omitempty"`
	IP      string            `json:"ip,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Path    string            `json:"path,omitempty"`
}

// RequestContext converts the payload for the engine.
func (r *DecideRequest) RequestContext() ruleengine.RequestContext {
	return ruleengine.NewRequestContext(r.UserID, r.IP, r.Path, r.Headers, r.Cookies)
}

// DecisionResponse is the wire form of a decision. Nil pointers encode as null.
type DecisionResponse struct {
	ShouldGray     bool    `json:"should_gray"`
	TargetVersion  string  `json:"target_version"`
	TargetUpstream *string `json:"target_upstream"`
	MatchedRule    *string `json:"matched_rule"`
	Reason         string  `json:"reason"`
}

// AuthResponse is the body of GET /api/gray/auth. The proxy only reads the
// status code and the X-Gray-* headers.
type AuthResponse struct {
	Status   string           `json:"status"`
	Decision DecisionResponse `json:"decision"`
}

// HealthResponse is the body of GET /api/gray/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the structured error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toResponse(d decision.Decision) DecisionResponse {
	return DecisionResponse{
		ShouldGray:     d.ShouldGray,
		TargetVersion:  d.TargetVersion,
		TargetUpstream: d.TargetUpstream,
		MatchedRule:    d.MatchedRule,
		Reason:         d.Reason,
	}
}
