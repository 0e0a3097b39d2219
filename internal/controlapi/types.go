package controlapi

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/store"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidJSON  = "ERR_INVALID_JSON"
	CodeInvalidInput = "ERR_INVALID_INPUT"
	CodeInvalidQuery = "ERR_INVALID_QUERY_PARAM"
	CodeNotFound     = "ERR_NOT_FOUND"
	CodeConflict     = "ERR_CONFLICT"
	CodeUnauthorized = "ERR_UNAUTHORIZED"
	CodeInternal     = "ERR_INTERNAL"
)

// Defaults applied to omitted fields.
const (
	DefaultMatchType     = ruleengine.MatchTypeWhitelist
	DefaultTargetVersion = "gray"
	DefaultValueType     = "user_id"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Rule is the gray rule resource.
type Rule struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Enabled        bool      `json:"enabled"`
	Priority       int       `json:"priority"`
	MatchType      string    `json:"match_type"`
	MatchKey       *string   `json:"match_key"`
	MatchValues    []string  `json:"match_values"`
	TargetVersion  string    `json:"target_version"`
	TargetUpstream *string   `json:"target_upstream"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WhitelistEntry is the whitelist entry resource.
type WhitelistEntry struct {
	ID        int64     `json:"id"`
	RuleID    int64     `json:"rule_id"`
	Value     string    `json:"value"`
	ValueType string    `json:"value_type"`
	Remark    string    `json:"remark"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRuleRequest is the payload of POST /rules.
type CreateRuleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	// Enabled defaults to true.
	Enabled        *bool    `json:"enabled,omitempty"`
	Priority       int      `json:"priority"`
	MatchType      string   `json:"match_type" validate:"oneof=whitelist header cookie ip"`
	MatchKey       string   `json:"match_key,omitempty" validate:"max=100"`
	MatchValues    []string `json:"match_values" validate:"max=1000,dive,max=200"`
	TargetVersion  string   `json:"target_version" validate:"required,max=50"`
	TargetUpstream string   `json:"target_upstream,omitempty" validate:"max=200"`
}

// Sanitize trims input and fills defaults.
func (r *CreateRuleRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.MatchType = strings.ToLower(strings.TrimSpace(r.MatchType))
	if r.MatchType == "" {
		r.MatchType = DefaultMatchType
	}
	r.MatchKey = strings.TrimSpace(r.MatchKey)
	r.MatchValues = cleanValues(r.MatchValues)
	r.TargetVersion = strings.TrimSpace(r.TargetVersion)
	if r.TargetVersion == "" {
		r.TargetVersion = DefaultTargetVersion
	}
	r.TargetUpstream = strings.TrimSpace(r.TargetUpstream)
}

// Validate checks the sanitized request.
func (r *CreateRuleRequest) Validate() *ErrorResponse {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return checkMatchKey(r.MatchType, r.MatchKey)
}

// toStore builds the record to insert.
func (r *CreateRuleRequest) toStore() *store.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &store.Rule{
		Name:           r.Name,
		Description:    r.Description,
		Enabled:        enabled,
		Priority:       r.Priority,
		MatchType:      r.MatchType,
		MatchKey:       r.MatchKey,
		MatchValues:    r.MatchValues,
		TargetVersion:  r.TargetVersion,
		TargetUpstream: r.TargetUpstream,
	}
}

// UpdateRuleRequest is the payload of PUT/PATCH /rules/{id}.
// Nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name           *string   `json:"name,omitempty" validate:"omitnil,min=1,max=100"`
	Description    *string   `json:"description,omitempty" validate:"omitnil,max=2000"`
	Enabled        *bool     `json:"enabled,omitempty"`
	Priority       *int      `json:"priority,omitempty"`
	MatchType      *string   `json:"match_type,omitempty" validate:"omitnil,oneof=whitelist header cookie ip"`
	MatchKey       *string   `json:"match_key,omitempty" validate:"omitnil,max=100"`
	MatchValues    *[]string `json:"match_values,omitempty" validate:"omitnil,max=1000,dive,max=200"`
	TargetVersion  *string   `json:"target_version,omitempty" validate:"omitnil,min=1,max=50"`
	TargetUpstream *string   `json:"target_upstream,omitempty" validate:"omitnil,max=200"`
}

// Sanitize trims the provided fields.
func (r *UpdateRuleRequest) Sanitize() {
	trim := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	trim(r.Name)
	trim(r.Description)
	trim(r.MatchKey)
	trim(r.TargetVersion)
	trim(r.TargetUpstream)
	if r.MatchType != nil {
		*r.MatchType = strings.ToLower(strings.TrimSpace(*r.MatchType))
	}
	if r.MatchValues != nil {
		cleaned := cleanValues(*r.MatchValues)
		r.MatchValues = &cleaned
	}
}

// Validate checks the provided fields in isolation. Constraints spanning
// fields are checked on the merged rule by apply.
func (r *UpdateRuleRequest) Validate() *ErrorResponse {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// errInvalidMerge carries a validation failure out of the store's
// update transaction.
type errInvalidMerge struct{ resp *ErrorResponse }

func (e *errInvalidMerge) Error() string { return e.resp.Message }

// apply merges the request into rule and validates the result.
func (r *UpdateRuleRequest) apply(rule *store.Rule) error {
	if r.Name != nil {
		rule.Name = *r.Name
	}
	if r.Description != nil {
		rule.Description = *r.Description
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	if r.Priority != nil {
		rule.Priority = *r.Priority
	}
	if r.MatchType != nil {
		rule.MatchType = *r.MatchType
	}
	if r.MatchKey != nil {
		rule.MatchKey = *r.MatchKey
	}
	if r.MatchValues != nil {
		rule.MatchValues = *r.MatchValues
	}
	if r.TargetVersion != nil {
		rule.TargetVersion = *r.TargetVersion
	}
	if r.TargetUpstream != nil {
		rule.TargetUpstream = *r.TargetUpstream
	}

	if resp := checkMatchKey(rule.MatchType, rule.MatchKey); resp != nil {
		return &errInvalidMerge{resp: resp}
	}
	return nil
}

// CreateWhitelistRequest is the payload of POST /whitelist.
type CreateWhitelistRequest struct {
	RuleID    int64  `json:"rule_id" validate:"required,gt=0"`
	Value     string `json:"value" validate:"required,max=200"`
	ValueType string `json:"value_type" validate:"oneof=user_id ip cookie header"`
	Remark    string `json:"remark,omitempty" validate:"max=200"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

// Sanitize trims input and fills defaults.
func (r *CreateWhitelistRequest) Sanitize() {
	r.Value = strings.TrimSpace(r.Value)
	r.ValueType = strings.ToLower(strings.TrimSpace(r.ValueType))
	if r.ValueType == "" {
		r.ValueType = DefaultValueType
	}
	r.Remark = strings.TrimSpace(r.Remark)
}

// Validate checks the sanitized request.
func (r *CreateWhitelistRequest) Validate() *ErrorResponse {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

func (r *CreateWhitelistRequest) toStore() *store.WhitelistEntry {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &store.WhitelistEntry{
		RuleID:    r.RuleID,
		Value:     r.Value,
		ValueType: r.ValueType,
		Remark:    r.Remark,
		Enabled:   enabled,
	}
}

// BatchWhitelistRequest is the payload of POST /whitelist/batch.
type BatchWhitelistRequest struct {
	RuleID    int64    `json:"rule_id" validate:"required,gt=0"`
	Values    []string `json:"values" validate:"required,min=1,max=1000,dive,max=200"`
	ValueType string   `json:"value_type" validate:"oneof=user_id ip cookie header"`
}

// Sanitize trims values and drops blanks.
func (r *BatchWhitelistRequest) Sanitize() {
	if r.Values != nil {
		r.Values = cleanValues(r.Values)
	}
	r.ValueType = strings.ToLower(strings.TrimSpace(r.ValueType))
	if r.ValueType == "" {
		r.ValueType = DefaultValueType
	}
}

// Validate checks the sanitized request.
func (r *BatchWhitelistRequest) Validate() *ErrorResponse {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

// BatchWhitelistResponse reports the batch outcome.
type BatchWhitelistResponse struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// PaginatedResponse wraps list endpoints.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details lists field validation failures.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// checkMatchKey enforces that header and cookie rules name their key.
func checkMatchKey(matchType, matchKey string) *ErrorResponse {
	if (matchType == ruleengine.MatchTypeHeader || matchType == ruleengine.MatchTypeCookie) && matchKey == "" {
		return &ErrorResponse{
			Code:    CodeInvalidInput,
			Message: "match_key is required for " + matchType + " rules",
			Details: []ErrorDetail{{Field: "match_key", Issue: "required"}},
		}
	}
	return nil
}

func validationError(err error) *ErrorResponse {
	resp := &ErrorResponse{Code: CodeInvalidInput, Message: "Validation failed"}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		resp.Message = err.Error()
		return resp
	}
	for _, fe := range verrs {
		issue := fe.Tag()
		if fe.Param() != "" {
			issue += "=" + fe.Param()
		}
		resp.Details = append(resp.Details, ErrorDetail{Field: fieldPath(fe), Issue: issue})
	}
	return resp
}

// fieldPath drops the struct name from the namespace ("CreateRuleRequest.match_values[2]").
func fieldPath(fe validator.FieldError) string {
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
		return rest
	}
	return fe.Field()
}

// cleanValues trims every value, drops blanks and duplicates, keeping order.
func cleanValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toRule(r *store.Rule) Rule {
	values := r.MatchValues
	if values == nil {
		values = []string{}
	}
	return Rule{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Enabled:        r.Enabled,
		Priority:       r.Priority,
		MatchType:      r.MatchType,
		MatchKey:       nullable(r.MatchKey),
		MatchValues:    values,
		TargetVersion:  r.TargetVersion,
		TargetUpstream: nullable(r.TargetUpstream),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toWhitelistEntry(e *store.WhitelistEntry) WhitelistEntry {
	return WhitelistEntry{
		ID:        e.ID,
		RuleID:    e.RuleID,
		Value:     e.Value,
		ValueType: e.ValueType,
		Remark:    e.Remark,
		Enabled:   e.Enabled,
		CreatedAt: e.CreatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
