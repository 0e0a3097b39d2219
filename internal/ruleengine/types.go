// Package ruleengine implements the gray-release match strategies.
// Each strategy (whitelist, header, cookie, ip) decides whether one rule
// matches one request; the Engine dispatches on the rule's match type.
package ruleengine

import "strings"

// Match types.
const (
	MatchTypeWhitelist = "whitelist"
	MatchTypeHeader    = "header"
	MatchTypeCookie    = "cookie"
	MatchTypeIP        = "ip"
)

// IsKnownMatchType reports whether t names a registered strategy.
func IsKnownMatchType(t string) bool {
	switch t {
	case MatchTypeWhitelist, MatchTypeHeader, MatchTypeCookie, MatchTypeIP:
		return true
	}
	return false
}

// RequestContext describes the request being routed. It is immutable once
// built: the maps are copied at construction and never handed out.
// Header names are lower-cased so lookups are case-insensitive; cookie
// names are kept as sent.
type RequestContext struct {
	userID  string
	ip      string
	path    string
	headers map[string]string
	cookies map[string]string
}

// NewRequestContext copies headers and cookies into a new RequestContext.
func NewRequestContext(userID, ip, path string, headers, cookies map[string]string) RequestContext {
	rc := RequestContext{
		userID:  userID,
		ip:      ip,
		path:    path,
		headers: make(map[string]string, len(headers)),
		cookies: make(map[string]string, len(cookies)),
	}
	for k, v := range headers {
		rc.headers[strings.ToLower(k)] = v
	}
	for k, v := range cookies {
		rc.cookies[k] = v
	}
	return rc
}

// UserID returns the caller identity, or "".
func (r RequestContext) UserID() string { return r.userID }

// IP returns the client address, or "".
func (r RequestContext) IP() string { return r.ip }

// Path returns the request path, or "".
func (r RequestContext) Path() string { return r.path }

// Header looks a header up by name, ignoring case.
func (r RequestContext) Header(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// Cookie looks a cookie up by its exact name.
func (r RequestContext) Cookie(name string) (string, bool) {
	v, ok := r.cookies[name]
	return v, ok
}

// Rule is the evaluation-ready form of a stored rule.
// Call Compile before handing it to the Engine.
type Rule struct {
	ID             int64
	Name           string
	Priority       int
	Type           string
	Key            string
	Values         []string
	TargetVersion  string
	TargetUpstream string

	// set is Values as a lookup table, built by Compile.
	set map[string]struct{}
}

// Input aggregates what a strategy may consult for one rule.
type Input struct {
	Request RequestContext

	// Whitelist holds the enabled whitelist entry values of the rule being
	// evaluated. Only whitelist rules read it.
	Whitelist []string
}
