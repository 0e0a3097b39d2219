package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/rafaeljc/bifrost/internal/logger"
)

// APIKeyHeader carries the admin API key. "Authorization: Bearer <key>"
// is accepted as well.
const APIKeyHeader = "X-API-Key"

// authenticateAPIKey rejects requests whose key does not hash to apiKeyHash.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		if key == "" || !a.validKey(key) {
			logger.FromContext(r.Context()).Warn("rejected admin request", "reason", "invalid or missing api key")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    CodeUnauthorized,
				Message: "Missing or invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) validKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(a.apiKeyHash))) == 1
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
