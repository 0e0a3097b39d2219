package ruleengine

import (
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func compiled(r Rule) *Rule {
	r.Compile()
	return &r
}

func identityCookie(t *testing.T, scheme string, data map[string]any) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"data": data}).SignedString([]byte("k"))
	require.NoError(t, err)
	return scheme + tok
}
