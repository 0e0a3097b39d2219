// Package identity extracts caller identity fields from an already-issued
// token carried in a cookie.
//
// Tokens are decoded WITHOUT signature verification. Nothing in this package
// establishes trust: integrity must be enforced upstream of the decision
// service, and the results must only ever feed routing choices.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// ErrMalformedToken is returned for any payload that cannot be decoded
// into the expected shape.
var ErrMalformedToken = errors.New("malformed identity token")

// bearerPrefixes are the scheme markers recognised in front of a token.
var bearerPrefixes = []string{"JWT ", "Bearer "}

// Claims holds the identity fields nested under "data" in the payload.
// An empty string means the field was absent or not a string.
type Claims struct {
	CName string
	Name  string
}

// Values returns the non-empty identity fields.
func (c Claims) Values() []string {
	out := make([]string, 0, 2)
	if c.CName != "" {
		out = append(out, c.CName)
	}
	if c.Name != "" {
		out = append(out, c.Name)
	}
	return out
}

// StripBearerPrefix removes a recognised scheme prefix from v.
// It reports false when v carries none.
func StripBearerPrefix(v string) (string, bool) {
	for _, p := range bearerPrefixes {
		if strings.HasPrefix(v, p) {
			return strings.TrimSpace(v[len(p):]), true
		}
	}
	return "", false
}

// DecodeUnverified decodes the payload of token and extracts data.cname and
// data.name. Neither the signature nor the alg header is checked. A payload
// carrying neither field is malformed.
func DecodeUnverified(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	// Header must still be a JSON object
	var header map[string]any
	if err := decodeSegment(parts[0], &header); err != nil {
		return Claims{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}

	mc := jwt.MapClaims{}
	if err := decodeSegment(parts[1], &mc); err != nil {
		return Claims{}, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}

	data, ok := mc["data"].(map[string]any)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing data object", ErrMalformedToken)
	}

	claims := Claims{
		CName: stringField(data, "cname"),
		Name:  stringField(data, "name"),
	}
	if claims.CName == "" && claims.Name == "" {
		return Claims{}, fmt.Errorf("%w: data carries neither cname nor name", ErrMalformedToken)
	}
	return claims, nil
}

func decodeSegment(seg string, v any) error {
	raw, err := jwt.DecodeSegment(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
