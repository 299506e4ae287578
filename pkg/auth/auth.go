// Package auth validates HS256 bearer tokens and extracts the user identity
// used to scope case access.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultAudience is the audience claim issued by the identity provider.
const DefaultAudience = "authenticated"

// Claims carries the verified token claims the API needs.
type Claims struct {
	Subject  string
	Email    string
	Audience []string
	Expiry   time.Time
}

// Validator checks HS256-signed bearer tokens.
type Validator struct {
	secret   []byte
	audience string
}

// NewValidator creates a validator for the given shared secret. An empty
// audience disables the audience check.
func NewValidator(secret, audience string) (*Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &Validator{secret: []byte(secret), audience: audience}, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	Subject  string          `json:"sub"`
	Email    string          `json:"email"`
	Audience json.RawMessage `json:"aud"`
	Expiry   int64           `json:"exp"`
}

// Validate verifies the token signature, expiry, and audience, and returns
// the claims.
func (v *Validator) Validate(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token is not a valid JWT")
	}

	headerData, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid token header encoding: %w", err)
	}
	var header tokenHeader
	if err := json.Unmarshal(headerData, &header); err != nil {
		return nil, fmt.Errorf("invalid token header: %w", err)
	}
	if header.Alg != "HS256" {
		return nil, fmt.Errorf("unsupported signing algorithm %q", header.Alg)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := mac.Sum(nil)
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid token signature encoding: %w", err)
	}
	if !hmac.Equal(signature, expected) {
		return nil, fmt.Errorf("token signature mismatch")
	}

	payloadData, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid token payload encoding: %w", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(payloadData, &payload); err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}

	claims := &Claims{
		Subject:  payload.Subject,
		Email:    payload.Email,
		Audience: decodeAudience(payload.Audience),
	}
	if payload.Expiry > 0 {
		claims.Expiry = time.Unix(payload.Expiry, 0)
		if time.Now().After(claims.Expiry) {
			return nil, fmt.Errorf("token expired at %s", claims.Expiry.UTC().Format(time.RFC3339))
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}
	if v.audience != "" && !contains(claims.Audience, v.audience) {
		return nil, fmt.Errorf("token audience does not include %q", v.audience)
	}
	return claims, nil
}

// FromRequest extracts and validates the bearer token on an HTTP request.
func (v *Validator) FromRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// The original clients also pass the token as a query parameter
		// for EventSource connections, which cannot set headers.
		if token := r.URL.Query().Get("token"); token != "" {
			return v.Validate(token)
		}
		return nil, fmt.Errorf("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("Authorization header is not a bearer token")
	}
	return v.Validate(token)
}

// The aud claim may be a single string or an array of strings.
func decodeAudience(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// Sign creates an HS256 token for the given claims. Used by tests and the
// local development CLI.
func Sign(secret, subject, audience string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret cannot be empty")
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	payload := map[string]any{"sub": subject}
	if audience != "" {
		payload["aud"] = audience
	}
	if ttl > 0 {
		payload["exp"] = time.Now().Add(ttl).Unix()
	}
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(payloadData)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
