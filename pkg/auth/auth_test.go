package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(testSecret, DefaultAudience)
	require.NoError(t, err)
	return v
}

func TestSignValidateRoundTrip(t *testing.T) {
	v := testValidator(t)

	token, err := Sign(testSecret, "user-123", DefaultAudience, time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Contains(t, claims.Audience, DefaultAudience)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.Expiry, time.Minute)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := testValidator(t)

	token, err := Sign("a-different-secret", "user-123", DefaultAudience, time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestValidateRejectsExpired(t *testing.T) {
	v := testValidator(t)

	token, err := Sign(testSecret, "user-123", DefaultAudience, -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	v := testValidator(t)

	token, err := Sign(testSecret, "user-123", "other-service", time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audience")
}

func TestValidateRejectsMissingSubject(t *testing.T) {
	v := testValidator(t)

	token, err := Sign(testSecret, "", DefaultAudience, time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub")
}

func TestValidateRejectsMalformed(t *testing.T) {
	v := testValidator(t)

	for _, token := range []string{"", "not.a", "a.b.c.d", "!!!.###.$$$"} {
		_, err := v.Validate(token)
		assert.Error(t, err, "token %q must be rejected", token)
	}
}

func TestValidateRejectsAlgorithmSwap(t *testing.T) {
	v := testValidator(t)

	token, err := Sign(testSecret, "user-123", DefaultAudience, time.Hour)
	require.NoError(t, err)

	// Replace the header with alg none; the signature no longer matters if
	// the algorithm check is missing.
	parts := strings.Split(token, ".")
	parts[0] = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0" // {"alg":"none","typ":"JWT"}
	_, err = v.Validate(strings.Join(parts, "."))
	require.Error(t, err)
}

func TestFromRequestHeaderAndQuery(t *testing.T) {
	v := testValidator(t)
	token, err := Sign(testSecret, "user-h", DefaultAudience, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/cases", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-h", claims.Subject)

	// EventSource clients pass the token as a query parameter.
	r = httptest.NewRequest("GET", "/api/cases/1/stream?token="+token, nil)
	claims, err = v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-h", claims.Subject)

	r = httptest.NewRequest("GET", "/api/cases", nil)
	_, err = v.FromRequest(r)
	assert.Error(t, err)

	r = httptest.NewRequest("GET", "/api/cases", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = v.FromRequest(r)
	assert.Error(t, err)
}

func TestNewValidatorRequiresSecret(t *testing.T) {
	_, err := NewValidator("", DefaultAudience)
	assert.Error(t, err)
}

func TestAudienceArrayClaim(t *testing.T) {
	got := decodeAudience([]byte(`["authenticated","other"]`))
	assert.Equal(t, []string{"authenticated", "other"}, got)

	got = decodeAudience([]byte(`"authenticated"`))
	assert.Equal(t, []string{"authenticated"}, got)

	assert.Nil(t, decodeAudience(nil))
	assert.Nil(t, decodeAudience([]byte(`42`)))
}
