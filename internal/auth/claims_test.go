package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   Reason
	}{
		{name: "valid", header: "Bearer abc.def.ghi", wantToken: "abc.def.ghi"},
		{name: "surrounding spaces", header: "Bearer   abc.def.ghi  ", wantToken: "abc.def.ghi"},
		{name: "empty", header: "", wantErr: ReasonMissingHeader},
		{name: "lowercase scheme", header: "bearer abc", wantErr: ReasonMalformedHeader},
		{name: "no space", header: "Bearerabc", wantErr: ReasonMalformedHeader},
		{name: "only scheme", header: "Bearer ", wantErr: ReasonMalformedHeader},
		{name: "two tokens", header: "Bearer abc def", wantErr: ReasonMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := ExtractBearerToken(tt.header)
			if tt.wantErr != "" {
				reason, ok := ReasonOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantErr, reason)
				assert.Empty(t, token)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestNewClaimSet_UnionsScopeRepresentations(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":         "user-1",
		"scope":       "read:orders  openid",
		"permissions": []any{"create:orders", "read:orders", 42},
	}

	cs, err := newClaimSet(claims, DefaultOrdersContextClaim)
	require.NoError(t, err)

	assert.Equal(t, []string{"create:orders", "openid", "read:orders"}, cs.Scopes())
	assert.Nil(t, cs.OrdersContext)
}

func TestNewClaimSet_NoPartialScopeMatch(t *testing.T) {
	cs := NewClaimSet("user-1", "read:orders-admin create")

	assert.False(t, cs.HasScope("read:orders"))
	assert.False(t, cs.HasScope("create:orders"))
	assert.False(t, cs.HasScope(""))
	assert.True(t, cs.HasScope("create"))
}

func TestNewClaimSet_OrdersContext(t *testing.T) {
	tests := []struct {
		name         string
		value        any
		wantContext  bool
		wantVerified *bool
	}{
		{name: "absent", value: nil},
		{name: "not an object", value: "verified"},
		{name: "verified", value: map[string]any{"email_verified": true}, wantContext: true, wantVerified: boolPtr(true)},
		{name: "not verified", value: map[string]any{"email_verified": false}, wantContext: true, wantVerified: boolPtr(false)},
		{name: "non boolean flag", value: map[string]any{"email_verified": "true"}, wantContext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := jwt.MapClaims{"sub": "user-1"}
			if tt.value != nil {
				claims[DefaultOrdersContextClaim] = tt.value
			}

			cs, err := newClaimSet(claims, DefaultOrdersContextClaim)
			require.NoError(t, err)

			if !tt.wantContext {
				assert.Nil(t, cs.OrdersContext)
				return
			}
			require.NotNil(t, cs.OrdersContext)
			assert.Equal(t, tt.wantVerified, cs.OrdersContext.EmailVerified)
		})
	}
}

func TestNewClaimSet_RequiresSubject(t *testing.T) {
	_, err := newClaimSet(jwt.MapClaims{"scope": "read:orders"}, "")
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingSubject, reason)
}

func TestNilClaimSetHasNoScopes(t *testing.T) {
	var cs *ClaimSet
	assert.False(t, cs.HasScope("read:orders"))
}

func boolPtr(b bool) *bool { return &b }
