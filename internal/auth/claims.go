package auth

import (
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultOrdersContextClaim はログイン後フックが付与する名前空間付きカスタムクレームのキー。
const DefaultOrdersContextClaim = "https://pizza42.example/orders_context"

// OrdersContext は名前空間付きカスタムクレームの内容。
type OrdersContext struct {
	Email string
	// EmailVerified はクレームに真偽値がある場合のみ非nil。
	EmailVerified *bool
}

// ClaimSet は検証済みトークンのペイロード。
// Verifier が署名・issuer・audience・有効期限をすべて検証した後にのみ生成される。
//
// scope（空白区切り文字列）と permissions（文字列配列）は生成時に1つの集合へ正規化する。
type ClaimSet struct {
	Subject       string
	Issuer        string
	Audience      []string
	ExpiresAt     time.Time
	OrdersContext *OrdersContext

	scopes map[string]struct{}
}

// NewClaimSet はsubjectとスコープからClaimSetを生成する。
// 検証済みトークン以外から生成する用途（テストなど）に限る。
func NewClaimSet(subject string, scopes ...string) *ClaimSet {
	cs := &ClaimSet{Subject: subject, scopes: make(map[string]struct{}, len(scopes))}
	for _, s := range scopes {
		cs.addScopes(s)
	}
	return cs
}

// HasScope はスコープ集合にscopeが含まれるかを返す。完全一致のみ。
func (c *ClaimSet) HasScope(scope string) bool {
	if c == nil || scope == "" {
		return false
	}
	_, ok := c.scopes[scope]
	return ok
}

// Scopes は正規化済みスコープをソートして返す。
func (c *ClaimSet) Scopes() []string {
	out := make([]string, 0, len(c.scopes))
	for s := range c.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// addScopes は空白区切りの文字列をスコープ集合に加える。
func (c *ClaimSet) addScopes(raw string) {
	for _, s := range strings.Fields(raw) {
		c.scopes[s] = struct{}{}
	}
}

// newClaimSet は検証済みのMapClaimsからClaimSetを組み立てる。
func newClaimSet(claims jwt.MapClaims, ordersContextClaim string) (*ClaimSet, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, newVerificationError(ReasonMissingSubject, err)
	}

	cs := &ClaimSet{
		Subject: sub,
		scopes:  make(map[string]struct{}),
	}
	cs.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		cs.Audience = []string(aud)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cs.ExpiresAt = exp.Time
	}

	if scope, ok := claims["scope"].(string); ok {
		cs.addScopes(scope)
	}
	switch perms := claims["permissions"].(type) {
	case []any:
		for _, p := range perms {
			if s, ok := p.(string); ok {
				cs.addScopes(s)
			}
		}
	case []string:
		for _, s := range perms {
			cs.addScopes(s)
		}
	}

	if ordersContextClaim != "" {
		cs.OrdersContext = parseOrdersContext(claims[ordersContextClaim])
	}

	return cs, nil
}

// parseOrdersContext はカスタムクレームの値を解釈する。オブジェクトでなければnil。
func parseOrdersContext(v any) *OrdersContext {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	oc := &OrdersContext{}
	if email, ok := obj["email"].(string); ok {
		oc.Email = email
	}
	if verified, ok := obj["email_verified"].(bool); ok {
		oc.EmailVerified = &verified
	}
	return oc
}
