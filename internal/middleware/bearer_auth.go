// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーID（sub）を格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// claimsContextKey は検証済みのClaimSetを格納するためのキー。
	claimsContextKey = contextKey("claims")
)

// TokenVerifier はBearerトークンの検証に必要なインターフェース。
// auth.Verifier の部分集合として定義する。
type TokenVerifier interface {
	Verify(ctx context.Context, header string) (*auth.ClaimSet, error)
	Issuer() string
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
//
// 検証に成功するとClaimSetとユーザーIDをリクエストコンテキストに注入する。
// 検証失敗は理由を問わず401（WWW-Authenticate付き）、鍵セットを取得できない場合は502を返す。
// 失敗理由はログにのみ記録する。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	challenge := fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, verifier.Issuer())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				if errors.Is(err, auth.ErrKeySetUnavailable) {
					slog.Error("signing key set unavailable",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					WriteError(w, model.NewDependencyFailureError(err))
					return
				}

				reason, _ := auth.ReasonOf(err)
				slog.Warn("token rejected",
					slog.String("reason", string(reason)),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", challenge)
				WriteError(w, model.NewUnauthorizedError(err))
				return
			}

			recordUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから検証済みのClaimSetを取得する。
// BearerAuthミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*auth.ClaimSet, error) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.ClaimSet)
	if !ok || claims == nil {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// ContextWithClaims はコンテキストにClaimSetとユーザーIDを注入する。
func ContextWithClaims(ctx context.Context, claims *auth.ClaimSet) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, userIDContextKey, claims.Subject)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDのみを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
