// Package authz は検証済みClaimSetに対する認可判定を提供する。
//
// スコープの有無と、注文作成時に必要なメールアドレス確認済みかどうかを判定する。
// トークン検証は auth パッケージで完了している前提で、ここでは ClaimSet 以外を信頼しない。
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/model"
)

// EmailStatus はメールアドレス確認状態の三値。
type EmailStatus int

const (
	// EmailUnknown はクレームにもプロフィールにも確認状態が無いことを示す。
	EmailUnknown EmailStatus = iota
	EmailVerified
	EmailNotVerified
)

// String は状態名を返す。
func (s EmailStatus) String() string {
	switch s {
	case EmailVerified:
		return "verified"
	case EmailNotVerified:
		return "not_verified"
	default:
		return "unknown"
	}
}

// ProfileLookup はユーザープロフィールの取得に必要なインターフェース。
// profile.Client の部分集合として定義する。
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// Checker はスコープとメール確認のゲートを判定する。
type Checker struct {
	profiles ProfileLookup
}

// NewChecker は新しいCheckerを生成する。
// profilesがnilの場合、カスタムクレームが無いトークンのメール確認状態は不明となる。
func NewChecker(profiles ProfileLookup) *Checker {
	return &Checker{profiles: profiles}
}

// HasScope はClaimSetがrequiredスコープを持つかを返す。
// scope と permissions は ClaimSet 生成時に統合済み。
func (c *Checker) HasScope(claims *auth.ClaimSet, required string) bool {
	return claims.HasScope(required)
}

// Subject は注文ストアのパーティションキーとなる主体IDを返す。
func (c *Checker) Subject(claims *auth.ClaimSet) string {
	return claims.Subject
}

// EmailVerified はメールアドレスの確認状態を解決する。
//
// 優先順位:
//  1. トークンの名前空間付きカスタムクレーム（真偽値がある場合）
//  2. プロフィールAPIの email_verified
//
// どちらからも得られない場合は EmailUnknown を返す。
// プロフィールAPIの呼び出しに失敗した場合はエラーを返す。
func (c *Checker) EmailVerified(ctx context.Context, claims *auth.ClaimSet) (EmailStatus, error) {
	if oc := claims.OrdersContext; oc != nil && oc.EmailVerified != nil {
		return statusOf(*oc.EmailVerified), nil
	}

	if c.profiles == nil {
		return EmailUnknown, nil
	}

	profile, err := c.profiles.GetProfile(ctx, claims.Subject)
	if err != nil {
		return EmailUnknown, fmt.Errorf("failed to look up profile: %w", err)
	}
	if profile == nil || profile.EmailVerified == nil {
		return EmailUnknown, nil
	}
	return statusOf(*profile.EmailVerified), nil
}

// RequireScope はスコープが無い場合に forbidden エラーを返す。
func (c *Checker) RequireScope(claims *auth.ClaimSet, required string) error {
	if c.HasScope(claims, required) {
		return nil
	}
	return model.NewForbiddenError(required)
}

// RequireVerifiedEmail はメールアドレスが確認済みでない場合にエラーを返す。
// 確認状態が不明な場合も拒否する。プロフィールAPIの障害は dependency_failure とする。
func (c *Checker) RequireVerifiedEmail(ctx context.Context, claims *auth.ClaimSet) error {
	status, err := c.EmailVerified(ctx, claims)
	if err != nil {
		return model.NewDependencyFailureError(err)
	}
	if status != EmailVerified {
		slog.Info("email verification gate rejected request",
			slog.String("user_id", claims.Subject),
			slog.String("email_status", status.String()),
		)
		return model.NewEmailNotVerifiedError()
	}
	return nil
}

func statusOf(verified bool) EmailStatus {
	if verified {
		return EmailVerified
	}
	return EmailNotVerified
}
