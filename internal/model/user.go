package model

import "time"

// UserProfile はIdPのユーザー管理APIが返すユーザープロフィール。
// 注文APIが参照するフィールドのみを保持する。
type UserProfile struct {
	UserID        string       `json:"user_id"`
	Email         string       `json:"email,omitempty"`
	EmailVerified *bool        `json:"email_verified,omitempty"`
	UserMetadata  UserMetadata `json:"user_metadata"`
}

// UserMetadata はプロフィールに非正規化して保存する注文履歴。
type UserMetadata struct {
	Orders      []Order    `json:"orders,omitempty"`
	OrdersCount int        `json:"orders_count,omitempty"`
	LastOrderAt *time.Time `json:"last_order_at,omitempty"`
}
