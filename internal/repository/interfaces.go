// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pizza42/internal/model"
)

// OrderRepository はユーザーごとの注文の永続化インターフェース。
//
// 注文は常に新しい順で返す。同一ユーザーへの同時追加は各実装が直列化し、
// それ以上のトランザクション保証は持たない（後勝ち）。
type OrderRepository interface {
	// ListByUser は指定ユーザーの注文を新しい順に返す。注文が無い場合は空スライスを返す。
	ListByUser(ctx context.Context, userID string) ([]model.Order, error)

	// Append は注文を追加し、新しい順にkeep件まで残して保持中の注文を返す。
	Append(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error)
}

// Pinger はストアの疎通確認を行うインターフェース。ヘルスチェックで使用する。
type Pinger interface {
	Ping(ctx context.Context) error
}
