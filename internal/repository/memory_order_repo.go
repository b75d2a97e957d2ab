package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/hitoshi/pizza42/internal/model"
)

// MemoryOrderRepo はプロセス内メモリを使用した注文リポジトリ。
// プロセス再起動で内容は失われる。
type MemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[string][]model.Order
}

// NewMemoryOrderRepo はMemoryOrderRepoを生成する。
func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[string][]model.Order)}
}

// ListByUser は指定ユーザーの注文を新しい順に返す。
func (r *MemoryOrderRepo) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneOrders(r.orders[userID]), nil
}

// Append は注文を先頭に追加し、keep件を超えた古い注文を捨てる。
func (r *MemoryOrderRepo) Append(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append([]model.Order{order}, r.orders[userID]...)
	if keep > 0 && len(list) > keep {
		list = list[:keep]
	}
	r.orders[userID] = list
	return cloneOrders(list), nil
}

// cloneOrders は呼び出し側がストアの内部状態を書き換えられないようにコピーを返す。
func cloneOrders(src []model.Order) []model.Order {
	out := make([]model.Order, len(src))
	for i, o := range src {
		o.Items = slices.Clone(o.Items)
		out[i] = o
	}
	return out
}

// Ping は常に成功する。
func (r *MemoryOrderRepo) Ping(ctx context.Context) error {
	return nil
}
