package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/pizza42/internal/model"
)

// DefaultRedisKeyPrefix は注文リストのキー接頭辞。
const DefaultRedisKeyPrefix = "pizza42:orders:"

// RedisOrderRepo はRedisのリストを使用した注文リポジトリ。
// ユーザーごとに1つのリストを持ち、先頭が最新の注文となる。
type RedisOrderRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisOrderRepo はRedisOrderRepoを生成する。prefixが空の場合はDefaultRedisKeyPrefixを使う。
func NewRedisOrderRepo(client redis.UniversalClient, prefix string) *RedisOrderRepo {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisOrderRepo{client: client, prefix: prefix}
}

// NewRedisClient はURL（例: "redis://localhost:6379/0"）からRedisクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisOrderRepo) key(userID string) string {
	return r.prefix + userID
}

// ListByUser は指定ユーザーの注文を新しい順に返す。
func (r *RedisOrderRepo) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	values, err := r.client.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return decodeOrders(values)
}

// Append は注文をリストの先頭に追加し、keep件に切り詰める。
// LPUSH・LTRIM・LRANGEはMULTIで一括実行する。
func (r *RedisOrderRepo) Append(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	key := r.key(userID)
	var rangeCmd *redis.StringSliceCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		if keep > 0 {
			pipe.LTrim(ctx, key, 0, int64(keep-1))
		}
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append order: %w", err)
	}

	return decodeOrders(rangeCmd.Val())
}

func decodeOrders(values []string) ([]model.Order, error) {
	orders := make([]model.Order, 0, len(values))
	for _, v := range values {
		var o model.Order
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Ping はRedisへの疎通を確認する。
func (r *RedisOrderRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
