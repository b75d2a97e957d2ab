package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pizza42/internal/model"
)

// 各実装がOrderRepositoryインターフェースを満たすことを検証
func TestOrderRepos_ImplementInterface(t *testing.T) {
	var _ OrderRepository = (*MemoryOrderRepo)(nil)
	var _ OrderRepository = (*PostgresOrderRepo)(nil)
	var _ OrderRepository = (*RedisOrderRepo)(nil)

	var _ Pinger = (*MemoryOrderRepo)(nil)
	var _ Pinger = (*PostgresOrderRepo)(nil)
	var _ Pinger = (*RedisOrderRepo)(nil)
}

func testOrder(n int) model.Order {
	return model.Order{
		ID:        fmt.Sprintf("order_%d", n),
		CreatedAt: time.Date(2026, 1, 1, 12, 0, n, 0, time.UTC),
		Items: []model.LineItem{
			{SKU: "p1", Name: "Margherita", Quantity: n, UnitPriceCents: 1299},
		},
		TotalCents: int64(n) * 1299,
	}
}

// runOrderRepositoryContract はOrderRepositoryの共通の振る舞いを検証する。
func runOrderRepositoryContract(t *testing.T, newRepo func(t *testing.T) OrderRepository) {
	t.Run("empty user returns empty list", func(t *testing.T) {
		repo := newRepo(t)
		orders, err := repo.ListByUser(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, orders)
		assert.Empty(t, orders)
	})

	t.Run("retains most recent N newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var retained []model.Order
		for i := 1; i <= 7; i++ {
			var err error
			retained, err = repo.Append(ctx, "user-1", testOrder(i), 5)
			require.NoError(t, err)
			assert.Len(t, retained, min(i, 5))
		}

		want := []model.Order{testOrder(7), testOrder(6), testOrder(5), testOrder(4), testOrder(3)}
		if diff := cmp.Diff(want, retained); diff != "" {
			t.Errorf("retained orders mismatch (-want +got):\n%s", diff)
		}

		listed, err := repo.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		if diff := cmp.Diff(want, listed); diff != "" {
			t.Errorf("listed orders mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("users are partitioned", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Append(ctx, "user-a", testOrder(1), 5)
		require.NoError(t, err)
		_, err = repo.Append(ctx, "user-b", testOrder(2), 5)
		require.NoError(t, err)

		a, err := repo.ListByUser(ctx, "user-a")
		require.NoError(t, err)
		require.Len(t, a, 1)
		assert.Equal(t, "order_1", a[0].ID)
	})

	t.Run("concurrent appends keep at most N", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := repo.Append(ctx, "user-1", testOrder(n), 5)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		listed, err := repo.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, listed, 5)
	})
}

func TestMemoryOrderRepo_Contract(t *testing.T) {
	runOrderRepositoryContract(t, func(t *testing.T) OrderRepository {
		return NewMemoryOrderRepo()
	})
}

func TestMemoryOrderRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemoryOrderRepo()
	ctx := context.Background()

	retained, err := repo.Append(ctx, "user-1", testOrder(1), 5)
	require.NoError(t, err)
	retained[0].Items[0].Name = "tampered"
	retained[0].ID = "tampered"

	listed, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", listed[0].ID)
	assert.Equal(t, "Margherita", listed[0].Items[0].Name)
}

func newMiniredisRepo(t *testing.T) (*RedisOrderRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisOrderRepo(client, ""), mr
}

func TestRedisOrderRepo_Contract(t *testing.T) {
	runOrderRepositoryContract(t, func(t *testing.T) OrderRepository {
		repo, _ := newMiniredisRepo(t)
		return repo
	})
}

func TestRedisOrderRepo_UsesPrefixedListKey(t *testing.T) {
	repo, mr := newMiniredisRepo(t)

	_, err := repo.Append(context.Background(), "auth0|u1", testOrder(1), 5)
	require.NoError(t, err)

	assert.True(t, mr.Exists(DefaultRedisKeyPrefix+"auth0|u1"))
	values, err := mr.List(DefaultRedisKeyPrefix + "auth0|u1")
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestRedisOrderRepo_ConnectionError(t *testing.T) {
	repo, mr := newMiniredisRepo(t)
	mr.Close()

	_, err := repo.ListByUser(context.Background(), "user-1")
	assert.Error(t, err)
	assert.Error(t, repo.Ping(context.Background()))
}

func TestRedisOrderRepo_Ping(t *testing.T) {
	repo, _ := newMiniredisRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("not a url")
	assert.Error(t, err)
}
