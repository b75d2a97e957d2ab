package order

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pizza42/internal/model"
	"github.com/hitoshi/pizza42/internal/repository"
)

// --- モック ---

type mockOrderRepo struct {
	listFn   func(ctx context.Context, userID string) ([]model.Order, error)
	appendFn func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error)
}

func (m *mockOrderRepo) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return m.listFn(ctx, userID)
}
func (m *mockOrderRepo) Append(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
	return m.appendFn(ctx, userID, order, keep)
}

type mockProfileStore struct {
	getProfileFn func(ctx context.Context, userID string) (*model.UserProfile, error)
	updateFn     func(ctx context.Context, userID string, metadata model.UserMetadata) error

	updates []model.UserMetadata
}

func (m *mockProfileStore) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return &model.UserProfile{UserID: userID}, nil
}
func (m *mockProfileStore) UpdateUserMetadata(ctx context.Context, userID string, metadata model.UserMetadata) error {
	m.updates = append(m.updates, metadata)
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, metadata)
	}
	return nil
}

type mockMetrics struct {
	created []int64
}

func (m *mockMetrics) RecordOrderCreated(totalCents int64) {
	m.created = append(m.created, totalCents)
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.OrderRepository, profiles ProfileStore, metrics Metrics) *Service {
	svc := NewService(repo, profiles, metrics, ServiceConfig{}, nil)
	svc.now = func() time.Time { return fixedNow }
	seq := 0
	svc.newID = func(time.Time) string {
		seq++
		return fmt.Sprintf("order_test_%d", seq)
	}
	return svc
}

func sampleInput() *CreateOrderInput {
	return &CreateOrderInput{
		Items:      []model.LineItem{{SKU: "p1", Name: "Margherita", Quantity: 1, UnitPriceCents: 1299}},
		TotalCents: 1299,
	}
}

// --- テスト ---

func TestService_List_EmptyIsNonNil(t *testing.T) {
	repo := &mockOrderRepo{
		listFn: func(ctx context.Context, userID string) ([]model.Order, error) { return nil, nil },
	}
	svc := newTestService(repo, nil, nil)

	orders, err := svc.List(context.Background(), "auth0|u1")
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestService_List_RepoError(t *testing.T) {
	repo := &mockOrderRepo{
		listFn: func(ctx context.Context, userID string) ([]model.Order, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestService(repo, nil, nil)

	_, err := svc.List(context.Background(), "auth0|u1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestService_Create_AppendsWithRetention(t *testing.T) {
	var gotKeep int
	var gotOrder model.Order
	repo := &mockOrderRepo{
		appendFn: func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
			gotKeep = keep
			gotOrder = order
			return []model.Order{order}, nil
		},
	}
	metrics := &mockMetrics{}
	svc := newTestService(repo, nil, metrics)

	result, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	require.NoError(t, err)

	assert.Equal(t, DefaultRetention, gotKeep)
	assert.Equal(t, "order_test_1", result.Order.ID)
	assert.Equal(t, fixedNow, result.Order.CreatedAt)
	assert.Equal(t, int64(1299), result.Order.TotalCents)
	assert.Equal(t, 1, result.OrdersCount)
	assert.Equal(t, gotOrder, result.Order)
	assert.Equal(t, []int64{1299}, metrics.created)
}

func TestService_Create_RepoErrorSkipsProfile(t *testing.T) {
	repo := &mockOrderRepo{
		appendFn: func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
			return nil, errors.New("disk full")
		},
	}
	profiles := &mockProfileStore{}
	metrics := &mockMetrics{}
	svc := newTestService(repo, profiles, metrics)

	_, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	require.Error(t, err)
	assert.Empty(t, profiles.updates)
	assert.Empty(t, metrics.created)
}

func TestService_Create_PersistsHistory(t *testing.T) {
	retained := []model.Order{{ID: "order_new"}, {ID: "order_old"}}
	repo := &mockOrderRepo{
		appendFn: func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
			return retained, nil
		},
	}
	profiles := &mockProfileStore{
		getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return &model.UserProfile{UserID: userID, UserMetadata: model.UserMetadata{OrdersCount: 9}}, nil
		},
	}
	svc := newTestService(repo, profiles, nil)

	result, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	require.NoError(t, err)
	assert.Equal(t, 2, result.OrdersCount)

	require.Len(t, profiles.updates, 1)
	meta := profiles.updates[0]
	assert.Equal(t, retained, meta.Orders)
	assert.Equal(t, 10, meta.OrdersCount)
	require.NotNil(t, meta.LastOrderAt)
	assert.Equal(t, fixedNow, *meta.LastOrderAt)
}

func TestService_Create_OrdersCountNeverBelowRetained(t *testing.T) {
	retained := []model.Order{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	repo := &mockOrderRepo{
		appendFn: func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
			return retained, nil
		},
	}
	// プロフィール取得に失敗しても保持件数で書き込む
	profiles := &mockProfileStore{
		getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return nil, errors.New("timeout")
		},
	}
	svc := newTestService(repo, profiles, nil)

	_, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	require.NoError(t, err)
	require.Len(t, profiles.updates, 1)
	assert.Equal(t, 3, profiles.updates[0].OrdersCount)
}

// TestService_Create_KeepsExistingProfileHistory は再起動直後の空のストアでも
// プロフィール上の既存履歴を残したまま新しい注文を追加することを検証する。
func TestService_Create_KeepsExistingProfileHistory(t *testing.T) {
	var existing []model.Order
	for i := 1; i <= 4; i++ {
		existing = append(existing, model.Order{
			ID:        fmt.Sprintf("order_prev_%d", i),
			CreatedAt: fixedNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	profiles := &mockProfileStore{
		getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			return &model.UserProfile{UserID: userID, UserMetadata: model.UserMetadata{
				Orders:      existing,
				OrdersCount: 4,
			}}, nil
		},
	}
	svc := newTestService(repository.NewMemoryOrderRepo(), profiles, nil)

	for range 2 {
		_, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
		require.NoError(t, err)
	}

	require.Len(t, profiles.updates, 2)

	first := profiles.updates[0]
	require.Len(t, first.Orders, 5)
	assert.Equal(t, "order_test_1", first.Orders[0].ID)
	assert.Equal(t, "order_prev_1", first.Orders[1].ID)
	assert.Equal(t, "order_prev_4", first.Orders[4].ID)
	assert.Equal(t, 5, first.OrdersCount)

	// モックは更新を反映しないため2回目も既存4件とマージされ、最古の1件が落ちる
	second := profiles.updates[1]
	ids := make([]string, 0, len(second.Orders))
	for _, o := range second.Orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"order_test_2", "order_test_1", "order_prev_1", "order_prev_2", "order_prev_3"}, ids)
}

func TestMergeHistory(t *testing.T) {
	at := func(h int) time.Time { return fixedNow.Add(time.Duration(h) * time.Hour) }

	retained := []model.Order{{ID: "c", CreatedAt: at(3), Note: "store"}, {ID: "b", CreatedAt: at(2)}}
	existing := []model.Order{{ID: "c", CreatedAt: at(3), Note: "profile"}, {ID: "a", CreatedAt: at(1)}, {ID: "d", CreatedAt: at(4)}}

	got := mergeHistory(retained, existing, 3)

	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "store", got[1].Note)
	assert.Equal(t, "b", got[2].ID)
}

// TestService_Create_HistoryWriteIsBounded はプロフィールが応答しなくても
// 注文作成が履歴保存の上限時間内に返ることを検証する。
func TestService_Create_HistoryWriteIsBounded(t *testing.T) {
	profiles := &mockProfileStore{
		getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		updateFn: func(ctx context.Context, userID string, metadata model.UserMetadata) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	svc := NewService(repository.NewMemoryOrderRepo(), profiles, nil,
		ServiceConfig{HistoryTimeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	result, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, result.OrdersCount)
	assert.Less(t, elapsed, time.Second)
}

func TestService_Create_ProfileWriteFailureIsNotFatal(t *testing.T) {
	repo := &mockOrderRepo{
		appendFn: func(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
			return []model.Order{order}, nil
		},
	}
	profiles := &mockProfileStore{
		updateFn: func(ctx context.Context, userID string, metadata model.UserMetadata) error {
			return errors.New("management api returned 503")
		},
	}
	svc := newTestService(repo, profiles, nil)

	result, err := svc.Create(context.Background(), "auth0|u1", sampleInput())
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrdersCount)
}

func TestService_History(t *testing.T) {
	t.Run("disabled without profile store", func(t *testing.T) {
		svc := newTestService(&mockOrderRepo{}, nil, nil)
		assert.False(t, svc.HistoryEnabled())
		_, err := svc.History(context.Background(), "auth0|u1")
		assert.Error(t, err)
	})

	t.Run("returns stored orders", func(t *testing.T) {
		stored := []model.Order{{ID: "order_1"}}
		profiles := &mockProfileStore{
			getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
				return &model.UserProfile{UserMetadata: model.UserMetadata{Orders: stored}}, nil
			},
		}
		svc := newTestService(&mockOrderRepo{}, profiles, nil)
		assert.True(t, svc.HistoryEnabled())

		orders, err := svc.History(context.Background(), "auth0|u1")
		require.NoError(t, err)
		assert.Equal(t, stored, orders)
	})

	t.Run("empty metadata", func(t *testing.T) {
		svc := newTestService(&mockOrderRepo{}, &mockProfileStore{}, nil)
		orders, err := svc.History(context.Background(), "auth0|u1")
		require.NoError(t, err)
		assert.NotNil(t, orders)
		assert.Empty(t, orders)
	})

	t.Run("lookup failure is a dependency failure", func(t *testing.T) {
		profiles := &mockProfileStore{
			getProfileFn: func(ctx context.Context, userID string) (*model.UserProfile, error) {
				return nil, errors.New("dial tcp: i/o timeout")
			},
		}
		svc := newTestService(&mockOrderRepo{}, profiles, nil)

		_, err := svc.History(context.Background(), "auth0|u1")
		var apiErr *model.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, model.KindDependencyFailure, apiErr.Kind)
	})
}

func TestNewOrderID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	id := NewOrderID(at)
	assert.Regexp(t, regexp.MustCompile(`^order_1700000000123_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewOrderID(at))
}
