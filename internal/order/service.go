package order

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pizza42/internal/model"
	"github.com/hitoshi/pizza42/internal/repository"
)

const (
	// DefaultRetention はユーザーごとに保持する注文の件数。
	DefaultRetention = 5

	// DefaultHistoryTimeout はプロフィールへの履歴保存（取得と更新の合計）に許す時間。
	DefaultHistoryTimeout = 5 * time.Second
)

// ProfileStore はプロフィールへの注文履歴の保存に必要なインターフェース。
// profile.Client の部分集合として定義する。
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateUserMetadata(ctx context.Context, userID string, metadata model.UserMetadata) error
}

// Metrics は注文作成を記録するインターフェース。
type Metrics interface {
	RecordOrderCreated(totalCents int64)
}

// CreateResult は注文作成の結果。
type CreateResult struct {
	Order       model.Order
	OrdersCount int // 保持されている注文数
}

// ServiceConfig はServiceの設定を保持する。
type ServiceConfig struct {
	Retention      int
	HistoryTimeout time.Duration
}

// Service は注文の作成・一覧取得を行う。
type Service struct {
	repo      repository.OrderRepository
	profiles  ProfileStore
	metrics   Metrics
	retention int
	logger    *slog.Logger

	// historyTimeout は注文作成1回あたりのプロフィール書き込みの上限時間
	historyTimeout time.Duration

	now   func() time.Time
	newID func(time.Time) string
}

// NewService は新しいServiceを生成する。
// profilesがnilの場合、プロフィールへの履歴保存と History は無効になる。
func NewService(repo repository.OrderRepository, profiles ProfileStore, metrics Metrics, cfg ServiceConfig, logger *slog.Logger) *Service {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	historyTimeout := cfg.HistoryTimeout
	if historyTimeout <= 0 {
		historyTimeout = DefaultHistoryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:           repo,
		profiles:       profiles,
		metrics:        metrics,
		retention:      retention,
		historyTimeout: historyTimeout,
		logger:         logger,
		now:            time.Now,
		newID:          NewOrderID,
	}
}

// HistoryEnabled はプロフィールから注文履歴を取得できるかを返す。
func (s *Service) HistoryEnabled() bool {
	return s.profiles != nil
}

// List はユーザーの注文を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.Order, error) {
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// Create は検証済みの入力から注文を作成して保存する。
//
// ストアへの追加後、プロフィールが設定されていれば保持中の注文とプロフィール上の
// 既存履歴をマージしてuser_metadataにも書き込む。プロフィールへの書き込み失敗は
// ログに記録し、注文作成自体は成功とする。
func (s *Service) Create(ctx context.Context, userID string, input *CreateOrderInput) (*CreateResult, error) {
	now := s.now().UTC()
	order := model.Order{
		ID:         s.newID(now),
		CreatedAt:  now,
		Items:      input.Items,
		TotalCents: input.TotalCents,
		Note:       input.Note,
	}

	retained, err := s.repo.Append(ctx, userID, order, s.retention)
	if err != nil {
		return nil, fmt.Errorf("failed to append order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(order.TotalCents)
	}

	s.logger.Info("order created",
		slog.String("user_id", userID),
		slog.String("order_id", order.ID),
		slog.Int("items", len(order.Items)),
		slog.Int64("total_cents", order.TotalCents),
	)

	if s.profiles != nil {
		s.persistHistory(ctx, userID, retained, now)
	}

	return &CreateResult{Order: order, OrdersCount: len(retained)}, nil
}

// History はプロフィールに保存された注文履歴を返す。
func (s *Service) History(ctx context.Context, userID string) ([]model.Order, error) {
	if s.profiles == nil {
		return nil, fmt.Errorf("order history is not configured")
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, model.NewDependencyFailureError(err)
	}
	if profile == nil || profile.UserMetadata.Orders == nil {
		return []model.Order{}, nil
	}
	return profile.UserMetadata.Orders, nil
}

// persistHistory は保持中の注文と累計件数をuser_metadataに書き込む。
// 取得と更新はhistoryTimeoutを共有する。
func (s *Service) persistHistory(ctx context.Context, userID string, retained []model.Order, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, s.historyTimeout)
	defer cancel()

	// 累計件数は保持件数を下回らない
	orders := retained
	count := len(retained)
	if profile, err := s.profiles.GetProfile(ctx, userID); err == nil && profile != nil {
		orders = mergeHistory(retained, profile.UserMetadata.Orders, s.retention)
		count = max(len(orders), profile.UserMetadata.OrdersCount+1)
	} else if err != nil {
		s.logger.Warn("failed to read profile before saving order history",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	metadata := model.UserMetadata{
		Orders:      orders,
		OrdersCount: count,
		LastOrderAt: &at,
	}
	if err := s.profiles.UpdateUserMetadata(ctx, userID, metadata); err != nil {
		s.logger.Warn("failed to save order history to profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// mergeHistory はストアの保持分とプロフィール上の既存履歴をIDで重複排除し、
// 新しい順にkeep件まで返す。同じIDはストア側を優先する。
func mergeHistory(retained, existing []model.Order, keep int) []model.Order {
	merged := make([]model.Order, 0, len(retained)+len(existing))
	seen := make(map[string]bool, len(retained)+len(existing))
	for _, list := range [][]model.Order{retained, existing} {
		for _, o := range list {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			merged = append(merged, o)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if len(merged) > keep {
		merged = merged[:keep]
	}
	return merged
}

// NewOrderID は "order_<unix millis>_<random hex>" 形式の注文IDを生成する。
func NewOrderID(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("order_%d_%s", at.UnixMilli(), suffix)
}
