package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pizza42/internal/auth"
	"github.com/hitoshi/pizza42/internal/middleware"
	"github.com/hitoshi/pizza42/internal/model"
	"github.com/hitoshi/pizza42/internal/order"
)

// DefaultMaxBodyBytes は注文作成リクエストボディの上限。
const DefaultMaxBodyBytes = 64 << 10

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.Order, error)
	Create(ctx context.Context, userID string, input *order.CreateOrderInput) (*order.CreateResult, error)
	History(ctx context.Context, userID string) ([]model.Order, error)
}

// OrderValidator は注文作成リクエストの検証インターフェース。
type OrderValidator interface {
	ValidateCreateRequest(body []byte) (*order.CreateOrderInput, error)
}

// Authorizer はスコープとメール確認のゲートを判定するインターフェース。
// authz.Checker の部分集合として定義する。
type Authorizer interface {
	RequireScope(claims *auth.ClaimSet, required string) error
	RequireVerifiedEmail(ctx context.Context, claims *auth.ClaimSet) error
}

// OrderScopes はエンドポイントごとに要求するスコープ。
type OrderScopes struct {
	Read   string
	Create string
}

// DefaultOrderScopes は既定のスコープを返す。
func DefaultOrderScopes() OrderScopes {
	return OrderScopes{Read: "read:orders", Create: "create:orders"}
}

// OrderHandler は注文APIのHTTPハンドラー。
type OrderHandler struct {
	service      OrderServiceInterface
	validator    OrderValidator
	authorizer   Authorizer
	scopes       OrderScopes
	maxBodyBytes int64
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(service OrderServiceInterface, validator OrderValidator, authorizer Authorizer, scopes OrderScopes) *OrderHandler {
	if scopes.Read == "" {
		scopes.Read = DefaultOrderScopes().Read
	}
	if scopes.Create == "" {
		scopes.Create = DefaultOrderScopes().Create
	}
	return &OrderHandler{
		service:      service,
		validator:    validator,
		authorizer:   authorizer,
		scopes:       scopes,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// ordersResponse は注文一覧のレスポンス。
type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

// createOrderResponse は注文作成のレスポンス。
type createOrderResponse struct {
	Order       model.Order `json:"order"`
	OrdersCount int         `json:"orders_count"`
}

// ListOrders は呼び出し元ユーザーの注文一覧を返す。
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, h.scopes.Read)
	if !ok {
		return
	}

	orders, err := h.service.List(r.Context(), claims.Subject)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ordersResponse{Orders: orders})
}

// CreateOrder は注文を作成する。
// POST /api/orders
//
// スコープ、メール確認、ボディ検証の順に判定し、すべて通過した場合のみ保存する。
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, h.scopes.Create)
	if !ok {
		return
	}

	if err := h.authorizer.RequireVerifiedEmail(r.Context(), claims); err != nil {
		handleServiceError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewInvalidRequestError("request body too large"))
			return
		}
		handleServiceError(w, model.NewInvalidRequestError("failed to read request body"))
		return
	}

	input, err := h.validator.ValidateCreateRequest(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Create(r.Context(), claims.Subject, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:       result.Order,
		OrdersCount: result.OrdersCount,
	})
}

// OrderHistory はプロフィールに保存された注文履歴を返す。
// GET /api/orders/history
func (h *OrderHandler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, h.scopes.Read)
	if !ok {
		return
	}

	orders, err := h.service.History(r.Context(), claims.Subject)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ordersResponse{Orders: orders})
}

// authorize はコンテキストのClaimSetを取り出し、requiredスコープを確認する。
// 失敗時はレスポンスを書き込んでfalseを返す。
func (h *OrderHandler) authorize(w http.ResponseWriter, r *http.Request, required string) (*auth.ClaimSet, bool) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthorizedError(err))
		return nil, false
	}
	if err := h.authorizer.RequireScope(claims, required); err != nil {
		slog.Info("scope check rejected request",
			slog.String("user_id", claims.Subject),
			slog.String("required", required),
		)
		handleServiceError(w, err)
		return nil, false
	}
	return claims, true
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットで書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == model.KindDependencyFailure || apiErr.Kind == model.KindInternal {
			slog.Error("request failed",
				slog.String("kind", apiErr.Kind.Code()),
				slog.String("error", apiErr.Error()),
			)
		}
		middleware.WriteErrorResponse(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
