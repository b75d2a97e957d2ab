package repository

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// NewPostgresOrderRepoが正しく初期化されることを検証
func TestNewPostgresOrderRepo_Initializes(t *testing.T) {
	repo := NewPostgresOrderRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// fakeRows はrowScannerのモック実装。
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos-1]
	*(dest[0].(*string)) = row[0].(string)
	*(dest[1].(*time.Time)) = row[1].(time.Time)
	*(dest[2].(*[]byte)) = row[2].([]byte)
	*(dest[3].(*int64)) = row[3].(int64)
	return dest[4].(interface{ Scan(any) error }).Scan(row[4])
}

func (f *fakeRows) Err() error { return f.err }

// ユニットテスト: scanOrdersがitemsのJSONとNULLのnoteを復元すること
// （DB接続なしでロジックのみ検証）
func TestScanOrders_DecodesRows(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	created := time.Date(2026, 3, 1, 21, 0, 0, 0, jst)
	rows := &fakeRows{rows: [][]any{
		{"order_2", created, []byte(`[{"sku":"p1","name":"Margherita","quantity":2,"unit_price_cents":1299}]`), int64(2598), "extra cheese"},
		{"order_1", created, []byte(`[]`), int64(0), nil},
	}}

	orders, err := scanOrders(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len(orders) = %d, want 2", len(orders))
	}
	if orders[0].Items[0].Quantity != 2 || orders[0].Items[0].UnitPriceCents != 1299 {
		t.Errorf("items not decoded: %+v", orders[0].Items)
	}
	if orders[0].Note != "extra cheese" {
		t.Errorf("Note = %q, want %q", orders[0].Note, "extra cheese")
	}
	if orders[1].Note != "" {
		t.Errorf("Note = %q, want empty", orders[1].Note)
	}
	if orders[0].CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt should be normalized to UTC, got %v", orders[0].CreatedAt.Location())
	}
}

func TestScanOrders_InvalidItemsJSON(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{"order_1", time.Now(), []byte(`{broken`), int64(0), nil},
	}}

	_, err := scanOrders(rows)
	if err == nil || !strings.Contains(err.Error(), "decode order items") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestScanOrders_PropagatesIterationError(t *testing.T) {
	rows := &fakeRows{err: errors.New("connection reset")}

	_, err := scanOrders(rows)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTrimOrdersQuery_KeepsNewest(t *testing.T) {
	if !strings.Contains(trimOrdersQuery, "ORDER BY created_at DESC, id DESC") {
		t.Error("trim query must keep the newest orders")
	}
	if !strings.Contains(trimOrdersQuery, "LIMIT $2") {
		t.Error("trim query must be bounded by the retention parameter")
	}
}

func TestNullableLimit(t *testing.T) {
	if got := nullableLimit(-1); got.Valid {
		t.Errorf("nullableLimit(-1) should be NULL, got %+v", got)
	}
	if got := nullableLimit(5); !got.Valid || got.Int64 != 5 {
		t.Errorf("nullableLimit(5) = %+v", got)
	}
}
