package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pizza42/internal/model"
)

// PostgresOrderRepo はPostgreSQLを使用した注文リポジトリ。
type PostgresOrderRepo struct {
	db *sql.DB
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db}
}

const selectOrdersByUser = `SELECT id, created_at, items, total_cents, note
	 FROM orders WHERE user_id = $1
	 ORDER BY created_at DESC, id DESC
	 LIMIT $2`

// ListByUser は指定ユーザーの注文を新しい順に返す。
func (r *PostgresOrderRepo) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, items, total_cents, note
		 FROM orders WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// Append は注文を挿入し、keep件を超えた古い注文を同一トランザクションで削除する。
// 同一ユーザーへの同時追加はアドバイザリロックで直列化する。
func (r *PostgresOrderRepo) Append(ctx context.Context, userID string, order model.Order, keep int) ([]model.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, fmt.Errorf("failed to lock user orders: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, created_at, items, total_cents, note)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, userID, order.CreatedAt, items, order.TotalCents, nullableString(order.Note),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, trimOrdersQuery, userID, keep); err != nil {
			return nil, fmt.Errorf("failed to trim orders: %w", err)
		}
	}

	limit := keep
	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.QueryContext(ctx, selectOrdersByUser, userID, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read retained orders: %w", err)
	}
	orders, err := scanOrders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return orders, nil
}

// trimOrdersQuery は指定ユーザーの新しい$2件以外を削除する。
const trimOrdersQuery = `DELETE FROM orders
	 WHERE user_id = $1
	   AND id NOT IN (
	     SELECT id FROM orders WHERE user_id = $1
	     ORDER BY created_at DESC, id DESC
	     LIMIT $2
	   )`

// rowScanner は*sql.Rowsのうち走査に必要な部分。
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOrders(rows rowScanner) ([]model.Order, error) {
	orders := []model.Order{}
	for rows.Next() {
		var (
			o     model.Order
			items []byte
			note  sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.CreatedAt, &items, &o.TotalCents, &note); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("failed to decode order items: %w", err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.Note = note.String
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableLimit は負のlimitをNULL（LIMIT ALL）に変換する。
func nullableLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit >= 0}
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresOrderRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
