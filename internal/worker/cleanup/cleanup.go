// Package cleanup は注文の保持件数を全ユーザーに対して揃えるジョブを提供する。
// 通常はAppendが同一トランザクションで古い注文を削除するが、保持件数を
// 減らした場合や移行で投入された行はこのジョブで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const trimAllQuery = `DELETE FROM orders
	 WHERE id IN (
	   SELECT id FROM (
	     SELECT id, ROW_NUMBER() OVER (
	       PARTITION BY user_id ORDER BY created_at DESC, id DESC
	     ) AS rn
	     FROM orders
	   ) ranked
	   WHERE rn > $1
	 )`

// RetentionJob はユーザーごとに新しい順でKeep件を超える注文を削除する。
// 冪等で、削除対象がない場合もエラーにならない。
type RetentionJob struct {
	db     Executor
	logger *slog.Logger
	Keep   int
}

// NewRetentionJob は新しいRetentionJobを生成する。keepが0以下の場合は5件とする。
func NewRetentionJob(db Executor, logger *slog.Logger, keep int) *RetentionJob {
	if keep <= 0 {
		keep = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		db:     db,
		logger: logger,
		Keep:   keep,
	}
}

// Run は保持件数を超えた注文を削除する。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, trimAllQuery, j.Keep)
	if err != nil {
		j.logger.Error("order retention job failed",
			slog.String("error", err.Error()),
			slog.Int("keep", j.Keep),
		)
		return fmt.Errorf("failed to trim orders: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted order count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read deleted count: %w", err)
	}

	j.logger.Info("order retention job completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("keep", j.Keep),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを繰り返す。
// ctxがキャンセルされると戻る。個々の失敗はログに残して継続する。
func (j *RetentionJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
