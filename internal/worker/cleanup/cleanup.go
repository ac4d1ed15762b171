// Package cleanup は期限切れパスワードリセットトークンの定期クリアジョブを提供する。
// トークンの有効性は常に有効期限の比較で判定されるため、このジョブは保守目的に限る。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskdesk/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// clearExpiredQuery はトークンと有効期限を1文で同時にクリアする。
const clearExpiredQuery = `UPDATE users
	SET reset_token = NULL, reset_token_expires_at = NULL, updated_at = $1
	WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at <= $1`

// ResetTokenCleanupJob は有効期限を過ぎたリセットトークンをクリアするジョブ。
// 冪等であり、対象がない場合でもエラーにならない。
type ResetTokenCleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewResetTokenCleanupJob は新しいResetTokenCleanupJobを生成する。
func NewResetTokenCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *ResetTokenCleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &ResetTokenCleanupJob{
		db:      db,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Run は期限切れのリセットトークンを1回クリアし、クリアした件数を返す。
func (j *ResetTokenCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, clearExpiredQuery, j.now().UTC())
	if err != nil {
		j.logger.Error("リセットトークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("リセットトークンのクリーンアップに失敗: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("クリア件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("クリア件数の取得に失敗: %w", err)
	}

	j.metrics.RecordResetTokensCleaned(cleared)
	j.logger.Info("リセットトークンのクリーンアップが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return cleared, nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。個々の実行失敗はログに記録して継続する。
func (j *ResetTokenCleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("リセットトークンのクリーンアップを停止しました")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ResetTokenCleanupJob) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ済み
	_, _ = j.Run(ctx)
}
