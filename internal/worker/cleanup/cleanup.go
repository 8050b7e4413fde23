// Package cleanup はワーカープロセスで定期実行するジョブを提供する。
// 既読通知の保持期間による削除と、セッション状態の時刻による遷移を含む。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/skillswap/internal/repository"
)

// NotificationPruner は古い既読通知を削除する。repository.NotificationRepositoryが実装する。
type NotificationPruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob は保持期間を超過した既読通知の削除ジョブ。
// 未読の通知は期間に関係なく残す。冪等で、削除対象がなくてもエラーにならない。
type RetentionJob struct {
	notifications NotificationPruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 既読通知の保持日数（デフォルト: 90）
}

// NewRetentionJob はRetentionJobを生成する。retentionDaysが0以下の場合は90日。
func NewRetentionJob(notifications NotificationPruner, logger *slog.Logger, retentionDays int) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionJob{
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Name はジョブ名を返す。
func (j *RetentionJob) Name() string { return "notification_retention" }

// Run はcreated_atが保持期間より古い既読通知を削除する。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.notifications.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("通知クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("通知クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("通知クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// StatusAdvancer は開始・終了時刻を過ぎたセッションの状態を進める。scheduling.Serviceが実装する。
type StatusAdvancer interface {
	AdvanceStatuses(ctx context.Context, now time.Time) (repository.StatusAdvance, error)
}

// StatusJob はセッションとグループセッションの状態遷移ジョブ。
type StatusJob struct {
	advancer StatusAdvancer
	logger   *slog.Logger
	now      func() time.Time
}

// NewStatusJob はStatusJobを生成する。
func NewStatusJob(advancer StatusAdvancer, logger *slog.Logger) *StatusJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusJob{advancer: advancer, logger: logger, now: time.Now}
}

// Name はジョブ名を返す。
func (j *StatusJob) Name() string { return "session_status" }

// Run は現在時刻でupcoming→ongoing→completedの遷移を一括実行する。
func (j *StatusJob) Run(ctx context.Context) error {
	adv, err := j.advancer.AdvanceStatuses(ctx, j.now())
	if err != nil {
		return fmt.Errorf("セッション状態の更新に失敗: %w", err)
	}

	// 毎分動くため、何も変わらなかった回はDEBUGに落とす
	level := slog.LevelInfo
	if adv.Started == 0 && adv.Completed == 0 {
		level = slog.LevelDebug
	}
	j.logger.Log(ctx, level, "セッション状態を更新しました",
		slog.Int64("started", adv.Started),
		slog.Int64("completed", adv.Completed),
	)
	return nil
}
