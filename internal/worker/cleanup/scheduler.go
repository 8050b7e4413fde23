package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行されるジョブ。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler は登録されたジョブをそれぞれの間隔で実行する。
// ジョブごとに独立したティッカーを持ち、遅いジョブが他のジョブを止めない。
type Scheduler struct {
	logger  *slog.Logger
	entries []entry
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Every はジョブを指定間隔で登録する。intervalが0以下のジョブは登録しない。
func (s *Scheduler) Every(interval time.Duration, job Job) *Scheduler {
	if interval <= 0 {
		s.logger.Warn("ジョブの実行間隔が不正なため登録しません",
			slog.String("job", job.Name()),
			slog.Duration("interval", interval),
		)
		return s
	}
	s.entries = append(s.entries, entry{job: job, interval: interval})
	return s
}

// Start は全ジョブを起動し、コンテキストがキャンセルされて全ジョブが止まるまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	s.logger.Info("ジョブを開始しました",
		slog.String("job", e.job.Name()),
		slog.Duration("interval", e.interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx, e.job)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブを停止しました", slog.String("job", e.job.Name()))
			return
		case <-ticker.C:
			s.runOnce(ctx, e.job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if err := job.Run(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
	}
}
