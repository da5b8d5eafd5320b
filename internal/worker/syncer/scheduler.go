// Package syncer は定期同期ワーカーを提供する。
// トリガーの取りこぼしや失敗した同期パスを定期サイクルで追い付かせる。
package syncer

import (
	"context"
	"log/slog"
	"time"
)

// SyncRunner は定期同期サイクルの実行インターフェース。
type SyncRunner interface {
	// CheckAllUsers は同期対象の全ユーザーを1サイクル分同期する。
	CheckAllUsers(ctx context.Context) error
}

// Scheduler は定期同期のスケジューリングを行う。
// 一定間隔のティッカーで同期サイクルを起動する。
// ユーザーごとの並列制御はSyncRunner側が行う。
type Scheduler struct {
	runner SyncRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner SyncRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は同期サイクルを1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runner.CheckAllUsers(ctx)
}
