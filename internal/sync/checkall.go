package sync

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

// CheckAllUsers は定期同期の対象となる全UserLinkを取得し、
// ユーザーごとの同期をsemaphoreパターンで並列実行する。
// 1ユーザーの失敗は他ユーザーのパスを中断しない（失敗ドメインの分離）。
func (s *Service) CheckAllUsers(ctx context.Context) error {
	start := time.Now()

	cutoff := time.Now().UTC().Add(-s.config.BacklogAge)
	links, err := s.repo.ListDueForSync(ctx, cutoff)
	if err != nil {
		return err
	}

	if len(links) == 0 {
		s.logger.Info("定期同期の対象ユーザーはありません")
		return nil
	}

	s.logger.Info("定期同期サイクルを開始します",
		slog.Int("user_count", len(links)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg stdsync.WaitGroup

	for _, link := range links {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(l *model.UserLink) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.syncUser(ctx, l); err != nil {
				s.logger.Error("ユーザーの定期同期に失敗しました",
					slog.String("pryv_endpoint", l.PryvEndpoint),
					slog.String("error", err.Error()),
				)
			}
		}(link)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("定期同期サイクルが完了しました",
		slog.Int("user_count", len(links)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// syncUser は1ユーザーの定期同期を実行する。
// 区間は [last_sync（未同期ならエポック）, now) で、日次と分単位の両パスを実行する。
// トリガー起点の同期が実行中の場合はスキップする。
func (s *Service) syncUser(ctx context.Context, link *model.UserLink) error {
	if !s.inflight.acquire(link.PryvEndpoint) {
		s.logger.Info("同期が実行中のためスキップします",
			slog.String("pryv_endpoint", link.PryvEndpoint),
		)
		return nil
	}
	defer s.inflight.release(link.PryvEndpoint)

	start := time.Unix(0, 0).UTC()
	if link.LastSync != nil {
		start = link.LastSync.UTC()
	}
	now := time.Now().UTC()

	dailyRes, dailyErr := s.RunPass(ctx, link, model.SyncWindow{
		Start: start, End: now, Granularity: model.GranularityDaily,
	})
	s.logPassOutcome(link, dailyRes, dailyErr)

	intradayRes, intradayErr := s.RunPass(ctx, link, model.SyncWindow{
		Start: start, End: now, Granularity: model.GranularityIntraday,
	})
	s.logPassOutcome(link, intradayRes, intradayErr)

	return errors.Join(dailyErr, intradayErr)
}
