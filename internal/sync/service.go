// Package sync はThryveからPryvへの同期パイプラインを提供する。
// トリガーの分類、同期区間の導出、fetch→convert→pushの実行、
// ユーザーごとの同期状態の管理を行う。
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pryv/bridge-thryve/internal/converter"
	"github.com/pryv/bridge-thryve/internal/metrics"
	"github.com/pryv/bridge-thryve/internal/model"
	"github.com/pryv/bridge-thryve/internal/repository"
)

// SourceClient はThryve側のフェッチインターフェース。
type SourceClient interface {
	// DynamicValues は指定区間の計測値を取得する。
	DynamicValues(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error)
}

// TargetClient はPryv側の書き込みインターフェース。
type TargetClient interface {
	// PostStreamsAndEvents はストリームとイベントをバッチで書き込む（冪等UPSERT）。
	PostStreamsAndEvents(ctx context.Context, endpoint string, streams []model.Stream, events []model.Event) error
	// LastSyncTime は最終同期時刻をエポック秒で返す。イベントがなければ0。
	LastSyncTime(ctx context.Context, endpoint string) (int64, error)
}

// ServiceConfig はSyncServiceの設定を保持する。
type ServiceConfig struct {
	// MaxConcurrent は定期同期で並列実行するユーザー数の上限。
	MaxConcurrent int
	// BacklogAge は定期同期の対象とみなすlast_syncの経過時間。
	BacklogAge time.Duration
}

// Service は同期オーケストレーター。
// 1回の同期パスは fetch → convert → push を厳密にこの順で実行し、
// ステージ間の並行実行は行わない。パス内部でのリトライも行わず、
// 失敗はそのまま呼び出し元へ返す（リトライ方針は呼び出し元の責務）。
type Service struct {
	repo    repository.UserLinkRepository
	source  SourceClient
	target  TargetClient
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	config  ServiceConfig

	inflight *inflightRegistry
}

// NewService はServiceの新しいインスタンスを生成する。
// MaxConcurrentが0以下の場合はデフォルト値10を使用する。
func NewService(
	repo repository.UserLinkRepository,
	source SourceClient,
	target TargetClient,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config ServiceConfig,
) *Service {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Service{
		repo:     repo,
		source:   source,
		target:   target,
		metrics:  collector,
		logger:   logger,
		config:   config,
		inflight: newInflightRegistry(),
	}
}

// PassResult は1回の同期パスの結果を表す。
type PassResult struct {
	Granularity   model.Granularity
	EventCount    int
	StreamCount   int
	Counters      map[string]int
	LeftoverCount int
}

// StageError は同期パスがどのステージで失敗したかを保持する。
type StageError struct {
	// Stage は失敗ステージ。"fetch" または "push"。
	Stage string
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *StageError) Error() string {
	return fmt.Sprintf("sync %s stage failed: %v", e.Stage, e.Err)
}

// Unwrap はラップされた元のエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// TriggerResult はトリガー処理の結果を表す。
// BOTHトリガーでは日次と分単位のパスが独立して実行されるため、
// 片方の失敗がもう片方の成功を隠さないよう両方の結果を保持する。
type TriggerResult struct {
	// Synced は少なくとも1つの同期パスを実行したかどうか。
	// NEW/DELETED/未知のupdateTypeではfalseになる。
	Synced bool

	Daily       *PassResult
	DailyErr    error
	Intraday    *PassResult
	IntradayErr error
}

// Err は実行したパスの失敗をまとめて返す。全パス成功ならnil。
func (r *TriggerResult) Err() error {
	return errors.Join(r.DailyErr, r.IntradayErr)
}

// HandleTrigger はThryveからの更新通知を処理する。
//
// updateTypeの分類:
//   - NEW / DELETED: ソースカタログ変更の通知としてログに残し、同期は行わない。
//   - 未知の値: ログに残して無視する。未知のトリガー種別で
//     パイプラインを落とさない（前方互換ポリシー）。
//   - DAILY / BOTH: トリガーが宣言する区間で日次パスを実行する。
//   - MINUTE / BOTH: 同じ区間で分単位パスを実行する。
//
// BOTHの2パスは日次→分単位の順で逐次実行する。
// トークンに対応するUserLinkがない場合はErrUnknownUserを返す。
func (s *Service) HandleTrigger(ctx context.Context, trigger model.TriggerEvent) (*TriggerResult, error) {
	if !trigger.UpdateType.Known() {
		s.logger.Warn("未知のupdateTypeのトリガーを無視します",
			slog.String("update_type", string(trigger.UpdateType)),
			slog.String("data_source", trigger.DataSource),
		)
		s.metrics.RecordTriggerIgnored(string(trigger.UpdateType))
		return &TriggerResult{Synced: false}, nil
	}

	link, err := s.repo.FindByThryveToken(ctx, trigger.AuthenticationToken)
	if err != nil {
		return nil, fmt.Errorf("UserLinkの検索に失敗: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("%w: no link for trigger token", model.ErrUnknownUser)
	}

	if trigger.UpdateType == model.UpdateTypeNew || trigger.UpdateType == model.UpdateTypeDeleted {
		s.logger.Info("ソースカタログ変更のトリガーを受信しました（同期は行いません）",
			slog.String("update_type", string(trigger.UpdateType)),
			slog.String("data_source", trigger.DataSource),
			slog.String("pryv_endpoint", link.PryvEndpoint),
		)
		s.metrics.RecordTriggerIgnored(string(trigger.UpdateType))
		return &TriggerResult{Synced: false}, nil
	}

	if !s.inflight.acquire(link.PryvEndpoint) {
		return nil, fmt.Errorf("%w: %s", model.ErrSyncInProgress, link.PryvEndpoint)
	}
	defer s.inflight.release(link.PryvEndpoint)

	result := &TriggerResult{Synced: true}

	if trigger.UpdateType == model.UpdateTypeDaily || trigger.UpdateType == model.UpdateTypeBoth {
		result.Daily, result.DailyErr = s.RunPass(ctx, link, trigger.Window(model.GranularityDaily))
		s.logPassOutcome(link, result.Daily, result.DailyErr)
	}

	if trigger.UpdateType == model.UpdateTypeMinute || trigger.UpdateType == model.UpdateTypeBoth {
		result.Intraday, result.IntradayErr = s.RunPass(ctx, link, trigger.Window(model.GranularityIntraday))
		s.logPassOutcome(link, result.Intraday, result.IntradayErr)
	}

	return result, nil
}

// InitUser はユーザー登録直後の初回同期を実行する。
// 区間は [Pryv側の最終同期時刻（なければエポック）, now) で、
// 日次パスと分単位パスの両方を実行する。
//
// 既知の制限: この実行の後にプロバイダ側へ到着した、nowより過去の
// タイムスタンプを持つデータは取り逃がす可能性がある。
// オーケストレーターは重複区間の再スキャンを行わない。
func (s *Service) InitUser(ctx context.Context, link *model.UserLink) error {
	lastSyncSec, err := s.target.LastSyncTime(ctx, link.PryvEndpoint)
	if err != nil {
		return fmt.Errorf("最終同期時刻の取得に失敗: %w", err)
	}
	// 0はイベント未登録を意味し、エポックからのフル同期となる
	start := time.Unix(lastSyncSec, 0).UTC()
	now := time.Now().UTC()

	s.logger.Info("初回同期を開始します",
		slog.String("pryv_endpoint", link.PryvEndpoint),
		slog.Time("start", start),
		slog.Time("end", now),
	)

	if !s.inflight.acquire(link.PryvEndpoint) {
		return fmt.Errorf("%w: %s", model.ErrSyncInProgress, link.PryvEndpoint)
	}
	defer s.inflight.release(link.PryvEndpoint)

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

// RegisterUser はUserLinkを作成（または既存エンドポイントのトークンを差し替え）し、
// 初回同期を実行する。UserLinkの作成は単一行のUPSERTであり、
// 部分的に作成された状態は残らない。初回同期の失敗は呼び出し元へ返すが、
// 作成済みのUserLinkはそのまま残り、以後の定期同期で追い付く。
func (s *Service) RegisterUser(ctx context.Context, pryvEndpoint, thryveToken string) (*model.UserLink, error) {
	now := time.Now().UTC()
	if err := s.repo.Upsert(ctx, &model.UserLink{
		ID:           uuid.NewString(),
		PryvEndpoint: pryvEndpoint,
		ThryveToken:  thryveToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("UserLinkの保存に失敗: %w", err)
	}

	// UPSERTで既存行が残った場合に備え、正規のレコードを引き直す
	link, err := s.repo.FindByPryvEndpoint(ctx, pryvEndpoint)
	if err != nil {
		return nil, fmt.Errorf("UserLinkの再取得に失敗: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("UserLinkの保存直後に取得できません: %s", pryvEndpoint)
	}

	if err := s.InitUser(ctx, link); err != nil {
		return link, fmt.Errorf("初回同期に失敗: %w", err)
	}

	return link, nil
}

// RunPass は1回の同期パス（fetch → convert → push）を実行する。
//
//   - フェッチ失敗はStageError{Stage: "fetch"}としてパスを中断する。
//     部分的なプッシュは発生しない。
//   - 変換が0件でもエラーにはしない。変換済みストリームがあれば
//     イベント0件のままプッシュしてストリーム登録を一貫させる。
//     フェッチ結果自体が空（ストリームもイベントもなし）の場合のみ
//     プッシュを省略して成功とする。
//   - プッシュ失敗はStageError{Stage: "push"}となる。フェッチ済みデータは
//     どこにも保存されないため、リトライは再フェッチから行う。
//   - 成功時のみlast_syncを区間の終端まで前進させる。
func (s *Service) RunPass(ctx context.Context, link *model.UserLink, window model.SyncWindow) (*PassResult, error) {
	start := time.Now()
	granularity := string(window.Granularity)

	if !window.Valid() {
		return nil, fmt.Errorf("invalid sync window: start %v after end %v", window.Start, window.End)
	}

	// 1. fetch
	batch, err := s.source.DynamicValues(ctx, link.ThryveToken, window)
	if err != nil {
		s.metrics.RecordPassFailure(granularity, "fetch")
		return nil, &StageError{Stage: "fetch", Err: err}
	}

	// 2. convert（実行ごとに新しいコンテキストを生成し、共有しない）
	cctx := model.NewConversionContext()
	streamSeen := make(map[string]bool)
	var streams []model.Stream
	var events []model.Event

	for _, group := range batch.Groups {
		for _, point := range group.Data {
			res := converter.Convert(group.SourceCode, point, cctx)
			if res == nil {
				continue
			}
			events = append(events, res.Event)
			for _, stream := range res.Streams {
				if streamSeen[stream.ID] {
					continue
				}
				streamSeen[stream.ID] = true
				streams = append(streams, stream)
			}
		}
	}

	if len(cctx.Combinations) > 0 {
		s.logger.Warn("変換できなかった計測値の組み合わせが残っています",
			slog.String("pryv_endpoint", link.PryvEndpoint),
			slog.Any("combinations", cctx.Combinations),
		)
	}

	// 3. push（フェッチ結果が完全に空の場合は送るものがないため省略）
	if len(streams) > 0 || len(events) > 0 {
		if err := s.target.PostStreamsAndEvents(ctx, link.PryvEndpoint, streams, events); err != nil {
			s.metrics.RecordPassFailure(granularity, "push")
			return nil, &StageError{Stage: "push", Err: err}
		}
	}

	// last_syncの前進は成功時のみ。失敗時に部分更新は行わない。
	if err := s.repo.UpdateLastSync(ctx, link.ID, window.End); err != nil {
		// データ自体は書き込み済み。次回同期の区間が重複するだけで、
		// プッシュは冪等なため実害はない。
		s.logger.Error("last_syncの更新に失敗しました",
			slog.String("pryv_endpoint", link.PryvEndpoint),
			slog.String("error", err.Error()),
		)
	}

	s.metrics.RecordPassSuccess(granularity)
	s.metrics.RecordEventsPushed(len(events))
	s.metrics.RecordLeftoverCombinations(cctx.LeftoverTotal())
	s.metrics.RecordPassLatency(time.Since(start))

	return &PassResult{
		Granularity:   window.Granularity,
		EventCount:    len(events),
		StreamCount:   len(streams),
		Counters:      cctx.Counters,
		LeftoverCount: cctx.LeftoverTotal(),
	}, nil
}

// logPassOutcome は同期パスの結果をログに記録する。
func (s *Service) logPassOutcome(link *model.UserLink, result *PassResult, err error) {
	if err != nil {
		s.logger.Error("同期パスに失敗しました",
			slog.String("pryv_endpoint", link.PryvEndpoint),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("同期パスが完了しました",
		slog.String("pryv_endpoint", link.PryvEndpoint),
		slog.String("granularity", string(result.Granularity)),
		slog.Int("event_count", result.EventCount),
		slog.Int("stream_count", result.StreamCount),
		slog.Int("leftover_count", result.LeftoverCount),
	)
}
