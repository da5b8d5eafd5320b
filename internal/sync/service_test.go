package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

// --- モック ---

type mockRepo struct {
	mu    stdsync.Mutex
	links map[string]*model.UserLink // thryve_tokenキー

	lastSyncUpdates []time.Time
	upsertFn        func(ctx context.Context, link *model.UserLink) error
	listDueFn       func(ctx context.Context, olderThan time.Time) ([]*model.UserLink, error)
}

func newMockRepo(links ...*model.UserLink) *mockRepo {
	m := &mockRepo{links: make(map[string]*model.UserLink)}
	for _, l := range links {
		m.links[l.ThryveToken] = l
	}
	return m
}

func (m *mockRepo) Upsert(ctx context.Context, link *model.UserLink) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, link)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.ThryveToken] = link
	return nil
}

func (m *mockRepo) FindByPryvEndpoint(ctx context.Context, endpoint string) (*model.UserLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.PryvEndpoint == endpoint {
			return l, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByThryveToken(ctx context.Context, token string) (*model.UserLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[token], nil
}

func (m *mockRepo) UpdateLastSync(ctx context.Context, id string, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSyncUpdates = append(m.lastSyncUpdates, syncedAt)
	return nil
}

func (m *mockRepo) ListDueForSync(ctx context.Context, olderThan time.Time) ([]*model.UserLink, error) {
	if m.listDueFn != nil {
		return m.listDueFn(ctx, olderThan)
	}
	return nil, nil
}

type mockSource struct {
	mu      stdsync.Mutex
	windows []model.SyncWindow
	fetchFn func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error)
}

func (m *mockSource) DynamicValues(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
	m.mu.Lock()
	m.windows = append(m.windows, window)
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx, token, window)
	}
	return &model.Batch{Groups: []model.DataSourceGroup{}}, nil
}

func (m *mockSource) calls(g model.Granularity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.windows {
		if w.Granularity == g {
			n++
		}
	}
	return n
}

type pushCall struct {
	endpoint string
	streams  []model.Stream
	events   []model.Event
}

type mockTarget struct {
	mu         stdsync.Mutex
	pushes     []pushCall
	pushFn     func(ctx context.Context, endpoint string, streams []model.Stream, events []model.Event) error
	lastSyncFn func(ctx context.Context, endpoint string) (int64, error)
}

func (m *mockTarget) PostStreamsAndEvents(ctx context.Context, endpoint string, streams []model.Stream, events []model.Event) error {
	m.mu.Lock()
	m.pushes = append(m.pushes, pushCall{endpoint: endpoint, streams: streams, events: events})
	m.mu.Unlock()
	if m.pushFn != nil {
		return m.pushFn(ctx, endpoint, streams, events)
	}
	return nil
}

func (m *mockTarget) LastSyncTime(ctx context.Context, endpoint string) (int64, error) {
	if m.lastSyncFn != nil {
		return m.lastSyncFn(ctx, endpoint)
	}
	return 0, nil
}

// mockMetrics はメトリクス収集の呼び出しを握りつぶすダミー実装。
type mockMetrics struct{}

func (mockMetrics) RecordPassSuccess(string)         {}
func (mockMetrics) RecordPassFailure(string, string) {}
func (mockMetrics) RecordEventsPushed(int)           {}
func (mockMetrics) RecordLeftoverCombinations(int)   {}
func (mockMetrics) RecordPassLatency(time.Duration)  {}
func (mockMetrics) RecordTriggerIgnored(string)      {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testLink() *model.UserLink {
	return &model.UserLink{
		ID:           "link-1",
		PryvEndpoint: "https://ex.pryv/u1",
		ThryveToken:  "T1",
	}
}

func newTestService(repo *mockRepo, src *mockSource, tgt *mockTarget) *Service {
	return NewService(repo, src, tgt, mockMetrics{}, testLogger(), ServiceConfig{
		MaxConcurrent: 4,
		BacklogAge:    time.Hour,
	})
}

func stepsBatch() *model.Batch {
	return &model.Batch{Groups: []model.DataSourceGroup{
		{
			SourceCode: 1,
			Data: []model.DataPoint{
				{
					DynamicValueType: 1000,
					Value:            "100",
					StartTimestamp:   model.NewProviderTime(time.Date(2019, 8, 22, 0, 0, 0, 0, time.UTC)),
				},
				{
					DynamicValueType: 1000,
					Value:            "200",
					StartTimestamp:   model.NewProviderTime(time.Date(2019, 8, 23, 0, 0, 0, 0, time.UTC)),
				},
			},
		},
	}}
}

// --- テスト ---

// TestHandleTrigger_MinuteRunsExactlyOneIntradayPass はMINUTEトリガーが
// 宣言区間で分単位パスをちょうど1回実行し、日次パスを実行しないことを検証する。
func TestHandleTrigger_MinuteRunsExactlyOneIntradayPass(t *testing.T) {
	repo := newMockRepo(testLink())
	src := &mockSource{}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	start := time.Date(2019, 8, 21, 21, 17, 0, 0, time.UTC)
	end := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)

	result, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
		AuthenticationToken: "T1",
		DataSource:          "8",
		StartTimestamp:      model.NewProviderTime(start),
		EndTimestamp:        model.NewProviderTime(end),
		UpdateType:          model.UpdateTypeMinute,
	})
	if err != nil {
		t.Fatalf("HandleTrigger returned error: %v", err)
	}
	if !result.Synced {
		t.Error("result.Synced = false, want true")
	}
	if result.IntradayErr != nil {
		t.Errorf("intraday pass failed: %v", result.IntradayErr)
	}
	if result.Daily != nil || result.DailyErr != nil {
		t.Error("daily pass was executed for MINUTE trigger")
	}

	if got := src.calls(model.GranularityIntraday); got != 1 {
		t.Errorf("intraday fetches = %d, want 1", got)
	}
	if got := src.calls(model.GranularityDaily); got != 0 {
		t.Errorf("daily fetches = %d, want 0", got)
	}
	if !src.windows[0].Start.Equal(start) || !src.windows[0].End.Equal(end) {
		t.Errorf("fetch window = [%v, %v), want [%v, %v)", src.windows[0].Start, src.windows[0].End, start, end)
	}
}

// TestHandleTrigger_BothSurfacesBothResults はBOTHトリガーで日次パスが失敗し
// 分単位パスが成功した場合に、両方の結果が独立して報告されることを検証する。
func TestHandleTrigger_BothSurfacesBothResults(t *testing.T) {
	repo := newMockRepo(testLink())
	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			if window.Granularity == model.GranularityDaily {
				return nil, model.ErrSourceUnavailable
			}
			return stepsBatch(), nil
		},
	}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	result, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
		AuthenticationToken: "T1",
		StartTimestamp:      model.NewProviderTime(time.Date(2019, 8, 21, 0, 0, 0, 0, time.UTC)),
		EndTimestamp:        model.NewProviderTime(time.Date(2019, 8, 24, 0, 0, 0, 0, time.UTC)),
		UpdateType:          model.UpdateTypeBoth,
	})
	if err != nil {
		t.Fatalf("HandleTrigger returned error: %v", err)
	}

	if result.DailyErr == nil {
		t.Error("daily error = nil, want fetch failure")
	}
	var stageErr *StageError
	if !errors.As(result.DailyErr, &stageErr) || stageErr.Stage != "fetch" {
		t.Errorf("daily error = %v, want StageError at fetch stage", result.DailyErr)
	}

	if result.IntradayErr != nil {
		t.Errorf("intraday error = %v, want nil", result.IntradayErr)
	}
	if result.Intraday == nil || result.Intraday.EventCount != 2 {
		t.Errorf("intraday result = %+v, want 2 events", result.Intraday)
	}

	// 集約エラーは失敗を伝えるが、成功側の結果は隠れない
	if result.Err() == nil {
		t.Error("aggregate error = nil, want daily failure surfaced")
	}
}

// TestHandleTrigger_NewAndDeletedNeverInvokeClients はNEW/DELETEDトリガーが
// Source/Targetのどちらも呼び出さないことを検証する。
func TestHandleTrigger_NewAndDeletedNeverInvokeClients(t *testing.T) {
	for _, updateType := range []model.UpdateType{model.UpdateTypeNew, model.UpdateTypeDeleted} {
		t.Run(string(updateType), func(t *testing.T) {
			repo := newMockRepo(testLink())
			src := &mockSource{}
			tgt := &mockTarget{}
			svc := newTestService(repo, src, tgt)

			result, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
				AuthenticationToken: "T1",
				DataSource:          "9",
				UpdateType:          updateType,
			})
			if err != nil {
				t.Fatalf("HandleTrigger returned error: %v", err)
			}
			if result.Synced {
				t.Error("result.Synced = true, want false")
			}
			if len(src.windows) != 0 {
				t.Errorf("source fetches = %d, want 0", len(src.windows))
			}
			if len(tgt.pushes) != 0 {
				t.Errorf("target pushes = %d, want 0", len(tgt.pushes))
			}
		})
	}
}

// TestHandleTrigger_UnknownUpdateTypeIgnored は未知のupdateTypeがエラーにならず、
// どのクライアントも呼び出さないことを検証する。
func TestHandleTrigger_UnknownUpdateTypeIgnored(t *testing.T) {
	repo := newMockRepo(testLink())
	src := &mockSource{}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	result, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
		AuthenticationToken: "T1",
		UpdateType:          "SOMETHING_NEW",
	})
	if err != nil {
		t.Fatalf("HandleTrigger returned error for unknown type: %v", err)
	}
	if result.Synced {
		t.Error("result.Synced = true, want false")
	}
	if len(src.windows) != 0 || len(tgt.pushes) != 0 {
		t.Error("clients were invoked for unknown update type")
	}
}

// TestHandleTrigger_UnknownUser は未登録トークンのトリガーがErrUnknownUserに
// なることを検証する。
func TestHandleTrigger_UnknownUser(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockSource{}, &mockTarget{})

	_, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
		AuthenticationToken: "unknown-token",
		UpdateType:          model.UpdateTypeDaily,
	})
	if !errors.Is(err, model.ErrUnknownUser) {
		t.Errorf("error = %v, want ErrUnknownUser", err)
	}
}

// TestHandleTrigger_RejectsConcurrentSyncForSameUser は同一ユーザーの同期が
// 実行中の場合にErrSyncInProgressで拒否されることを検証する。
func TestHandleTrigger_RejectsConcurrentSyncForSameUser(t *testing.T) {
	link := testLink()
	svc := newTestService(newMockRepo(link), &mockSource{}, &mockTarget{})

	if !svc.inflight.acquire(link.PryvEndpoint) {
		t.Fatal("failed to acquire inflight slot for test setup")
	}
	defer svc.inflight.release(link.PryvEndpoint)

	_, err := svc.HandleTrigger(context.Background(), model.TriggerEvent{
		AuthenticationToken: "T1",
		UpdateType:          model.UpdateTypeDaily,
	})
	if !errors.Is(err, model.ErrSyncInProgress) {
		t.Errorf("error = %v, want ErrSyncInProgress", err)
	}
}

// TestRunPass_EmptyFetchCompletes は空のフェッチ結果（データソース0件）でも
// パスがイベント0件で正常完了することを検証する。
func TestRunPass_EmptyFetchCompletes(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	window := model.SyncWindow{
		Start:       time.Date(2019, 8, 21, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2019, 8, 22, 0, 0, 0, 0, time.UTC),
		Granularity: model.GranularityDaily,
	}

	result, err := svc.RunPass(context.Background(), testLink(), window)
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.EventCount != 0 || result.StreamCount != 0 {
		t.Errorf("result = %+v, want zero events and streams", result)
	}
	// 送るものがない場合はプッシュ自体を省略する
	if len(tgt.pushes) != 0 {
		t.Errorf("pushes = %d, want 0 for empty batch", len(tgt.pushes))
	}
}

// TestRunPass_FetchFailureAbortsBeforePush はフェッチ失敗時に部分的なプッシュが
// 発生せず、last_syncも更新されないことを検証する。
func TestRunPass_FetchFailureAbortsBeforePush(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			return nil, model.ErrSourceUnavailable
		},
	}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	_, err := svc.RunPass(context.Background(), testLink(), model.SyncWindow{
		Start: time.Unix(0, 0), End: time.Now(), Granularity: model.GranularityIntraday,
	})

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "fetch" {
		t.Fatalf("error = %v, want StageError at fetch stage", err)
	}
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("error does not wrap ErrSourceUnavailable: %v", err)
	}
	if len(tgt.pushes) != 0 {
		t.Errorf("pushes = %d, want 0 after fetch failure", len(tgt.pushes))
	}
	if len(repo.lastSyncUpdates) != 0 {
		t.Errorf("last_sync updates = %d, want 0 after failure", len(repo.lastSyncUpdates))
	}
}

// TestRunPass_PushFailureDoesNotAdvanceLastSync はプッシュ失敗時にlast_syncが
// 更新されないことを検証する。フェッチ済みデータは保存されず、リトライは再フェッチとなる。
func TestRunPass_PushFailureDoesNotAdvanceLastSync(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			return stepsBatch(), nil
		},
	}
	tgt := &mockTarget{
		pushFn: func(ctx context.Context, endpoint string, streams []model.Stream, events []model.Event) error {
			return model.ErrTargetUnavailable
		},
	}
	svc := newTestService(repo, src, tgt)

	_, err := svc.RunPass(context.Background(), testLink(), model.SyncWindow{
		Start: time.Unix(0, 0), End: time.Now(), Granularity: model.GranularityDaily,
	})

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "push" {
		t.Fatalf("error = %v, want StageError at push stage", err)
	}
	if !errors.Is(err, model.ErrTargetUnavailable) {
		t.Errorf("error does not wrap ErrTargetUnavailable: %v", err)
	}
	if len(repo.lastSyncUpdates) != 0 {
		t.Errorf("last_sync updates = %d, want 0 after push failure", len(repo.lastSyncUpdates))
	}
}

// TestRunPass_DeduplicatesStreamsAndAdvancesLastSync は同一ストリームへ変換される
// 複数の計測値でストリームが1回だけ送られ、成功時にlast_syncが区間終端まで
// 前進することを検証する。
func TestRunPass_DeduplicatesStreamsAndAdvancesLastSync(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			return stepsBatch(), nil
		},
	}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	end := time.Date(2019, 8, 24, 0, 0, 0, 0, time.UTC)
	result, err := svc.RunPass(context.Background(), testLink(), model.SyncWindow{
		Start:       time.Date(2019, 8, 21, 0, 0, 0, 0, time.UTC),
		End:         end,
		Granularity: model.GranularityDaily,
	})
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}

	if result.EventCount != 2 {
		t.Errorf("event count = %d, want 2", result.EventCount)
	}
	// 2つの計測値は同じ階層（thryve → fitbit → steps）に属する
	if result.StreamCount != 3 {
		t.Errorf("stream count = %d, want 3 deduplicated streams", result.StreamCount)
	}

	if len(tgt.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(tgt.pushes))
	}
	seen := make(map[string]bool)
	for _, s := range tgt.pushes[0].streams {
		if seen[s.ID] {
			t.Errorf("duplicate stream id pushed: %s", s.ID)
		}
		seen[s.ID] = true
	}

	if len(repo.lastSyncUpdates) != 1 || !repo.lastSyncUpdates[0].Equal(end) {
		t.Errorf("last_sync updates = %v, want single update to %v", repo.lastSyncUpdates, end)
	}
}

// TestRunPass_UnmappableRecordsNeverFailBatch は変換できない計測値が混在しても
// パス全体は成功し、変換可能な分だけがプッシュされることを検証する。
func TestRunPass_UnmappableRecordsNeverFailBatch(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			return &model.Batch{Groups: []model.DataSourceGroup{
				{
					SourceCode: 9,
					Data: []model.DataPoint{
						{DynamicValueType: 9999, Value: "??", StartTimestamp: model.NewProviderTime(time.Now())},
						{DynamicValueType: 1000, Value: "50", StartTimestamp: model.NewProviderTime(time.Now())},
					},
				},
			}}, nil
		},
	}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	result, err := svc.RunPass(context.Background(), testLink(), model.SyncWindow{
		Start: time.Unix(0, 0), End: time.Now(), Granularity: model.GranularityDaily,
	})
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.EventCount != 1 {
		t.Errorf("event count = %d, want 1", result.EventCount)
	}
	if result.LeftoverCount != 1 {
		t.Errorf("leftover count = %d, want 1", result.LeftoverCount)
	}
}

// TestInitUser_RunsBothPassesFromLastSyncTime は初回同期がPryv側の最終同期時刻を
// 起点に日次・分単位の両パスを実行することを検証する。
func TestInitUser_RunsBothPassesFromLastSyncTime(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{}
	tgt := &mockTarget{
		lastSyncFn: func(ctx context.Context, endpoint string) (int64, error) {
			return 1566422220, nil
		},
	}
	svc := newTestService(repo, src, tgt)

	if err := svc.InitUser(context.Background(), testLink()); err != nil {
		t.Fatalf("InitUser returned error: %v", err)
	}

	if got := src.calls(model.GranularityDaily); got != 1 {
		t.Errorf("daily fetches = %d, want 1", got)
	}
	if got := src.calls(model.GranularityIntraday); got != 1 {
		t.Errorf("intraday fetches = %d, want 1", got)
	}

	wantStart := time.Unix(1566422220, 0).UTC()
	for _, w := range src.windows {
		if !w.Start.Equal(wantStart) {
			t.Errorf("window start = %v, want %v", w.Start, wantStart)
		}
		if !w.End.After(wantStart) {
			t.Errorf("window end = %v, want after start", w.End)
		}
	}
}

// TestInitUser_EpochDefaultWhenNeverSynced はPryv側にイベントがない場合に
// エポックを起点とすることを検証する。
func TestInitUser_EpochDefaultWhenNeverSynced(t *testing.T) {
	src := &mockSource{}
	svc := newTestService(newMockRepo(), src, &mockTarget{})

	if err := svc.InitUser(context.Background(), testLink()); err != nil {
		t.Fatalf("InitUser returned error: %v", err)
	}

	epoch := time.Unix(0, 0).UTC()
	for _, w := range src.windows {
		if !w.Start.Equal(epoch) {
			t.Errorf("window start = %v, want epoch", w.Start)
		}
	}
}

// TestRegisterUser_CreatesLinkAndRunsInitialSync は登録直後に同一トークンで
// 逆引きでき、初回同期がちょうど1回実行されることを検証する。
func TestRegisterUser_CreatesLinkAndRunsInitialSync(t *testing.T) {
	repo := newMockRepo()
	src := &mockSource{}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	link, err := svc.RegisterUser(context.Background(), "https://ex.pryv/u1", "tok123")
	if err != nil {
		t.Fatalf("RegisterUser returned error: %v", err)
	}
	if link.PryvEndpoint != "https://ex.pryv/u1" {
		t.Errorf("link endpoint = %q, want %q", link.PryvEndpoint, "https://ex.pryv/u1")
	}
	if link.ID == "" {
		t.Error("link ID is empty")
	}

	found, err := repo.FindByThryveToken(context.Background(), "tok123")
	if err != nil || found == nil {
		t.Fatalf("FindByThryveToken after register = (%v, %v), want link", found, err)
	}
	if found.PryvEndpoint != "https://ex.pryv/u1" {
		t.Errorf("looked-up endpoint = %q, want %q", found.PryvEndpoint, "https://ex.pryv/u1")
	}

	// 初回同期 = 日次1回 + 分単位1回
	if got := src.calls(model.GranularityDaily); got != 1 {
		t.Errorf("daily fetches = %d, want 1", got)
	}
	if got := src.calls(model.GranularityIntraday); got != 1 {
		t.Errorf("intraday fetches = %d, want 1", got)
	}
}

// TestCheckAllUsers_IsolatesFailureDomains は1ユーザーの失敗が他ユーザーの
// 同期を中断しないことを検証する。
func TestCheckAllUsers_IsolatesFailureDomains(t *testing.T) {
	good := &model.UserLink{ID: "l1", PryvEndpoint: "https://ex.pryv/good", ThryveToken: "good"}
	bad := &model.UserLink{ID: "l2", PryvEndpoint: "https://ex.pryv/bad", ThryveToken: "bad"}

	repo := newMockRepo(good, bad)
	repo.listDueFn = func(ctx context.Context, olderThan time.Time) ([]*model.UserLink, error) {
		return []*model.UserLink{good, bad}, nil
	}

	src := &mockSource{
		fetchFn: func(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
			if token == "bad" {
				return nil, model.ErrSourceUnavailable
			}
			return stepsBatch(), nil
		},
	}
	tgt := &mockTarget{}
	svc := newTestService(repo, src, tgt)

	if err := svc.CheckAllUsers(context.Background()); err != nil {
		t.Fatalf("CheckAllUsers returned error: %v", err)
	}

	// 正常なユーザーのプッシュは成功している（日次・分単位の2回）
	tgt.mu.Lock()
	defer tgt.mu.Unlock()
	goodPushes := 0
	for _, p := range tgt.pushes {
		if p.endpoint == good.PryvEndpoint {
			goodPushes++
		}
	}
	if goodPushes != 2 {
		t.Errorf("pushes for healthy user = %d, want 2", goodPushes)
	}
}
