// Package target はPryv（Target Platform）のクライアントを提供する。
// ストリームとイベントのバッチ書き込みと、最終同期時刻の照会を行う。
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pryv/bridge-thryve/internal/model"
)

// Client はPryv APIのクライアント。
// エンドポイントURLはユーザー登録時に与えられる外部URLであるため、
// SSRF防止機能付きのHTTPクライアントを注入して使用する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	maxBodySize int64
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, maxBodySize int64) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// batchCall はPryvのバッチAPI呼び出し1件を表す。
type batchCall struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// eventParams はPryvのイベント書き込みワイヤ形式。
// 時刻はエポック秒（小数）で表現される。
type eventParams struct {
	StreamIDs []string `json:"streamIds"`
	Type      string   `json:"type"`
	Content   any      `json:"content"`
	Time      float64  `json:"time"`
	Duration  *float64 `json:"duration,omitempty"`
}

// PostStreamsAndEvents はストリームとイベントをバッチでPryvに書き込む。
// Pryv側はStream.IDおよびイベント同一性による冪等なUPSERTを行うため、
// 前回失敗後の再同期で重複データを送っても安全となる。
// 接続・認証失敗はErrTargetUnavailableとしてラップする。
func (c *Client) PostStreamsAndEvents(ctx context.Context, endpoint string, streams []model.Stream, events []model.Event) error {
	calls := make([]batchCall, 0, len(streams)+len(events))

	// ストリームを先に登録する。イベントが参照するIDは登録済みでなければならない。
	for _, s := range streams {
		calls = append(calls, batchCall{Method: "streams.create", Params: s})
	}
	for _, e := range events {
		params := eventParams{
			StreamIDs: e.StreamIDs,
			Type:      e.Type,
			Content:   e.Content,
			Time:      float64(e.Time.UnixMilli()) / 1000,
		}
		if e.Duration > 0 {
			d := e.Duration.Seconds()
			params.Duration = &d
		}
		calls = append(calls, batchCall{Method: "events.create", Params: params})
	}

	body, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("バッチリクエストのエンコードに失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(endpoint, "/")+"/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Pryv APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("stream_count", len(streams)),
			slog.Int("event_count", len(events)),
		)
		return fmt.Errorf("%w: %v", model.ErrTargetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Pryv APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", model.ErrTargetUnavailable, resp.StatusCode)
	}

	// ボディは確認のみ。既存ストリーム・イベントに対するitem-already-existsは
	// 冪等UPSERTの正常系として扱う。
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodySize)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrTargetUnavailable, err)
	}

	return nil
}

// lastSyncResponse は最終同期時刻照会のレスポンス構造。
type lastSyncResponse struct {
	Events []struct {
		Time float64 `json:"time"`
	} `json:"events"`
}

// LastSyncTime はPryvエンドポイントの最終同期時刻をエポック秒で返す。
// イベントが存在しない場合は0を返す（呼び出し元がエポック既定値として扱う）。
func (c *Client) LastSyncTime(ctx context.Context, endpoint string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(endpoint, "/")+"/events?limit=1", nil)
	if err != nil {
		return 0, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrTargetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", model.ErrTargetUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrTargetUnavailable, err)
	}

	var parsed lastSyncResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("%w: invalid JSON body", model.ErrTargetUnavailable)
	}
	if len(parsed.Events) == 0 {
		return 0, nil
	}

	return int64(parsed.Events[0].Time), nil
}
