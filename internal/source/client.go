// Package source はThryve API（Source Provider）のクライアントを提供する。
// 日次集計と分単位の2つの取得エンドポイントを粒度に応じて使い分ける。
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

// timestampLayout はThryve APIが要求するUTC秒精度のタイムスタンプ形式。
const timestampLayout = "2006-01-02T15:04:05Z"

// Credentials はThryve APIの認証情報（Basic認証とappID）を保持する。
type Credentials struct {
	AuthUser     string
	AuthPassword string
	AppID        string
}

// Client はThryve APIのクライアント。
// リトライは行わない。リトライ方針はオーケストレーター側の責務となる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	creds      Credentials
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, creds Credentials) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
	}
}

// dynamicValuesResponse はThryveの取得系エンドポイントのトップレベル構造。
type dynamicValuesResponse []struct {
	DataSources []model.DataSourceGroup `json:"dataSources"`
}

// DynamicValues は指定区間の計測値を取得する。
// window.Granularityにより日次集計エンドポイントと分単位エンドポイントを選択する。
// 接続・認証失敗はErrSourceUnavailable、期待構造を欠くレスポンスは
// ErrSourceMalformedResponseとしてラップし、呼び出し元が区別できるようにする。
func (c *Client) DynamicValues(ctx context.Context, token string, window model.SyncWindow) (*model.Batch, error) {
	path := "/dynamicValues"
	if window.Granularity == model.GranularityDaily {
		path = "/dailyDynamicValues"
	}

	form := url.Values{}
	form.Set("authenticationToken", token)
	form.Set("startTimestamp", window.Start.UTC().Truncate(time.Second).Format(timestampLayout))
	form.Set("endTimestamp", window.End.UTC().Truncate(time.Second).Format(timestampLayout))

	body, err := c.postForm(ctx, path, form)
	if err != nil {
		return nil, err
	}

	var parsed dynamicValuesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error("Thryveレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: invalid JSON body", model.ErrSourceMalformedResponse)
	}

	if len(parsed) == 0 || parsed[0].DataSources == nil {
		return nil, fmt.Errorf("%w: missing dataSources list", model.ErrSourceMalformedResponse)
	}

	for _, group := range parsed[0].DataSources {
		if group.Data == nil {
			return nil, fmt.Errorf("%w: data source %d has no data list",
				model.ErrSourceMalformedResponse, group.SourceCode)
		}
	}

	return &model.Batch{Groups: parsed[0].DataSources}, nil
}

// UserInfo はトークンに紐付くThryveユーザー情報（接続済みソース一覧）を取得する。
func (c *Client) UserInfo(ctx context.Context, token string) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("authenticationToken", token)

	body, err := c.postForm(ctx, "/userInfo", form)
	if err != nil {
		return nil, err
	}

	var parsed []json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed) == 0 {
		return nil, fmt.Errorf("%w: missing user info record", model.ErrSourceMalformedResponse)
	}

	return parsed[0], nil
}

// postForm はThryve APIへフォームエンコードのPOSTを送り、レスポンスボディを返す。
// Basic認証とappIDヘッダーを全リクエストに付与する。
func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.SetBasicAuth(c.creds.AuthUser, c.creds.AuthPassword)
	req.Header.Set("appID", c.creds.AppID)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Thryve APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Thryve APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", model.ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", model.ErrSourceMalformedResponse)
	}

	return body, nil
}
