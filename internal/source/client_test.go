package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testCreds() Credentials {
	return Credentials{AuthUser: "user", AuthPassword: "pass", AppID: "app-1"}
}

func testWindow(g model.Granularity) model.SyncWindow {
	return model.SyncWindow{
		Start:       time.Date(2019, 8, 21, 21, 17, 0, 500_000_000, time.UTC),
		End:         time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC),
		Granularity: g,
	}
}

// TestDynamicValues_EndpointAndRequestShape は粒度によるエンドポイント選択と
// リクエスト形式（Basic認証、appID、秒精度UTCタイムスタンプ）を検証する。
func TestDynamicValues_EndpointAndRequestShape(t *testing.T) {
	tests := []struct {
		name        string
		granularity model.Granularity
		wantPath    string
	}{
		{"daily", model.GranularityDaily, "/dailyDynamicValues"},
		{"intraday", model.GranularityIntraday, "/dynamicValues"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotToken, gotStart, gotEnd, gotAppID string
			var gotUser, gotPass string

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotUser, gotPass, _ = r.BasicAuth()
				gotAppID = r.Header.Get("appID")
				if err := r.ParseForm(); err != nil {
					t.Fatalf("ParseForm: %v", err)
				}
				gotToken = r.PostForm.Get("authenticationToken")
				gotStart = r.PostForm.Get("startTimestamp")
				gotEnd = r.PostForm.Get("endTimestamp")

				w.Write([]byte(`[{"dataSources":[{"dataSource":1,"data":[]}]}]`))
			}))
			defer server.Close()

			client := NewClient(server.Client(), testLogger(), server.URL, testCreds())

			batch, err := client.DynamicValues(context.Background(), "tok123", testWindow(tt.granularity))
			if err != nil {
				t.Fatalf("DynamicValues returned error: %v", err)
			}
			if len(batch.Groups) != 1 || batch.Groups[0].SourceCode != 1 {
				t.Errorf("batch groups = %+v, want one group for source 1", batch.Groups)
			}

			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotToken != "tok123" {
				t.Errorf("authenticationToken = %q, want %q", gotToken, "tok123")
			}
			if gotStart != "2019-08-21T21:17:00Z" {
				t.Errorf("startTimestamp = %q, want second-truncated UTC", gotStart)
			}
			if gotEnd != "2019-09-01T00:00:00Z" {
				t.Errorf("endTimestamp = %q, want %q", gotEnd, "2019-09-01T00:00:00Z")
			}
			if gotUser != "user" || gotPass != "pass" {
				t.Errorf("basic auth = %q/%q, want user/pass", gotUser, gotPass)
			}
			if gotAppID != "app-1" {
				t.Errorf("appID header = %q, want %q", gotAppID, "app-1")
			}
		})
	}
}

// TestDynamicValues_ParsesDataPoints はレスポンスの計測値がパースされることを検証する。
func TestDynamicValues_ParsesDataPoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"dataSources":[
			{"dataSource":9,"data":[
				{"dynamicValueType":1000,"value":"8450","startTimestamp":"2019-08-21T21:17:00Z"},
				{"dynamicValueType":2040,"value":"71","startTimestamp":1566422220}
			]}
		]}]`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), server.URL, testCreds())

	batch, err := client.DynamicValues(context.Background(), "tok", testWindow(model.GranularityDaily))
	if err != nil {
		t.Fatalf("DynamicValues returned error: %v", err)
	}

	data := batch.Groups[0].Data
	if len(data) != 2 {
		t.Fatalf("data points = %d, want 2", len(data))
	}
	want := time.Date(2019, 8, 21, 21, 17, 0, 0, time.UTC)
	if !data[0].StartTimestamp.Time().Equal(want) {
		t.Errorf("ISO timestamp = %v, want %v", data[0].StartTimestamp.Time(), want)
	}
	// エポック秒表現も同一のtime.Timeへ正規化される
	if !data[1].StartTimestamp.Time().Equal(time.Unix(1566422220, 0).UTC()) {
		t.Errorf("epoch timestamp = %v, want %v", data[1].StartTimestamp.Time(), time.Unix(1566422220, 0).UTC())
	}
}

// TestDynamicValues_MalformedResponses は期待構造を欠くレスポンスが
// ErrSourceMalformedResponseとして区別されることを検証する。
func TestDynamicValues_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty array", `[]`},
		{"missing dataSources", `[{"other":1}]`},
		{"group without data", `[{"dataSources":[{"dataSource":1}]}]`},
		{"not JSON", `oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.Client(), testLogger(), server.URL, testCreds())

			_, err := client.DynamicValues(context.Background(), "tok", testWindow(model.GranularityDaily))
			if !errors.Is(err, model.ErrSourceMalformedResponse) {
				t.Errorf("error = %v, want ErrSourceMalformedResponse", err)
			}
		})
	}
}

// TestDynamicValues_Unavailable は接続失敗とエラーステータスが
// ErrSourceUnavailableとして区別されることを検証する。
func TestDynamicValues_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), server.URL, testCreds())

	_, err := client.DynamicValues(context.Background(), "tok", testWindow(model.GranularityIntraday))
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}

	// 接続先が存在しない場合
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	client = NewClient(&http.Client{Timeout: time.Second}, testLogger(), closedURL, testCreds())
	_, err = client.DynamicValues(context.Background(), "tok", testWindow(model.GranularityIntraday))
	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
}

// TestUserInfo はユーザー情報取得がレスポンス先頭要素を返すことを検証する。
func TestUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userInfo" {
			t.Errorf("path = %q, want /userInfo", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"u1","dataSources":[1,9]}]`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), server.URL, testCreds())

	info, err := client.UserInfo(context.Background(), "tok")
	if err != nil {
		t.Fatalf("UserInfo returned error: %v", err)
	}
	if string(info) != `{"id":"u1","dataSources":[1,9]}` {
		t.Errorf("info = %s, want first record", info)
	}
}
