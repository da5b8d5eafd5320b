package target

import (
	"context"
	"encoding/json"
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

// TestPostStreamsAndEvents はストリーム先行のバッチ呼び出しが
// 期待するワイヤ形式で送信されることを検証する。
func TestPostStreamsAndEvents(t *testing.T) {
	var gotBody []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), 1<<20)

	streams := []model.Stream{
		{ID: "thryve", Name: "Thryve"},
		{ID: "thryve-fitbit", Name: "Fitbit", ParentID: "thryve"},
	}
	events := []model.Event{
		{
			StreamIDs: []string{"thryve-fitbit-steps"},
			Type:      "count/steps",
			Content:   int64(100),
			Time:      time.Date(2019, 8, 21, 21, 17, 0, 0, time.UTC),
			Duration:  time.Minute,
		},
	}

	if err := client.PostStreamsAndEvents(context.Background(), server.URL, streams, events); err != nil {
		t.Fatalf("PostStreamsAndEvents returned error: %v", err)
	}

	if len(gotBody) != 3 {
		t.Fatalf("batch calls = %d, want 3", len(gotBody))
	}
	if gotBody[0]["method"] != "streams.create" || gotBody[1]["method"] != "streams.create" {
		t.Errorf("calls 0-1 = %v, %v, want streams.create first", gotBody[0]["method"], gotBody[1]["method"])
	}
	if gotBody[2]["method"] != "events.create" {
		t.Errorf("call 2 = %v, want events.create", gotBody[2]["method"])
	}

	params := gotBody[2]["params"].(map[string]any)
	if params["time"] != float64(1566422220) {
		t.Errorf("event time = %v, want 1566422220 (epoch seconds)", params["time"])
	}
	if params["duration"] != float64(60) {
		t.Errorf("event duration = %v, want 60 seconds", params["duration"])
	}
}

// TestPostStreamsAndEvents_EmptyEvents はイベント0件でもストリームのみの
// バッチが送信されることを検証する（ストリーム登録の一貫性維持）。
func TestPostStreamsAndEvents_EmptyEvents(t *testing.T) {
	var callCount int
	var gotBody []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), 1<<20)

	streams := []model.Stream{{ID: "thryve", Name: "Thryve"}}
	if err := client.PostStreamsAndEvents(context.Background(), server.URL, streams, nil); err != nil {
		t.Fatalf("PostStreamsAndEvents returned error: %v", err)
	}

	if callCount != 1 {
		t.Errorf("call count = %d, want 1", callCount)
	}
	if len(gotBody) != 1 || gotBody[0]["method"] != "streams.create" {
		t.Errorf("batch = %v, want single streams.create", gotBody)
	}
}

// TestPostStreamsAndEvents_Unavailable はエラーステータスが
// ErrTargetUnavailableとしてラップされることを検証する。
func TestPostStreamsAndEvents_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), 1<<20)

	err := client.PostStreamsAndEvents(context.Background(), server.URL, nil, nil)
	if !errors.Is(err, model.ErrTargetUnavailable) {
		t.Errorf("error = %v, want ErrTargetUnavailable", err)
	}
}

// TestLastSyncTime は最終同期時刻の照会を検証する。
func TestLastSyncTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" || r.URL.Query().Get("limit") != "1" {
			t.Errorf("request = %q, want /events?limit=1", r.URL.String())
		}
		w.Write([]byte(`{"events":[{"time":1566422220.5}]}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), 1<<20)

	got, err := client.LastSyncTime(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("LastSyncTime returned error: %v", err)
	}
	if got != 1566422220 {
		t.Errorf("last sync time = %d, want 1566422220", got)
	}
}

// TestLastSyncTime_NoEvents はイベントが存在しない場合に0を返すことを検証する。
func TestLastSyncTime_NoEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), testLogger(), 1<<20)

	got, err := client.LastSyncTime(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("LastSyncTime returned error: %v", err)
	}
	if got != 0 {
		t.Errorf("last sync time = %d, want 0", got)
	}
}
