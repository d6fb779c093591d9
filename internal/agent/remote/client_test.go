package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"
)

func TestClient_Push(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/packet_capture/" {
			t.Errorf("Expected path /packet_capture/, got %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization=%q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"ip":"1.2.3.4"}` {
			t.Errorf("body=%s", body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewClient(server.URL, "Token", "secret", time.Second)
	if err := c.Push(context.Background(), netip.MustParseAddr("1.2.3.4")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
}

func TestClient_PushDuplicateAndFailure(t *testing.T) {
	status := http.StatusBadRequest
	body := `{"error": "Duplicate packet for this user."}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "Bearer", "t", time.Second)
	ip := netip.MustParseAddr("5.6.7.8")
	if err := c.Push(context.Background(), ip); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: got %v", err)
	}

	body = `{"error": "IP or URL is required."}`
	if err := c.Push(context.Background(), ip); !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("bad request: got %v", err)
	}

	status = http.StatusInternalServerError
	if err := c.Push(context.Background(), ip); !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("server error: got %v", err)
	}
}

func TestClient_GetMyBlacklist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings/myblacklist/" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("Authorization=%q", got)
		}
		w.Write([]byte(`{"myblacklists": [
			{"blacklist_entry__capturedpacket_entry__ip": "1.2.3.4", "blacklist_entry__capturedpacket_entry__url": "bad.example"},
			{"blacklist_entry__ip": "9.9.9.9", "blacklist_entry__url": null}
		]}`))
	}))
	defer server.Close()

	entries, err := NewClient(server.URL, "Bearer", "abc", time.Second).GetMyBlacklist(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].IP != "1.2.3.4" || entries[0].URL != "bad.example" || entries[1].IP != "9.9.9.9" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestClient_GetSettings(t *testing.T) {
	cases := []struct {
		body    string
		want    RemoteSettings
		wantErr bool
	}{
		{`{"mlPercentage": 40, "mlCaution": 0.85}`, RemoteSettings{40, 0.85}, false},
		{`{"mlPercentage": 100, "mlCaution": "0.90"}`, RemoteSettings{100, 0.9}, false},
		{`{"mlPercentage": 100, "mlCaution": 1.7}`, RemoteSettings{}, true},
		{`{"mlPercentage": 100}`, RemoteSettings{}, true},
		{`not json`, RemoteSettings{}, true},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/settings/pi/get" {
				t.Errorf("path=%s", r.URL.Path)
			}
			w.Write([]byte(tc.body))
		}))
		got, err := NewClient(server.URL, "", "", time.Second).GetSettings(context.Background())
		server.Close()

		if tc.wantErr {
			if !errors.Is(err, ErrSyncFailed) {
				t.Errorf("%s: got %v", tc.body, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s: got %+v err=%v", tc.body, got, err)
		}
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, "Token", "x", 200*time.Millisecond)
	if _, err := c.GetMyBlacklist(context.Background()); !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("got %v", err)
	}
}
