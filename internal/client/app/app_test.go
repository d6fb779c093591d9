package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRun_RendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" || r.URL.Query().Get("ip") != "1.2.3.4" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`[{"timestamp":"2024-05-01T12:00:00Z","src_ip":"1.2.3.4","dst_ip":"5.6.7.8","subject_ip":"1.2.3.4","confidence":0.95,"threshold":0.9,"exempt":false,"pushed":true}]`))
	}))
	defer server.Close()

	var out bytes.Buffer
	if err := Run(Config{Server: server.URL, IP: "1.2.3.4", Limit: 5, Out: &out}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := out.String()
	for _, want := range []string{"SUBJECT", "1.2.3.4", "5.6.7.8", "0.9500", "yes"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRun_Recent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recent") != "1" || r.URL.Query().Has("ip") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	if err := Run(Config{Server: server.URL, Recent: true, Out: &bytes.Buffer{}}); err != nil {
		t.Fatal(err)
	}
}

func TestRun_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"ip 参数非法"}`))
	}))
	defer server.Close()

	err := Run(Config{Server: server.URL, IP: "x", Out: &bytes.Buffer{}})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("got %v", err)
	}
}
