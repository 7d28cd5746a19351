package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func doAdmin(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminHealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	h := srv.AdminRouter()
	if rec := doAdmin(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	rec := doAdmin(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "minicraft_") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestAdminConfigUpdate(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	h := srv.AdminRouter()

	rec := doAdmin(t, h, http.MethodPost, "/admin/config", `{"antispamMessageCount": 7, "bandwidthMode": "high"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if srv.Antispam().MessageCount != 7 || srv.Antispam().IntervalSeconds != 4 {
		t.Fatalf("antispam = %+v", srv.Antispam())
	}
	if srv.BandwidthMode() != BandwidthHigh {
		t.Fatalf("bandwidth = %s", srv.BandwidthMode())
	}

	var got adminConfig
	rec = doAdmin(t, h, http.MethodGet, "/admin/config", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.MessageCount == nil || *got.MessageCount != 7 || got.BandwidthMode == nil || *got.BandwidthMode != "high" {
		t.Fatalf("config = %s", rec.Body.String())
	}

	for _, body := range []string{`{"bandwidthMode": "turbo"}`, `{"antispamMuteSeconds": -1}`, `not json`} {
		if rec := doAdmin(t, h, http.MethodPost, "/admin/config", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", body, rec.Code)
		}
	}
	if srv.Antispam().MuteSeconds != 5 {
		t.Fatalf("rejected update leaked: %+v", srv.Antispam())
	}
}

func TestAdminSessionsAndKick(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	h := srv.AdminRouter()
	alice := login(t, srv, "Alice")

	rec := doAdmin(t, h, http.MethodGet, "/admin/sessions", "")
	var sessions []sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Name != "Alice" || sessions[0].State != "online" || sessions[0].World != "main" {
		t.Fatalf("sessions = %s", rec.Body.String())
	}

	if rec := doAdmin(t, h, http.MethodPost, "/admin/kick", `{"name": "nobody"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("kick unknown = %d", rec.Code)
	}
	if rec := doAdmin(t, h, http.MethodPost, "/admin/kick", `{"name": "alice", "reason": "testing"}`); rec.Code != http.StatusOK {
		t.Fatalf("kick = %d", rec.Code)
	}
	if msg := alice.expectKick(); msg != "You were kicked by the console: testing" {
		t.Fatalf("kick message = %q", msg)
	}
	alice.waitDone()
	if alice.session.LeaveReason() != LeaveKick {
		t.Fatalf("leave reason = %s", alice.session.LeaveReason())
	}
}

func TestAdminSessionsDuringLogin(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)
	h := srv.AdminRouter()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	}()

	for _, name := range []string{"Alice", "Bob", "Carol"} {
		login(t, srv, name)
	}
	close(stop)
	wg.Wait()

	rec := doAdmin(t, h, http.MethodGet, "/admin/sessions", "")
	var sessions []sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("sessions = %s", rec.Body.String())
	}
}
