package collector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/pbxmon/internal/config"
	"github.com/danmuck/pbxmon/internal/pbx"
	"github.com/danmuck/pbxmon/internal/testutil/testlog"
)

func testAPIService(t *testing.T, token string) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Collector.CacheDir = t.TempDir()
	cfg.API.AuthToken = token
	cfg.Targets = []config.TargetConfig{{
		Name: "pbx01", Addr: "10.0.0.1:5038", Username: "u", Secret: "p",
	}}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	err = svc.Store().Write(pbx.Snapshot{
		Target:      "pbx01",
		CollectedAt: time.Now().UTC(),
		Endpoints:   []pbx.Endpoint{{Tech: "PJSIP", Name: "6001", Online: true}},
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	return svc
}

func doRequest(t *testing.T, svc *Service, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthRoute(t *testing.T) {
	testlog.Start(t)

	rec := doRequest(t, testAPIService(t, ""), "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service"] != "pbxmon-collector" || body["targets"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusRoute(t *testing.T) {
	testlog.Start(t)

	rec := doRequest(t, testAPIService(t, ""), "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Overall string `json:"overall"`
		Targets []struct {
			Target string `json:"target"`
			State  string `json:"state"`
		} `json:"targets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Overall != "ok" || len(body.Targets) != 1 || body.Targets[0].State != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestSnapshotRoute(t *testing.T) {
	testlog.Start(t)

	svc := testAPIService(t, "")
	rec := doRequest(t, svc, "/api/snapshots/pbx01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Fresh    bool         `json:"fresh"`
		Snapshot pbx.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Fresh || len(body.Snapshot.Endpoints) != 1 {
		t.Fatalf("body = %+v", body)
	}

	if rec := doRequest(t, svc, "/api/snapshots/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target status = %d", rec.Code)
	}
}

func TestTargetsRoute(t *testing.T) {
	testlog.Start(t)

	rec := doRequest(t, testAPIService(t, ""), "/api/targets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Targets []PollStatus `json:"targets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Targets) != 1 || body.Targets[0].Outcome != "pending" {
		t.Fatalf("body = %+v", body)
	}
}

func TestBearerTokenGate(t *testing.T) {
	testlog.Start(t)

	svc := testAPIService(t, "sekrit")

	if rec := doRequest(t, svc, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := doRequest(t, svc, "/api/status", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec := doRequest(t, svc, "/api/status", "sekrit"); rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d", rec.Code)
	}
	// health and metrics stay open
	if rec := doRequest(t, svc, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if rec := doRequest(t, svc, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
