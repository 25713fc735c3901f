package httprelay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
	"github.com/zurustar/signalrtc/internal/webrtcrelay"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	f, err := os.CreateTemp("", "httprelay-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	relay := webrtcrelay.New(db)
	return NewRouter(relay, logging.NewConsole("error"))
}

func TestPutAndGetSDPRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(sdpBody{SDPType: "offer", SDP: "v=0..."})
	req := httptest.NewRequest(http.MethodPut, "/api/webrtcsignal/sdp/alice/bob", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from PUT sdp, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/webrtcsignal/bob/alice/any", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from GET, got %d: %s", getRec.Code, getRec.Body.String())
	}

	var resp getResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != "offer" || resp.Body != "v=0..." {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetReturnsNoContentWhenMailboxEmpty(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/webrtcsignal/bob/alice/any", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an empty mailbox, got %d", rec.Code)
	}
}

func TestPutSDPRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/api/webrtcsignal/sdp/alice/bob", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestPutICERoundTrip(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(iceBody{Candidate: "candidate:1 1 UDP 1 1.2.3.4 5000 typ host"})
	req := httptest.NewRequest(http.MethodPut, "/api/webrtcsignal/ice/alice/bob", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from PUT ice, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/webrtcsignal/bob/alice/ice", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from GET, got %d: %s", getRec.Code, getRec.Body.String())
	}
}
