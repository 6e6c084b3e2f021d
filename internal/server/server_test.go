package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hardy-3003/evidencestore/internal/ledger"
	"github.com/hardy-3003/evidencestore/internal/server"
)

var ctx = context.Background()

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *ledger.Ledger, string) {
	t.Helper()
	root := t.TempDir()
	l, err := ledger.Open(ctx, root, ledger.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := server.New(l, nil)
	return srv.Router(server.Config{}), l, root
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s: invalid JSON response: %v", path, err)
		}
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	router, _, _ := newRouter(t)

	w, body := get(t, router, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body: %v", body)
	}
}

func TestOverview(t *testing.T) {
	router, l, _ := newRouter(t)

	if _, err := l.Write(ctx, "k1", "v1", nil); err != nil {
		t.Fatal(err)
	}
	w, body := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["total_records"] != float64(1) {
		t.Errorf("total_records: %v", body["total_records"])
	}
}

func TestRecords_limitValidation(t *testing.T) {
	router, l, _ := newRouter(t)

	for i := 0; i < 3; i++ {
		if _, err := l.Write(ctx, "k", map[string]any{"n": i}, nil); err != nil {
			t.Fatal(err)
		}
	}

	w, body := get(t, router, "/api/v1/ledger/records?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if records := body["records"].([]any); len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}

	w, _ = get(t, router, "/api/v1/ledger/records?limit=-1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status %d", w.Code)
	}
}

func TestRecordByID(t *testing.T) {
	router, l, _ := newRouter(t)

	rec, err := l.Write(ctx, "k", "v", nil)
	if err != nil {
		t.Fatal(err)
	}

	w, body := get(t, router, "/api/v1/ledger/records/"+rec.RecordID)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["record_id"] != rec.RecordID {
		t.Errorf("record_id: %v", body["record_id"])
	}

	w, _ = get(t, router, "/api/v1/ledger/records/rec_unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status %d", w.Code)
	}
}

func TestVerifyKey(t *testing.T) {
	router, l, root := newRouter(t)

	rec, err := l.Write(ctx, "k", "payload", nil)
	if err != nil {
		t.Fatal(err)
	}

	w, body := get(t, router, "/api/v1/ledger/verify/k")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["valid"] != true {
		t.Errorf("expected valid=true: %v", body)
	}

	hexPart := strings.TrimPrefix(rec.DataHash, "sha256:")
	if err := os.WriteFile(filepath.Join(root, "blobs", hexPart+".blob"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, body = get(t, router, "/api/v1/ledger/verify/k")
	if body["valid"] != false {
		t.Errorf("expected valid=false after tampering: %v", body)
	}
}

func TestVerifyAll(t *testing.T) {
	router, l, _ := newRouter(t)

	if _, err := l.Write(ctx, "a", "alpha", nil); err != nil {
		t.Fatal(err)
	}
	w, body := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["valid"] != true || body["passed"] != float64(1) {
		t.Errorf("sweep: %v", body)
	}
}

func TestBundles(t *testing.T) {
	router, l, _ := newRouter(t)

	if _, err := l.Write(ctx, "k", "v", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.FinalizeBundle(ctx); err != nil {
		t.Fatal(err)
	}

	w, body := get(t, router, "/api/v1/bundles")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if bundles := body["bundles"].([]any); len(bundles) != 1 {
		t.Errorf("expected 1 bundle, got %d", len(bundles))
	}
}

func TestBlobReference_metadataOnly(t *testing.T) {
	router, l, _ := newRouter(t)

	rec, err := l.Write(ctx, "k", "some payload", nil)
	if err != nil {
		t.Fatal(err)
	}

	w, body := get(t, router, "/api/v1/blobs/"+rec.DataHash)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body["hash"] != rec.DataHash {
		t.Errorf("hash: %v", body["hash"])
	}
	// The payload must never appear in the response.
	if strings.Contains(w.Body.String(), "some payload") {
		t.Error("blob payload leaked through the reference endpoint")
	}

	w, _ = get(t, router, "/api/v1/blobs/sha256:"+strings.Repeat("0", 64))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown blob: status %d", w.Code)
	}
}
