package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tally/internal/preflight"
	"tally/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckDirectoryAccess("State directory", dir); !result.Passed {
		t.Fatalf("expected writable temp dir to pass: %s", result.Detail)
	}

	if result := preflight.CheckDirectoryAccess("State directory", filepath.Join(dir, "missing")); result.Passed {
		t.Fatal("expected missing directory to fail")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if result := preflight.CheckDirectoryAccess("State directory", file); result.Passed {
		t.Fatal("expected plain file to fail the directory check")
	}
}

func TestCheckBackend(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := preflight.CheckBackend(context.Background(), server.URL, "secret")
	if !result.Passed {
		t.Fatalf("expected healthy backend to pass: %s", result.Detail)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
}

func TestCheckBackendAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	result := preflight.CheckBackend(context.Background(), server.URL, "wrong")
	if result.Passed {
		t.Fatal("expected auth failure to fail the check")
	}
	if !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestRunAllWithoutEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.Endpoint = ""

	results := preflight.RunAll(context.Background(), cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed || !results[1].Passed {
		t.Fatalf("expected directory checks to pass: %+v", results)
	}
	if results[2].Passed {
		t.Fatal("unconfigured backend must be reported, not passed")
	}
	if preflight.AllPassed(results) {
		t.Fatal("AllPassed must be false with an unconfigured backend")
	}
}
