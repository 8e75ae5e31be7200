package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

func loginBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != clubapi.PathLogin || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set(clubapi.HeaderUserID, "u1")
		w.Header().Set(clubapi.HeaderSystemID, "sys-1")
		w.Header().Set(clubapi.HeaderSystemVersion, "3.1")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunFlushInMemory(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := run(context.Background(), []string{"clubsync", "--log-level", "error", "flush"}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsUnknownStorage(t *testing.T) {
	t.Chdir(t.TempDir())

	err := run(context.Background(), []string{"clubsync", "--log-level", "error", "--storage", "floppy", "flush"})
	if err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestRunLoginWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv := loginBackend(t)

	cfgPath := filepath.Join(dir, "clubsync.toml")
	toml := "base_url = \"" + srv.URL + "\"\n" +
		"storage_backend = \"sqlite\"\n" +
		"sqlite_path = \"" + filepath.ToSlash(filepath.Join(dir, "club.db")) + "\"\n" +
		"log_level = \"error\"\n"
	if err := os.WriteFile(cfgPath, []byte(toml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	args := []string{"clubsync", "--config", cfgPath, "--username", "ada", "--password", "secret", "login"}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run login: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "club.db")); err != nil {
		t.Fatalf("expected sqlite database to be created: %v", err)
	}

	args = []string{"clubsync", "--config", cfgPath, "--username", "ada", "--password", "wrong", "login"}
	err := run(context.Background(), args)
	if !errors.Is(err, clubapi.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRunLoginWithoutCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLUBSYNC_USERNAME", "")
	t.Setenv("CLUBSYNC_PASSWORD", "")

	err := run(context.Background(), []string{"clubsync", "--log-level", "error", "login"})
	if !errors.Is(err, errNoCredentials) {
		t.Fatalf("err = %v, want errNoCredentials", err)
	}
}
