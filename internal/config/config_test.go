package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var keys = []string{
	"BOOKCORE_CONFIG", "PORT", "BOOKCORE_API_KEY", "CACHE_DIR", "PAGE_CACHE_SIZE",
	"MAX_REDIRECTS", "LANGUAGE_HINT", "WORKER_COUNT", "MAX_QUEUE_SIZE", "POOL_SIZE",
	"JOB_TTL", "SESSION_TTL", "PDF_FALLBACK_PDFTOTEXT", "SEARCH_EXCERPT_RADIUS",
	"WORKER_PROCESSES", "EXPORT_DIR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8090" {
		t.Errorf("expected port %q, got %q", "8090", cfg.Port)
	}
	if cfg.PageCacheSize != 300 {
		t.Errorf("expected page cache 300, got %d", cfg.PageCacheSize)
	}
	if cfg.MaxRedirects != 8 {
		t.Errorf("expected 8 redirects, got %d", cfg.MaxRedirects)
	}
	if cfg.SearchExcerptRadius != 25 {
		t.Errorf("expected radius 25, got %d", cfg.SearchExcerptRadius)
	}
	if !cfg.WorkerProcesses || !cfg.PDFFallbackPdftotext {
		t.Error("expected worker processes and pdftotext fallback on by default")
	}
	if cfg.JobTTL != time.Hour || cfg.SessionTTL != 30*time.Minute {
		t.Errorf("expected ttls 1h/30m, got %v/%v", cfg.JobTTL, cfg.SessionTTL)
	}
	if want := filepath.Join(cfg.CacheDir, "exports"); cfg.ExportDir != want {
		t.Errorf("expected export dir %q, got %q", want, cfg.ExportDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("WORKER_PROCESSES", "false")
	t.Setenv("JOB_TTL", "5m")
	t.Setenv("PAGE_CACHE_SIZE", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("expected port %q, got %q", "9999", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.WorkerCount)
	}
	if cfg.WorkerProcesses {
		t.Error("expected worker processes off")
	}
	if cfg.JobTTL != 5*time.Minute {
		t.Errorf("expected job ttl 5m, got %v", cfg.JobTTL)
	}
	if cfg.PageCacheSize != 300 {
		t.Errorf("expected invalid cache size to fall back to 300, got %d", cfg.PageCacheSize)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "bookcore.yaml")
	body := "port: \"7000\"\nworker_count: 9\nworker_processes: false\nlanguage_hint: fr\nsession_ttl: 2h\ncache_dir: /var/cache/bookcore\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOOKCORE_CONFIG", p)
	t.Setenv("WORKER_COUNT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("expected port from file, got %q", cfg.Port)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("expected env to win with 3 workers, got %d", cfg.WorkerCount)
	}
	if cfg.WorkerProcesses {
		t.Error("expected worker processes off from file")
	}
	if cfg.LanguageHint != "fr" {
		t.Errorf("expected language %q, got %q", "fr", cfg.LanguageHint)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("expected session ttl 2h, got %v", cfg.SessionTTL)
	}
	if cfg.ExportDir != "/var/cache/bookcore/exports" {
		t.Errorf("expected export dir under file cache dir, got %q", cfg.ExportDir)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(p, []byte("job_ttl: forever\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOOKCORE_CONFIG", p)
	if _, err := Load(); err == nil {
		t.Error("expected an error for an unparseable duration")
	}

	t.Setenv("BOOKCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing api key to fail validation")
	}
	cfg.APIKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}
