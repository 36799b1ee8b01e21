package config

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Documents
	CacheDir             string
	PageCacheSize        int
	MaxRedirects         int
	LanguageHint         string
	PDFFallbackPdftotext bool

	// Worker pool
	WorkerCount  int
	MaxQueueSize int
	PoolSize     int
	// WorkerProcesses runs search and export in child processes instead of
	// goroutines.
	WorkerProcesses bool

	// Search
	SearchExcerptRadius int

	// Export
	ExportDir string

	// Session and job state
	JobTTL     time.Duration
	SessionTTL time.Duration
}

// fileConfig is the optional YAML overlay named by BOOKCORE_CONFIG. Values set
// there replace the built-in defaults; the environment still wins.
type fileConfig struct {
	Port                 string `yaml:"port"`
	CacheDir             string `yaml:"cache_dir"`
	PageCacheSize        int    `yaml:"page_cache_size"`
	MaxRedirects         int    `yaml:"max_redirects"`
	LanguageHint         string `yaml:"language_hint"`
	PDFFallbackPdftotext *bool  `yaml:"pdf_fallback_pdftotext"`
	WorkerCount          int    `yaml:"worker_count"`
	MaxQueueSize         int    `yaml:"max_queue_size"`
	PoolSize             int    `yaml:"pool_size"`
	WorkerProcesses      *bool  `yaml:"worker_processes"`
	SearchExcerptRadius  int    `yaml:"search_excerpt_radius"`
	ExportDir            string `yaml:"export_dir"`
	JobTTL               string `yaml:"job_ttl"`
	SessionTTL           string `yaml:"session_ttl"`
}

func Load() (Config, error) {
	var f fileConfig
	if path := os.Getenv("BOOKCORE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	jobTTL, err := parseDuration(f.JobTTL, time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("job_ttl: %w", err)
	}
	sessionTTL, err := parseDuration(f.SessionTTL, 30*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("session_ttl: %w", err)
	}
	cacheDir := cmp.Or(f.CacheDir, filepath.Join(os.TempDir(), "bookcore"))

	cfg := Config{
		Port: envOr("PORT", cmp.Or(f.Port, "8090")),

		APIKey: os.Getenv("BOOKCORE_API_KEY"),

		CacheDir:             envOr("CACHE_DIR", cacheDir),
		PageCacheSize:        envInt("PAGE_CACHE_SIZE", cmp.Or(f.PageCacheSize, 300)),
		MaxRedirects:         envInt("MAX_REDIRECTS", cmp.Or(f.MaxRedirects, 8)),
		LanguageHint:         envOr("LANGUAGE_HINT", cmp.Or(f.LanguageHint, "en")),
		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", boolOr(f.PDFFallbackPdftotext, true)),

		WorkerCount:     envInt("WORKER_COUNT", cmp.Or(f.WorkerCount, 4)),
		MaxQueueSize:    envInt("MAX_QUEUE_SIZE", cmp.Or(f.MaxQueueSize, 100)),
		PoolSize:        envInt("POOL_SIZE", cmp.Or(f.PoolSize, 4)),
		WorkerProcesses: envBool("WORKER_PROCESSES", boolOr(f.WorkerProcesses, true)),

		SearchExcerptRadius: envInt("SEARCH_EXCERPT_RADIUS", cmp.Or(f.SearchExcerptRadius, 25)),

		ExportDir: envOr("EXPORT_DIR", cmp.Or(f.ExportDir, filepath.Join(cacheDir, "exports"))),

		JobTTL:     envDuration("JOB_TTL", jobTTL),
		SessionTTL: envDuration("SESSION_TTL", sessionTTL),
	}

	if cfg.PageCacheSize <= 0 {
		cfg.PageCacheSize = 300
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 8
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.SearchExcerptRadius <= 0 {
		cfg.SearchExcerptRadius = 25
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("BOOKCORE_API_KEY is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("CACHE_DIR must not be empty")
	}
	if c.ExportDir == "" {
		return fmt.Errorf("EXPORT_DIR must not be empty")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
