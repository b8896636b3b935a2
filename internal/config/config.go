// Package config loads the daemon's runtime settings. An on-disk
// configuration *file format* is out of scope; settings are populated
// from explicit constructor arguments and environment variables.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the full set of daemon settings, passed explicitly into each
// component at construction time: no global singletons.
type Config struct {
	DataDir string

	Index     Index
	Engine    Engine
	Scan      Scan
	Storage   Storage
	Redact    bool
	EnableFTS bool
}

type Index struct {
	Workers             int
	MemMB               int
	L1BatchSize         int
	FollowSymlinks      bool
	KeepNestedRoots     bool
	MaxParseBytes       int64
	MaxASTBytes         int64
	MaxDepth            int
	WatchDebounce       time.Duration
	ExcludeContentBytes int64
	SafetyWindow        time.Duration
}

type Engine struct {
	MaxDocBytes int64
	MemMB       int
	IndexMemMB  int
	Threads     int
}

// Scan holds the filesystem-scanner (C2) limits and filters.
type Scan struct {
	MaxFileBytes     int64
	IncludeExt       []string
	IncludeGlobs     []string
	ExcludeDirs      []string
	ExcludeGlobs     []string
	RespectGitignore bool
}

// Storage holds TTL policy for the tables that are pruned over time.
type Storage struct {
	TTLSnippets    time.Duration
	TTLContexts    time.Duration
	TTLFailedTasks time.Duration
}

// Default returns the documented defaults, before any environment
// override is applied.
func Default() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	if workers < 2 {
		workers = 2
	}
	return &Config{
		Index: Index{
			Workers:             workers,
			MemMB:               512,
			L1BatchSize:         200,
			FollowSymlinks:      false,
			KeepNestedRoots:     false,
			MaxParseBytes:       2 * 1024 * 1024,
			MaxASTBytes:         2 * 1024 * 1024,
			MaxDepth:            30,
			WatchDebounce:       200 * time.Millisecond,
			ExcludeContentBytes: 1 * 1024 * 1024,
			SafetyWindow:        3 * time.Second,
		},
		Engine: Engine{
			MaxDocBytes: 256 * 1024,
			MemMB:       256,
			IndexMemMB:  128,
			Threads:     2,
		},
		Scan: Scan{
			MaxFileBytes:     10 * 1024 * 1024,
			ExcludeDirs:      []string{"node_modules", ".git", "build", "dist", "vendor", ".venv", "__pycache__"},
			RespectGitignore: true,
		},
		Storage: Storage{
			TTLSnippets:    30 * 24 * time.Hour,
			TTLContexts:    30 * 24 * time.Hour,
			TTLFailedTasks: 7 * 24 * time.Hour,
		},
		Redact:    true,
		EnableFTS: true,
	}
}

// FromEnv applies recognized environment variable overrides on top of
// Default().
func FromEnv() *Config {
	c := Default()

	if v, ok := envInt("INDEX_WORKERS"); ok {
		c.Index.Workers = v
	}
	if v, ok := envInt("INDEX_MEM_MB"); ok {
		c.Index.MemMB = v
		if cap := v / 512; cap >= 1 {
			if c.Index.Workers > cap {
				c.Index.Workers = cap
			}
		}
	}
	if v, ok := envInt("INDEX_L1_BATCH_SIZE"); ok {
		c.Index.L1BatchSize = v
	}
	if v, ok := envInt64("ENGINE_MAX_DOC_BYTES"); ok {
		c.Engine.MaxDocBytes = v
	}
	if v, ok := envInt("ENGINE_MEM_MB"); ok {
		c.Engine.MemMB = v
	}
	if v, ok := envInt("ENGINE_INDEX_MEM_MB"); ok {
		c.Engine.IndexMemMB = v
	}
	if v, ok := envInt("ENGINE_THREADS"); ok {
		c.Engine.Threads = v
	}
	if v, ok := envBool("FOLLOW_SYMLINKS"); ok {
		c.Index.FollowSymlinks = v
	}
	if v, ok := envBool("KEEP_NESTED_ROOTS"); ok {
		c.Index.KeepNestedRoots = v
	}
	if v, ok := envInt64("MAX_PARSE_BYTES"); ok {
		c.Index.MaxParseBytes = v
	}
	if v, ok := envInt64("MAX_AST_BYTES"); ok {
		c.Index.MaxASTBytes = v
	}
	if v, ok := envInt("MAX_DEPTH"); ok {
		c.Index.MaxDepth = v
	}
	if v, ok := envInt64("EXCLUDE_CONTENT_BYTES"); ok {
		c.Index.ExcludeContentBytes = v
	}
	if v, ok := envInt("SAFETY_WINDOW_MS"); ok {
		c.Index.SafetyWindow = time.Duration(v) * time.Millisecond
	}
	if v, ok := envBool("REDACT_ENABLED"); ok {
		c.Redact = v
	}
	if v, ok := envBool("ENABLE_FTS"); ok {
		c.EnableFTS = v
	}
	if v, ok := envDurationDays("STORAGE_TTL_DAYS_SNIPPETS"); ok {
		c.Storage.TTLSnippets = v
	}
	if v, ok := envDurationDays("STORAGE_TTL_DAYS_CONTEXTS"); ok {
		c.Storage.TTLContexts = v
	}
	if v, ok := envDurationDays("STORAGE_TTL_DAYS_FAILED_TASKS"); ok {
		c.Storage.TTLFailedTasks = v
	}
	return c
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt64(name string) (int64, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	s := os.Getenv(name)
	if s == "" {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return v, true
}

func envDurationDays(name string) (time.Duration, bool) {
	v, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * 24 * time.Hour, true
}
