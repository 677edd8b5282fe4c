// Package config handles loading of server settings from defaults, an
// optional cubqueue.yaml in the base directory and CUBQUEUE_* environment
// variables. The resulting Config is constructed once and passed down
// explicitly; nothing in this package is a global.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8000
	DefaultMaxConcurrentJobs = 5
	DefaultCancelGracePeriod = 10 * time.Second
	DefaultMaxFileSize       = 100 << 20 // 100 MB
	DefaultMaxScriptSize     = 10 << 20  // 10 MB
	DefaultCleanupDays       = 30
	DefaultCleanupSchedule   = "0 3 * * *"
	DefaultOTELEndpoint      = "localhost:4317"
)

const (
	baseDirName    = ".cubqueue"
	configFileName = "cubqueue"

	databaseFileName = "cubqueue.db"
	pidFileName      = "cubqueue.pid"
	logFileName      = "cubqueue.log"
)

// Config holds all configuration values for the cubqueue server.
type Config struct {
	// BaseDir is the root of the workspace tree: scripts/, jobs/, the
	// metadata database, the daemon PID file and the daemon log.
	BaseDir string

	// HTTP listen address
	Host string
	Port int

	// MaxConcurrentJobs bounds how many tasks execute at the same time.
	// Submissions beyond the bound stay pending until a slot frees up.
	MaxConcurrentJobs int

	// CancelGracePeriod is how long a cancelled task gets between SIGTERM
	// and SIGKILL.
	CancelGracePeriod time.Duration

	// JobTimeout kills tasks running longer than this. Zero disables the limit.
	JobTimeout time.Duration

	// Upload size limits in bytes
	MaxFileSize   int64
	MaxScriptSize int64

	// CleanupDays is the age threshold for pruning job directories.
	// Zero disables the janitor.
	CleanupDays int

	// CleanupSchedule is a cron expression for the janitor run.
	CleanupSchedule string

	// RateLimit is the allowed rate (requests/second) for mutating API
	// endpoints. Zero means unlimited. RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	// OTELEndpoint is the OTLP gRPC collector address for traces.
	// Empty disables tracing.
	OTELEndpoint string

	// Debug lowers the log level to debug.
	Debug bool

	// Interpreters maps a script extension to the command used to run it.
	// The keys double as the set of accepted extensions at registration.
	Interpreters map[string]string
}

// DefaultInterpreters returns the built-in extension to interpreter mapping.
func DefaultInterpreters() map[string]string {
	return map[string]string{
		".py": "python3",
		".sh": "sh",
	}
}

// Load reads configuration for the given base directory. An empty baseDir
// falls back to CUBQUEUE_BASE_DIR and then to ~/.cubqueue.
func Load(baseDir string) (*Config, error) {
	if baseDir == "" {
		baseDir = os.Getenv("CUBQUEUE_BASE_DIR")
	}
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, baseDirName)
	}
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	v := viper.New()
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("max_concurrent_jobs", DefaultMaxConcurrentJobs)
	v.SetDefault("cancel_grace_period", DefaultCancelGracePeriod)
	v.SetDefault("job_timeout", time.Duration(0))
	v.SetDefault("max_file_size", int64(DefaultMaxFileSize))
	v.SetDefault("max_script_size", int64(DefaultMaxScriptSize))
	v.SetDefault("cleanup_days", DefaultCleanupDays)
	v.SetDefault("cleanup_schedule", DefaultCleanupSchedule)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 10)
	v.SetDefault("otel_endpoint", DefaultOTELEndpoint)
	v.SetDefault("debug", false)
	v.SetDefault("interpreters", DefaultInterpreters())

	// Optional cubqueue.yaml inside the base directory
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(baseDir)

	// Environment variables such as CUBQUEUE_PORT override the file
	v.SetEnvPrefix("CUBQUEUE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		BaseDir:           baseDir,
		Host:              v.GetString("host"),
		Port:              v.GetInt("port"),
		MaxConcurrentJobs: v.GetInt("max_concurrent_jobs"),
		CancelGracePeriod: v.GetDuration("cancel_grace_period"),
		JobTimeout:        v.GetDuration("job_timeout"),
		MaxFileSize:       v.GetInt64("max_file_size"),
		MaxScriptSize:     v.GetInt64("max_script_size"),
		CleanupDays:       v.GetInt("cleanup_days"),
		CleanupSchedule:   v.GetString("cleanup_schedule"),
		RateLimit:         v.GetFloat64("rate_limit"),
		RateBurst:         v.GetInt("rate_burst"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
		Debug:             v.GetBool("debug"),
		Interpreters:      normalizeInterpreters(v.GetStringMapString("interpreters")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It is called by Load but exported so tests
// and callers constructing a Config by hand can reuse it.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (env: CUBQUEUE_PORT)")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1 (env: CUBQUEUE_MAX_CONCURRENT_JOBS)")
	}
	if c.CancelGracePeriod <= 0 {
		return fmt.Errorf("cancel_grace_period must be positive (env: CUBQUEUE_CANCEL_GRACE_PERIOD)")
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative (env: CUBQUEUE_JOB_TIMEOUT)")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive (env: CUBQUEUE_MAX_FILE_SIZE)")
	}
	if c.MaxScriptSize <= 0 {
		return fmt.Errorf("max_script_size must be positive (env: CUBQUEUE_MAX_SCRIPT_SIZE)")
	}
	if c.CleanupDays < 0 {
		return fmt.Errorf("cleanup_days must not be negative (env: CUBQUEUE_CLEANUP_DAYS)")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative (env: CUBQUEUE_RATE_LIMIT)")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 (env: CUBQUEUE_RATE_BURST)")
	}
	if len(c.Interpreters) == 0 {
		return fmt.Errorf("interpreters must contain at least one extension mapping")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabasePath returns the path of the SQLite metadata store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.BaseDir, databaseFileName)
}

// PIDPath returns the path of the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.BaseDir, pidFileName)
}

// LogPath returns the path of the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.BaseDir, logFileName)
}

// AllowedExtensions returns the sorted set of accepted script extensions.
func (c *Config) AllowedExtensions() []string {
	exts := make([]string, 0, len(c.Interpreters))
	for ext := range c.Interpreters {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// normalizeInterpreters lowercases extensions and guarantees a leading dot,
// so ".PY", "py" and ".py" configure the same mapping.
func normalizeInterpreters(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for ext, interp := range in {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || interp == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = interp
	}
	return out
}
