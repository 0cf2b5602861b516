package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Restart policies for a resume the origin refused
const (
	RestartPolicyAsk    = "ask"
	RestartPolicyAlways = "always"
	RestartPolicyNever  = "never"
)

// Metadata backends
const (
	MetadataBackendSidecar = "sidecar"
	MetadataBackendSQLite  = "sqlite"
)

// Config represents the entire application configuration
type Config struct {
	Transfer    TransferConfig    `mapstructure:"transfer"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// TransferConfig contains transfer engine and scheduling settings
type TransferConfig struct {
	DownloadDir            string `mapstructure:"download_dir"`
	ChunkSizeKB            int    `mapstructure:"chunk_size_kb"`
	ProgressInterval       string `mapstructure:"progress_interval"`
	PersistInterval        string `mapstructure:"persist_interval"`
	ProbeTimeout           string `mapstructure:"probe_timeout"`
	ConnectTimeout         string `mapstructure:"connect_timeout"`
	ReadTimeout            string `mapstructure:"read_timeout"`
	ResponseHeaderTimeout  string `mapstructure:"response_header_timeout"`
	RestartPolicy          string `mapstructure:"restart_policy"`
	RestartApprovalTimeout string `mapstructure:"restart_approval_timeout"` // 0 waits forever
	MaxConcurrent          int    `mapstructure:"max_concurrent"`
	MaxRetries             int    `mapstructure:"max_retries"`
	RetryBackoff           string `mapstructure:"retry_backoff"`
	ResumeOnStartup        bool   `mapstructure:"resume_on_startup"`
	MinFreeSpaceMB         int    `mapstructure:"min_free_space_mb"`
	UserAgent              string `mapstructure:"user_agent"`
}

// MetadataConfig selects where resume records live
type MetadataConfig struct {
	Backend string `mapstructure:"backend"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr          string  `mapstructure:"bind_addr"`
	ReadTimeout       string  `mapstructure:"read_timeout"`
	WriteTimeout      string  `mapstructure:"write_timeout"`
	IdleTimeout       string  `mapstructure:"idle_timeout"`
	RateLimitRPS      float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst"`
	BroadcastInterval string  `mapstructure:"broadcast_interval"`
	Username          string  `mapstructure:"username"` // basic auth on /api and /ws, disabled when empty
	Password          string  `mapstructure:"password"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains housekeeping settings
type MaintenanceConfig struct {
	Interval             string `mapstructure:"interval"`
	FinishedRecordMaxAge string `mapstructure:"finished_record_max_age"`
	OrphanSidecarSweep   bool   `mapstructure:"orphan_sidecar_sweep"`
	SidecarMaxAge        string `mapstructure:"sidecar_max_age"`
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load loads configuration from the specified file path.
// An empty path uses defaults and TRANSFERD_* environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("transferd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		// Read config file
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.Transfer.DownloadDir, "transferd.db")
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transfer.download_dir", "./downloads")
	v.SetDefault("transfer.chunk_size_kb", 8)
	v.SetDefault("transfer.progress_interval", "500ms")
	v.SetDefault("transfer.persist_interval", "5s")
	v.SetDefault("transfer.probe_timeout", "5s")
	v.SetDefault("transfer.connect_timeout", "15s")
	v.SetDefault("transfer.read_timeout", "60s")
	v.SetDefault("transfer.response_header_timeout", "30s")
	v.SetDefault("transfer.restart_policy", RestartPolicyAsk)
	v.SetDefault("transfer.restart_approval_timeout", "0s")
	v.SetDefault("transfer.max_concurrent", 4)
	v.SetDefault("transfer.max_retries", 3)
	v.SetDefault("transfer.retry_backoff", "1m")
	v.SetDefault("transfer.resume_on_startup", false)
	v.SetDefault("transfer.min_free_space_mb", 0)
	v.SetDefault("transfer.user_agent", "transferd/1.0")
	v.SetDefault("metadata.backend", MetadataBackendSidecar)
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.rate_limit_rps", 50)
	v.SetDefault("http.rate_limit_burst", 100)
	v.SetDefault("http.broadcast_interval", "1s")
	v.SetDefault("http.username", "")
	v.SetDefault("http.password", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.finished_record_max_age", "168h")
	v.SetDefault("maintenance.orphan_sidecar_sweep", true)
	v.SetDefault("maintenance.sidecar_max_age", "24h")
	v.SetDefault("telemetry.service_name", "transferd")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate transfer config
	if c.Transfer.DownloadDir == "" {
		return fmt.Errorf("transfer.download_dir is required")
	}
	if c.Transfer.ChunkSizeKB <= 0 {
		return fmt.Errorf("transfer.chunk_size_kb must be positive")
	}
	if c.Transfer.MaxConcurrent < 1 || c.Transfer.MaxConcurrent > 32 {
		return fmt.Errorf("transfer.max_concurrent must be between 1 and 32")
	}
	if c.Transfer.MaxRetries < 0 {
		return fmt.Errorf("transfer.max_retries must not be negative")
	}
	if c.Transfer.MinFreeSpaceMB < 0 {
		return fmt.Errorf("transfer.min_free_space_mb must not be negative")
	}

	switch c.Transfer.RestartPolicy {
	case RestartPolicyAsk, RestartPolicyAlways, RestartPolicyNever:
		// Valid policies
	default:
		return fmt.Errorf("invalid transfer.restart_policy: %s", c.Transfer.RestartPolicy)
	}

	durations := map[string]string{
		"transfer.progress_interval":          c.Transfer.ProgressInterval,
		"transfer.persist_interval":           c.Transfer.PersistInterval,
		"transfer.probe_timeout":              c.Transfer.ProbeTimeout,
		"transfer.connect_timeout":            c.Transfer.ConnectTimeout,
		"transfer.read_timeout":               c.Transfer.ReadTimeout,
		"transfer.response_header_timeout":    c.Transfer.ResponseHeaderTimeout,
		"transfer.restart_approval_timeout":   c.Transfer.RestartApprovalTimeout,
		"transfer.retry_backoff":              c.Transfer.RetryBackoff,
		"http.broadcast_interval":             c.HTTP.BroadcastInterval,
		"maintenance.interval":                c.Maintenance.Interval,
		"maintenance.finished_record_max_age": c.Maintenance.FinishedRecordMaxAge,
		"maintenance.sidecar_max_age":         c.Maintenance.SidecarMaxAge,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Validate metadata backend
	switch c.Metadata.Backend {
	case MetadataBackendSidecar, MetadataBackendSQLite:
		// Valid backends
	default:
		return fmt.Errorf("invalid metadata.backend: %s", c.Metadata.Backend)
	}

	// Validate HTTP config
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.RateLimitBurst < 0 {
		return fmt.Errorf("http rate limit values must not be negative")
	}
	if (c.HTTP.Username == "") != (c.HTTP.Password == "") {
		return fmt.Errorf("http.username and http.password must be set together")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

func parseOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetChunkSize returns the read chunk size in bytes
func (c *TransferConfig) GetChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return 8 * 1024
	}
	return c.ChunkSizeKB * 1024
}

// GetProgressInterval returns the observer update cadence
func (c *TransferConfig) GetProgressInterval() time.Duration {
	return parseOr(c.ProgressInterval, 500*time.Millisecond)
}

// GetPersistInterval returns the resume record write cadence
func (c *TransferConfig) GetPersistInterval() time.Duration {
	return parseOr(c.PersistInterval, 5*time.Second)
}

// GetProbeTimeout returns the HEAD probe timeout
func (c *TransferConfig) GetProbeTimeout() time.Duration {
	return parseOr(c.ProbeTimeout, 5*time.Second)
}

// GetConnectTimeout returns the dial timeout
func (c *TransferConfig) GetConnectTimeout() time.Duration {
	return parseOr(c.ConnectTimeout, 15*time.Second)
}

// GetReadTimeout returns the longest allowed gap between body reads
func (c *TransferConfig) GetReadTimeout() time.Duration {
	return parseOr(c.ReadTimeout, 60*time.Second)
}

// GetResponseHeaderTimeout returns how long to wait for response headers
func (c *TransferConfig) GetResponseHeaderTimeout() time.Duration {
	return parseOr(c.ResponseHeaderTimeout, 30*time.Second)
}

// GetRestartApprovalTimeout returns the approval wait limit, zero meaning no limit
func (c *TransferConfig) GetRestartApprovalTimeout() time.Duration {
	return parseOr(c.RestartApprovalTimeout, 0)
}

// GetRetryBackoff returns the base retry delay
func (c *TransferConfig) GetRetryBackoff() time.Duration {
	return parseOr(c.RetryBackoff, time.Minute)
}

// GetMinFreeSpace returns the free space reserve in bytes
func (c *TransferConfig) GetMinFreeSpace() uint64 {
	if c.MinFreeSpaceMB <= 0 {
		return 0
	}
	return uint64(c.MinFreeSpaceMB) * 1024 * 1024
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseOr(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseOr(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseOr(c.IdleTimeout, 60*time.Second)
}

// GetBroadcastInterval returns the WebSocket snapshot cadence
func (c *HTTPConfig) GetBroadcastInterval() time.Duration {
	return parseOr(c.BroadcastInterval, time.Second)
}

// GetInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetInterval() time.Duration {
	return parseOr(c.Interval, time.Hour)
}

// GetFinishedRecordMaxAge returns how long finished records are kept
func (c *MaintenanceConfig) GetFinishedRecordMaxAge() time.Duration {
	return parseOr(c.FinishedRecordMaxAge, 7*24*time.Hour)
}

// GetSidecarMaxAge returns how long an orphan resume record is kept
func (c *MaintenanceConfig) GetSidecarMaxAge() time.Duration {
	return parseOr(c.SidecarMaxAge, 24*time.Hour)
}
