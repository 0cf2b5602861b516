package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, "transfer:\n  download_dir: "+dir+"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transfer.GetChunkSize() != 8*1024 {
		t.Errorf("GetChunkSize() = %d, want 8192", cfg.Transfer.GetChunkSize())
	}
	if cfg.Transfer.GetProgressInterval() != 500*time.Millisecond {
		t.Errorf("GetProgressInterval() = %v", cfg.Transfer.GetProgressInterval())
	}
	if cfg.Transfer.GetPersistInterval() != 5*time.Second {
		t.Errorf("GetPersistInterval() = %v", cfg.Transfer.GetPersistInterval())
	}
	if cfg.Transfer.RestartPolicy != RestartPolicyAsk {
		t.Errorf("RestartPolicy = %q, want ask", cfg.Transfer.RestartPolicy)
	}
	if cfg.Transfer.GetRestartApprovalTimeout() != 0 {
		t.Errorf("GetRestartApprovalTimeout() = %v, want 0", cfg.Transfer.GetRestartApprovalTimeout())
	}
	if cfg.Metadata.Backend != MetadataBackendSidecar {
		t.Errorf("Metadata.Backend = %q", cfg.Metadata.Backend)
	}
	if cfg.Database.Path != filepath.Join(dir, "transferd.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.Maintenance.OrphanSidecarSweep {
		t.Error("OrphanSidecarSweep should default to true")
	}
	if cfg.Maintenance.GetSidecarMaxAge() != 24*time.Hour {
		t.Errorf("GetSidecarMaxAge() = %v", cfg.Maintenance.GetSidecarMaxAge())
	}
	if cfg.HTTP.Username != "" {
		t.Errorf("HTTP.Username = %q, want empty", cfg.HTTP.Username)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
transfer:
  download_dir: /data
  chunk_size_kb: 64
  restart_policy: never
  retry_backoff: 10s
metadata:
  backend: sqlite
database:
  path: /var/lib/transferd/state.db
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transfer.GetChunkSize() != 64*1024 {
		t.Errorf("GetChunkSize() = %d", cfg.Transfer.GetChunkSize())
	}
	if cfg.Transfer.GetRetryBackoff() != 10*time.Second {
		t.Errorf("GetRetryBackoff() = %v", cfg.Transfer.GetRetryBackoff())
	}
	if cfg.Database.Path != "/var/lib/transferd/state.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Transfer: TransferConfig{
				DownloadDir:   "/data",
				ChunkSizeKB:   8,
				MaxConcurrent: 4,
				RestartPolicy: RestartPolicyAsk,
			},
			Metadata: MetadataConfig{Backend: MetadataBackendSidecar},
			Logging:  LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no download dir", func(c *Config) { c.Transfer.DownloadDir = "" }, true},
		{"zero chunk", func(c *Config) { c.Transfer.ChunkSizeKB = 0 }, true},
		{"too many workers", func(c *Config) { c.Transfer.MaxConcurrent = 33 }, true},
		{"bad policy", func(c *Config) { c.Transfer.RestartPolicy = "maybe" }, true},
		{"bad duration", func(c *Config) { c.Transfer.ReadTimeout = "soon" }, true},
		{"bad backend", func(c *Config) { c.Metadata.Backend = "redis" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"username without password", func(c *Config) { c.HTTP.Username = "admin" }, true},
		{"basic auth", func(c *Config) { c.HTTP.Username, c.HTTP.Password = "admin", "secret" }, false},
		{"bad sidecar age", func(c *Config) { c.Maintenance.SidecarMaxAge = "old" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetters_FallBackOnInvalid(t *testing.T) {
	c := &TransferConfig{ReadTimeout: "garbage", ProbeTimeout: "-1s"}
	if c.GetReadTimeout() != 60*time.Second {
		t.Errorf("GetReadTimeout() = %v", c.GetReadTimeout())
	}
	if c.GetProbeTimeout() != 5*time.Second {
		t.Errorf("GetProbeTimeout() = %v", c.GetProbeTimeout())
	}
}
