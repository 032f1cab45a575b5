package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TCPPort != 9999 {
		t.Errorf("TCPPort = %d, want 9999", cfg.TCPPort)
	}
	if cfg.MaxConnections != 100 {
		t.Errorf("MaxConnections = %d, want 100", cfg.MaxConnections)
	}
	if cfg.MaxFileSizeBytes != 10*1024*1024 {
		t.Errorf("MaxFileSizeBytes = %d, want 10MB", cfg.MaxFileSizeBytes)
	}
	if cfg.SessionTimeoutSeconds != 300 {
		t.Errorf("SessionTimeoutSeconds = %d, want 300", cfg.SessionTimeoutSeconds)
	}
}

func TestMaxLineLength(t *testing.T) {
	cfg := DefaultConfig()

	// The derived cap must fit the largest possible single-chunk upload:
	// the full file size after base64 expansion.
	minimum := int(cfg.MaxFileSizeBytes/3+1) * 4
	if got := cfg.maxLineLength(); got < minimum {
		t.Errorf("derived maxLineLength = %d, below base64 expansion %d", got, minimum)
	}

	cfg.MaxLineLength = 4096
	if got := cfg.maxLineLength(); got != 4096 {
		t.Errorf("explicit maxLineLength = %d, want 4096", got)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Server.TCPPort != 9999 {
		t.Errorf("TCPPort = %d, want default 9999", config.Server.TCPPort)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if !strings.Contains(string(data), "tcp_port") {
		t.Errorf("written config missing tcp_port: %s", data)
	}
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[server]
tcp_port = 4242
upload_dir = "/var/lib/messaging/uploads"

[limits]
max_connections = 7
session_timeout_seconds = 30
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cfg := config.ToServerConfig()
	if cfg.TCPPort != 4242 {
		t.Errorf("TCPPort = %d, want 4242", cfg.TCPPort)
	}
	if cfg.UploadDir != "/var/lib/messaging/uploads" {
		t.Errorf("UploadDir = %q", cfg.UploadDir)
	}
	if cfg.MaxConnections != 7 {
		t.Errorf("MaxConnections = %d, want 7", cfg.MaxConnections)
	}
	if cfg.SessionTimeoutSeconds != 30 {
		t.Errorf("SessionTimeoutSeconds = %d, want 30", cfg.SessionTimeoutSeconds)
	}
	// Omitted keys fall back to defaults.
	if cfg.MaxFileSizeBytes != 10*1024*1024 {
		t.Errorf("MaxFileSizeBytes = %d, want default 10MB", cfg.MaxFileSizeBytes)
	}
}

func TestGetDatabasePathDefault(t *testing.T) {
	var config TOMLConfig

	path, err := config.GetDatabasePath()
	if err != nil {
		t.Fatalf("GetDatabasePath: %v", err)
	}
	if !strings.HasSuffix(path, "messaging.db") {
		t.Errorf("fallback path = %q, want default database name", path)
	}
	if strings.HasPrefix(path, "~") {
		t.Errorf("fallback path = %q, home not expanded", path)
	}
}
