package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the resolved runtime configuration.
type ServerConfig struct {
	TCPPort               int
	HTTPPort              int
	UploadDir             string
	MaxConnections        int
	MaxFileSizeBytes      int64
	MaxLineLength         int
	SessionTimeoutSeconds int
	SweepIntervalSeconds  int
	WriteTimeoutSeconds   int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:               9999,
		HTTPPort:              9998,
		UploadDir:             "uploads",
		MaxConnections:        100,
		MaxFileSizeBytes:      10 * 1024 * 1024, // 10MB
		MaxLineLength:         0,                // derived from max file size when 0
		SessionTimeoutSeconds: 300,
		SweepIntervalSeconds:  60,
		WriteTimeoutSeconds:   30,
	}
}

// SessionTimeout returns the staleness threshold as a duration.
func (c ServerConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SweepInterval returns the background sweep cadence as a duration.
func (c ServerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// WriteTimeout returns the per-response write deadline as a duration.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// maxLineLength returns the effective request-line cap. A FILE_DATA line may
// carry an entire file as one base64 chunk, so the cap must cover the
// configured file size limit after base64 expansion plus the frame prefix.
func (c ServerConfig) maxLineLength() int {
	if c.MaxLineLength > 0 {
		return c.MaxLineLength
	}
	return int(c.MaxFileSizeBytes/3+1)*4 + 64
}

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
	UploadDir    string `toml:"upload_dir"`
}

type LimitsSection struct {
	MaxConnections        int   `toml:"max_connections"`
	MaxFileSizeBytes      int64 `toml:"max_file_size_bytes"`
	SessionTimeoutSeconds int   `toml:"session_timeout_seconds"`
	SweepIntervalSeconds  int   `toml:"sweep_interval_seconds"`
	WriteTimeoutSeconds   int   `toml:"write_timeout_seconds"`
}

// DefaultTOMLConfig returns the default config file contents.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      9999,
			HTTPPort:     9998,
			DatabasePath: "~/.messaging-server/messaging.db",
			UploadDir:    "uploads",
		},
		Limits: LimitsSection{
			MaxConnections:        100,
			MaxFileSizeBytes:      10 * 1024 * 1024,
			SessionTimeoutSeconds: 300,
			SweepIntervalSeconds:  60,
			WriteTimeoutSeconds:   30,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default file
// if none exists.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (permissions?) - run with defaults anyway.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Messaging Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts the file representation to runtime configuration,
// filling gaps with defaults.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if strings.TrimSpace(c.Server.UploadDir) != "" {
		cfg.UploadDir = c.Server.UploadDir
	}
	if c.Limits.MaxConnections != 0 {
		cfg.MaxConnections = c.Limits.MaxConnections
	}
	if c.Limits.MaxFileSizeBytes != 0 {
		cfg.MaxFileSizeBytes = c.Limits.MaxFileSizeBytes
	}
	if c.Limits.SessionTimeoutSeconds != 0 {
		cfg.SessionTimeoutSeconds = c.Limits.SessionTimeoutSeconds
	}
	if c.Limits.SweepIntervalSeconds != 0 {
		cfg.SweepIntervalSeconds = c.Limits.SweepIntervalSeconds
	}
	if c.Limits.WriteTimeoutSeconds != 0 {
		cfg.WriteTimeoutSeconds = c.Limits.WriteTimeoutSeconds
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded, falling back to
// the default when the config file omits it.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	path := c.Server.DatabasePath
	if strings.TrimSpace(path) == "" {
		path = DefaultTOMLConfig().Server.DatabasePath
	}
	return expandHome(path)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
