// Package config provides configuration management for multifetch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the complete multifetch configuration.
type Config struct {
	Download DownloadConfig `yaml:"download"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DownloadConfig holds the engine-level settings named in the data
// model: output/temp folders and the chunk/concurrency constants.
// NUM_CHUNKS and MAX_CONCURRENT_DOWNLOADS are fixed defaults; this
// config lets an operator override them.
type DownloadConfig struct {
	DownloadFolder         string `yaml:"download_folder"`
	TempFolder             string `yaml:"temp_folder"`
	NumChunks              int    `yaml:"num_chunks"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`
	UserAgent              string `yaml:"user_agent"`
}

// ProxyConfig holds proxy settings for the HTTP protocol adapter.
type ProxyConfig struct {
	HTTP   string `yaml:"http"`
	SOCKS5 string `yaml:"socks5"`
}

// OutputConfig holds settings for the demonstration terminal clients.
type OutputConfig struct {
	ProgressStyle string `yaml:"progress_style"` // bar, minimal
	Colors        bool   `yaml:"colors"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// Defaults from the data model's external interfaces.
const (
	DefaultNumChunks              = 8
	DefaultMaxConcurrentDownloads = 3
	defaultDownloadFolder         = "./downloads"
	defaultTempFolderName         = "multifetch-temp"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			DownloadFolder:         defaultDownloadFolder,
			TempFolder:             "",
			NumChunks:              DefaultNumChunks,
			MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
			UserAgent:              "multifetch/0.1",
		},
		Output: OutputConfig{
			ProgressStyle: "bar",
			Colors:        true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ResolvedTempFolder returns the configured temp folder, or
// os.TempDir()/multifetch-temp when unset.
func (c *Config) ResolvedTempFolder() string {
	if c.Download.TempFolder != "" {
		return c.Download.TempFolder
	}
	return filepath.Join(os.TempDir(), defaultTempFolderName)
}

// EnsureFolders creates the download and temp folders if missing.
func (c *Config) EnsureFolders() error {
	if err := os.MkdirAll(c.Download.DownloadFolder, 0755); err != nil {
		return fmt.Errorf("creating download folder: %w", err)
	}
	if err := os.MkdirAll(c.ResolvedTempFolder(), 0755); err != nil {
		return fmt.Errorf("creating temp folder: %w", err)
	}
	return nil
}

// ConfigPaths returns the list of config file paths in priority order.
func ConfigPaths() []string {
	paths := make([]string, 0, 6)

	// 1. Environment variable
	if envPath := os.Getenv("MULTIFETCH_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	// 2. Current directory
	paths = append(paths, ".multifetch.yaml")
	paths = append(paths, ".multifetch.yml")

	// 3. User config directory (XDG on Linux, AppData on Windows)
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "multifetch", "config.yaml"))
		paths = append(paths, filepath.Join(configDir, "multifetch", "config.yml"))
	}

	// 4. Home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".multifetchrc"))
	}

	// 5. System-wide (Unix only)
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/multifetch/config.yaml")
	}

	return paths
}

// Load loads configuration from the first available config file,
// falling back to defaults when none is found.
func Load() (*Config, error) {
	config := DefaultConfig()

	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := config.LoadFile(path); err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
			return config, nil
		}
	}

	return config, nil
}

// LoadFile loads configuration from a specific file, merging onto the
// receiver's existing values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// Save saves configuration to a file, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default path for saving user config.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "multifetch", "config.yaml"), nil
}

// GenerateDefaultConfig generates a commented default config file.
func GenerateDefaultConfig() string {
	return `# multifetch configuration file

download:
  download_folder: "./downloads"   # where completed files land
  temp_folder: ""                  # empty = OS temp dir / multifetch-temp
  num_chunks: 8                    # parallel chunks per download
  max_concurrent_downloads: 3      # downloads admitted to "downloading" at once
  user_agent: "multifetch/0.1"

proxy:
  http: ""                         # HTTP/HTTPS proxy URL
  socks5: ""                       # SOCKS5 proxy address

output:
  progress_style: "bar"            # bar, minimal
  colors: true

logging:
  level: "info"                    # debug, info, warn, error
  file: ""                         # empty = stderr only
`
}
