package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Download.NumChunks != 8 {
		t.Errorf("NumChunks = %d, want 8", cfg.Download.NumChunks)
	}

	if cfg.Download.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d, want 3", cfg.Download.MaxConcurrentDownloads)
	}

	if cfg.Download.DownloadFolder == "" {
		t.Error("DownloadFolder should not be empty")
	}

	if cfg.Output.ProgressStyle != "bar" {
		t.Errorf("ProgressStyle = %s, want bar", cfg.Output.ProgressStyle)
	}
}

func TestResolvedTempFolder(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ResolvedTempFolder() == "" {
		t.Error("ResolvedTempFolder() should not be empty when unset")
	}

	cfg.Download.TempFolder = "/custom/temp"
	if got := cfg.ResolvedTempFolder(); got != "/custom/temp" {
		t.Errorf("ResolvedTempFolder() = %s, want /custom/temp", got)
	}
}

func TestEnsureFolders(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Download.DownloadFolder = filepath.Join(tmpDir, "downloads")
	cfg.Download.TempFolder = filepath.Join(tmpDir, "temp")

	if err := cfg.EnsureFolders(); err != nil {
		t.Fatalf("EnsureFolders() error = %v", err)
	}

	if _, err := os.Stat(cfg.Download.DownloadFolder); err != nil {
		t.Errorf("download folder not created: %v", err)
	}
	if _, err := os.Stat(cfg.ResolvedTempFolder()); err != nil {
		t.Errorf("temp folder not created: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
download:
  download_folder: "./out"
  num_chunks: 16
  max_concurrent_downloads: 5
  user_agent: "TestAgent/1.0"

proxy:
  http: "http://proxy:8080"

output:
  progress_style: "minimal"
  colors: false
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(configPath); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Download.NumChunks != 16 {
		t.Errorf("NumChunks = %d, want 16", cfg.Download.NumChunks)
	}

	if cfg.Download.MaxConcurrentDownloads != 5 {
		t.Errorf("MaxConcurrentDownloads = %d, want 5", cfg.Download.MaxConcurrentDownloads)
	}

	if cfg.Download.UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %s, want TestAgent/1.0", cfg.Download.UserAgent)
	}

	if cfg.Proxy.HTTP != "http://proxy:8080" {
		t.Errorf("Proxy.HTTP = %s, want http://proxy:8080", cfg.Proxy.HTTP)
	}

	if cfg.Output.ProgressStyle != "minimal" {
		t.Errorf("ProgressStyle = %s, want minimal", cfg.Output.ProgressStyle)
	}

	if cfg.Output.Colors {
		t.Error("Colors should be false")
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Download.NumChunks = 16
	cfg.Proxy.SOCKS5 = "127.0.0.1:9050"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := DefaultConfig()
	if err := loaded.LoadFile(configPath); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if loaded.Download.NumChunks != 16 {
		t.Errorf("Loaded NumChunks = %d, want 16", loaded.Download.NumChunks)
	}

	if loaded.Proxy.SOCKS5 != "127.0.0.1:9050" {
		t.Errorf("Loaded Proxy.SOCKS5 = %s, want 127.0.0.1:9050", loaded.Proxy.SOCKS5)
	}
}

func TestConfigPaths(t *testing.T) {
	paths := ConfigPaths()

	if len(paths) == 0 {
		t.Error("ConfigPaths() returned empty slice")
	}

	found := false
	for _, p := range paths {
		if p == ".multifetch.yaml" || p == ".multifetch.yml" {
			found = true
			break
		}
	}

	if !found {
		t.Error("ConfigPaths() should contain .multifetch.yaml")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.NumChunks != 8 {
		t.Errorf("Default NumChunks = %d, want 8", cfg.Download.NumChunks)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	content := GenerateDefaultConfig()

	if content == "" {
		t.Error("GenerateDefaultConfig() returned empty string")
	}

	sections := []string{
		"download:",
		"proxy:",
		"output:",
		"logging:",
	}

	for _, section := range sections {
		if !contains(content, section) {
			t.Errorf("GenerateDefaultConfig() should contain %s", section)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
