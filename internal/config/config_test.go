package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/chron",
		LogDir:   "/home/user/.local/share/chron/log",
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/chron/data"},
		Manifest: ManifestConfig{Type: "sqlite", DataDir: "/home/user/.local/share/chron/data"},
		Scan: ScanConfig{
			Workers:       8,
			Ignore:        []string{"*.log", ".git"},
			ProgressEvery: 500,
		},
		Identity: IdentityConfig{Policy: "strict", ForceOnExtractorChange: true},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Manifest.DataDir != original.Manifest.DataDir {
		t.Errorf("Manifest.DataDir = %q, want %q", got.Manifest.DataDir, original.Manifest.DataDir)
	}
	if got.Scan.Workers != 8 {
		t.Errorf("Scan.Workers = %d, want 8", got.Scan.Workers)
	}
	if len(got.Scan.Ignore) != 2 {
		t.Fatalf("len(Scan.Ignore) = %d, want 2", len(got.Scan.Ignore))
	}
	if got.Identity.Policy != "strict" {
		t.Errorf("Identity.Policy = %q, want %q", got.Identity.Policy, "strict")
	}
	if !got.Identity.ForceOnExtractorChange {
		t.Error("Identity.ForceOnExtractorChange = false, want true")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/chron")

	if cfg.BaseDir != "/data/chron" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/chron")
	}
	if cfg.LogDir != "/data/chron/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/chron/log")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/chron/data" {
		t.Errorf("Database = %+v, want sqlite under /data/chron/data", cfg.Database)
	}
	if cfg.Manifest.Type != "sqlite" {
		t.Errorf("Manifest.Type = %q, want %q", cfg.Manifest.Type, "sqlite")
	}
	if cfg.Identity.Policy != "hash" {
		t.Errorf("Identity.Policy = %q, want %q", cfg.Identity.Policy, "hash")
	}
	if cfg.Identity.ForceOnExtractorChange {
		t.Error("ForceOnExtractorChange = true, want false by default")
	}
	if cfg.Scan.Workers < 1 {
		t.Errorf("Scan.Workers = %d, want >= 1", cfg.Scan.Workers)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chron.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chron.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chron.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/chron.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
