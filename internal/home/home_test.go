package home

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aimikata/storyboard/internal/usage"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-storyboard")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-storyboard" {
			t.Errorf("expected path /tmp/test-storyboard, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-storyboard")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"OutputsPath", dir.OutputsPath(), "/tmp/test-storyboard/outputs"},
		{"AssetsPath", dir.AssetsPath(), "/tmp/test-storyboard/assets"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-storyboard/config.yaml"},
		{"EnvPath", dir.EnvPath(), "/tmp/test-storyboard/.env"},
		{"UsagePath file", dir.UsagePath(usage.StoreFile), "/tmp/test-storyboard/usage.json"},
		{"UsagePath sqlite", dir.UsagePath(usage.StoreSQLite), "/tmp/test-storyboard/usage.db"},
		{"UsagePath memory", dir.UsagePath(usage.StoreMemory), ""},
		{"BatchDir", dir.BatchDir("Night Shift #2"), "/tmp/test-storyboard/outputs/night-shift-2"},
		{"ArtifactPath", dir.ArtifactPath("b1", 7, "The Chase", "png"), "/tmp/test-storyboard/outputs/b1/page_0007-the-chase.png"},
		{"ArtifactPath no label", dir.ArtifactPath("b1", 0, "", "txt"), "/tmp/test-storyboard/outputs/b1/page_0000.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "storyboard-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directory shouldn't exist yet
	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	for _, p := range []string{dir.OutputsPath(), dir.AssetsPath()} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			t.Errorf("%s should exist after EnsureExists", p)
		}
	}

	if err := dir.EnsureBatchDir("batch-1"); err != nil {
		t.Fatalf("EnsureBatchDir failed: %v", err)
	}
	if _, err := os.Stat(dir.BatchDir("batch-1")); err != nil {
		t.Errorf("batch dir missing: %v", err)
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	// Config doesn't exist
	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}

	if err := os.WriteFile(dir.ConfigPath(), []byte("test: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}
