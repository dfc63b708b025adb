package home

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"

	"github.com/aimikata/storyboard/internal/usage"
)

const (
	// DefaultDirName is the default name for the storyboard home directory.
	DefaultDirName = ".storyboard"

	// OutputsDirName is the subdirectory for generated artifacts.
	OutputsDirName = "outputs"

	// AssetsDirName is the subdirectory for character reference images.
	AssetsDirName = "assets"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName holds API keys loaded into the environment at startup.
	EnvFileName = ".env"
)

// Dir represents the storyboard home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.storyboard).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// OutputsPath returns the path to the outputs directory.
func (d *Dir) OutputsPath() string {
	return filepath.Join(d.path, OutputsDirName)
}

// AssetsPath returns the default directory scanned for reference images.
func (d *Dir) AssetsPath() string {
	return filepath.Join(d.path, AssetsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// UsagePath returns the default location of the usage store of the given
// kind. The memory store has no path.
func (d *Dir) UsagePath(kind string) string {
	switch kind {
	case usage.StoreMemory:
		return ""
	case usage.StoreSQLite:
		return filepath.Join(d.path, "usage.db")
	default:
		return filepath.Join(d.path, "usage.json")
	}
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create outputs directory (this also creates the parent)
	if err := os.MkdirAll(d.OutputsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create outputs directory: %w", err)
	}
	if err := os.MkdirAll(d.AssetsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create assets directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// BatchDir returns the output directory for a batch.
func (d *Dir) BatchDir(batchID string) string {
	return filepath.Join(d.OutputsPath(), slug.Make(batchID))
}

// EnsureBatchDir creates the output directory for a batch.
func (d *Dir) EnsureBatchDir(batchID string) error {
	return os.MkdirAll(d.BatchDir(batchID), 0o755)
}

// ArtifactPath returns the file for a generated page. label is slugged into
// the name when set; ext includes no dot.
func (d *Dir) ArtifactPath(batchID string, pageNumber int, label, ext string) string {
	name := fmt.Sprintf("page_%04d", pageNumber)
	if s := slug.Make(label); s != "" {
		name += "-" + s
	}
	return filepath.Join(d.BatchDir(batchID), name+"."+ext)
}
