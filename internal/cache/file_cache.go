package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempSuffix = ".tmp"

var ErrInvalidName = errors.New("invalid cache entry name")

// FileCache implements file-based cache
// Structure: {cacheDir}/{key}.{format}
// There is no index and no eviction: presence of the file is the only
// metadata, and entries live until removed from outside the process.
type FileCache struct {
	cacheDir string
}

type Stats struct {
	Entries     int
	Bytes       int64
	RemovedTemp int
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

// buildFilePath rejects anything that is not a plain file name so that an
// entry can never resolve outside the cache directory.
func (c *FileCache) buildFilePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tempSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(c.cacheDir, name), nil
}

// Get reads an entry. A missing or unreadable file is a miss; the caller
// regenerates the variant and overwrites it.
func (c *FileCache) Get(name string) ([]byte, bool) {
	filePath, err := c.buildFilePath(name)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set writes the entry atomically: a unique temp file in the cache directory
// is renamed over the final name, so concurrent writers of the same entry
// never expose a partial file.
func (c *FileCache) Set(name string, value []byte) error {
	filePath, err := c.buildFilePath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.cacheDir, name+".*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod cache entry: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache entry: %w", err)
	}

	return nil
}

// Sweep removes temp files left behind by writes interrupted by a crash and
// reports what remains in the directory.
func (c *FileCache) Sweep() (Stats, error) {
	var stats Stats

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return stats, fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(c.cacheDir, entry.Name())
		if strings.HasSuffix(entry.Name(), tempSuffix) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return stats, fmt.Errorf("failed to remove temp file: %w", err)
			}
			stats.RemovedTemp++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.Bytes += info.Size()
	}

	return stats, nil
}
