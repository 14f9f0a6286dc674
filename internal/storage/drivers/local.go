package drivers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sashko-guz/spacer/internal/logger"
)

var localLog = logger.New("LocalStorage")

// LocalStorage stores artifacts on the local file tree. Keys are file paths,
// relative paths resolve against the process working directory.
type LocalStorage struct{}

func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

func (l *LocalStorage) Store(ctx context.Context, key string, data []byte) (err error) {
	defer func() { observe("filesystem", "store", err) }()

	path, err := filepath.Abs(key)
	if err != nil {
		return fmt.Errorf("failed to resolve path %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", key, err)
	}

	// Write to a sibling temp file, then rename over the destination
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file %q: %w", key, err)
	}

	localLog.Debugf("Stored %d bytes at %s", len(data), path)
	return nil
}

func (l *LocalStorage) Load(ctx context.Context, key string) (data []byte, err error) {
	defer func() { observe("filesystem", "load", err) }()

	fileInfo, err := os.Stat(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %q: %w", key, ErrNotFound)
		}
		if os.IsPermission(err) {
			localLog.Warnf("Permission denied: %s", key)
		}
		return nil, fmt.Errorf("failed to access file %q: %w", key, err)
	}

	if fileInfo.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %q: %w", key, ErrInput)
	}

	data, err = os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", key, err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) (err error) {
	defer func() { observe("filesystem", "delete", err) }()

	if err := os.Remove(key); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to delete file %q: %w", key, err)
	}
	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, key string) bool {
	_, err := os.Stat(key)
	return err == nil
}
