package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileBackend persists the token as a single 0600 file.
type FileBackend struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration
}

// NewFileBackend creates a FileBackend at path. Parent directories are
// created on first Save.
func NewFileBackend(path string, logger *zap.Logger) *FileBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBackend{path: path, logger: logger, debounce: 100 * time.Millisecond}
}

// Path returns the token file location.
func (f *FileBackend) Path() string { return f.path }

// Load implements Backend.
func (f *FileBackend) Load(context.Context) (string, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save implements Backend. The file is replaced atomically via rename so a
// concurrent reader never sees a partial token.
func (f *FileBackend) Save(_ context.Context, token string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (f *FileBackend) Delete(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }

// Watch implements Watcher. The parent directory is watched rather than the
// file itself so that deletion and atomic replacement are both observed.
// Bursts of events are collapsed into one onChange call.
func (f *FileBackend) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.logger.Debug("watching credential file", zap.String("path", f.path))

	name := filepath.Base(f.path)
	timer := time.NewTimer(f.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(f.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("credential watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			onChange()
		}
	}
}
