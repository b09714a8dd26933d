package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	ats "github.com/muasya/ats-go"
)

const lockRetry = 20 * time.Millisecond

// File keeps all keys in one JSON document. Writes hold an exclusive file
// lock, go to a temporary file and replace the document by rename. The
// previous version is copied to <path>.bak.
type File struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
}

var _ ats.Storage = (*File)(nil)

// NewFile creates a file store at path. The directory is created on first write.
func NewFile(path string) *File {
	return &File{path: path, lock: flock.New(path + ".lock")}
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	return f.update(ctx, func(data map[string]string) { data[key] = value })
}

func (f *File) Delete(ctx context.Context, key string) error {
	return f.update(ctx, func(data map[string]string) { delete(data, key) })
}

func (f *File) update(ctx context.Context, fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("ats/persist: %w", err)
	}
	locked, err := f.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("ats/persist: lock %s: %w", f.path, err)
	}
	if !locked {
		return fmt.Errorf("ats/persist: lock %s not acquired", f.path)
	}
	defer f.lock.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	fn(data)
	return f.saveAtomic(data)
}

func (f *File) read() (map[string]string, error) {
	data := make(map[string]string)
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ats/persist: %w", err)
	}
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("ats/persist: decode %s: %w", f.path, err)
	}
	return data, nil
}

func (f *File) saveAtomic(data map[string]string) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("ats/persist: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("ats/persist: %w", err)
	}

	// The document must exist at every instant for lock-free readers, so the
	// backup is a copy and the new version replaces the old by rename.
	if prev, err := os.ReadFile(f.path); err == nil {
		_ = os.WriteFile(f.path+".bak", prev, 0o600)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("ats/persist: %w", err)
	}
	return nil
}
