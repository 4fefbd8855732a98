package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

const (
	sessionCacheFile = "session.json"
	lockRetryDelay   = 20 * time.Millisecond
)

// FileCache is a sdk.SessionCache persisted as one JSON object, so cached
// roles survive between CLI invocations the way browser storage survives
// page loads. Every read-modify-write holds an advisory lock on
// session.json.lock, so a running gateway and a separate storectl command
// sharing the state dir do not lose each other's writes.
type FileCache struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

var _ sdk.SessionCache = (*FileCache)(nil)

// NewFileCache creates a FileCache in dir. An empty dir means DefaultDir.
func NewFileCache(dir string) (*FileCache, error) {
	dir, err := ensureDir(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, sessionCacheFile)
	return &FileCache{path: path, lock: flock.New(path + ".lock")}, nil
}

// locked runs fn holding both the in-process mutex and the file lock.
func (c *FileCache) locked(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock session cache: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to lock session cache %s", c.lock.Path())
	}
	defer func() { _ = c.lock.Unlock() }()

	return fn()
}

func (c *FileCache) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := c.locked(ctx, func() error {
		entries, err := c.load()
		if err != nil {
			return err
		}
		v, ok = entries[key]
		return nil
	})
	return v, ok, err
}

func (c *FileCache) Set(ctx context.Context, key, value string) error {
	return c.locked(ctx, func() error {
		entries, err := c.load()
		if err != nil {
			return err
		}
		entries[key] = value
		return c.save(entries)
	})
}

func (c *FileCache) Delete(ctx context.Context, key string) error {
	return c.locked(ctx, func() error {
		entries, err := c.load()
		if err != nil {
			return err
		}
		if _, ok := entries[key]; !ok {
			return nil
		}
		delete(entries, key)
		return c.save(entries)
	})
}

func (c *FileCache) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.locked(ctx, func() error {
		entries, err := c.load()
		if err != nil {
			return err
		}
		keys = make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *FileCache) load() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt cache is only a cache; start over.
		return make(map[string]string), nil
	}
	return entries, nil
}

func (c *FileCache) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session cache: %w", err)
	}
	return writeFileAtomic(c.path, data)
}
