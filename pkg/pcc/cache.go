package pcc

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Cache keeps each package open at most once while a batch of edits is
// staged against it.
type Cache struct {
	mu       sync.Mutex
	packages map[string]*Package
	opts     []Option
	logger   hclog.Logger
}

// NewCache creates an empty cache. opts are passed to every Open.
func NewCache(logger hclog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Cache{
		packages: make(map[string]*Package),
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
	}
}

// cacheKey returns the absolute path of path and the key it is cached
// under: the absolute path with symlinks resolved when the file exists.
func cacheKey(path string) (abs, key string, err error) {
	abs, err = filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrOpenFile, path, err)
	}
	key = abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		key = resolved
	}
	return abs, key, nil
}

// Open returns the cached package for path, opening it on first use.
// Relative paths and symlinks naming the same file share one Package.
func (c *Cache) Open(path string) (*Package, error) {
	abs, key, err := cacheKey(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.packages[key]; ok {
		return p, nil
	}
	p, err := Open(abs, c.opts...)
	if err != nil {
		return nil, err
	}
	c.packages[key] = p
	return p, nil
}

// Len returns the number of open packages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packages)
}

// Paths returns the sorted paths of every open package.
func (c *Cache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.packages))
	for path := range c.packages {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Close drops one package without saving it.
func (c *Cache) Close(path string) {
	_, key, err := cacheKey(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.packages, key)
}

// Dirty returns the sorted paths of packages with staged changes.
func (c *Cache) Dirty() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for path, p := range c.packages {
		if p.Dirty() {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// SaveAll saves every dirty package in path order and returns the saved
// paths. It stops at the first failure.
func (c *Cache) SaveAll() ([]string, error) {
	paths := c.Dirty()

	c.mu.Lock()
	defer c.mu.Unlock()

	saved := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := c.packages[path].Save(); err != nil {
			return saved, fmt.Errorf("save %q: %w", path, err)
		}
		saved = append(saved, path)
	}
	c.logger.Info("packages saved", "count", len(saved))
	return saved, nil
}

// Discard drops every package without saving staged changes.
func (c *Cache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.packages); n > 0 {
		c.logger.Debug("discarding packages", "count", n)
	}
	c.packages = make(map[string]*Package)
}
