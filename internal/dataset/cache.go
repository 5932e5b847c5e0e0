package dataset

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes loaded tables by source path for the life of the process.
// Tables are never mutated after load, so callers share them freely.
// Failed loads are not cached.
type Cache struct {
	load   func(path string) (*Table, error)
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]*Table
	group  singleflight.Group
}

// NewCache creates a cache backed by Load.
func NewCache(logger *zap.Logger) *Cache {
	return newCache(Load, logger)
}

func newCache(load func(string) (*Table, error), logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		load:   load,
		logger: logger,
		tables: make(map[string]*Table),
	}
}

// Get returns the table for path, reading it on first use only.
func (c *Cache) Get(path string) (*Table, error) {
	c.mu.RLock()
	t, ok := c.tables[path]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		c.mu.RLock()
		t, ok := c.tables[path]
		c.mu.RUnlock()
		if ok {
			return t, nil
		}

		t, err := c.load(path)
		if err != nil {
			return nil, err
		}
		c.logger.Info("dataset loaded", zap.String("source", path), zap.Int("posts", t.Len()))

		c.mu.Lock()
		c.tables[path] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Preload loads every path concurrently and returns the first error.
func (c *Cache) Preload(ctx context.Context, paths ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := c.Get(p)
			return err
		})
	}
	return g.Wait()
}
