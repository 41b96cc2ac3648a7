package template

import (
	"context"
	"sync"

	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// Cache stores template content by resolved path.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, content string) error
}

// MemoryCache is an in-process Cache. Concurrent population of the same key is
// harmless because template content is deterministic per path.
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get returns the cached content for key.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores content for key unless it is already present.
func (c *MemoryCache) Set(_ context.Context, key, content string) error {
	c.entries.LoadOrStore(key, content)
	return nil
}

// Len returns the number of cached templates.
func (c *MemoryCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CacheRecorder receives cache hit and miss notifications.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachingResolver memoizes template content by resolved absolute path.
type CachingResolver struct {
	files    *FileResolver
	cache    Cache
	log      *logger.Logger
	recorder CacheRecorder
}

// NewCachingResolver wraps files with cache. A nil cache uses a MemoryCache.
func NewCachingResolver(files *FileResolver, cache Cache, log *logger.Logger) *CachingResolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if log == nil {
		log = logger.Default()
	}
	return &CachingResolver{
		files: files,
		cache: cache,
		log:   log.WithComponent("template"),
	}
}

// SetRecorder attaches telemetry. It must be called before the first Resolve.
func (r *CachingResolver) SetRecorder(recorder CacheRecorder) {
	r.recorder = recorder
}

// Resolve returns cached content when available, reading the file otherwise.
func (r *CachingResolver) Resolve(defaultTemplate, template, version string) (string, error) {
	path, err := r.files.Path(defaultTemplate, template, version)
	if err != nil {
		return "", err
	}

	ctx := context.Background()
	content, ok, err := r.cache.Get(ctx, path)
	if err != nil {
		r.log.WithError(err).Warn("Template cache read failed, reading file", "path", path)
	} else if ok {
		if r.recorder != nil {
			r.recorder.RecordCacheHit("template")
		}
		return content, nil
	}
	if r.recorder != nil {
		r.recorder.RecordCacheMiss("template")
	}

	content, err = readTemplate(path)
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ctx, path, content); err != nil {
		r.log.WithError(err).Warn("Template cache write failed", "path", path)
	}
	return content, nil
}
