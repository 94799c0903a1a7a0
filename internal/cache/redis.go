// Package cache keeps projected gallery views in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "portfolio:gallery"
	defaultTTL       = 5 * time.Minute
)

// Options configures RedisGalleryCache.
type Options struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

var _ gallery.ViewCache = (*RedisGalleryCache)(nil)

// RedisGalleryCache implements gallery.ViewCache.
type RedisGalleryCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisGalleryCache creates the client. The connection is established lazily.
func NewRedisGalleryCache(opts Options) (*RedisGalleryCache, error) {
	if opts.Address == "" {
		return nil, errors.New("cache: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisGalleryCache(client, opts), nil
}

func newRedisGalleryCache(client *redis.Client, opts Options) *RedisGalleryCache {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisGalleryCache{client: client, keyPrefix: prefix, ttl: ttl}
}

// Ping checks connectivity.
func (c *RedisGalleryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached view. A miss is (zero, false, nil).
func (c *RedisGalleryCache) Get(ctx context.Context, owner roster.ModelID) (gallery.Gallery, bool, error) {
	data, err := c.client.Get(ctx, c.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gallery.Gallery{}, false, nil
	}
	if err != nil {
		return gallery.Gallery{}, false, fmt.Errorf("cache: get %s: %w", c.key(owner), err)
	}
	view, err := decodeView(data)
	if err != nil {
		return gallery.Gallery{}, false, err
	}
	return view, true, nil
}

// storeIfCurrent writes the view only while the generation key still holds the generation
// the view was read under. A missing generation key counts as 0.
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Generation returns the owner's current generation; 0 when it was never invalidated.
func (c *RedisGalleryCache) Generation(ctx context.Context, owner roster.ModelID) (int64, error) {
	generation, err := c.client.Get(ctx, c.generationKey(owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: get %s: %w", c.generationKey(owner), err)
	}
	return generation, nil
}

// Set stores the view with the configured TTL when generation is still current. It reports
// whether the view was stored.
func (c *RedisGalleryCache) Set(ctx context.Context, owner roster.ModelID, generation int64, view gallery.Gallery) (bool, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("cache: encode gallery %s: %w", owner, err)
	}
	stored, err := storeIfCurrent.Run(ctx, c.client,
		[]string{c.generationKey(owner), c.key(owner)},
		strconv.FormatInt(generation, 10), data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache: set %s: %w", c.key(owner), err)
	}
	return stored == 1, nil
}

// Invalidate advances the owner's generation and drops the cached view in one transaction.
// The generation key carries no TTL so it never moves backwards.
func (c *RedisGalleryCache) Invalidate(ctx context.Context, owner roster.ModelID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey(owner))
		pipe.Del(ctx, c.key(owner))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", c.key(owner), err)
	}
	return nil
}

// Close releases the client.
func (c *RedisGalleryCache) Close() error {
	return c.client.Close()
}

func (c *RedisGalleryCache) key(owner roster.ModelID) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, owner.String())
}

func (c *RedisGalleryCache) generationKey(owner roster.ModelID) string {
	return c.key(owner) + ":generation"
}

func decodeView(data []byte) (gallery.Gallery, error) {
	var view gallery.Gallery
	if err := json.Unmarshal(data, &view); err != nil {
		return gallery.Gallery{}, fmt.Errorf("cache: decode gallery: %w", err)
	}
	if view.Images == nil {
		view.Images = []gallery.Image{}
	}
	return view, nil
}
