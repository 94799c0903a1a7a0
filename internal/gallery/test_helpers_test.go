package gallery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	validProof   = "let-me-in"
	invalidProof = "nope"
)

var databaseCounter atomic.Int64

type testHarness struct {
	db       *gorm.DB
	service  *Service
	notifier *recordingNotifier
}

type harnessOption func(*ServiceConfig)

func withPayloads(store PayloadStore) harnessOption {
	return func(cfg *ServiceConfig) { cfg.Payloads = store }
}

func withCache(cache ViewCache) harnessOption {
	return func(cfg *ServiceConfig) { cfg.Cache = cache }
}

func withMetrics(metrics *Metrics) harnessOption {
	return func(cfg *ServiceConfig) { cfg.Metrics = metrics }
}

func newTestHarness(testContext *testing.T, options ...harnessOption) *testHarness {
	testContext.Helper()
	db := newTestDatabase(testContext)
	notifier := &recordingNotifier{}
	cfg := ServiceConfig{
		Database:   db,
		Authorizer: AuthorizerFunc(func(_ context.Context, proof string) bool { return proof == validProof }),
		Notifier:   notifier,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
		IDProvider: &sequentialIDs{},
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		testContext.Fatalf("failed to create service: %v", err)
	}
	return &testHarness{db: db, service: service, notifier: notifier}
}

func newTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	dsn := fmt.Sprintf("file:gallery_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", databaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&roster.Model{}, &Image{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func (h *testHarness) seedModel(testContext *testing.T, slug string) roster.ModelID {
	testContext.Helper()
	model := roster.Model{Slug: slug, Name: slug, CreatedAtSeconds: 1, UpdatedAtSeconds: 1}
	if err := h.db.Create(&model).Error; err != nil {
		testContext.Fatalf("failed to seed model: %v", err)
	}
	return model.ModelID()
}

func (h *testHarness) appendImages(testContext *testing.T, owner roster.ModelID, count int) []ImageID {
	testContext.Helper()
	ids := make([]ImageID, 0, count)
	for index := 0; index < count; index++ {
		image, err := h.service.Append(context.Background(), validProof, owner, NewImage{
			PayloadRef: fmt.Sprintf("payload-%d-%d", owner, index),
		})
		if err != nil {
			testContext.Fatalf("append %d failed: %v", index, err)
		}
		ids = append(ids, image.ImageID())
	}
	return ids
}

func (h *testHarness) positions(testContext *testing.T, owner roster.ModelID) Positions {
	testContext.Helper()
	var images []Image
	if err := h.db.Where("model_id = ?", owner.Int64()).Find(&images).Error; err != nil {
		testContext.Fatalf("failed to load images: %v", err)
	}
	return positionsOf(images)
}

func idsOf(view Gallery) []ImageID {
	ids := make([]ImageID, 0, len(view.Images))
	for _, image := range view.Images {
		ids = append(ids, image.ImageID())
	}
	return ids
}

func assertServiceCode(testContext *testing.T, err error, want string) {
	testContext.Helper()
	serviceErr, ok := err.(*ServiceError)
	if !ok {
		testContext.Fatalf("expected *ServiceError, got %T (%v)", err, err)
	}
	if serviceErr.Code() != want {
		testContext.Fatalf("expected code %s, got %s", want, serviceErr.Code())
	}
}

type sequentialIDs struct {
	mu      sync.Mutex
	counter int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	return fmt.Sprintf("img-%03d", p.counter), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Gallery
}

func (n *recordingNotifier) GalleryChanged(_ roster.ModelID, view Gallery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, view)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type memoryCache struct {
	mu            sync.Mutex
	views         map[roster.ModelID]Gallery
	generations   map[roster.ModelID]int64
	hits          int
	invalidations int
	staleSets     int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{views: map[roster.ModelID]Gallery{}, generations: map[roster.ModelID]int64{}}
}

func (c *memoryCache) Get(_ context.Context, owner roster.ModelID) (Gallery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.views[owner]
	if ok {
		c.hits++
	}
	return view, ok, nil
}

func (c *memoryCache) Generation(_ context.Context, owner roster.ModelID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[owner], nil
}

func (c *memoryCache) Set(_ context.Context, owner roster.ModelID, generation int64, view Gallery) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[owner] != generation {
		c.staleSets++
		return false, nil
	}
	c.views[owner] = view
	return true, nil
}

func (c *memoryCache) Invalidate(_ context.Context, owner roster.ModelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[owner]++
	delete(c.views, owner)
	c.invalidations++
	return nil
}

// pausingCache holds the first Set until release is closed.
type pausingCache struct {
	*memoryCache
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newPausingCache() *pausingCache {
	return &pausingCache{
		memoryCache: newMemoryCache(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (c *pausingCache) Set(ctx context.Context, owner roster.ModelID, generation int64, view Gallery) (bool, error) {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.reached)
		<-c.release
	}
	return c.memoryCache.Set(ctx, owner, generation, view)
}
