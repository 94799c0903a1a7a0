package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/portfolio/internal/gallery"
	"github.com/MarcoPoloResearchLab/portfolio/internal/roster"
)

const (
	RealtimeEventGalleryChanged = "gallery-changed"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "portfolio-backend"
	defaultRealtimeBuffer       = 16
)

// RealtimeMessage announces the committed state of one model's collection.
type RealtimeMessage struct {
	ModelID         roster.ModelID
	EventType       string
	FeaturedImageID string
	ImageIDs        []string
	Timestamp       time.Time
}

// RealtimeDispatcher fans gallery changes out to the subscribers of each model.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[roster.ModelID]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[roster.ModelID]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for modelID until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, modelID roster.ModelID) (<-chan RealtimeMessage, func()) {
	if modelID <= 0 {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(modelID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(modelID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of its model. Slow subscribers miss messages
// rather than block the publisher.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.ModelID <= 0 || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.ModelID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// GalleryChanged publishes the committed view of owner's collection.
func (d *RealtimeDispatcher) GalleryChanged(owner roster.ModelID, view gallery.Gallery) {
	message := RealtimeMessage{
		ModelID:   owner,
		EventType: RealtimeEventGalleryChanged,
		ImageIDs:  make([]string, 0, len(view.Images)),
		Timestamp: d.clock().UTC(),
	}
	if view.Featured != nil {
		message.FeaturedImageID = view.Featured.ID
	}
	for _, image := range view.Images {
		message.ImageIDs = append(message.ImageIDs, image.ID)
	}
	d.Publish(message)
}

func (d *RealtimeDispatcher) subscriberCount(modelID roster.ModelID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[modelID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(modelID roster.ModelID, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[modelID]; !ok {
		d.subscribers[modelID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[modelID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(modelID roster.ModelID, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[modelID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, modelID)
		}
	}
	d.mu.Unlock()
}
