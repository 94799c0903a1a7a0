package payload

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultAllowedTypes lists the media types accepted for gallery uploads.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/avif",
	"video/mp4",
	"video/webm",
}

// Guard rejects oversized or non-media content before it reaches the wrapped store.
type Guard struct {
	next     Store
	maxBytes uint64
	allowed  []string
}

// NewGuard wraps next. maxSize is human readable, for example "10MB" or "512 KiB".
func NewGuard(next Store, maxSize string, allowed []string) (*Guard, error) {
	if next == nil {
		return nil, fmt.Errorf("payload: guarded store is required")
	}
	maxBytes, err := humanize.ParseBytes(maxSize)
	if err != nil {
		return nil, fmt.Errorf("payload: parse max size %q: %w", maxSize, err)
	}
	if maxBytes == 0 {
		return nil, fmt.Errorf("payload: max size must be positive")
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return &Guard{next: next, maxBytes: maxBytes, allowed: allowed}, nil
}

// Put checks size and detected type, then delegates.
func (g *Guard) Put(ctx context.Context, content []byte) (Object, error) {
	if len(content) == 0 {
		return Object{}, fmt.Errorf("%w: empty content", ErrRejected)
	}
	if uint64(len(content)) > g.maxBytes {
		return Object{}, fmt.Errorf("%w: %s exceeds the %s limit", ErrRejected,
			humanize.Bytes(uint64(len(content))), humanize.Bytes(g.maxBytes))
	}
	detected := mimetype.Detect(content)
	if !g.accepts(detected) {
		return Object{}, fmt.Errorf("%w: content type %s is not allowed", ErrRejected, detected.String())
	}
	return g.next.Put(ctx, content)
}

// Open delegates.
func (g *Guard) Open(ctx context.Context, ref Ref) (io.ReadCloser, Object, error) {
	return g.next.Open(ctx, ref)
}

// Delete delegates.
func (g *Guard) Delete(ctx context.Context, ref Ref) error {
	return g.next.Delete(ctx, ref)
}

// MaxBytes returns the size limit.
func (g *Guard) MaxBytes() uint64 {
	return g.maxBytes
}

func (g *Guard) accepts(detected *mimetype.MIME) bool {
	for _, allowed := range g.allowed {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}
