package gallery

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidImageID indicates that an image identifier is empty or too long.
	ErrInvalidImageID = errors.New("gallery: invalid image id")
)

// ImageID identifies an image. It never changes after creation.
type ImageID string

// NewImageID validates a raw identifier.
func NewImageID(raw string) (ImageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidImageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidImageID, maxIdentifierLength)
	}
	return ImageID(trimmed), nil
}

// ParseImageIDs validates a list of raw identifiers, preserving order.
func ParseImageIDs(raw []string) ([]ImageID, error) {
	ids := make([]ImageID, 0, len(raw))
	for _, value := range raw {
		id, err := NewImageID(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// String returns the identifier as stored.
func (id ImageID) String() string {
	return string(id)
}

// Positions maps images of one collection to their positions.
type Positions map[ImageID]int

// Clone returns an independent copy.
func (p Positions) Clone() Positions {
	clone := make(Positions, len(p))
	for id, position := range p {
		clone[id] = position
	}
	return clone
}

// IDs returns the keys sorted by position, ties broken by identifier.
func (p Positions) IDs() []ImageID {
	ids := make([]ImageID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(left, right int) bool {
		if p[ids[left]] != p[ids[right]] {
			return p[ids[left]] < p[ids[right]]
		}
		return ids[left] < ids[right]
	})
	return ids
}

// Holder returns the image at position, if any. When the map is inconsistent the first
// holder in identifier order wins.
func (p Positions) Holder(position int) (ImageID, bool) {
	for _, id := range p.IDs() {
		if p[id] == position {
			return id, true
		}
	}
	return "", false
}

// duplicate reports one position held by more than one image.
func (p Positions) duplicate() (int, bool) {
	seen := make(map[int]struct{}, len(p))
	for _, id := range p.IDs() {
		position := p[id]
		if _, ok := seen[position]; ok {
			return position, true
		}
		seen[position] = struct{}{}
	}
	return 0, false
}

// IDProvider issues identifiers for new images.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers, which sort by
// creation time.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
