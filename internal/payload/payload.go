// Package payload stores image and video bytes under content-addressed references.
package payload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotFound indicates that no payload exists for the reference.
	ErrNotFound = errors.New("payload: not found")
	// ErrRejected indicates that content was refused before it was stored.
	ErrRejected = errors.New("payload: rejected")
	// ErrInvalidRef indicates a malformed reference.
	ErrInvalidRef = errors.New("payload: invalid reference")

	refPattern = regexp.MustCompile(`^[0-9a-f]{64}\.[a-z0-9]{1,8}$`)
)

const defaultExtension = ".bin"

// Ref is an opaque content-addressed reference: the SHA-256 of the bytes plus an extension
// derived from the detected content type.
type Ref string

// ParseRef validates a reference received from a client.
func ParseRef(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if !refPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	return Ref(trimmed), nil
}

// String returns the reference text.
func (r Ref) String() string {
	return string(r)
}

// Digest returns the hex digest part of the reference.
func (r Ref) Digest() string {
	digest, _, _ := strings.Cut(string(r), ".")
	return digest
}

// Object describes a stored payload.
type Object struct {
	Ref         Ref    `json:"ref"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Store is the payload collaborator.
type Store interface {
	Put(ctx context.Context, content []byte) (Object, error)
	Open(ctx context.Context, ref Ref) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, ref Ref) error
}

// Describe computes the reference and content type of content without storing it.
func Describe(content []byte) Object {
	detected := mimetype.Detect(content)
	sum := sha256.Sum256(content)
	extension := detected.Extension()
	if extension == "" {
		extension = defaultExtension
	}
	return Object{
		Ref:         Ref(hex.EncodeToString(sum[:]) + extension),
		ContentType: detected.String(),
		Size:        int64(len(content)),
	}
}

func contentTypeOf(header []byte) string {
	return mimetype.Detect(header).String()
}
