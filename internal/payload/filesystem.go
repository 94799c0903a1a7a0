package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

const sniffLength = 3072

// FilesystemStore keeps payloads in a two-level sharded directory tree on an afero
// filesystem.
type FilesystemStore struct {
	fs   afero.Fs
	root string
}

// NewFilesystemStore roots a store at root. Use afero.NewOsFs in production and
// afero.NewMemMapFs in tests.
func NewFilesystemStore(fs afero.Fs, root string) (*FilesystemStore, error) {
	if fs == nil {
		return nil, errors.New("payload: filesystem is required")
	}
	if root == "" {
		root = "."
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("payload: create root %s: %w", root, err)
	}
	return &FilesystemStore{fs: fs, root: root}, nil
}

// Put writes content unless identical bytes are already stored.
func (s *FilesystemStore) Put(ctx context.Context, content []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	object := Describe(content)
	target := s.pathFor(object.Ref)

	if _, err := s.fs.Stat(target); err == nil {
		return object, nil
	}
	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("payload: create shard: %w", err)
	}
	staging := target + ".partial"
	if err := afero.WriteFile(s.fs, staging, content, 0o644); err != nil {
		return Object{}, fmt.Errorf("payload: write %s: %w", object.Ref, err)
	}
	if err := s.fs.Rename(staging, target); err != nil {
		_ = s.fs.Remove(staging)
		return Object{}, fmt.Errorf("payload: commit %s: %w", object.Ref, err)
	}
	return object, nil
}

// Open returns a reader over the stored bytes.
func (s *FilesystemStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}
	if _, err := ParseRef(ref.String()); err != nil {
		return nil, Object{}, err
	}
	file, err := s.fs.Open(s.pathFor(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Object{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("payload: open %s: %w", ref, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("payload: stat %s: %w", ref, err)
	}
	header := make([]byte, sniffLength)
	read, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("payload: read %s: %w", ref, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, Object{}, fmt.Errorf("payload: rewind %s: %w", ref, err)
	}
	return file, Object{Ref: ref, ContentType: contentTypeOf(header[:read]), Size: info.Size()}, nil
}

// Delete removes the payload. Deleting a missing payload succeeds.
func (s *FilesystemStore) Delete(ctx context.Context, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseRef(ref.String()); err != nil {
		return err
	}
	err := s.fs.Remove(s.pathFor(ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("payload: delete %s: %w", ref, err)
	}
	return nil
}

func (s *FilesystemStore) pathFor(ref Ref) string {
	digest := ref.Digest()
	return path.Join(s.root, digest[:2], digest[2:4], ref.String())
}
