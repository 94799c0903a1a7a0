package payload

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const minioNoSuchKey = "NoSuchKey"

// MinioConfig locates the bucket that holds payloads.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// MinioStore keeps payloads as objects named by their reference.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket when missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("payload: create minio client: %w", err)
	}
	store := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("payload: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("payload: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads content under its reference.
func (s *MinioStore) Put(ctx context.Context, content []byte) (Object, error) {
	object := Describe(content)
	_, err := s.client.PutObject(ctx, s.bucket, object.Ref.String(), bytes.NewReader(content), object.Size, minio.PutObjectOptions{
		ContentType:  object.ContentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return Object{}, fmt.Errorf("payload: upload %s: %w", object.Ref, err)
	}
	return object, nil
}

// Open streams the object.
func (s *MinioStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, Object, error) {
	if _, err := ParseRef(ref.String()); err != nil {
		return nil, Object{}, err
	}
	reader, err := s.client.GetObject(ctx, s.bucket, ref.String(), minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, s.translate(ref, err)
	}
	info, err := reader.Stat()
	if err != nil {
		_ = reader.Close()
		return nil, Object{}, s.translate(ref, err)
	}
	return reader, Object{Ref: ref, ContentType: info.ContentType, Size: info.Size}, nil
}

// Delete removes the object. Removing a missing object succeeds.
func (s *MinioStore) Delete(ctx context.Context, ref Ref) error {
	if _, err := ParseRef(ref.String()); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref.String(), minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == minioNoSuchKey {
			return nil
		}
		return fmt.Errorf("payload: delete %s: %w", ref, err)
	}
	return nil
}

func (s *MinioStore) translate(ref Ref, err error) error {
	if minio.ToErrorResponse(err).Code == minioNoSuchKey {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("payload: read %s: %w", ref, err)
}
