package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

var (
	errObjectMissing = errors.New("object does not exist")
	errObjectExists  = errors.New("object already exists")
)

// ObjectStorage is the slice of bucket operations the record store needs.
// Implementations report a missing object as errObjectMissing and a failed
// create-if-absent as errObjectExists.
type ObjectStorage interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Create writes data only if no object with that name exists.
	Create(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// Bucket is the Cloud Storage implementation of ObjectStorage.
// It assumes Application Default Credentials are configured.
type Bucket struct {
	client *storage.Client
	bkt    *storage.BucketHandle
}

// NewBucket opens a handle to bucketName.
func NewBucket(ctx context.Context, bucketName string) (*Bucket, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewBucket: create storage client: %w", err)
	}
	return &Bucket{client: client, bkt: client.Bucket(bucketName)}, nil
}

// Close releases the storage client.
func (b *Bucket) Close() error {
	return b.client.Close()
}

// Read implements ObjectStorage.
func (b *Bucket) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bkt.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errObjectMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Exists implements ObjectStorage.
func (b *Bucket) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.bkt.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read GCS object attrs: %w", err)
	}
	return true, nil
}

// Create implements ObjectStorage using a DoesNotExist precondition.
func (b *Bucket) Create(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := b.bkt.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return errObjectExists
		}
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Delete implements ObjectStorage. A missing object is not an error.
func (b *Bucket) Delete(ctx context.Context, name string) error {
	err := b.bkt.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete GCS object: %w", err)
	}
	return nil
}

// ParseURI splits "gs://bucket/some/prefix/" into bucket and prefix.
// A bare bucket name is returned unchanged with an empty prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid GCS URI: %q", uri)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		prefix = strings.TrimSuffix(parts[1], "/") + "/"
	}
	return bucket, prefix, nil
}

var _ ObjectStorage = (*Bucket)(nil)
