package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BucketStore implements Store against a GCS bucket.
type BucketStore struct {
	bucket *storage.BucketHandle
	name   string
}

func NewBucketStore(client *storage.Client, bucketName string) (*BucketStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("outbox bucket name must be provided")
	}
	return &BucketStore{
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

func (s *BucketStore) Stat(ctx context.Context, objectID string) (int64, bool, error) {
	attrs, err := s.bucket.Object(objectID).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to stat gs://%s/%s: %w", s.name, objectID, err)
	}
	return attrs.Size, true, nil
}

func (s *BucketStore) SignedURL(objectID string, expires time.Time) (string, error) {
	url, err := s.bucket.SignedURL(objectID, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for gs://%s/%s: %w", s.name, objectID, err)
	}
	return url, nil
}

func (s *BucketStore) Delete(ctx context.Context, objectID string) error {
	err := s.bucket.Object(objectID).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.name, objectID, err)
	}
	return nil
}

func (s *BucketStore) ListObjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	it := s.bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s: %w", s.name, err)
		}
		ids = append(ids, attrs.Name)
	}
	return ids, nil
}
