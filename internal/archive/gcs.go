package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"certextract/internal/gcloud"
	"certextract/internal/logger"
	"certextract/pkg/models"
)

// GCSStore writes records as objects into a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	log    zerolog.Logger
}

// NewGCSStore opens a client for bucket. The bucket may carry an object
// prefix: "my-bucket/certificates".
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	const op = "NewGCSStore"

	client, err := storage.NewClient(ctx, gcloud.CredentialOptions()...)
	if err != nil {
		return nil, &ArchiveError{Op: op, Err: err, Details: "storage.NewClient"}
	}
	return NewGCSStoreWithClient(client, bucket), nil
}

// NewGCSStoreWithClient creates a store with an existing client.
func NewGCSStoreWithClient(client *storage.Client, bucket string) *GCSStore {
	name, prefix, _ := strings.Cut(strings.TrimPrefix(bucket, "gs://"), "/")
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(name),
		name:   name,
		prefix: prefix,
		log:    logger.WithComponent("archive-gcs"),
	}
}

// Save implements Store. Objects are only created, never overwritten; an
// existing object is reported as saved.
func (s *GCSStore) Save(ctx context.Context, rec models.MetadataRecord) (string, error) {
	const op = "GCSStore.Save"

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: "encode record"}
	}

	object := s.prefix + ObjectName(rec)
	location := fmt.Sprintf("gs://%s/%s", s.name, object)

	w := s.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			s.log.Debug().Str("object", location).Msg("Object already exists, skipping")
			return location, nil
		}
		return "", &ArchiveError{Op: op, Err: err, Details: location}
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			s.log.Debug().Str("object", location).Msg("Object already exists, skipping")
			return location, nil
		}
		return "", &ArchiveError{Op: op, Err: err, Details: location}
	}

	return location, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
