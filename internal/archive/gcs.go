package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/logger"
)

// uploadTimeout bounds one object upload.
const uploadTimeout = 2 * time.Minute

// ObjectStore is the subset of cloud storage the archive needs.
type ObjectStore interface {
	// Put writes data to bucket/object, replacing any existing object.
	Put(ctx context.Context, bucket, object string, data io.Reader) error

	// Get returns the bytes of bucket/object.
	Get(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSStore implements ObjectStore with a shared storage client.
type GCSStore struct {
	client *storage.Client
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore creates a store using Application Default Credentials.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *GCSStore) Put(ctx context.Context, bucket, object string, data io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ObjectURI returns the conventional archive location of a run inside bucket.
func ObjectURI(bucket, runID string) string {
	return "gs://" + bucket + "/" + path.Join("runs", runID, "ledger.jsonl")
}

// Archive uploads and fetches ledger snapshots.
type Archive struct {
	store ObjectStore
}

// New returns an archive backed by store.
func New(store ObjectStore) *Archive {
	return &Archive{store: store}
}

// UploadSnapshot writes snap as JSON Lines to gcsURI and returns the row count.
func (a *Archive) UploadSnapshot(ctx context.Context, gcsURI string, snap ledger.Snapshot) (int, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return 0, fmt.Errorf("UploadSnapshot: %w", err)
	}
	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, snap)
	if err != nil {
		return 0, fmt.Errorf("UploadSnapshot: %w", err)
	}
	if err := a.store.Put(ctx, bucket, object, &buf); err != nil {
		return 0, fmt.Errorf("UploadSnapshot: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("uri", gcsURI).
		Int("rows", n).
		Msg("archived ledger snapshot")
	return n, nil
}

// FetchRecords downloads and decodes the records stored at gcsURI.
func (a *Archive) FetchRecords(ctx context.Context, gcsURI string) ([]ledger.TransactionRecord, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: %w", err)
	}
	data, err := a.store.Get(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: %w", err)
	}
	recs, err := ReadJSONL(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("FetchRecords: %w", err)
	}
	return recs, nil
}
