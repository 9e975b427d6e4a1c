package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ArchivePrefix is the object-storage key prefix under which cold archives
// are written.
const ArchivePrefix = "archive/"

// ArchiveObjectPath returns the object key for one month's archive of the
// given kind ("bids" or "settlements"). month is formatted YYYY-MM.
func ArchiveObjectPath(kind, month string) string {
	return fmt.Sprintf("%s%s/%s.jsonl", ArchivePrefix, kind, month)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old data from the database to cold storage.
type Archiver interface {
	ArchiveBids(ctx context.Context, before time.Time) (int64, error)
	ArchiveSettlements(ctx context.Context, before time.Time) (int64, error)
}
