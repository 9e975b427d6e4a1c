package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly through their ListBefore methods.
// ---------------------------------------------------------------------------

// BidArchiveStore provides read access to bids for archival purposes.
type BidArchiveStore interface {
	// ListBefore returns all bids placed strictly before the given cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Bid, error)
}

// SettlementArchiveStore provides read access to settlements for archival
// purposes.
type SettlementArchiveStore interface {
	// ListBefore returns all settlements created strictly before the given
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the stores for records
// older than the cutoff, serializing them to JSONL, and uploading the result
// to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	bids        BidArchiveStore
	settlements SettlementArchiveStore
	audit       domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	bids BidArchiveStore,
	settlements SettlementArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		bids:        bids,
		settlements: settlements,
		audit:       audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveBids queries all bids before the cutoff, serializes them to JSONL,
// and uploads the file to S3 at archive/bids/YYYY-MM.jsonl. The archival
// event is recorded in the audit log and the count of archived records is
// returned.
func (a *ArchiveImpl) ArchiveBids(ctx context.Context, before time.Time) (int64, error) {
	bids, err := a.bids.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bids query: %w", err)
	}
	if len(bids) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(bids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bids marshal: %w", err)
	}

	path := archivePath("bids", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive bids upload: %w", err)
	}

	count := int64(len(bids))

	if err := a.audit.Log(ctx, "archive.bids", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive bids audit log: %w", err)
	}

	return count, nil
}

// ArchiveSettlements queries all settlements before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/settlements/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	settlements, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(settlements) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(settlements)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(settlements))

	if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/bids/2026-08.jsonl
//	archive/settlements/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return domain.ArchiveObjectPath(kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
