package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

type fakeBlobReader struct {
	objects map[string]string
}

func (f *fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, body := range f.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{
				Path:         path,
				Size:         int64(len(body)),
				LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			})
		}
	}
	return out, nil
}

func (f *fakeBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func newArchiveMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewArchiveHandler(&fakeBlobReader{objects: map[string]string{
		domain.ArchiveObjectPath("bids", "2026-08"): `{"id":"b1"}` + "\n",
	}}, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives", h.ListArchives)
	mux.HandleFunc("GET /api/archives/{kind}/{month}", h.GetArchive)
	return mux
}

func TestGetArchive(t *testing.T) {
	mux := newArchiveMux(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"existing_month", "/api/archives/bids/2026-08", http.StatusOK, `{"id":"b1"}` + "\n"},
		{"missing_month", "/api/archives/bids/2026-07", http.StatusNotFound, ""},
		{"unknown_kind", "/api/archives/trades/2026-08", http.StatusNotFound, ""},
		{"malformed_month", "/api/archives/bids/aug-2026", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rec.Body.String())
				require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestListArchives(t *testing.T) {
	mux := newArchiveMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "archive/bids/2026-08.jsonl")
}
