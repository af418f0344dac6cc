package invoicestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmaze/invoicecore/internal/coretypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)

	record := coretypes.ProcessedInvoiceRecord{
		PN:          "PN-1",
		PID:         "player-1",
		Filename:    "invoice_PN-1.pdf",
		Base64Data:  "ZGF0YQ==",
		FileSize:    5,
		ProcessedAt: time.Now().UTC().Truncate(time.Second),
		SourceKey:   "incoming/invoice_PN-1.pdf",
		SourceSize:  5,
		SourceMtime: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, s.Put("PN-1", record))
	assert.True(t, s.Has("PN-1"))

	got, err := s.Get("PN-1")
	require.NoError(t, err)
	assert.Equal(t, record.PID, got.PID)
	assert.Equal(t, record.Base64Data, got.Base64Data)
	assert.Equal(t, record.SourceKey, got.SourceKey)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("does-not-exist")
	assert.True(t, errors.Is(err, coretypes.ErrNotFound))
}

func TestNewSeedsCacheFromCanonicalAndLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice_PN-1.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PN-2.json"), []byte(`{}`), 0o644))

	s, err := New(dir)
	require.NoError(t, err)

	assert.True(t, s.Has("PN-1"))
	assert.True(t, s.Has("PN-2"))
}

func TestGetFallsBackToLegacyFilename(t *testing.T) {
	dir := t.TempDir()
	dr := `{"playerId":"player-9","base64Data":"eA==","filename":"invoice.pdf","fileSize":1,"processedAt":"2026-01-01T00:00:00Z","s3Metadata":{"s3Key":"k","s3Size":1,"s3LastModified":"2026-01-01T00:00:00Z"},"savedAt":"2026-01-01T00:00:00Z","filePath":"PN-9.json"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PN-9.json"), []byte(dr), 0o644))

	s, err := New(dir)
	require.NoError(t, err)

	record, err := s.Get("PN-9")
	require.NoError(t, err)
	assert.Equal(t, "player-9", record.PID)
}

func TestDeleteRemovesFileAndCacheEntry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("PN-1", coretypes.ProcessedInvoiceRecord{PN: "PN-1"}))

	require.NoError(t, s.Delete("PN-1"))
	assert.False(t, s.Has("PN-1"))

	_, err := s.Get("PN-1")
	assert.True(t, errors.Is(err, coretypes.ErrNotFound))
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete("missing")
	assert.True(t, errors.Is(err, coretypes.ErrNotFound))
}

func TestListReflectsPersistedRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("PN-1", coretypes.ProcessedInvoiceRecord{PN: "PN-1"}))
	require.NoError(t, s.Put("PN-2", coretypes.ProcessedInvoiceRecord{PN: "PN-2"}))

	pns, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PN-1", "PN-2"}, pns)
}

func TestPutOverwritesOnRepeatedWrites(t *testing.T) {
	s := newTestStore(t)
	record := coretypes.ProcessedInvoiceRecord{PN: "PN-1", Base64Data: "first"}
	require.NoError(t, s.Put("PN-1", record))

	record.Base64Data = "second"
	require.NoError(t, s.Put("PN-1", record))

	got, err := s.Get("PN-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Base64Data)
}
