// Package invoicestore implements the Invoice Store (C2): durable per-invoice
// JSON records on the local filesystem, the dedup cache that mirrors them,
// and the read path used for later retrieval.
package invoicestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopmaze/invoicecore/internal/coretypes"
)

var legacyFilenamePattern = regexp.MustCompile(`^([^_].*)\.json$`)

// diskRecord is the on-disk shape of a Processed Invoice Record.
type diskRecord struct {
	PlayerID    string               `json:"playerId"`
	Base64Data  string               `json:"base64Data"`
	Filename    string               `json:"filename"`
	FileSize    int64                `json:"fileSize"`
	ProcessedAt time.Time            `json:"processedAt"`
	S3Metadata  coretypes.S3Metadata `json:"s3Metadata"`
	SavedAt     time.Time            `json:"savedAt"`
	FilePath    string               `json:"filePath"`
}

// Store is the on-disk invoice store. Only the polling engine writes;
// reads are lock-free and tolerate the atomic-rename window via one retry.
type Store struct {
	dir   string
	cache sync.Map // PN -> struct{}
}

// New seeds the dedup cache from a directory scan. The directory is
// created if it does not already exist; failure to create it is fatal
// for any caller that requires persistence.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create invoice dir %s: %v", coretypes.ErrFatal, dir, err)
	}

	s := &Store{dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: scan invoice dir %s: %v", coretypes.ErrFatal, dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if pn, ok := pnFromFilename(e.Name()); ok {
			s.cache.Store(pn, struct{}{})
		}
	}

	return s, nil
}

func pnFromFilename(name string) (string, bool) {
	if strings.HasPrefix(name, "invoice_") && strings.HasSuffix(name, ".json") {
		return strings.TrimSuffix(strings.TrimPrefix(name, "invoice_"), ".json"), true
	}
	if m := legacyFilenamePattern.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

func (s *Store) canonicalPath(pn coretypes.PN) string {
	return filepath.Join(s.dir, fmt.Sprintf("invoice_%s.json", pn))
}

func (s *Store) legacyPath(pn coretypes.PN) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", pn))
}

// Has is an O(1) check against the dedup cache.
func (s *Store) Has(pn coretypes.PN) bool {
	_, ok := s.cache.Load(pn)
	return ok
}

// Put persists record under the canonical filename via write-temp-then-rename,
// then adds pn to the dedup cache.
func (s *Store) Put(pn coretypes.PN, record coretypes.ProcessedInvoiceRecord) error {
	record.SavedAt = time.Now().UTC()
	record.FilePath = s.canonicalPath(pn)

	dr := diskRecord{
		PlayerID:    record.PID,
		Base64Data:  record.Base64Data,
		Filename:    record.Filename,
		FileSize:    record.FileSize,
		ProcessedAt: record.ProcessedAt,
		S3Metadata: coretypes.S3Metadata{
			Key:          record.SourceKey,
			Size:         record.SourceSize,
			LastModified: record.SourceMtime,
		},
		SavedAt:  record.SavedAt,
		FilePath: record.FilePath,
	}

	data, err := json.Marshal(dr)
	if err != nil {
		return fmt.Errorf("%w: marshal record %s: %v", coretypes.ErrIOError, pn, err)
	}

	tmp, err := os.CreateTemp(s.dir, "invoice-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %v", coretypes.ErrIOError, pn, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file for %s: %v", coretypes.ErrIOError, pn, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp file for %s: %v", coretypes.ErrIOError, pn, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file for %s: %v", coretypes.ErrIOError, pn, err)
	}

	if err := os.Rename(tmpName, record.FilePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename into place for %s: %v", coretypes.ErrIOError, pn, err)
	}

	s.cache.Store(pn, struct{}{})
	return nil
}

// Get reads the canonical filename, then the legacy filename, retrying
// once on a transient read failure to tolerate the atomic-rename window.
func (s *Store) Get(pn coretypes.PN) (coretypes.ProcessedInvoiceRecord, error) {
	for _, path := range []string{s.canonicalPath(pn), s.legacyPath(pn)} {
		record, err := s.readWithRetry(pn, path)
		if err == nil {
			return record, nil
		}
		if !os.IsNotExist(err) {
			return coretypes.ProcessedInvoiceRecord{}, fmt.Errorf("%w: read %s: %v", coretypes.ErrIOError, path, err)
		}
	}
	return coretypes.ProcessedInvoiceRecord{}, fmt.Errorf("%w: invoice %s", coretypes.ErrNotFound, pn)
}

func (s *Store) readWithRetry(pn coretypes.PN, path string) (coretypes.ProcessedInvoiceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			time.Sleep(10 * time.Millisecond)
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return coretypes.ProcessedInvoiceRecord{}, err
		}
	}

	var dr diskRecord
	if err := json.Unmarshal(data, &dr); err != nil {
		return coretypes.ProcessedInvoiceRecord{}, fmt.Errorf("unmarshal %s: %w", path, err)
	}

	return coretypes.ProcessedInvoiceRecord{
		PN:          pn,
		PID:         dr.PlayerID,
		Filename:    dr.Filename,
		Base64Data:  dr.Base64Data,
		FileSize:    dr.FileSize,
		ProcessedAt: dr.ProcessedAt,
		SourceKey:   dr.S3Metadata.Key,
		SourceSize:  dr.S3Metadata.Size,
		SourceMtime: dr.S3Metadata.LastModified,
		SavedAt:     dr.SavedAt,
		FilePath:    dr.FilePath,
	}, nil
}

// List returns every PN found by a directory scan. Used only at startup.
func (s *Store) List() ([]coretypes.PN, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoice dir %s: %v", coretypes.ErrIOError, s.dir, err)
	}
	var pns []coretypes.PN
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if pn, ok := pnFromFilename(e.Name()); ok {
			pns = append(pns, pn)
		}
	}
	return pns, nil
}

// Delete removes the on-disk file (canonical, falling back to legacy) and
// the cache entry.
func (s *Store) Delete(pn coretypes.PN) error {
	removed := false
	for _, path := range []string{s.canonicalPath(pn), s.legacyPath(pn)} {
		if err := os.Remove(path); err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("%w: delete %s: %v", coretypes.ErrIOError, path, err)
		}
	}
	s.cache.Delete(pn)
	if !removed {
		return fmt.Errorf("%w: invoice %s", coretypes.ErrNotFound, pn)
	}
	return nil
}
