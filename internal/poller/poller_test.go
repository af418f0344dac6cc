package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmaze/invoicecore/internal/auditlog"
	"github.com/shopmaze/invoicecore/internal/coretypes"
)

type fakeAuditLog struct {
	mu      sync.Mutex
	records []auditlog.Outcome
}

func (f *fakeAuditLog) Record(ctx context.Context, pn coretypes.PN, pid coretypes.PID, outcome auditlog.Outcome, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, outcome)
	return nil
}

func (f *fakeAuditLog) Ping(ctx context.Context) error { return nil }
func (f *fakeAuditLog) Close() error                   { return nil }

func (f *fakeAuditLog) outcomes() []auditlog.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]auditlog.Outcome, len(f.records))
	copy(out, f.records)
	return out
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects []coretypes.ObjectSummary
	data    map[string][]byte
	listErr error
	getErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{data: make(map[string][]byte)}
}

func (f *fakeObjectStore) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, coretypes.ObjectSummary{Key: key, Size: int64(len(data)), LastModified: time.Now().UTC()})
	f.data[key] = data
}

func (f *fakeObjectStore) List(ctx context.Context) ([]coretypes.ObjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]coretypes.ObjectSummary, len(f.objects))
	copy(out, f.objects)
	return out, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.data[key]
	if !ok {
		return nil, coretypes.ErrNotFound
	}
	return data, nil
}

type fakeInvoiceStore struct {
	mu      sync.Mutex
	records map[coretypes.PN]coretypes.ProcessedInvoiceRecord
	putErr  error
}

func newFakeInvoiceStore() *fakeInvoiceStore {
	return &fakeInvoiceStore{records: make(map[coretypes.PN]coretypes.ProcessedInvoiceRecord)}
}

func (f *fakeInvoiceStore) Has(pn coretypes.PN) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[pn]
	return ok
}

func (f *fakeInvoiceStore) Put(pn coretypes.PN, record coretypes.ProcessedInvoiceRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[pn] = record
	return nil
}

func (f *fakeInvoiceStore) Get(pn coretypes.PN) (coretypes.ProcessedInvoiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[pn]
	if !ok {
		return coretypes.ProcessedInvoiceRecord{}, coretypes.ErrNotFound
	}
	return record, nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	entries map[coretypes.PN]coretypes.ExpectedInvoice
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: make(map[coretypes.PN]coretypes.ExpectedInvoice)}
}

func (f *fakeRegistry) register(pn coretypes.PN, pid coretypes.PID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[pn] = coretypes.ExpectedInvoice{PN: pn, PID: pid, RegisteredAt: time.Now().UTC()}
}

func (f *fakeRegistry) Lookup(pn coretypes.PN) (coretypes.ExpectedInvoice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[pn]
	return entry, ok
}

func (f *fakeRegistry) Consume(pn coretypes.PN) (coretypes.ExpectedInvoice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[pn]
	if ok {
		delete(f.entries, pn)
	}
	return entry, ok
}

func (f *fakeRegistry) outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func newTestEngine(objs *fakeObjectStore, inv *fakeInvoiceStore, reg *fakeRegistry, deliver DeliveryCallback) *Engine {
	return New(objs, inv, reg, deliver, time.Hour, nil, nil, nil)
}

func TestExtractPNMatchesAllFourPatterns(t *testing.T) {
	cases := []struct {
		key  string
		want coretypes.PN
	}{
		{"incoming/invoice_12345.pdf", "12345"},
		{"incoming/98765.pdf", "98765"},
		{"incoming/invoice55555.pdf", "55555"},
		{"incoming/22222_invoice.pdf", "22222"},
	}
	for _, c := range cases {
		pn, ok := extractPN(c.key)
		assert.True(t, ok, c.key)
		assert.Equal(t, c.want, pn, c.key)
	}
}

func TestExtractPNSkipsNonInvoiceLikeKeys(t *testing.T) {
	_, ok := extractPN("incoming/readme.txt")
	assert.False(t, ok)
}

// S1: object matching a registered PN is fetched, persisted, and delivered.
func TestProcessAndNotifyHappyPath(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))

	var delivered coretypes.ProcessedInvoiceRecord
	deliver := func(record coretypes.ProcessedInvoiceRecord) bool {
		delivered = record
		return true
	}

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.Equal(t, coretypes.PN("555"), delivered.PN)
	assert.Equal(t, coretypes.PID("player-1"), delivered.PID)
	assert.True(t, inv.Has("555"))
	assert.Equal(t, 0, reg.outstanding())
}

// S2: unregistered PN is never fetched or persisted (strict expected-only rule).
func TestUnregisteredPNIsIgnored(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	objs.put("incoming/invoice_999.pdf", []byte("pdf-bytes"))

	called := false
	deliver := func(record coretypes.ProcessedInvoiceRecord) bool {
		called = true
		return true
	}

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.False(t, called)
	assert.False(t, inv.Has("999"))
}

// S3: a PN already present in the invoice store re-notifies instead of
// re-fetching, and the registry entry is still consumed.
func TestRenotifyPathForAlreadyPersistedPN(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))
	require.NoError(t, inv.Put("555", coretypes.ProcessedInvoiceRecord{PN: "555", PID: "player-1"}))

	deliveries := 0
	deliver := func(record coretypes.ProcessedInvoiceRecord) bool {
		deliveries++
		return true
	}

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.Equal(t, 1, deliveries)
	assert.Equal(t, 0, reg.outstanding())
}

// S4: delivery callback reporting no live session still consumes the
// registry entry on the process-and-notify path (no retry).
func TestNoSessionStillConsumesRegistryEntry(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))

	deliver := func(record coretypes.ProcessedInvoiceRecord) bool { return false }

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.True(t, inv.Has("555"))
	assert.Equal(t, 0, reg.outstanding())
}

// S5: a fetch failure leaves the registration intact for a retry on the
// next tick.
func TestFetchFailureRetainsRegistration(t *testing.T) {
	objs := newFakeObjectStore()
	objs.getErr = errors.New("network blip")
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))

	deliver := func(record coretypes.ProcessedInvoiceRecord) bool { return true }

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.False(t, inv.Has("555"))
	assert.Equal(t, 1, reg.outstanding())
}

// S6: persistence failure also leaves the registration intact.
func TestPersistFailureRetainsRegistration(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	inv.putErr = errors.New("disk full")
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))

	deliver := func(record coretypes.ProcessedInvoiceRecord) bool { return true }

	e := newTestEngine(objs, inv, reg, deliver)
	e.tick(context.Background())

	assert.Equal(t, 1, reg.outstanding())
}

// The audit log records a processed+delivered pair on the happy path and
// a renotified entry on the re-notify path.
func TestAuditLogRecordsLifecycleOutcomes(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))
	audit := &fakeAuditLog{}

	deliver := func(record coretypes.ProcessedInvoiceRecord) bool { return true }
	e := New(objs, inv, reg, deliver, time.Hour, nil, nil, audit)
	e.tick(context.Background())

	assert.Equal(t, []auditlog.Outcome{auditlog.OutcomeProcessed, auditlog.OutcomeDelivered}, audit.outcomes())

	reg.register("555", "player-1")
	e.tick(context.Background())
	assert.Equal(t, auditlog.OutcomeRenotified, audit.outcomes()[len(audit.outcomes())-1])
}

func TestSingleFlightDropsOverlappingTicks(t *testing.T) {
	objs := newFakeObjectStore()
	inv := newFakeInvoiceStore()
	reg := newFakeRegistry()
	reg.register("555", "player-1")
	objs.put("incoming/invoice_555.pdf", []byte("pdf-bytes"))

	e := New(objs, inv, reg, func(coretypes.ProcessedInvoiceRecord) bool { return true }, 5*time.Millisecond, nil, nil, nil)
	e.inFlight.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	<-done

	assert.False(t, inv.Has("555"), "a tick landing while inFlight is held should be dropped entirely")
}
