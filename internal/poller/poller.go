// Package poller implements the Polling Engine (C4): a single-flight,
// ticker-driven scan of the object store that matches filenames to
// registered PO numbers, fetches and persists artifacts, and drives
// delivery.
package poller

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopmaze/invoicecore/internal/auditlog"
	"github.com/shopmaze/invoicecore/internal/coretypes"
	"github.com/shopmaze/invoicecore/internal/eventbus"
	"github.com/shopmaze/invoicecore/internal/telemetry"
)

// filenamePatterns are evaluated in order; the first match wins.
var filenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`invoice[_-](\d+)`),
	regexp.MustCompile(`(\d+)\.pdf$`),
	regexp.MustCompile(`invoice(\d+)`),
	regexp.MustCompile(`(\d+)[_-]invoice`),
}

// ObjectStore is the subset of the Object Store Gateway the poller consumes.
type ObjectStore interface {
	List(ctx context.Context) ([]coretypes.ObjectSummary, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// InvoiceStore is the subset of the Invoice Store the poller consumes.
type InvoiceStore interface {
	Has(pn coretypes.PN) bool
	Put(pn coretypes.PN, record coretypes.ProcessedInvoiceRecord) error
	Get(pn coretypes.PN) (coretypes.ProcessedInvoiceRecord, error)
}

// Registry is the subset of the Expected-Invoice Registry the poller consumes.
type Registry interface {
	Lookup(pn coretypes.PN) (coretypes.ExpectedInvoice, bool)
	Consume(pn coretypes.PN) (coretypes.ExpectedInvoice, bool)
}

// DeliveryCallback is invoked once persistence succeeds (process-and-notify
// path) or once a prior record is found (re-notify path). It returns true
// if a frame was sent to a live session.
type DeliveryCallback func(record coretypes.ProcessedInvoiceRecord) bool

// Engine runs the polling loop.
type Engine struct {
	objectStore  ObjectStore
	invoiceStore InvoiceStore
	registry     Registry
	deliver      DeliveryCallback
	interval     time.Duration
	metrics      *telemetry.Metrics
	events       eventbus.Emitter
	audit        auditlog.Log

	inFlight atomic.Bool
	stop     chan struct{}
}

// New builds a polling engine. metrics, events and audit may be nil.
func New(objectStore ObjectStore, invoiceStore InvoiceStore, registry Registry, deliver DeliveryCallback, interval time.Duration, metrics *telemetry.Metrics, events eventbus.Emitter, audit auditlog.Log) *Engine {
	return &Engine{
		objectStore:  objectStore,
		invoiceStore: invoiceStore,
		registry:     registry,
		deliver:      deliver,
		interval:     interval,
		metrics:      metrics,
		events:       events,
		audit:        audit,
		stop:         make(chan struct{}),
	}
}

// Run drives the polling loop until ctx is cancelled. Ticks never overlap:
// if a scan is in progress when the timer fires, the tick is dropped.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if !e.inFlight.CompareAndSwap(false, true) {
				continue
			}
			e.tick(ctx)
			e.inFlight.Store(false)
		}
	}
}

// Stop signals the loop to exit without waiting for a new tick.
func (e *Engine) Stop() {
	close(e.stop)
}

func (e *Engine) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.PollTicks.Inc()
			e.metrics.PollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	objects, err := e.objectStore.List(ctx)
	if err != nil {
		if errors.Is(err, coretypes.ErrTransport) {
			slog.Warn("poller: list failed, retrying next tick", "error", err)
			return
		}
		slog.Error("poller: unexpected list error", "error", err)
		return
	}

	seen := make(map[coretypes.PN]bool)
	for _, obj := range objects {
		pn, ok := extractPN(obj.Key)
		if !ok {
			continue
		}
		if seen[pn] {
			continue
		}

		entry, ok := e.registry.Lookup(pn)
		if !ok {
			continue
		}

		if e.invoiceStore.Has(pn) {
			e.renotify(ctx, pn, entry)
		} else {
			e.processAndNotify(ctx, pn, entry, obj)
		}
		seen[pn] = true
	}
}

// extractPN skips non-candidate filenames, then tries each pattern in
// order. Filename matching is advisory; the registry is the authority.
func extractPN(key string) (coretypes.PN, bool) {
	lower := strings.ToLower(key)
	if !strings.HasSuffix(lower, ".pdf") && !strings.Contains(lower, "invoice") {
		return "", false
	}
	for _, pattern := range filenamePatterns {
		if m := pattern.FindStringSubmatch(key); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func (e *Engine) renotify(ctx context.Context, pn coretypes.PN, entry coretypes.ExpectedInvoice) {
	record, err := e.invoiceStore.Get(pn)
	if err != nil {
		slog.Error("poller: dedup cache said has(pn) but get failed", "pn", pn, "error", err)
		return
	}

	if e.metrics != nil {
		e.metrics.PollMatches.WithLabelValues("re_notify").Inc()
	}

	e.deliver(record)
	e.registry.Consume(pn)

	if e.events != nil {
		e.events.Emit(eventbus.TypeInvoiceRenotified, "poller", pn, map[string]interface{}{
			"pn": pn, "pid": entry.PID,
		})
	}
	e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeRenotified, "")
}

func (e *Engine) processAndNotify(ctx context.Context, pn coretypes.PN, entry coretypes.ExpectedInvoice, obj coretypes.ObjectSummary) {
	data, err := e.objectStore.Get(ctx, obj.Key)
	if err != nil {
		if e.metrics != nil {
			e.metrics.PollFetchFailures.Inc()
		}
		slog.Warn("poller: fetch failed, retrying next tick", "pn", pn, "key", obj.Key, "error", err)
		e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeFailed, "fetch: "+err.Error())
		return
	}

	record := coretypes.ProcessedInvoiceRecord{
		PN:          pn,
		PID:         entry.PID,
		Filename:    baseName(obj.Key),
		Base64Data:  base64.StdEncoding.EncodeToString(data),
		FileSize:    int64(len(data)),
		ProcessedAt: time.Now().UTC(),
		SourceKey:   obj.Key,
		SourceSize:  obj.Size,
		SourceMtime: obj.LastModified,
	}

	if err := e.invoiceStore.Put(pn, record); err != nil {
		if e.metrics != nil {
			e.metrics.PollPersistFailures.Inc()
		}
		slog.Warn("poller: persist failed, retrying next tick", "pn", pn, "error", err)
		e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeFailed, "persist: "+err.Error())
		return
	}

	if e.metrics != nil {
		e.metrics.PollMatches.WithLabelValues("process_and_notify").Inc()
	}
	if e.events != nil {
		e.events.Emit(eventbus.TypeInvoiceProcessed, "poller", pn, map[string]interface{}{
			"pn": pn, "pid": entry.PID, "fileSize": record.FileSize,
		})
	}
	e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeProcessed, "")

	delivered := e.deliver(record)
	if delivered {
		if e.events != nil {
			e.events.Emit(eventbus.TypeInvoiceDelivered, "poller", pn, map[string]interface{}{
				"pn": pn, "pid": entry.PID,
			})
		}
		e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeDelivered, "")
	} else {
		slog.Warn("poller: delivery callback found no session", "pn", pn, "pid", entry.PID)
		e.recordAudit(ctx, pn, entry.PID, auditlog.OutcomeNoSession, "")
	}
	e.registry.Consume(pn)
}

// recordAudit is a best-effort write to the audit trail; a failure here
// never blocks delivery or consumes a registry entry twice.
func (e *Engine) recordAudit(ctx context.Context, pn coretypes.PN, pid coretypes.PID, outcome auditlog.Outcome, detail string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, pn, pid, outcome, detail); err != nil {
		slog.Warn("poller: audit record failed", "pn", pn, "outcome", outcome, "error", err)
	}
}

func baseName(key string) string {
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

