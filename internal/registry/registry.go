// Package registry implements the Expected-Invoice Registry (C3): a
// mutex-guarded mapping from PO number to the player and order metadata
// that announced it.
package registry

import (
	"sync"
	"time"

	"github.com/shopmaze/invoicecore/internal/coretypes"
)

// Registry holds the live set of expected invoices. All operations take a
// single mutex; critical sections do no I/O, matching the short, lock-only
// discipline the polling engine and the session router both depend on.
type Registry struct {
	mu      sync.Mutex
	entries map[coretypes.PN]coretypes.ExpectedInvoice
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[coretypes.PN]coretypes.ExpectedInvoice)}
}

// Register is an unconditional upsert. Last write wins: re-registering an
// already-present PN replaces the prior entry in full.
func (r *Registry) Register(pn coretypes.PN, pid coretypes.PID, summary coretypes.OrderSummary, customerName, customerEmail, orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pn] = coretypes.ExpectedInvoice{
		PN:            pn,
		PID:           pid,
		OrderSummary:  summary,
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		OrderID:       orderID,
		RegisteredAt:  time.Now().UTC(),
	}
}

// Lookup returns the entry for pn, if any.
func (r *Registry) Lookup(pn coretypes.PN) (coretypes.ExpectedInvoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[pn]
	return entry, ok
}

// Consume is an atomic read-and-delete.
func (r *Registry) Consume(pn coretypes.PN) (coretypes.ExpectedInvoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[pn]
	if ok {
		delete(r.entries, pn)
	}
	return entry, ok
}

// FindByPlayer is a best-effort linear scan for the most recently
// registered entry belonging to pid. Used only as a fallback when the
// caller lacks a direct PN binding.
func (r *Registry) FindByPlayer(pid coretypes.PID) (coretypes.ExpectedInvoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best    coretypes.ExpectedInvoice
		found   bool
	)
	for _, entry := range r.entries {
		if entry.PID != pid {
			continue
		}
		if !found || entry.RegisteredAt.After(best.RegisteredAt) {
			best = entry
			found = true
		}
	}
	return best, found
}

// Len reports the current number of outstanding registrations, used by the
// debug listing endpoint.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PNs returns a snapshot of every outstanding PN, used by the debug
// listing endpoint.
func (r *Registry) PNs() []coretypes.PN {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coretypes.PN, 0, len(r.entries))
	for pn := range r.entries {
		out = append(out, pn)
	}
	return out
}
