package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TypeInvoiceProcessed)
	defer b.Unsubscribe(ch)

	b.Emit(TypeInvoiceProcessed, "poller", "555", map[string]interface{}{"pn": "555"})

	select {
	case event := <-ch:
		assert.Equal(t, TypeInvoiceProcessed, event.Type)
		assert.Equal(t, "555", event.Subject)
		assert.Equal(t, "1.0", event.SpecVersion)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TypeInvoiceDelivered)
	defer b.Unsubscribe(ch)

	b.Emit(TypeInvoiceProcessed, "poller", "555", nil)

	select {
	case <-ch:
		t.Fatal("should not have received an event of a different type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TypeInvoiceProcessed)
	b.Unsubscribe(ch)

	assert.Equal(t, 0, b.SubscriberCount())
	assert.NotPanics(t, func() {
		b.Emit(TypeInvoiceProcessed, "poller", "555", nil)
	})
}

func TestNewEventIDsAreUniqueAcrossSeq(t *testing.T) {
	e1 := NewEvent(1, TypeInvoiceProcessed, "poller", "555", nil)
	e2 := NewEvent(2, TypeInvoiceProcessed, "poller", "555", nil)
	assert.NotEqual(t, e1.ID, e2.ID)
}

func TestEventJSONRoundTrips(t *testing.T) {
	e := NewEvent(1, TypeInvoiceProcessed, "poller", "555", map[string]interface{}{"pn": "555"})
	data, err := e.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"specversion":"1.0"`)
}
