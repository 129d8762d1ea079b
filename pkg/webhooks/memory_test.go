package webhooks

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_ListDeliveries_NegativeOffset(t *testing.T) {
	store := NewMemoryStore()
	d := &Delivery{
		ID:         "dlv-1",
		EndpointID: "ep-1",
		EventID:    "evt-1",
		Status:     DeliveryPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := store.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("Failed to create delivery: %v", err)
	}

	out, err := store.ListDeliveries(context.Background(), "ep-1", 10, -1)
	if err != nil {
		t.Fatalf("ListDeliveries failed: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("Expected a negative offset to behave like 0, got %d deliveries", len(out))
	}
}

func TestMemoryStore_Stats_AveragesDeliveryLatency(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	ep := &Endpoint{
		ID:        "ep-1",
		OrgID:     "org-1",
		URL:       "https://example.com/hook",
		Active:    true,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := store.CreateEndpoint(context.Background(), ep); err != nil {
		t.Fatalf("Failed to create endpoint: %v", err)
	}

	seed := func(id string, status DeliveryStatus, latency time.Duration) {
		d := &Delivery{
			ID:         id,
			EndpointID: ep.ID,
			EventID:    "evt-1",
			Status:     status,
			CreatedAt:  base,
			UpdatedAt:  base,
		}
		if status == DeliveryDelivered {
			deliveredAt := base.Add(latency)
			d.DeliveredAt = &deliveredAt
		}
		if err := store.CreateDelivery(context.Background(), d); err != nil {
			t.Fatalf("Failed to create delivery %s: %v", id, err)
		}
	}
	seed("dlv-1", DeliveryDelivered, 250*time.Millisecond)
	seed("dlv-2", DeliveryDelivered, 750*time.Millisecond)
	seed("dlv-3", DeliveryPending, 0)

	stats, err := store.Stats(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Delivered != 2 {
		t.Errorf("Expected 2 delivered, got %d", stats.Delivered)
	}
	if stats.AvgDeliveryMs != 500 {
		t.Errorf("Expected average delivery latency 500ms, got %v", stats.AvgDeliveryMs)
	}

	// Pending rows carry no latency and must not skew the average.
	other, err := store.Stats(context.Background(), "org-2")
	if err != nil {
		t.Fatalf("Stats failed for empty org: %v", err)
	}
	if other.AvgDeliveryMs != 0 {
		t.Errorf("Expected zero average for org with no deliveries, got %v", other.AvgDeliveryMs)
	}
}
