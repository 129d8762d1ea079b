package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development
type MemoryStore struct {
	mu         sync.Mutex
	endpoints  map[string]*Endpoint
	events     map[string]*Event
	deliveries map[string]*Delivery
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*Endpoint),
		events:     make(map[string]*Event),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemoryStore) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(ctx context.Context, orgID string) ([]*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Endpoint
	for _, ep := range s.endpoints {
		if ep.OrgID == orgID {
			cp := *ep
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) FindActiveEndpoints(ctx context.Context, orgID string, eventType EventType) ([]*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Endpoint
	for _, ep := range s.endpoints {
		if ep.OrgID == orgID && ep.Active && ep.Subscribed(eventType) {
			cp := *ep
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteEndpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return ErrNotFound
	}
	delete(s.endpoints, id)
	return nil
}

func (s *MemoryStore) SetEndpointActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return ErrNotFound
	}
	ep.Active = active
	ep.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateEndpointSecret(ctx context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return ErrNotFound
	}
	ep.Secret = secret
	ep.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return ErrNotFound
	}
	ep.FailureCount = 0
	ep.LastSuccessAt = &at
	ep.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) IncrementEndpointFailure(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return 0, ErrNotFound
	}
	ep.FailureCount++
	ep.UpdatedAt = time.Now()
	return ep.FailureCount, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, orgID string, limit, offset int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, ev := range s.events {
		if ev.OrgID == orgID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Delivery
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) TransitionDelivery(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrTerminalState
	}
	cp := *d
	cp.UpdatedAt = time.Now()
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Delivery
	for _, d := range s.deliveries {
		if d.Status != DeliveryRetrying && d.Status != DeliveryPending {
			continue
		}
		if d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Delivery, 0, len(due))
	for _, d := range due {
		leased := now.Add(lease)
		d.NextRetryAt = &leased
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context, orgID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	orgEndpoints := make(map[string]bool)
	for _, ep := range s.endpoints {
		if ep.OrgID != orgID {
			continue
		}
		orgEndpoints[ep.ID] = true
		stats.TotalEndpoints++
		if ep.Active {
			stats.ActiveEndpoints++
		}
	}

	var totalMs float64
	for _, d := range s.deliveries {
		if !orgEndpoints[d.EndpointID] {
			continue
		}
		stats.TotalDeliveries++
		switch d.Status {
		case DeliveryDelivered:
			stats.Delivered++
			if d.DeliveredAt != nil {
				totalMs += float64(d.DeliveredAt.Sub(d.CreatedAt).Milliseconds())
			}
		case DeliveryFailed:
			stats.Failed++
		case DeliveryPending:
			stats.Pending++
		case DeliveryRetrying:
			stats.Retrying++
		case DeliveryCancelled:
			stats.Cancelled++
		}
	}
	if stats.Delivered > 0 {
		stats.AvgDeliveryMs = totalMs / float64(stats.Delivered)
	}
	return stats, nil
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
