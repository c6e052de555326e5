package channel

import "edugate/internal/domain"

// Subscription is the cancel handle returned by Subscribe and
// SubscribeBatch. Cancelling twice is harmless.
type Subscription struct {
	m     *Manager
	typ   domain.EventType
	id    int
	batch bool
}

func (s *Subscription) Cancel() {
	if s == nil || s.m == nil {
		return
	}
	s.m.unsubscribe(s)
}

// Subscribe registers an immediate per-event handler. Handlers for one
// manager run sequentially in arrival order.
func (m *Manager) Subscribe(typ domain.EventType, fn Handler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.subs[typ] = append(m.subs[typ], subEntry{id: m.nextSubID, fn: fn})
	return &Subscription{m: m, typ: typ, id: m.nextSubID}
}

// SubscribeBatch registers a debounced handler: all events of the type that
// arrive within one debounce window are delivered together, in order.
func (m *Manager) SubscribeBatch(typ domain.EventType, fn BatchHandler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.batchSubs[typ] = append(m.batchSubs[typ], batchEntry{id: m.nextSubID, fn: fn})
	return &Subscription{m: m, typ: typ, id: m.nextSubID, batch: true}
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.batch {
		entries := m.batchSubs[s.typ]
		for i, e := range entries {
			if e.id == s.id {
				m.batchSubs[s.typ] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
		return
	}
	entries := m.subs[s.typ]
	for i, e := range entries {
		if e.id == s.id {
			m.subs[s.typ] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}
