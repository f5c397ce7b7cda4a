package dispatch

import "sync"

// Sender is the engine's view of one realtime connection.
type Sender interface {
	ConnID() string
	Owner() uint
	SendEvent(event string, data interface{}) error
	SendAck(id int64, data interface{}) error
}

// Registry holds the connections subscribed to emergency broadcasts. It is
// in-memory only and rebuilt empty after a restart; clients re-subscribe and
// the resync path catches them up.
type Registry struct {
	mu      sync.RWMutex
	members map[uint]map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[uint]map[string]Sender)}
}

// Subscribe adds the connection and reports whether it was newly added.
func (r *Registry) Subscribe(userID uint, s Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.members[userID]
	if conns == nil {
		conns = make(map[string]Sender)
		r.members[userID] = conns
	}
	if _, exists := conns[s.ConnID()]; exists {
		return false
	}
	conns[s.ConnID()] = s
	return true
}

func (r *Registry) Unsubscribe(userID uint, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns := r.members[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.members, userID)
		}
	}
}

// Members returns the user's subscribed connections.
func (r *Registry) Members(userID uint) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sender, 0, len(r.members[userID]))
	for _, s := range r.members[userID] {
		out = append(out, s)
	}
	return out
}

// HasMembers reports whether the user holds at least one subscription.
func (r *Registry) HasMembers(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[userID]) > 0
}

// Each visits every subscribed connection.
func (r *Registry) Each(fn func(userID uint, s Sender)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, conns := range r.members {
		for _, s := range conns {
			fn(userID, s)
		}
	}
}

// Size returns the total number of subscribed connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.members {
		n += len(conns)
	}
	return n
}

// Clear drops every subscription; used at shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[uint]map[string]Sender)
}
