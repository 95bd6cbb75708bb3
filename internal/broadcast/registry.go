package broadcast

import "sync"

type membership struct {
	sub      Subscriber
	branch   string
	customer string
}

// Registry tracks which sessions watch which branch and which customer.
// A session is registered under at most one branch and one customer at a time.
// All methods are safe for concurrent use; lookups return copies.
type Registry struct {
	mu        sync.RWMutex
	branches  map[string]map[string]Subscriber
	customers map[string]map[string]Subscriber
	members   map[string]*membership
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		branches:  make(map[string]map[string]Subscriber),
		customers: make(map[string]map[string]Subscriber),
		members:   make(map[string]*membership),
	}
}

// SubscribeBranch registers s under branchID, replacing any earlier branch.
func (r *Registry) SubscribeBranch(s Subscriber, branchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.member(s)
	if m.branch == branchID {
		return
	}
	if m.branch != "" {
		removeFrom(r.branches, m.branch, s.SessionID())
	}
	addTo(r.branches, branchID, s)
	m.branch = branchID
}

// SubscribeCustomer registers s for the own-order events of customerID.
func (r *Registry) SubscribeCustomer(s Subscriber, customerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.member(s)
	if m.customer == customerID {
		return
	}
	if m.customer != "" {
		removeFrom(r.customers, m.customer, s.SessionID())
	}
	addTo(r.customers, customerID, s)
	m.customer = customerID
}

// Unsubscribe removes s from both mappings. It reports whether s was
// registered; calling it again is a no-op.
func (r *Registry) Unsubscribe(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.SessionID()
	m, ok := r.members[id]
	if !ok {
		return false
	}
	if m.branch != "" {
		removeFrom(r.branches, m.branch, id)
	}
	if m.customer != "" {
		removeFrom(r.customers, m.customer, id)
	}
	delete(r.members, id)
	return true
}

// BranchSessions returns a stable copy of the sessions watching branchID.
func (r *Registry) BranchSessions(branchID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.branches[branchID])
}

// CustomerSessions returns a stable copy of the sessions following customerID.
func (r *Registry) CustomerSessions(customerID string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.customers[customerID])
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// member returns the membership of s, creating it. Caller holds r.mu.
func (r *Registry) member(s Subscriber) *membership {
	m, ok := r.members[s.SessionID()]
	if !ok {
		m = &membership{sub: s}
		r.members[s.SessionID()] = m
	}
	return m
}

func addTo(idx map[string]map[string]Subscriber, key string, s Subscriber) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]Subscriber)
		idx[key] = set
	}
	set[s.SessionID()] = s
}

func removeFrom(idx map[string]map[string]Subscriber, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func snapshot(set map[string]Subscriber) []Subscriber {
	out := make([]Subscriber, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
