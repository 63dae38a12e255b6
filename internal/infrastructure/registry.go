package infrastructure

import (
	"sync"

	"telegate/internal/interfaces"
)

// SessionRegistry holds the live transport handles, split into a pending
// pool (mid-login, awaiting verification code) and an active pool (fully
// authorized). At most one handle per phone exists in each pool, and a
// phone never sits in both outside of promotion.
//
// Every method is a plain map update under the mutex; remote I/O on the
// handles always happens outside the lock.
type SessionRegistry struct {
	mu      sync.Mutex
	pending map[string]interfaces.Transport
	active  map[string]interfaces.Transport
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		pending: make(map[string]interfaces.Transport),
		active:  make(map[string]interfaces.Transport),
	}
}

// PutPending installs t as the pending handle for phone and returns any
// handle it displaced, from either pool, so the caller can disconnect it.
func (r *SessionRegistry) PutPending(phone string, t interfaces.Transport) []interfaces.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced []interfaces.Transport
	if prev, ok := r.pending[phone]; ok {
		displaced = append(displaced, prev)
	}
	if prev, ok := r.active[phone]; ok {
		displaced = append(displaced, prev)
		delete(r.active, phone)
	}
	r.pending[phone] = t
	return displaced
}

// PutActive installs t directly into the active pool (startup restore) and
// returns any displaced handles.
func (r *SessionRegistry) PutActive(phone string, t interfaces.Transport) []interfaces.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced []interfaces.Transport
	if prev, ok := r.active[phone]; ok {
		displaced = append(displaced, prev)
	}
	if prev, ok := r.pending[phone]; ok {
		displaced = append(displaced, prev)
		delete(r.pending, phone)
	}
	r.active[phone] = t
	return displaced
}

// Promote moves the phone's pending handle into the active pool. If the
// phone is already active it is left alone. Reports whether the phone ends
// up active.
func (r *SessionRegistry) Promote(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.pending[phone]; ok {
		delete(r.pending, phone)
		r.active[phone] = t
		return true
	}
	_, ok := r.active[phone]
	return ok
}

// Get returns the handle for phone from either pool, active first.
func (r *SessionRegistry) Get(phone string) (interfaces.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.active[phone]; ok {
		return t, true
	}
	t, ok := r.pending[phone]
	return t, ok
}

// GetActive returns the active handle for phone, if any.
func (r *SessionRegistry) GetActive(phone string) (interfaces.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[phone]
	return t, ok
}

// Remove drops the phone from both pools and returns the removed handles.
func (r *SessionRegistry) Remove(phone string) []interfaces.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []interfaces.Transport
	if t, ok := r.pending[phone]; ok {
		removed = append(removed, t)
		delete(r.pending, phone)
	}
	if t, ok := r.active[phone]; ok {
		removed = append(removed, t)
		delete(r.active, phone)
	}
	return removed
}

// IsPending reports whether the phone is mid-login.
func (r *SessionRegistry) IsPending(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[phone]
	return ok
}

// ActivePhones lists the phones with a fully authorized handle.
func (r *SessionRegistry) ActivePhones() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	phones := make([]string, 0, len(r.active))
	for phone := range r.active {
		phones = append(phones, phone)
	}
	return phones
}

// Drain empties both pools and returns everything that was in them, keyed
// by phone. Used at process teardown.
func (r *SessionRegistry) Drain() map[string]interfaces.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make(map[string]interfaces.Transport, len(r.pending)+len(r.active))
	for phone, t := range r.pending {
		drained[phone] = t
	}
	for phone, t := range r.active {
		drained[phone] = t
	}
	r.pending = make(map[string]interfaces.Transport)
	r.active = make(map[string]interfaces.Transport)
	return drained
}
