// Package session supplies the identity every ledger operation is scoped to.
package session

import (
	"errors"
	"sync"
	"time"

	"savings-tracker/internal/ledgerstore"
)

var ErrNoIdentity = errors.New("no authenticated identity")

type Identity struct {
	UserID string
	Email  string
}

// Gate exposes the current identity and notifies on sign-in, sign-out
// and expiry.
type Gate interface {
	CurrentIdentity() (Identity, bool)
	OnIdentityChange(fn func(Identity, bool)) (cancel func())
}

// Scope is an identity bound to its ledger subtree.
type Scope struct {
	Identity Identity
	Ledger   ledgerstore.Path
}

// Resolve builds the identity-scoped view for one operation.
func Resolve(g Gate, root string) (Scope, error) {
	if g == nil {
		return Scope{}, ErrNoIdentity
	}
	id, ok := g.CurrentIdentity()
	if !ok || id.UserID == "" {
		return Scope{}, ErrNoIdentity
	}
	return Scope{Identity: id, Ledger: ledgerstore.LedgerPath(root, id.UserID)}, nil
}

type fixed struct {
	id Identity
	ok bool
}

// Fixed is a gate whose identity never changes, e.g. one authenticated request.
func Fixed(id Identity) Gate {
	return fixed{id: id, ok: id.UserID != ""}
}

// Anonymous is a gate with no identity.
func Anonymous() Gate {
	return fixed{}
}

func (f fixed) CurrentIdentity() (Identity, bool) {
	return f.id, f.ok
}

func (f fixed) OnIdentityChange(func(Identity, bool)) func() {
	return func() {}
}

// Session is a mutable gate for long-lived connections. An identity signed in
// with an expiry drops out on its own when the deadline passes.
type Session struct {
	mu        sync.Mutex
	identity  Identity
	signedIn  bool
	expiresAt time.Time
	timer     *time.Timer
	nextID    int
	listeners map[int]func(Identity, bool)
}

var _ Gate = (*Session)(nil)

func New() *Session {
	return &Session{listeners: make(map[int]func(Identity, bool))}
}

func (s *Session) CurrentIdentity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.signedIn || s.expired(time.Now()) {
		return Identity{}, false
	}
	return s.identity, true
}

func (s *Session) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// SignIn replaces the identity. A zero expiresAt never expires.
func (s *Session) SignIn(id Identity, expiresAt time.Time) {
	s.mu.Lock()
	s.stopTimer()
	s.identity = id
	s.signedIn = true
	s.expiresAt = expiresAt
	if !expiresAt.IsZero() {
		s.timer = time.AfterFunc(time.Until(expiresAt), s.expire)
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(id, true)
	}
}

func (s *Session) SignOut() {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return
	}
	s.clear()
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Identity{}, false)
	}
}

func (s *Session) expire() {
	s.mu.Lock()
	if !s.signedIn || !s.expired(time.Now()) {
		s.mu.Unlock()
		return
	}
	s.clear()
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(Identity{}, false)
	}
}

func (s *Session) clear() {
	s.stopTimer()
	s.identity = Identity{}
	s.signedIn = false
	s.expiresAt = time.Time{}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) snapshotListeners() []func(Identity, bool) {
	out := make([]func(Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Session) OnIdentityChange(fn func(Identity, bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}
