// Package session holds per-connection identity and channel membership.
// It emits no events of its own; callers orchestrate.
package session

import (
	"chat-core/domain"
	"chat-core/errors"
	"sort"
	"sync"
)

type State struct {
	mu          sync.RWMutex
	identity    *domain.Identity
	memberships map[domain.ChannelID]struct{}
}

func New() *State {
	return &State{memberships: make(map[domain.ChannelID]struct{})}
}

// SetIdentity replaces the current identity atomically. Passing nil returns
// the session to the unauthenticated state. Membership does not survive an
// identity change: a re-login starts from an empty set. Re-setting the same
// identity (a presence refresh) keeps the membership intact.
func (s *State) SetIdentity(identity *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	same := identity != nil && s.identity != nil && identity.ID == s.identity.ID
	s.identity = identity
	if !same {
		s.memberships = make(map[domain.ChannelID]struct{})
	}
}

// Current returns the session identity or ErrUnauthenticated.
func (s *State) Current() (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.Identity{}, errors.ErrUnauthenticated
	}
	return *s.identity, nil
}

func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

func (s *State) Join(channel domain.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return errors.ErrUnauthenticated
	}
	s.memberships[channel] = struct{}{}
	return nil
}

func (s *State) Leave(channel domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, channel)
}

// Memberships is a derived read-only snapshot of the channels the session
// currently belongs to, sorted for determinism.
func (s *State) Memberships() []domain.ChannelID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChannelID, 0, len(s.memberships))
	for id := range s.memberships {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
