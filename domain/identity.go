// Package domain contains core concepts of the messaging system.
// This file defines Identity entities and presence values.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

type IdentityID string

// Status is the presence value advertised by an identity.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDnd     Status = "dnd"
	StatusOffline Status = "offline"
)

// Identity is the authenticated participant of a session.
// It is immutable once established: a re-login produces a new Identity.
type Identity struct {
	ID       IdentityID
	Username string
	Email    string
	Status   Status
	LastSeen time.Time
}

// IdentitySet is an unordered set of identity ids.
type IdentitySet map[IdentityID]struct{}

func NewIdentitySet(ids ...IdentityID) IdentitySet {
	s := make(IdentitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IdentitySet) Add(id IdentityID) {
	s[id] = struct{}{}
}

func (s IdentitySet) Remove(id IdentityID) {
	delete(s, id)
}

func (s IdentitySet) Has(id IdentityID) bool {
	_, ok := s[id]
	return ok
}

func (s IdentitySet) Clone() IdentitySet {
	out := make(IdentitySet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
