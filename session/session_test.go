package session

import (
	"testing"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/stretchr/testify/require"
)

func TestState_Current_Unauthenticated(t *testing.T) {
	req := require.New(t)
	st := New()

	// Given no identity was established
	req.False(st.Authenticated())

	// Then identity-requiring reads fail
	_, err := st.Current()
	req.ErrorIs(err, errors.ErrUnauthenticated)
	req.ErrorIs(st.Join("general"), errors.ErrUnauthenticated)
}

func TestState_SetIdentity_Then_Current(t *testing.T) {
	req := require.New(t)
	st := New()
	alice := domain.Identity{ID: "alice", Username: "alice", Status: domain.StatusOnline}

	st.SetIdentity(&alice)

	req.True(st.Authenticated())
	current, err := st.Current()
	req.NoError(err)
	req.Equal(alice, current)
}

func TestState_Join_And_Leave_Memberships(t *testing.T) {
	req := require.New(t)
	st := New()
	st.SetIdentity(&domain.Identity{ID: "alice"})

	req.NoError(st.Join("general"))
	req.NoError(st.Join("random"))
	req.NoError(st.Join("general")) // joining twice is idempotent

	req.Equal([]domain.ChannelID{"general", "random"}, st.Memberships())

	st.Leave("general")
	req.Equal([]domain.ChannelID{"random"}, st.Memberships())

	st.Leave("never-joined")
	req.Equal([]domain.ChannelID{"random"}, st.Memberships())
}

func TestState_Identity_Change_Resets_Memberships(t *testing.T) {
	req := require.New(t)
	st := New()
	st.SetIdentity(&domain.Identity{ID: "alice"})
	req.NoError(st.Join("general"))

	// When a different identity takes over the session
	st.SetIdentity(&domain.Identity{ID: "bob"})

	// Then the previous memberships are gone
	req.Empty(st.Memberships())
}

func TestState_Presence_Refresh_Keeps_Memberships(t *testing.T) {
	req := require.New(t)
	st := New()
	st.SetIdentity(&domain.Identity{ID: "alice", Status: domain.StatusOnline})
	req.NoError(st.Join("general"))

	// When the same identity is re-set with a new presence value
	st.SetIdentity(&domain.Identity{ID: "alice", Status: domain.StatusIdle})

	// Then the membership survives and the status is updated
	req.Equal([]domain.ChannelID{"general"}, st.Memberships())
	current, err := st.Current()
	req.NoError(err)
	req.Equal(domain.StatusIdle, current.Status)
}

func TestState_Logout_Clears_Everything(t *testing.T) {
	req := require.New(t)
	st := New()
	st.SetIdentity(&domain.Identity{ID: "alice"})
	req.NoError(st.Join("general"))

	st.SetIdentity(nil)

	req.False(st.Authenticated())
	req.Empty(st.Memberships())
}
