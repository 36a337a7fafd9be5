package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationOf_Is_Canonical(t *testing.T) {
	req := require.New(t)

	// (A,B) and (B,A) must resolve to the same conversation
	req.Equal(ConversationOf("alice", "bob"), ConversationOf("bob", "alice"))
	req.Equal(ConversationKey("alice:bob"), ConversationOf("bob", "alice"))
}

func TestTarget_Key_Doubles_As_Topic(t *testing.T) {
	req := require.New(t)

	channel := ChannelTarget("general")
	req.False(channel.IsDirect())
	req.Equal("message:general", channel.Key())

	direct := DirectTarget(ConversationOf("alice", "bob"))
	req.True(direct.IsDirect())
	req.Equal("dm:alice:bob", direct.Key())
}

func TestMessage_Before_Orders_By_Timestamp_Then_ID(t *testing.T) {
	req := require.New(t)
	at := time.Unix(1700000000, 0).UTC()

	older := Message{ID: "b", CreatedAt: at}
	newer := Message{ID: "a", CreatedAt: at.Add(time.Second)}

	req.True(older.Before(newer))
	req.False(newer.Before(older))

	// Same timestamp: id lexical order breaks the tie
	twin := Message{ID: "a", CreatedAt: at}
	req.True(twin.Before(older))
	req.False(older.Before(twin))
}

func TestMessage_Clone_Is_Deep(t *testing.T) {
	req := require.New(t)
	original := Message{
		ID:        "m1",
		Reactions: map[string]IdentitySet{"👍": NewIdentitySet("alice")},
		ReadBy:    NewIdentitySet("alice"),
		Mentions:  []IdentityID{"bob"},
		ReplyTo:   &ReplyRef{ID: "m0", AuthorID: "bob", Content: "hi"},
	}

	clone := original.Clone()
	clone.Reactions["👍"].Add("bob")
	clone.ReadBy.Add("bob")
	clone.Mentions[0] = "clara"
	clone.ReplyTo.Content = "changed"

	// The original is untouched by any mutation of the clone
	req.False(original.Reactions["👍"].Has("bob"))
	req.False(original.ReadBy.Has("bob"))
	req.Equal(IdentityID("bob"), original.Mentions[0])
	req.Equal("hi", original.ReplyTo.Content)
}

func TestIdentitySet_Operations(t *testing.T) {
	req := require.New(t)
	set := NewIdentitySet("alice")

	set.Add("bob")
	set.Add("bob")
	req.Len(set, 2)
	req.True(set.Has("alice"))

	set.Remove("alice")
	req.False(set.Has("alice"))
	req.Len(set, 1)
}
