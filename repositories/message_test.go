package repositories

import (
	"log/slog"
	"testing"
	"time"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedMessage(id domain.MessageID, offset time.Duration, content string) domain.Message {
	return domain.Message{
		ID:        id,
		AuthorID:  "alice",
		Target:    domain.ChannelTarget("general"),
		Content:   content,
		ReadBy:    domain.NewIdentitySet("alice"),
		CreatedAt: time.Unix(1700000000, 0).UTC().Add(offset),
	}
}

func Test_Store_And_History_Chronological(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	// Stored out of order on purpose
	req.NoError(repository.Store(storedMessage("m2", time.Minute, "second"), "eng"))
	req.NoError(repository.Store(storedMessage("m1", 0, "first"), "eng"))
	req.NoError(repository.Store(storedMessage("m3", 2*time.Minute, "third"), "eng"))

	fetched, _, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(fetched, 3)
	req.Equal("first", fetched[0].Content)
	req.Equal("second", fetched[1].Content)
	req.Equal("third", fetched[2].Content)

	roundtrip := fetched[0]
	req.Equal(domain.MessageID("m1"), roundtrip.ID)
	req.Equal(domain.IdentityID("alice"), roundtrip.AuthorID)
	req.True(roundtrip.ReadBy.Has("alice"))
	req.Equal(time.Unix(1700000000, 0).UTC(), roundtrip.CreatedAt)
}

func Test_History_Pagination_With_Limit(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openTestDB(t), slog.Default(), &limit)

	ids := []domain.MessageID{"a", "b", "c", "d", "e"}
	for i, content := range []string{"first", "second", "third", "fourth", "fifth"} {
		msg := storedMessage(ids[i], time.Duration(i)*time.Minute, content)
		req.NoError(repository.Store(msg, "eng"))
	}

	// First page: the newest messages, chronological within the page
	page1, cursor, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(page1, limit)
	req.Equal("fourth", page1[0].Content)
	req.Equal("fifth", page1[1].Content)
	req.NotNil(cursor)

	// Second page resumes right where the first left off
	page2, cursor, err := repository.History(domain.ChannelTarget("general"), cursor)
	req.NoError(err)
	req.Len(page2, limit)
	req.Equal("second", page2[0].Content)
	req.Equal("third", page2[1].Content)

	page3, _, err := repository.History(domain.ChannelTarget("general"), cursor)
	req.NoError(err)
	req.Len(page3, 1)
	req.Equal("first", page3[0].Content)
}

func Test_History_Separates_Targets(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	direct := storedMessage("d1", 0, "psst")
	direct.Target = domain.DirectTarget(domain.ConversationOf("alice", "bob"))

	req.NoError(repository.Store(storedMessage("m1", 0, "public"), "eng"))
	req.NoError(repository.Store(direct, "eng"))

	channelLog, _, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(channelLog, 1)
	req.Equal("public", channelLog[0].Content)

	directLog, _, err := repository.History(direct.Target, nil)
	req.NoError(err)
	req.Len(directLog, 1)
	req.Equal("psst", directLog[0].Content)
}

func Test_Update_Keeps_Position(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	req.NoError(repository.Store(storedMessage("m1", 0, "first"), "eng"))
	req.NoError(repository.Store(storedMessage("m2", time.Minute, "secnod"), "eng"))
	req.NoError(repository.Store(storedMessage("m3", 2*time.Minute, "third"), "eng"))

	edited := storedMessage("m2", time.Minute, "second")
	edited.Edited = true
	req.NoError(repository.Update(edited))

	fetched, _, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(fetched, 3)
	req.Equal("second", fetched[1].Content)
	req.True(fetched[1].Edited)
}

func Test_Update_Unknown_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	err := repository.Update(storedMessage("ghost", 0, "boo"))
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_Remove_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	req.NoError(repository.Store(storedMessage("m1", 0, "keep"), "eng"))
	req.NoError(repository.Store(storedMessage("m2", time.Minute, "drop"), "eng"))

	req.NoError(repository.Remove("m2"))

	fetched, _, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("keep", fetched[0].Content)

	// The id index is gone too
	req.ErrorIs(repository.Remove("m2"), errors.ErrNotFound)
}

func Test_Store_Preserves_Reactions_And_Language(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), slog.Default(), nil)

	msg := storedMessage("m1", 0, "bien joué")
	msg.Reactions = map[string]domain.IdentitySet{"🎉": domain.NewIdentitySet("bob")}
	msg.Mentions = []domain.IdentityID{"bob"}
	req.NoError(repository.Store(msg, "fra"))

	fetched, _, err := repository.History(domain.ChannelTarget("general"), nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.True(fetched[0].Reactions["🎉"].Has("bob"))
	req.Equal([]domain.IdentityID{"bob"}, fetched[0].Mentions)
}
