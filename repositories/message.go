//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	Store(msg domain.Message, lang string) error
	Update(msg domain.Message) error
	Remove(id domain.MessageID) error
	History(target domain.Target, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db    *badger.DB
	log   *slog.Logger
	limit *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limit *int) MessageRepository {
	return MessageRepository{db: db, log: log, limit: limit}
}

// DiskMessage is the stored representation of a delivered message.
type DiskMessage struct {
	ID          string            `json:"id"`
	Target      string            `json:"target"`
	Author      string            `json:"author"`
	Content     string            `json:"content"`
	Lang        string            `json:"lang,omitempty"`
	Edited      bool              `json:"edited"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	ReadBy      []string          `json:"read_by,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Reply       *domain.ReplyRef  `json:"reply,omitempty"`
	At          time.Time         `json:"at"`
}

// Store persists a message.
// The key is formatted as "msg:{target}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using the message id as a collision
//     disconnector if two messages land on the same nanosecond.
//
// A secondary "msgid:{id}" entry points back at the primary key so edits
// and tombstones can resolve it without a scan.
func (m MessageRepository) Store(msg domain.Message, lang string) error {
	key := primaryKey(msg.Target.Key(), msg.CreatedAt, msg.ID)
	bytes, err := json.Marshal(toDiskMessage(msg, lang))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), bytes); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey(msg.ID)), []byte(key))
	})
}

// Update rewrites the stored value at the message's original key, keeping
// its position in the chronological order.
func (m MessageRepository) Update(msg domain.Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		key, disk, err := resolve(txn, msg.ID)
		if err != nil {
			return err
		}
		updated := toDiskMessage(msg, disk.Lang)
		updated.At = disk.At
		bytes, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		return txn.Set(key, bytes)
	})
}

// Remove applies a tombstone: both the primary entry and the id index go.
func (m MessageRepository) Remove(id domain.MessageID) error {
	return m.db.Update(func(txn *badger.Txn) error {
		key, _, err := resolve(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(indexKey(id)))
	})
}

// History retrieves messages for a target using a reverse prefix scan.
// Thanks to the padded timestamp in the key, values come back newest
// first; the returned slice is flipped to chronological order. The cursor
// resumes a previous page.
func (m MessageRepository) History(target domain.Target, cursor *string) ([]domain.Message, *string, error) {
	var rawValues [][]byte
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", target.Key())
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)

		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// Newest possible position for this prefix, then walk back.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		} else {
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limit != nil && len(rawValues) == *m.limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limit))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			if err := item.Value(func(value []byte) error {
				rawValues = append(rawValues, append([]byte(nil), value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(rawValues))
	for i := len(rawValues) - 1; i >= 0; i-- {
		var disk DiskMessage
		if err = json.Unmarshal(rawValues[i], &disk); err != nil {
			return nil, nil, err
		}
		msg, err := fromDiskMessage(disk)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, msg)
	}
	return messages, &lastKey, nil
}

func primaryKey(targetKey string, at time.Time, id domain.MessageID) string {
	return fmt.Sprintf("msg:%s:%019d:%s", targetKey, at.UnixNano(), id)
}

func indexKey(id domain.MessageID) string {
	return "msgid:" + string(id)
}

func resolve(txn *badger.Txn, id domain.MessageID) ([]byte, DiskMessage, error) {
	item, err := txn.Get([]byte(indexKey(id)))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, DiskMessage{}, errors.ErrNotFound
		}
		return nil, DiskMessage{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, DiskMessage{}, err
	}

	entry, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, DiskMessage{}, errors.ErrNotFound
		}
		return nil, DiskMessage{}, err
	}
	var disk DiskMessage
	if err = entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &disk)
	}); err != nil {
		return nil, DiskMessage{}, err
	}
	return key, disk, nil
}

func toDiskMessage(msg domain.Message, lang string) DiskMessage {
	disk := DiskMessage{
		ID:      string(msg.ID),
		Target:  msg.Target.Key(),
		Author:  string(msg.AuthorID),
		Content: msg.Content,
		Lang:    lang,
		Edited:  msg.Edited,
		ReadBy: lo.Map(identities(msg.ReadBy), func(id domain.IdentityID, _ int) string {
			return string(id)
		}),
		Mentions: lo.Map(msg.Mentions, func(id domain.IdentityID, _ int) string {
			return string(id)
		}),
		Attachments: msg.Attachments,
		Reply:       msg.ReplyTo,
		At:          msg.CreatedAt,
	}
	if len(msg.Reactions) > 0 {
		disk.Reactions = make(map[string][]string, len(msg.Reactions))
		for emoji, who := range msg.Reactions {
			disk.Reactions[emoji] = lo.Map(identities(who), func(id domain.IdentityID, _ int) string {
				return string(id)
			})
		}
	}
	return disk
}

func fromDiskMessage(disk DiskMessage) (domain.Message, error) {
	target, err := parseTargetKey(disk.Target)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:       domain.MessageID(disk.ID),
		AuthorID: domain.IdentityID(disk.Author),
		Target:   target,
		Content:  disk.Content,
		Edited:   disk.Edited,
		ReadBy: domain.NewIdentitySet(lo.Map(disk.ReadBy, func(s string, _ int) domain.IdentityID {
			return domain.IdentityID(s)
		})...),
		Mentions: lo.Map(disk.Mentions, func(s string, _ int) domain.IdentityID {
			return domain.IdentityID(s)
		}),
		Attachments: disk.Attachments,
		ReplyTo:     disk.Reply,
		Reactions:   make(map[string]domain.IdentitySet),
		CreatedAt:   disk.At,
	}
	for emoji, who := range disk.Reactions {
		msg.Reactions[emoji] = domain.NewIdentitySet(lo.Map(who, func(s string, _ int) domain.IdentityID {
			return domain.IdentityID(s)
		})...)
	}
	if len(msg.Mentions) == 0 {
		msg.Mentions = nil
	}
	return msg, nil
}

func identities(set domain.IdentitySet) []domain.IdentityID {
	out := make([]domain.IdentityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func parseTargetKey(key string) (domain.Target, error) {
	switch {
	case len(key) > 8 && key[:8] == "message:":
		return domain.ChannelTarget(domain.ChannelID(key[8:])), nil
	case len(key) > 3 && key[:3] == "dm:":
		return domain.DirectTarget(domain.ConversationKey(key[3:])), nil
	default:
		return domain.Target{}, fmt.Errorf("malformed target key %q: %w", key, errors.ErrNotFound)
	}
}
