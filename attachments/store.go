// Package attachments issues opaque references for uploaded bytes.
// The core only ever hands the URL around; serving the bytes is a
// collaborator's job.
package attachments

import (
	"fmt"
	"sync"
	"time"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type Store struct {
	mu      sync.RWMutex
	baseURL string
	byID    map[domain.AttachmentID][]byte
	refs    map[domain.AttachmentID]domain.Attachment
}

func NewStore(baseURL string) *Store {
	return &Store{
		baseURL: baseURL,
		byID:    make(map[domain.AttachmentID][]byte),
		refs:    make(map[domain.AttachmentID]domain.Attachment),
	}
}

// Upload stores the bytes and returns the reference a message will carry.
// The MIME type is detected from content, never trusted from the caller.
func (s *Store) Upload(name string, data []byte, duration time.Duration) (domain.Attachment, error) {
	if len(data) == 0 {
		return domain.Attachment{}, fmt.Errorf("attachment %q: %w", name, errors.ErrEmptyMessage)
	}

	id := domain.AttachmentID(uuid.NewString())
	att := domain.Attachment{
		ID:       id,
		Name:     name,
		MIME:     mimetype.Detect(data).String(),
		Size:     int64(len(data)),
		URL:      fmt.Sprintf("%s/%s", s.baseURL, id),
		Duration: duration,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = data
	s.refs[id] = att
	return att, nil
}

func (s *Store) Get(id domain.AttachmentID) (domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.refs[id]
	if !ok {
		return domain.Attachment{}, errors.ErrNotFound
	}
	return att, nil
}

func (s *Store) Bytes(id domain.AttachmentID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return data, nil
}

// Release drops an attachment. Lifetime is tied to the owning message, so
// this runs when that message is deleted.
func (s *Store) Release(id domain.AttachmentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	delete(s.refs, id)
}
