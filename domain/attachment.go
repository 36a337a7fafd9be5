package domain

import "time"

type AttachmentID string

// Attachment is an opaque reference owned by the message that carries it.
// The URL may point at a blob store, an object store, or a CDN; the core
// never dereferences it.
type Attachment struct {
	ID       AttachmentID  `json:"id"`
	Name     string        `json:"name"`
	MIME     string        `json:"mime"`
	Size     int64         `json:"size"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration,omitempty"`
}
