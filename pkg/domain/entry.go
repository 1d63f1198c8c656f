package domain

import (
	"time"
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

func (k Kind) Valid() bool {
	return k == KindText || k == KindFile
}

// Content is the stored form of a payload. Kind selects which fields are set.
type Content struct {
	Kind      Kind
	Text      string
	Data      []byte
	Filename  string
	MediaType string
}

type Entry struct {
	ID        string
	Content   Content
	CreatedAt time.Time
	ExpiresAt *time.Time
	Views     int64
}

// ExpiredAt reports whether the entry is no longer live at now.
// An expiry equal to now counts as expired.
func (e *Entry) ExpiredAt(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}

// Clone returns a copy that shares no mutable state with e.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Content.Data != nil {
		c.Content.Data = make([]byte, len(e.Content.Data))
		copy(c.Content.Data, e.Content.Data)
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

type FileUpload struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Submission is the inbound payload. Exactly one of Text and File must be set.
type Submission struct {
	Text *string
	File *FileUpload
}

type Receipt struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Resolution is the outbound representation of a resolved entry.
type Resolution struct {
	ID        string
	Kind      Kind
	Text      string
	Data      []byte
	Filename  string
	MediaType string
	Views     int64
	CreatedAt time.Time
	ExpiresAt *time.Time
}
