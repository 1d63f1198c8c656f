// Package codec converts between inbound submissions, the stored Content form
// and the outbound Resolution. Bytes and text pass through untouched.
package codec

import (
	"sharebin/pkg/domain"
	"unicode/utf8"
)

const (
	DefaultMediaType = "application/octet-stream"
	DefaultFilename  = "file"
)

// Normalize classifies a submission. Exactly one of text or file must be
// present; an empty text counts as absent.
func Normalize(s domain.Submission) (domain.Content, error) {
	hasText := s.Text != nil && *s.Text != ""
	hasFile := s.File != nil
	if hasText == hasFile {
		return domain.Content{}, domain.ErrInvalidSubmission
	}
	if hasText {
		if !utf8.ValidString(*s.Text) {
			return domain.Content{}, domain.ErrInvalidSubmission
		}
		return domain.Content{Kind: domain.KindText, Text: *s.Text}, nil
	}
	f := s.File
	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	filename := f.Filename
	if filename == "" {
		filename = DefaultFilename
	}
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	return domain.Content{
		Kind:      domain.KindFile,
		Data:      data,
		Filename:  filename,
		MediaType: mediaType,
	}, nil
}

// Size is the payload length used for size policy checks.
func Size(c domain.Content) int64 {
	if c.Kind == domain.KindText {
		return int64(len(c.Text))
	}
	return int64(len(c.Data))
}

func Reconstruct(e *domain.Entry) *domain.Resolution {
	r := &domain.Resolution{
		ID:        e.ID,
		Kind:      e.Content.Kind,
		Views:     e.Views,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
	switch e.Content.Kind {
	case domain.KindText:
		r.Text = e.Content.Text
	case domain.KindFile:
		r.Data = e.Content.Data
		r.Filename = e.Content.Filename
		r.MediaType = e.Content.MediaType
	}
	return r
}
