package novasite

import "time"

// SubmissionType is the discriminator sent by the site's forms.
type SubmissionType string

const (
	TypeSubscriber SubmissionType = "subscriber"
	TypeContact    SubmissionType = "contact"
	TypeCollab     SubmissionType = "collab"
)

// Valid reports whether t is one of the known form types.
func (t SubmissionType) Valid() bool {
	switch t {
	case TypeSubscriber, TypeContact, TypeCollab:
		return true
	}
	return false
}

// Submission is a stored form entry.
type Submission struct {
	ID          string         `json:"id"`
	Type        SubmissionType `json:"type"`
	Email       string         `json:"email"`
	Name        string         `json:"name,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Message     string         `json:"message,omitempty"`
	Source      string         `json:"source,omitempty"`      // subscriber: footer, podcast, ...
	InquiryType string         `json:"inquiry_type,omitempty"` // collab: create, sponsor, ...
	CreatedAt   time.Time      `json:"created_at"`
}
