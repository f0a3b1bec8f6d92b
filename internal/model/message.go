package model

import "time"

// Attachment references a binary stored by the upload service.
type Attachment struct {
	URL  string `json:"url" validate:"required"`
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
}

type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	SenderID    string       `json:"senderId"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	EditedAt    *time.Time   `json:"editedAt"`
	IsDeleted   bool         `json:"isDeleted"`
	DeletedAt   *time.Time   `json:"deletedAt"`
	SeenBy      []string     `json:"seenBy"`
}

// Normalize replaces nil slices so the record always serializes as [] rather than null,
// and enforces that a deleted message carries no content.
func (m *Message) Normalize() {
	if m.Attachments == nil || m.IsDeleted {
		m.Attachments = []Attachment{}
	}
	if m.SeenBy == nil {
		m.SeenBy = []string{}
	}
	if m.IsDeleted {
		m.Text = ""
		m.EditedAt = nil
	}
}

func (m *Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}
