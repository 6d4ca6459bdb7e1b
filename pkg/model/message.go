package model

import "time"

type SenderRole string

const (
	RoleOperator    SenderRole = "operator"
	RoleCounterpart SenderRole = "counterpart"
)

type DeliveryState string

const (
	// StatePending marks a local echo that has not been acknowledged yet.
	StatePending   DeliveryState = "pending"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

// Attachment describes a file already uploaded to the attachment service.
// The binary itself never travels over the messaging backbone.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// IsImage reports whether the attachment renders as an inline image.
func (a Attachment) IsImage() bool {
	return len(a.MimeType) > 6 && a.MimeType[:6] == "image/"
}

// Message is immutable once constructed; reaction and edit updates arrive
// as full replacements, never as in-place patches.
type Message struct {
	ID            int64               `json:"id,omitempty"`
	RoomID        string              `json:"room_id"`
	SenderRole    SenderRole          `json:"sender_role"`
	SenderLabel   string              `json:"sender_label"`
	Body          string              `json:"body,omitempty"`
	Attachment    *Attachment         `json:"attachment,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	DeliveryState DeliveryState       `json:"delivery_state"`
	Reactions     map[string][]string `json:"reactions,omitempty"`
	Edited        bool                `json:"edited,omitempty"`
}

// HasReactions reports whether at least one reactor is recorded.
func (m Message) HasReactions() bool {
	for _, who := range m.Reactions {
		if len(who) > 0 {
			return true
		}
	}
	return false
}
