package models

import (
	"time"
)

// ChannelMapping routes one Discord channel to one Trello board/list.
// The (guild_id, channel_id) pair is the unique key: a channel maps to at
// most one destination at a time.
type ChannelMapping struct {
	GuildID   string    `json:"guild_id" db:"guild_id"`
	ChannelID string    `json:"channel_id" db:"channel_id"`
	BoardID   string    `json:"board_id" db:"board_id"`
	ListID    string    `json:"list_id" db:"list_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Destination is the board/list a channel resolves to.
type Destination struct {
	BoardID string `json:"board_id"`
	ListID  string `json:"list_id"`
}

// Destination returns the board/list this mapping points at.
func (m *ChannelMapping) Destination() Destination {
	return Destination{BoardID: m.BoardID, ListID: m.ListID}
}

// DefaultMapping is the deployment-wide fallback destination used when a
// channel has no explicit mapping. At most one row exists.
type DefaultMapping struct {
	BoardID   string    `json:"board_id" db:"board_id"`
	ListID    string    `json:"list_id" db:"list_id"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Destination returns the fallback board/list.
func (d *DefaultMapping) Destination() Destination {
	return Destination{BoardID: d.BoardID, ListID: d.ListID}
}

// WebhookRegistration records one active Trello webhook subscription for a
// board. At most one exists per (board_id, callback_url).
type WebhookRegistration struct {
	BoardID           string    `json:"board_id" db:"board_id"`
	ExternalWebhookID string    `json:"external_webhook_id" db:"external_webhook_id"`
	CallbackURL       string    `json:"callback_url" db:"callback_url"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// EventType classifies a normalized Trello action.
type EventType string

const (
	EventCardCreated       EventType = "card_created"
	EventCardUpdated       EventType = "card_updated"
	EventCardMoved         EventType = "card_moved"
	EventCommentAdded      EventType = "comment_added"
	EventMemberAdded       EventType = "member_added"
	EventMemberRemoved     EventType = "member_removed"
	EventCheckItemStateSet EventType = "check_item_state_set"
	EventListCreated       EventType = "list_created"
	EventListRenamed       EventType = "list_renamed"
	EventOther             EventType = "other"
)

// InboundEvent is the normalized form of a verified webhook payload. It is
// transient: built per request, routed, never persisted.
type InboundEvent struct {
	Type      EventType `json:"type"`
	BoardID   string    `json:"board_id"`
	SubjectID string    `json:"subject_id"` // card, list, or member id the action concerns
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Link      string    `json:"link,omitempty"`
}

// DedupKey identifies one upstream event for duplicate suppression. Two
// deliveries of the same provider event produce identical keys.
func (e *InboundEvent) DedupKey() string {
	return e.BoardID + "|" + e.SubjectID + "|" + string(e.Type) + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Notification is the payload handed to a delivery sink for one channel.
type Notification struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Color     int    `json:"color"`
	Link      string `json:"link,omitempty"`
}
