package model

import (
	"slices"
	"time"
)

// Role is the permission tier of an account.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleObserver  Role = "observer"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleObserver, RoleUser:
		return true
	}
	return false
}

// Presence is the self-reported status shown next to an account.
type Presence string

const (
	PresenceOnline    Presence = "online"
	PresenceOffline   Presence = "offline"
	PresenceInvisible Presence = "invisible"
	PresenceBusy      Presence = "busy"
)

func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceInvisible, PresenceBusy:
		return true
	}
	return false
}

// Account represents a registered chat user together with their wallet and
// cosmetic inventory.
type Account struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"display_name"`
	Email              string    `json:"email"`
	CredentialHash     string    `json:"credential_hash"` // Stored as hash, never raw
	Role               Role      `json:"role"`
	Presence           Presence  `json:"presence"`
	Balance            int64     `json:"balance"`
	EquippedFrame      string    `json:"equipped_frame,omitempty"`
	EquippedBackground string    `json:"equipped_background,omitempty"`
	EquippedEmoji      []string  `json:"equipped_emoji"` // most recent first
	Inventory          []string  `json:"inventory"`
	CreatedAt          time.Time `json:"created_at"`
}

// Owns reports whether itemID is in the account's inventory.
func (a *Account) Owns(itemID string) bool {
	return slices.Contains(a.Inventory, itemID)
}

// Clone returns a deep copy so callers can build the next version of an
// account without touching the stored one.
func (a *Account) Clone() *Account {
	c := *a
	c.EquippedEmoji = slices.Clone(a.EquippedEmoji)
	c.Inventory = slices.Clone(a.Inventory)
	if c.EquippedEmoji == nil {
		c.EquippedEmoji = []string{}
	}
	if c.Inventory == nil {
		c.Inventory = []string{}
	}
	return &c
}

// Public returns a copy with the credential hash removed, for handing to
// presentation code.
func (a *Account) Public() Account {
	c := a.Clone()
	c.CredentialHash = ""
	return *c
}

// ChannelKind distinguishes fixed named channels from derived direct-message
// channels.
type ChannelKind string

const (
	ChannelNamed  ChannelKind = "named"
	ChannelDirect ChannelKind = "direct"
)

// Channel is a message container.
type Channel struct {
	ID           string      `json:"id"`
	Kind         ChannelKind `json:"kind"`
	DisplayName  string      `json:"display_name"`
	Pinned       bool        `json:"pinned"`
	AdminOnly    bool        `json:"admin_only"`
	Participants []string    `json:"participants,omitempty"` // direct only, sorted
}

// HasParticipant reports whether accountID is one of the two ends of a direct
// channel. Named channels have no participants.
func (c *Channel) HasParticipant(accountID string) bool {
	return slices.Contains(c.Participants, accountID)
}

// Other returns the participant of a direct channel that is not accountID.
func (c *Channel) Other(accountID string) string {
	for _, p := range c.Participants {
		if p != accountID {
			return p
		}
	}
	return ""
}

func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp
}

// Message represents a chat message.
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"` // display name captured at send time
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	EditedAt   time.Time `json:"edited_at,omitempty"`
	Edited     bool      `json:"edited"`
	Deleted    bool      `json:"deleted"`
}

// ItemCategory decides which equipment slot a catalog item fills.
type ItemCategory string

const (
	CategoryAvatarFrame ItemCategory = "avatar_frame"
	CategoryBackground  ItemCategory = "background"
	CategoryEmoji       ItemCategory = "emoji"
	CategoryGift        ItemCategory = "gift"
)

func (c ItemCategory) Valid() bool {
	switch c {
	case CategoryAvatarFrame, CategoryBackground, CategoryEmoji, CategoryGift:
		return true
	}
	return false
}

// CatalogItem is a cosmetic sold in the shop.
type CatalogItem struct {
	ID         string       `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	Price      int64        `json:"price" yaml:"price"`
	Category   ItemCategory `json:"category" yaml:"category"`
	RenderHint string       `json:"render_hint,omitempty" yaml:"render_hint"`
}

// GiftTransaction is an append-only audit record of a sent gift.
type GiftTransaction struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventType represents the type of websocket event.
type EventType string

const (
	EventMessage EventType = "message"
	EventEdit    EventType = "edit"
	EventDelete  EventType = "delete"
	EventSystem  EventType = "system"
	EventAccount EventType = "account"
	EventChannel EventType = "channel"
	EventError   EventType = "error"
)

// Event is the wrapper for websocket messages.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ErrorPayload carries a failed command back to the client.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
