// Package domain defines the persistence models for linked pages and inbound
// messages. These types are mapped with GORM and form the core data layer of
// the relay application.
package domain

import (
	"time"
)

// PageLink represents a Facebook user's onboarded credentials: the long-lived
// user token obtained through the OAuth flow, plus the Page and Instagram
// Business account discovered for that user. One row per platform user;
// repeated OAuth callbacks merge into the existing row.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: platform user identifier; unique, the upsert merge key.
//   - AccessToken: long-lived user access token.
//   - TokenExpiresAt: optional token expiry (frequently unset by the platform).
//   - PageID / PageName: the managed Page delivering webhook events.
//   - PageAccessToken: Page-scoped token used for subscription calls.
//   - InstagramID / InstagramUsername: linked Instagram Business account, if any.
//   - Subscribed / SubscribedAt: whether the Page was subscribed to webhook
//     delivery and when the subscription was last acknowledged.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type PageLink struct {
	ID                string     `json:"id"                  gorm:"type:char(36);primaryKey"`
	UserID            string     `json:"user_id"             gorm:"type:varchar(64);not null;uniqueIndex:ux_page_links_user"`
	AccessToken       string     `json:"-"                   gorm:"type:text;not null"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	PageID            string     `json:"page_id"             gorm:"type:varchar(64);index:idx_page_links_page"`
	PageName          string     `json:"page_name"           gorm:"type:varchar(255)"`
	PageAccessToken   string     `json:"-"                   gorm:"type:text"`
	InstagramID       string     `json:"instagram_id"        gorm:"type:varchar(64);index:idx_page_links_instagram"`
	InstagramUsername string     `json:"instagram_username"  gorm:"type:varchar(255)"`
	Subscribed        bool       `json:"subscribed"          gorm:"not null;default:false"`
	SubscribedAt      *time.Time `json:"subscribed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PageLink.
func (PageLink) TableName() string { return "page_links" }

// InboundMessage represents one normalized direct message delivered by the
// platform webhook. Rows are append-only: a message is never updated or
// deleted, and redelivered webhook events produce duplicate rows (the
// platform guarantees at-least-once delivery, not exactly-once).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner resolved by matching the event's Page/Instagram id
//     against page_links (not the sender, who is the platform end-user).
//   - PageID / InstagramID: identifiers of the matched PageLink at insert time.
//   - SenderID: platform-scoped id of the end-user who sent the message.
//   - Text: message text; nil for attachment-only messages.
//   - MessageID: platform message identifier (no uniqueness enforced).
//   - CreatedAt: insert timestamp.
type InboundMessage struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_messages_user,priority:1"`
	PageID      string    `json:"page_id"      gorm:"type:varchar(64);index"`
	InstagramID string    `json:"instagram_id" gorm:"type:varchar(64);index"`
	SenderID    string    `json:"sender_id"    gorm:"type:varchar(64);not null"`
	Text        *string   `json:"text,omitempty" gorm:"type:text"`
	MessageID   string    `json:"message_id"   gorm:"type:varchar(128)"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_messages_user,priority:2"`
}

// TableName returns the database table name for InboundMessage.
func (InboundMessage) TableName() string { return "inbound_messages" }
