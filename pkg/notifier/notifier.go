// Package notifier contains the core domain types for the comic update service.
package notifier

import (
	"errors"
	"time"
)

// Errors reported by a destination platform.
var (
	ErrNotFound         = errors.New("destination not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Post is the normalized latest item of a source.
type Post struct {
	PublishedAt time.Time
	UniqueID    string // Dedup key, compared byte-for-byte
	URL         string
	Title       string
}

// Announcement is the last post that was announced for a source.
type Announcement struct {
	PublishedAt time.Time `json:"published_at"`
	SourceID    string    `json:"source_id"`
	UniqueID    string    `json:"unique_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
}

// NewAnnouncement wraps a fetched post for persistence.
func NewAnnouncement(sourceID string, p *Post) *Announcement {
	return &Announcement{
		SourceID:    sourceID,
		UniqueID:    p.UniqueID,
		URL:         p.URL,
		Title:       p.Title,
		PublishedAt: p.PublishedAt,
	}
}

// Subscription registers a channel, and optionally a role to mention, for a source.
type Subscription struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	SourceID  string `json:"source_id"`
	RoleID    string `json:"role_id,omitempty"` // Empty when no role is pinged
}

// Channel is a resolved destination channel.
type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// Role is a resolved attention role.
type Role struct {
	ID          string
	GuildID     string
	Name        string
	Mentionable bool
}

// Mention returns the chat markup that pings the role.
func (r *Role) Mention() string {
	return "<@&" + r.ID + ">"
}
