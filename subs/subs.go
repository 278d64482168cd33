// Package subs validates and manages guild subscriptions.
package subs

import (
	"comicwatch/pkg/notifier"
	"comicwatch/registry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ValidationError is a user-facing rejection of a management request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Resolver looks up chat destinations.
type Resolver interface {
	Channel(ctx context.Context, channelID string) (*notifier.Channel, error)
	Role(ctx context.Context, guildID, roleID string) (*notifier.Role, error)
}

// Store interface for subscription persistence.
type Store interface {
	Put(ctx context.Context, sub *notifier.Subscription) error
	Delete(ctx context.Context, guildID, channelID, sourceID string) (int, error)
	ListByGuild(ctx context.Context, guildID string) ([]notifier.Subscription, error)
}

// Entry is a subscription decorated for display.
type Entry struct {
	notifier.Subscription
	SourceName  string `json:"source_name"`
	ChannelName string `json:"channel_name,omitempty"`
	RoleName    string `json:"role_name,omitempty"` // Empty when no role or it no longer resolves
}

// Manager handles subscribe, unsubscribe and listing.
type Manager struct {
	sources  *registry.Registry
	resolver Resolver
	store    Store
	logger   *slog.Logger
}

// New creates a subscription manager.
func New(sources *registry.Registry, resolver Resolver, store Store, logger *slog.Logger) *Manager {
	return &Manager{
		sources:  sources,
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

func (m *Manager) source(slug string) (registry.Source, error) {
	src, err := m.sources.Lookup(strings.TrimSpace(slug))
	if errors.Is(err, registry.ErrSourceNotFound) {
		return src, invalid("unknown source %q", slug)
	}
	return src, err
}

// Add subscribes channel to source, optionally pinging roleID. An existing
// subscription of the channel to the source is replaced.
func (m *Manager) Add(ctx context.Context, guildID, channelID, sourceID, roleID string) (*notifier.Subscription, error) {
	if guildID == "" || channelID == "" {
		return nil, invalid("guild and channel are required")
	}
	src, err := m.source(sourceID)
	if err != nil {
		return nil, err
	}

	ch, err := m.resolver.Channel(ctx, channelID)
	if errors.Is(err, notifier.ErrNotFound) || errors.Is(err, notifier.ErrPermissionDenied) {
		return nil, invalid("channel %s not found", channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	if ch.GuildID != guildID {
		return nil, invalid("channel %s does not belong to this guild", channelID)
	}

	if roleID != "" {
		if _, err := m.resolver.Role(ctx, guildID, roleID); err != nil {
			if errors.Is(err, notifier.ErrNotFound) || errors.Is(err, notifier.ErrPermissionDenied) {
				return nil, invalid("role %s not found in this guild", roleID)
			}
			return nil, fmt.Errorf("resolve role: %w", err)
		}
	}

	sub := &notifier.Subscription{
		GuildID:   guildID,
		ChannelID: channelID,
		SourceID:  src.ID,
		RoleID:    roleID,
	}
	if err := m.store.Put(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	m.logger.Info("Subscription added", "guild", guildID, "channel", channelID, "source", src.ID, "role", roleID)
	return sub, nil
}

// Remove unsubscribes channel from source. Removing nothing is not an error.
func (m *Manager) Remove(ctx context.Context, guildID, channelID, sourceID string) (int, error) {
	if guildID == "" || channelID == "" {
		return 0, invalid("guild and channel are required")
	}
	src, err := m.source(sourceID)
	if err != nil {
		return 0, err
	}

	n, err := m.store.Delete(ctx, guildID, channelID, src.ID)
	if err != nil {
		return 0, fmt.Errorf("delete subscription: %w", err)
	}
	m.logger.Info("Subscription removal", "guild", guildID, "channel", channelID, "source", src.ID, "removed", n)
	return n, nil
}

// List returns the subscriptions of a guild, narrowed to channelID when set.
func (m *Manager) List(ctx context.Context, guildID, channelID string) ([]Entry, error) {
	subs, err := m.store.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	entries := make([]Entry, 0, len(subs))
	roleNames := make(map[string]string)
	for _, sub := range subs {
		if channelID != "" && sub.ChannelID != channelID {
			continue
		}
		e := Entry{Subscription: sub, SourceName: sub.SourceID}
		if src, err := m.sources.Lookup(sub.SourceID); err == nil {
			e.SourceName = src.DisplayName
		}
		if ch, err := m.resolver.Channel(ctx, sub.ChannelID); err == nil {
			e.ChannelName = ch.Name
		}
		if sub.RoleID != "" {
			name, seen := roleNames[sub.RoleID]
			if !seen {
				if r, err := m.resolver.Role(ctx, guildID, sub.RoleID); err == nil {
					name = r.Name
				} else if !errors.Is(err, notifier.ErrNotFound) {
					m.logger.Warn("Failed to resolve role", "guild", guildID, "role", sub.RoleID, "error", err)
				}
				roleNames[sub.RoleID] = name
			}
			e.RoleName = name
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Sources returns every source that can be subscribed to.
func (m *Manager) Sources() []registry.Source {
	return m.sources.List()
}

// Roles returns the distinct subscription roles of a guild that still resolve.
func (m *Manager) Roles(ctx context.Context, guildID string) ([]notifier.Role, error) {
	subs, err := m.store.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var roles []notifier.Role
	seen := make(map[string]bool)
	for _, sub := range subs {
		if sub.RoleID == "" || seen[sub.RoleID] {
			continue
		}
		seen[sub.RoleID] = true
		r, err := m.resolver.Role(ctx, guildID, sub.RoleID)
		if err != nil {
			if !errors.Is(err, notifier.ErrNotFound) {
				m.logger.Warn("Failed to resolve role", "guild", guildID, "role", sub.RoleID, "error", err)
			}
			continue
		}
		roles = append(roles, *r)
	}
	return roles, nil
}
