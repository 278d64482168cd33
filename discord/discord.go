// Package discord implements the chat platform capability on the Discord REST API.
package discord

import (
	"comicwatch/pkg/notifier"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Platform resolves channels and roles and posts messages through a bot session.
type Platform struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// New creates a platform for the given bot token.
func New(token string, logger *slog.Logger) (*Platform, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return NewWithSession(s, logger), nil
}

// NewWithSession wraps an existing session.
func NewWithSession(s *discordgo.Session, logger *slog.Logger) *Platform {
	return &Platform{session: s, logger: logger}
}

// Channel resolves a channel by ID.
func (p *Platform) Channel(ctx context.Context, channelID string) (*notifier.Channel, error) {
	c, err := p.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(fmt.Sprintf("channel %s", channelID), err)
	}
	return &notifier.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name}, nil
}

// Role resolves a role of a guild.
func (p *Platform) Role(ctx context.Context, guildID, roleID string) (*notifier.Role, error) {
	roles, err := p.Roles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].ID == roleID {
			return &roles[i], nil
		}
	}
	return nil, fmt.Errorf("role %s: %w", roleID, notifier.ErrNotFound)
}

// Roles lists the roles of a guild.
func (p *Platform) Roles(ctx context.Context, guildID string) ([]notifier.Role, error) {
	rs, err := p.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(fmt.Sprintf("roles of guild %s", guildID), err)
	}
	out := make([]notifier.Role, 0, len(rs))
	for _, r := range rs {
		out = append(out, notifier.Role{ID: r.ID, GuildID: guildID, Name: r.Name, Mentionable: r.Mentionable})
	}
	return out, nil
}

// Send posts content to a channel.
func (p *Platform) Send(ctx context.Context, channelID, content string) error {
	if _, err := p.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return mapError(fmt.Sprintf("send to %s", channelID), err)
	}
	return nil
}

// SetRoleMentionable edits whether a role can be pinged by anyone.
func (p *Platform) SetRoleMentionable(ctx context.Context, guildID, roleID string, mentionable bool, reason string) error {
	params := &discordgo.RoleParams{Mentionable: &mentionable}
	if _, err := p.session.GuildRoleEdit(guildID, roleID, params, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)); err != nil {
		return mapError(fmt.Sprintf("edit role %s", roleID), err)
	}
	p.logger.Debug("Role updated", "guild", guildID, "role", roleID, "mentionable", mentionable)
	return nil
}

// mapError translates REST failures into the notifier sentinels.
func mapError(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, notifier.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, notifier.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
