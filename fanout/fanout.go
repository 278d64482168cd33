// Package fanout delivers a new post to every destination subscribed to its source.
package fanout

import (
	"comicwatch/crosspost"
	"comicwatch/metrics"
	"comicwatch/pkg/notifier"
	"comicwatch/registry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const toggleReason = "Comic update notification"

// Platform is the chat capability needed to deliver announcements.
type Platform interface {
	Channel(ctx context.Context, channelID string) (*notifier.Channel, error)
	Role(ctx context.Context, guildID, roleID string) (*notifier.Role, error)
	Send(ctx context.Context, channelID, content string) error
	SetRoleMentionable(ctx context.Context, guildID, roleID string, mentionable bool, reason string) error
}

// Subscriptions interface for looking up destinations.
type Subscriptions interface {
	ListBySource(ctx context.Context, sourceID string) ([]notifier.Subscription, error)
}

// Config tunes delivery.
type Config struct {
	Timeout     time.Duration // Per destination, and separately for the role reset
	Concurrency int
	Mentions    bool // When false roles are forced unmentionable and never pinged
}

// Report summarizes one fan-out.
type Report struct {
	Sent        int
	Skipped     int // Channel no longer exists
	Failed      int
	CrossPosted bool
}

// Notifier fans announcements out to subscribed channels.
type Notifier struct {
	platform Platform
	subs     Subscriptions
	cross    crosspost.Provider // Mirrors each announcement once, independent of subscriptions
	logger   *slog.Logger
	cfg      Config
}

// New creates a notifier. cross may be nil.
func New(platform Platform, subs Subscriptions, cross crosspost.Provider, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Notifier{
		platform: platform,
		subs:     subs,
		cross:    cross,
		logger:   logger,
		cfg:      cfg,
	}
}

// Message renders the announcement text; role may be nil.
func Message(displayName string, post *notifier.Post, role *notifier.Role) string {
	msg := fmt.Sprintf("New panels for %s! Latest panel:\n*%s*\n<%s>", displayName, post.Title, post.URL)
	if role != nil {
		msg = role.Mention() + ": " + msg
	}
	return msg
}

type outcome int

const (
	sent outcome = iota
	skipped
	failed
)

// Notify announces post to every subscriber of src. It never returns an error:
// failures are logged per destination and counted in the report.
func (n *Notifier) Notify(ctx context.Context, src registry.Source, post *notifier.Post) Report {
	var report Report
	var wg sync.WaitGroup

	if n.cross != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.CrossPosted = n.crossPost(ctx, src, post)
		}()
	}

	subs, err := n.subs.ListBySource(ctx, src.ID)
	if err != nil {
		n.logger.Error("Failed to list subscriptions, skipping fan-out", "source", src.ID, "error", err)
		wg.Wait()
		return report
	}

	n.logger.Info("Fanning out announcement", "source", src.ID, "unique_id", post.UniqueID, "destinations", len(subs))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			res := n.deliver(ctx, src, post, &sub)
			metrics.Delivery(res.label())
			mu.Lock()
			switch res {
			case sent:
				report.Sent++
			case skipped:
				report.Skipped++
			default:
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	wg.Wait()

	n.logger.Info("Fan-out completed",
		"source", src.ID,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"cross_posted", report.CrossPosted)
	return report
}

func (o outcome) label() string {
	switch o {
	case sent:
		return metrics.DeliverySent
	case skipped:
		return metrics.DeliverySkipped
	default:
		return metrics.DeliveryFailed
	}
}

func (n *Notifier) crossPost(ctx context.Context, src registry.Source, post *notifier.Post) bool {
	cctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := n.cross.Send(cctx, Message(src.DisplayName, post, nil)); err != nil {
		n.logger.Warn("Cross-post failed", "source", src.ID, "error", err)
		return false
	}
	return true
}

func (n *Notifier) deliver(ctx context.Context, src registry.Source, post *notifier.Post, sub *notifier.Subscription) (res outcome) {
	log := n.logger.With("source", src.ID, "guild", sub.GuildID, "channel", sub.ChannelID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Delivery panicked", "panic", r)
			res = failed
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	if _, err := n.platform.Channel(dctx, sub.ChannelID); err != nil {
		if errors.Is(err, notifier.ErrNotFound) {
			log.Debug("Channel no longer exists, skipping")
			return skipped
		}
		log.Warn("Failed to resolve channel", "error", err)
		return failed
	}

	var role *notifier.Role
	if sub.RoleID != "" {
		r, err := n.platform.Role(dctx, sub.GuildID, sub.RoleID)
		switch {
		case err == nil:
			role = r
		case errors.Is(err, notifier.ErrNotFound):
			log.Info("Role no longer exists, sending without mention", "role", sub.RoleID)
		default:
			log.Warn("Failed to resolve role, sending without mention", "role", sub.RoleID, "error", err)
		}
	}

	if role != nil {
		if n.cfg.Mentions {
			n.setMentionable(dctx, log, sub.GuildID, role.ID, true)
			defer n.resetMentionable(ctx, log, sub.GuildID, role.ID)
		} else {
			n.setMentionable(dctx, log, sub.GuildID, role.ID, false)
		}
	}

	if err := n.platform.Send(dctx, sub.ChannelID, Message(src.DisplayName, post, role)); err != nil {
		log.Warn("Failed to send announcement", "error", err)
		return failed
	}
	log.Info("Announcement delivered", "unique_id", post.UniqueID)
	return sent
}

func (n *Notifier) setMentionable(ctx context.Context, log *slog.Logger, guildID, roleID string, mentionable bool) {
	if err := n.platform.SetRoleMentionable(ctx, guildID, roleID, mentionable, toggleReason); err != nil {
		if errors.Is(err, notifier.ErrPermissionDenied) {
			log.Info("No permission to edit role", "role", roleID, "mentionable", mentionable)
			return
		}
		log.Warn("Failed to edit role", "role", roleID, "mentionable", mentionable, "error", err)
	}
}

// resetMentionable runs on its own deadline so an expired delivery context
// cannot leave a role pingable.
func (n *Notifier) resetMentionable(ctx context.Context, log *slog.Logger, guildID, roleID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
	defer cancel()
	n.setMentionable(rctx, log, guildID, roleID, false)
}
