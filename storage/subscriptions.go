package storage

import (
	"comicwatch/pkg/notifier"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const subscriptionsDir = "subscriptions"

// SubscriptionStore keeps subscriptions grouped into one object per guild.
type SubscriptionStore struct {
	blobs  *Blobs
	logger *slog.Logger
	mu     sync.Mutex // Serializes read-modify-write of guild objects
}

// NewSubscriptionStore creates a subscription store on top of blobs.
func NewSubscriptionStore(blobs *Blobs, logger *slog.Logger) *SubscriptionStore {
	return &SubscriptionStore{blobs: blobs, logger: logger}
}

func (s *SubscriptionStore) load(ctx context.Context, key string) ([]notifier.Subscription, error) {
	data, err := s.blobs.read(ctx, key)
	if errors.Is(err, errNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var subs []notifier.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("unmarshal subscriptions %s: %w", key, err)
	}
	return subs, nil
}

func (s *SubscriptionStore) save(ctx context.Context, key string, subs []notifier.Subscription) error {
	if len(subs) == 0 {
		return s.blobs.delete(ctx, key)
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}
	return s.blobs.write(ctx, key, data)
}

// Put stores sub, replacing any subscription of the same channel to the same source.
func (s *SubscriptionStore) Put(ctx context.Context, sub *notifier.Subscription) error {
	key, err := objectKey(subscriptionsDir, sub.GuildID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx, key)
	if err != nil {
		return err
	}

	kept := subs[:0]
	for _, existing := range subs {
		if existing.ChannelID == sub.ChannelID && existing.SourceID == sub.SourceID {
			continue
		}
		kept = append(kept, existing)
	}
	kept = append(kept, *sub)

	if err := s.save(ctx, key, kept); err != nil {
		return err
	}
	s.logger.Info("Subscription saved", "guild", sub.GuildID, "channel", sub.ChannelID, "source", sub.SourceID, "role", sub.RoleID)
	return nil
}

// Delete removes the subscriptions of channel to sourceID and reports how many were removed.
func (s *SubscriptionStore) Delete(ctx context.Context, guildID, channelID, sourceID string) (int, error) {
	key, err := objectKey(subscriptionsDir, guildID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}

	kept := subs[:0]
	removed := 0
	for _, existing := range subs {
		if existing.ChannelID == channelID && existing.SourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.save(ctx, key, kept); err != nil {
		return 0, err
	}
	s.logger.Info("Subscription removed", "guild", guildID, "channel", channelID, "source", sourceID, "count", removed)
	return removed, nil
}

// ListByGuild returns all subscriptions of a guild.
func (s *SubscriptionStore) ListByGuild(ctx context.Context, guildID string) ([]notifier.Subscription, error) {
	key, err := objectKey(subscriptionsDir, guildID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, key)
}

// ListBySource returns the subscriptions of every guild to sourceID.
func (s *SubscriptionStore) ListBySource(ctx context.Context, sourceID string) ([]notifier.Subscription, error) {
	keys, err := s.blobs.list(ctx, subscriptionsDir)
	if err != nil {
		return nil, err
	}

	var out []notifier.Subscription
	for _, key := range keys {
		subs, err := s.load(ctx, key)
		if err != nil {
			// One corrupt guild object must not hide everyone else's subscriptions.
			s.logger.Warn("Failed to load subscriptions", "key", key, "error", err)
			continue
		}
		for _, sub := range subs {
			if sub.SourceID == sourceID {
				out = append(out, sub)
			}
		}
	}
	return out, nil
}
