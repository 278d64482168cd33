package storage

import (
	"comicwatch/pkg/notifier"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

const updatesDir = "updates"

// UpdateStore keeps the last announced post of every source, one object per source.
type UpdateStore struct {
	blobs  *Blobs
	logger *slog.Logger
}

// NewUpdateStore creates an announcement store on top of blobs.
func NewUpdateStore(blobs *Blobs, logger *slog.Logger) *UpdateStore {
	return &UpdateStore{blobs: blobs, logger: logger}
}

// Get returns the announcement for sourceID, or nil if none was recorded.
func (s *UpdateStore) Get(ctx context.Context, sourceID string) (*notifier.Announcement, error) {
	key, err := objectKey(updatesDir, sourceID)
	if err != nil {
		return nil, err
	}

	data, err := s.blobs.read(ctx, key)
	if errors.Is(err, errNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var a notifier.Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal announcement: %w", err)
	}
	return &a, nil
}

// Upsert records a as the latest announcement of its source.
func (s *UpdateStore) Upsert(ctx context.Context, a *notifier.Announcement) error {
	key, err := objectKey(updatesDir, a.SourceID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := s.blobs.write(ctx, key, data); err != nil {
		return err
	}

	s.logger.Debug("Announcement saved", "key", key, "unique_id", a.UniqueID)
	return nil
}
