package storage

import (
	"comicwatch/pkg/notifier"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite stores both announcements and subscriptions in one database file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the announcement for sourceID, or nil if none was recorded.
func (s *SQLite) Get(ctx context.Context, sourceID string) (*notifier.Announcement, error) {
	var a notifier.Announcement
	var published string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, unique_id, url, title, published_at FROM updates WHERE source_id = ?`,
		sourceID,
	).Scan(&a.SourceID, &a.UniqueID, &a.URL, &a.Title, &published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query announcement: %w", err)
	}
	if a.PublishedAt, err = time.Parse(time.RFC3339Nano, published); err != nil {
		return nil, fmt.Errorf("parse published_at %q: %w", published, err)
	}
	return &a, nil
}

// Upsert records a as the latest announcement of its source.
func (s *SQLite) Upsert(ctx context.Context, a *notifier.Announcement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO updates(source_id, unique_id, url, title, published_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(source_id) DO UPDATE SET
		   unique_id=excluded.unique_id, url=excluded.url, title=excluded.title, published_at=excluded.published_at`,
		a.SourceID, a.UniqueID, a.URL, a.Title, a.PublishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert announcement: %w", err)
	}
	return nil
}

// Put stores sub, replacing any subscription of the same channel to the same source.
func (s *SQLite) Put(ctx context.Context, sub *notifier.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(guild_id, channel_id, source_id, role_id) VALUES(?,?,?,?)
		 ON CONFLICT(channel_id, source_id) DO UPDATE SET guild_id=excluded.guild_id, role_id=excluded.role_id`,
		sub.GuildID, sub.ChannelID, sub.SourceID, nullStr(sub.RoleID),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	s.logger.Info("Subscription saved", "guild", sub.GuildID, "channel", sub.ChannelID, "source", sub.SourceID, "role", sub.RoleID)
	return nil
}

// Delete removes the subscriptions of channel to sourceID and reports how many were removed.
func (s *SQLite) Delete(ctx context.Context, guildID, channelID, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE guild_id = ? AND channel_id = ? AND source_id = ?`,
		guildID, channelID, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListByGuild returns all subscriptions of a guild.
func (s *SQLite) ListByGuild(ctx context.Context, guildID string) ([]notifier.Subscription, error) {
	return s.query(ctx,
		`SELECT guild_id, channel_id, source_id, role_id FROM subscriptions WHERE guild_id = ? ORDER BY rowid`,
		guildID)
}

// ListBySource returns the subscriptions of every guild to sourceID.
func (s *SQLite) ListBySource(ctx context.Context, sourceID string) ([]notifier.Subscription, error) {
	return s.query(ctx,
		`SELECT guild_id, channel_id, source_id, role_id FROM subscriptions WHERE source_id = ? ORDER BY rowid`,
		sourceID)
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]notifier.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("Failed to close rows", "error", err)
		}
	}()

	var out []notifier.Subscription
	for rows.Next() {
		var sub notifier.Subscription
		var role sql.NullString
		if err := rows.Scan(&sub.GuildID, &sub.ChannelID, &sub.SourceID, &role); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.RoleID = role.String
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
