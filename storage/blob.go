// Package storage persists announcements and subscriptions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

var errNotExist = errors.New("storage: object doesn't exist")

var keyPartRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Blobs stores JSON documents either in a local directory or in a Cloud Storage bucket.
type Blobs struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// NewBlobs creates a blob store. A non-empty localPath selects the filesystem.
func NewBlobs(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Blobs {
	return &Blobs{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// objectKey builds "<dir>/<name>.json", rejecting names that could escape dir.
func objectKey(dir, name string) (string, error) {
	if !keyPartRegex.MatchString(name) {
		return "", fmt.Errorf("invalid key %q", name)
	}
	return dir + "/" + name + ".json", nil
}

func retryOptions(ctx context.Context, logger *slog.Logger, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

func (b *Blobs) read(ctx context.Context, key string) ([]byte, error) {
	if b.localPath != "" {
		data, err := os.ReadFile(filepath.Join(b.localPath, filepath.FromSlash(key)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errNotExist)
				}
				return fmt.Errorf("open storage reader: %w", err)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			data, err = io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read from storage: %w", err)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "read", key)...,
	)
	if err != nil {
		if errors.Is(err, errNotExist) {
			return nil, errNotExist
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// write replaces the object at key. Readers never observe a partial document.
func (b *Blobs) write(ctx context.Context, key string, data []byte) error {
	if b.localPath != "" {
		path := filepath.Join(b.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, path); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("rename into place: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "write", key)...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (b *Blobs) delete(ctx context.Context, key string) error {
	if b.localPath != "" {
		path := filepath.Join(b.localPath, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if err := b.client.Bucket(b.bucket).Object(key).Delete(ctx); err != nil {
				// Deletion is idempotent.
				if errors.Is(err, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", err)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "delete", key)...,
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

// list returns the keys of all JSON objects under dir.
func (b *Blobs) list(ctx context.Context, dir string) ([]string, error) {
	var keys []string

	if b.localPath != "" {
		entries, err := os.ReadDir(filepath.Join(b.localPath, dir))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, dir+"/"+entry.Name())
		}
		return keys, nil
	}

	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{
		Prefix: dir + "/",
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			keys = append(keys, attrs.Name)
		}
	}
	return keys, nil
}
