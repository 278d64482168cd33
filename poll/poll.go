// Package poll periodically checks every source for a new latest post.
package poll

import (
	"comicwatch/fanout"
	"comicwatch/fetch"
	"comicwatch/metrics"
	"comicwatch/pkg/notifier"
	"comicwatch/registry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned by CheckAll when a cycle is in progress.
var ErrAlreadyRunning = errors.New("poll cycle already running")

// Sources interface for the monitored catalog.
type Sources interface {
	List() []registry.Source
}

// StateStore interface for the last announced post of each source.
type StateStore interface {
	Get(ctx context.Context, sourceID string) (*notifier.Announcement, error)
	Upsert(ctx context.Context, a *notifier.Announcement) error
}

// Notifier interface for announcing a new post.
type Notifier interface {
	Notify(ctx context.Context, src registry.Source, post *notifier.Post) fanout.Report
}

// Result summarizes one cycle.
type Result struct {
	Checked   int
	New       int
	Unchanged int
	Failed    int
}

// Scheduler runs poll cycles on a fixed interval and on demand.
type Scheduler struct {
	sources      Sources
	store        StateStore
	notifier     Notifier
	logger       *slog.Logger
	interval     time.Duration
	fetchTimeout time.Duration

	running atomic.Bool

	mu      sync.Mutex
	cron    *cron.Cron
	initial sync.WaitGroup
}

// New creates a scheduler.
func New(sources Sources, store StateStore, n Notifier, interval, fetchTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if fetchTimeout <= 0 {
		fetchTimeout = time.Minute
	}
	return &Scheduler{
		sources:      sources,
		store:        store,
		notifier:     n,
		logger:       logger,
		interval:     interval,
		fetchTimeout: fetchTimeout,
	}
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// CheckAll runs one cycle over every source in registry order.
func (s *Scheduler) CheckAll(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.CycleSkipped()
		return Result{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	sources := s.sources.List()
	s.logger.Info("Checking sources", "count", len(sources), "timestamp", start.Format(time.RFC3339))

	var res Result
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Context cancelled, stopping poll check", "error", err)
			return res, err
		}

		res.Checked++
		isNew, err := s.checkSource(ctx, src)
		switch {
		case err != nil:
			res.Failed++
			metrics.Fetch(src.ID, metrics.OutcomeError)
			attrs := []any{"source", src.ID, "error", err}
			var ferr *fetch.Error
			if errors.As(err, &ferr) {
				attrs = append(attrs, "kind", ferr.Kind.String(), "url", ferr.URL)
			}
			s.logger.Warn("Source check failed", attrs...)
		case isNew:
			res.New++
		default:
			res.Unchanged++
		}
	}

	elapsed := time.Since(start)
	metrics.Cycle(elapsed)
	s.logger.Info("Source check completed",
		"checked", res.Checked,
		"new", res.New,
		"unchanged", res.Unchanged,
		"failed", res.Failed,
		"duration_ms", elapsed.Milliseconds())
	return res, nil
}

func (s *Scheduler) checkSource(ctx context.Context, src registry.Source) (isNew bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	post, err := s.fetch(ctx, src)
	if errors.Is(err, fetch.ErrNoUpdate) {
		metrics.Fetch(src.ID, metrics.OutcomeNoUpdate)
		s.logger.Debug("Source reported no update", "source", src.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}

	last, err := s.store.Get(ctx, src.ID)
	if err != nil {
		return false, fmt.Errorf("read state: %w", err)
	}
	if last != nil && last.UniqueID == post.UniqueID {
		metrics.Fetch(src.ID, metrics.OutcomeUnchanged)
		s.logger.Debug("No new post", "source", src.ID, "unique_id", post.UniqueID)
		return false, nil
	}

	previous := ""
	if last != nil {
		previous = last.UniqueID
	}
	// State is written before notifying; a failed write suppresses the announcement.
	if err := s.store.Upsert(ctx, notifier.NewAnnouncement(src.ID, post)); err != nil {
		return false, fmt.Errorf("write state: %w", err)
	}

	metrics.Fetch(src.ID, metrics.OutcomeNew)
	metrics.Announcement(src.ID)
	s.logger.Info("New post detected",
		"source", src.ID,
		"unique_id", post.UniqueID,
		"previous", previous,
		"title", post.Title,
		"url", post.URL)

	s.notifier.Notify(ctx, src, post)
	return true, nil
}

func (s *Scheduler) fetch(ctx context.Context, src registry.Source) (*notifier.Post, error) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	post, err := src.Adapter.Fetch(fctx)
	if err != nil {
		return nil, err
	}
	if post == nil || post.UniqueID == "" {
		return nil, errors.New("adapter returned no post identity")
	}
	return post, nil
}

// Start runs the startup check in the background and schedules a cycle every
// interval. Ticks landing on a running cycle are dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(cron.WithLogger(cronLogger{s.logger}))
	spec := "@every " + s.interval.String()
	if _, err := c.AddFunc(spec, func() { s.tick(ctx, "timer") }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.cron = c

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.tick(ctx, "startup")
	}()
	c.Start()

	s.logger.Info("Poll scheduler started", "interval", s.interval.String())
	return nil
}

func (s *Scheduler) tick(ctx context.Context, trigger string) {
	if _, err := s.CheckAll(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("Skipping poll, previous cycle still running", "trigger", trigger)
			return
		}
		s.logger.Warn("Poll cycle aborted", "trigger", trigger, "error", err)
	}
}

// Stop stops the timer and waits for an in-flight cycle, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Poll scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poll cycle: %w", ctx.Err())
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
