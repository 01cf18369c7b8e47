package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultRetentionDays is the default number of days to retain checkpoints.
	DefaultRetentionDays = 30
	// DefaultCleanupInterval is the default interval between cleanup runs.
	DefaultCleanupInterval = 24 * time.Hour
)

// CleanupConfig holds configuration for the cleanup job.
type CleanupConfig struct {
	RetentionDays   int           // Number of days to retain checkpoints (default: 30)
	CleanupInterval time.Duration // Interval between cleanup runs (default: 24h)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		RetentionDays:   DefaultRetentionDays,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// CleanupJob periodically deletes checkpoints of abandoned sessions.
type CleanupJob struct {
	store  Store
	config CleanupConfig

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(store Store, config CleanupConfig) *CleanupJob {
	if config.RetentionDays <= 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	return &CleanupJob{
		store:  store,
		config: config,
	}
}

// Retention returns the retention window.
func (j *CleanupJob) Retention() time.Duration {
	return time.Duration(j.config.RetentionDays) * 24 * time.Hour
}

// Start begins the periodic cleanup in a goroutine. It is a no-op when already running.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}

	j.running = true
	j.stop = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stop, j.done)

	slog.Info("checkpoint cleanup job started",
		"retention_days", j.config.RetentionDays,
		"interval", j.config.CleanupInterval)
}

// Stop stops the cleanup job and waits for an in-flight run to finish.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stop)
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	slog.Info("checkpoint cleanup job stopped")
}

// RunOnce executes a single cleanup run immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	return j.store.CleanupExpired(ctx, j.Retention())
}

// IsRunning returns whether the cleanup job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.config.CleanupInterval)
	defer ticker.Stop()

	j.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	deleted, err := j.RunOnce(ctx)
	if err != nil {
		slog.Error("checkpoint cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("checkpoint cleanup completed", "deleted", deleted)
	}
}
