package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/pkg/logger"
)

// AuditCleanupWorker drops audit entries older than the retention window.
type AuditCleanupWorker struct {
	repo            repository.AuditRepository
	retentionDays   int
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditRepository, retentionDays int, cleanupInterval time.Duration, log *logger.Logger) *AuditCleanupWorker {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuditCleanupWorker{
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          log,
		now:             time.Now,
	}
}

// Enabled reports whether a sweep would ever delete anything.
func (w *AuditCleanupWorker) Enabled() bool {
	return w.retentionDays > 0 && w.cleanupInterval > 0
}

// Start blocks until ctx is done. It returns immediately when disabled.
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "audit cleanup failed")
			}
		}
	}
}

func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	if rows > 0 {
		w.logger.Info("cleaned up audit logs", "deleted", rows, "cutoff", cutoff)
	}
	return rows, nil
}
