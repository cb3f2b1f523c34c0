package idempotency

import (
	"log/slog"
	"time"
)

// CleanupOldKeys removes in-memory records older than expiry.
// Returns the number of records deleted.
func CleanupOldKeys(repo *InMemoryRepository, expiry time.Duration) int64 {
	deleted := repo.DeleteOlderThan(expiry)
	if deleted > 0 {
		slog.Info("cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted
}
