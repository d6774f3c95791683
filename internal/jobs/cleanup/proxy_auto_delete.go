package cleanup

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"rota/internal/database"
	"rota/internal/domain"
)

const (
	DefaultAutoDeleteInterval = time.Minute
	autoDeleteBatchLimit      = 100
)

// archiveUnhealthyFunc is swapped in tests.
var archiveUnhealthyFunc = database.ArchiveUnhealthyBefore

// StartProxyAutoDelete archives proxies whose unhealthy streak is older
// than the configured window on every interval tick. A window of zero
// seconds disables archiving. onArchived receives every archived batch so
// the caller can drop the rows from the live registry.
func StartProxyAutoDelete(ctx context.Context, afterSeconds func() int, interval time.Duration, onArchived func([]domain.DeletedProxy)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = DefaultAutoDeleteInterval
	}

	sweepUnhealthy(afterSeconds(), onArchived)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepUnhealthy(afterSeconds(), onArchived)
		}
	}
}

func sweepUnhealthy(afterSeconds int, onArchived func([]domain.DeletedProxy)) {
	if afterSeconds <= 0 {
		return
	}

	cutoff := time.Now().Add(-time.Duration(afterSeconds) * time.Second)
	total := 0

	for {
		archived, err := archiveUnhealthyFunc(cutoff, autoDeleteBatchLimit)
		if err != nil {
			log.Error("Proxy auto-delete sweep failed", "error", err)
			return
		}
		if len(archived) == 0 {
			break
		}

		total += len(archived)
		if onArchived != nil {
			onArchived(archived)
		}

		// A short batch means the candidate set is drained.
		if len(archived) < autoDeleteBatchLimit {
			break
		}
	}

	if total > 0 {
		log.Info("Archived proxies that stayed unhealthy", "archived", total, "after_seconds", afterSeconds)
	}
}
