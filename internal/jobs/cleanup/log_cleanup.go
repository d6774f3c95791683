// Package cleanup removes aged request logs on a schedule.
package cleanup

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"rota/internal/database"
)

const DefaultSweepInterval = time.Hour

// deleteBeforeFunc is swapped in tests.
var deleteBeforeFunc = database.DeleteRequestLogsBefore

// StartLogCleanup deletes request logs older than the retention window on
// every interval tick. A retention of zero days disables the sweep.
func StartLogCleanup(ctx context.Context, retentionDays func() int, interval time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	sweep(retentionDays())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(retentionDays())
		}
	}
}

func sweep(retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted, err := deleteBeforeFunc(cutoff)
	if err != nil {
		log.Error("Log cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		log.Info("Log cleanup removed aged entries", "deleted", deleted, "retention_days", retentionDays)
	}
}
