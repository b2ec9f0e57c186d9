// Package umount implements the Kernel Unmount Queue: de-duplicated
// registration of "try-unmount on next mount-namespace fork" paths with
// the privileged kernel driver.
package umount

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/meta-hybrid/hymount/internal/driver"
	"github.com/meta-hybrid/hymount/internal/logger"
)

// Queue is a process-wide, deduplicated set of paths already registered
// for deferred unmount.
type Queue struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{sent: make(map[string]struct{})}
}

// RegisterDeferredUnmount canonicalizes path, silently no-ops on an
// empty path, and suppresses duplicate submissions within this
// process. A fresh path is submitted to the kernel driver via
// KSU_IOCTL_ADD_TRY_UMOUNT; errors from that call are logged, not
// propagated.
func (q *Queue) RegisterDeferredUnmount(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	canonical := filepath.Clean(path)

	q.mu.Lock()
	if _, ok := q.sent[canonical]; ok {
		q.mu.Unlock()
		logger.FromContext(ctx).With("subsystem", logger.SubsystemDriver).
			Debug("unmount skipped (dedup)", "path", canonical)
		return nil
	}
	q.sent[canonical] = struct{}{}
	q.mu.Unlock()

	return driver.RegisterDeferredUnmount(ctx, canonical)
}

// Len reports how many distinct paths have been registered. Exposed for testing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}
