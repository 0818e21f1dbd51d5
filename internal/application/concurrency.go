package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/davarch/ci-runner/internal/domain"
)

// ConcurrencyKey groups runs that must not be active at the same time.
func ConcurrencyKey(workflow, ref string) string {
	h := sha256.New()
	h.Write([]byte(workflow))
	h.Write([]byte{0})
	h.Write([]byte(ref))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ConcurrencyController holds, per concurrency key, the most recently admitted run.
type ConcurrencyController struct {
	mu     sync.Mutex
	groups map[string]*RunHandle
}

func NewConcurrencyController() *ConcurrencyController {
	return &ConcurrencyController{groups: make(map[string]*RunHandle)}
}

// Admitted registers h as the holder of its key. A Pending or Running previous
// holder is cancelled before Admitted returns and is handed back to the caller.
func (c *ConcurrencyController) Admitted(h *RunHandle) *RunHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := h.run.ConcurrencyKey
	prev := c.groups[key]
	c.groups[key] = h

	if prev == nil || prev == h {
		return nil
	}
	if !prev.supersede() {
		return nil
	}
	return prev
}

// Holder returns the current holder of key.
func (c *ConcurrencyController) Holder(key string) (domain.Run, bool) {
	c.mu.Lock()
	h, ok := c.groups[key]
	c.mu.Unlock()
	if !ok {
		return domain.Run{}, false
	}
	return h.Snapshot(), true
}

// Rehydrate rebuilds the table from persisted history. Runs left Pending or
// Running by a previous process are cancelled and returned so they can be saved.
func (c *ConcurrencyController) Rehydrate(history []domain.Run) []domain.Run {
	c.mu.Lock()
	defer c.mu.Unlock()

	var orphaned []domain.Run
	for _, run := range history {
		if !run.Status.IsTerminal() {
			h := newRunHandle(context.Background(), run.Clone(), nil)
			h.supersede()
			for i := range run.Jobs {
				h.setJobStatus(i, domain.JobCancelled, "orchestrator restarted")
			}
			run = h.Snapshot()
			orphaned = append(orphaned, run)
		}
		cur, ok := c.groups[run.ConcurrencyKey]
		if ok && cur.run.CreatedAt.After(run.CreatedAt) {
			continue
		}
		c.groups[run.ConcurrencyKey] = closedHandle(run)
	}
	return orphaned
}
