// Package engine is the request dispatcher: it classifies inbound wallet RPC
// calls, enforces connection gating, and runs the approval handshake for
// sensitive methods.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lanternwallet/lantern-agent/internal/logging"
	"github.com/lanternwallet/lantern-agent/internal/walletrpc"
)

const (
	pendingTTL    = 5 * time.Minute
	sweepInterval = 2 * time.Minute
)

type pendingEntry struct {
	req       walletrpc.Request
	createdAt time.Time
	// done carries exactly one response; buffered so completion never blocks
	// on an absent waiter.
	done chan *walletrpc.Response
}

// PendingTable owns requests parked for user approval. Entries expire after
// five minutes so abandoned flows cannot accumulate.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	log     *zap.Logger
	now     func() time.Time

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewPendingTable(log *zap.Logger) *PendingTable {
	return &PendingTable{
		entries: make(map[string]*pendingEntry),
		log:     log.With(logging.Component("pending")),
		now:     time.Now,
	}
}

// StartSweep launches the periodic expiry sweep.
func (t *PendingTable) StartSweep(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.doneCh = make(chan struct{})
	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// StopSweep halts the sweep loop.
func (t *PendingTable) StopSweep() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.doneCh
}

// Add parks a request. Request ids are unique; a duplicate is rejected.
func (t *PendingTable) Add(req walletrpc.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[req.RequestID]; exists {
		return errors.Newf("duplicate request id %s", req.RequestID)
	}
	t.entries[req.RequestID] = &pendingEntry{
		req:       req,
		createdAt: t.now(),
		done:      make(chan *walletrpc.Response, 1),
	}
	return nil
}

// take removes and returns an entry.
func (t *PendingTable) take(requestID string) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	return entry, ok
}

// waiter returns the entry's completion channel without removing it.
func (t *PendingTable) waiter(requestID string) (chan *walletrpc.Response, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[requestID]
	if !ok {
		return nil, false
	}
	return entry.done, true
}

// List snapshots the parked requests, for the approval UI.
func (t *PendingTable) List() []walletrpc.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]walletrpc.Request, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.req)
	}
	return out
}

// Len reports how many requests are parked.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// sweep expires entries older than the TTL. An expired entry delivers a
// rejection so a still-attached waiter unblocks.
func (t *PendingTable) sweep() {
	cutoff := t.now().Add(-pendingTTL)

	t.mu.Lock()
	var expired []*pendingEntry
	for id, e := range t.entries {
		if e.createdAt.Before(cutoff) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.done <- &walletrpc.Response{Error: walletrpc.ErrUserRejected()}
		t.log.Info("pending request expired",
			logging.RequestID(e.req.RequestID), logging.Method(e.req.Method))
	}
}
