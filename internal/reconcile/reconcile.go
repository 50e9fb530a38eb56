// Package reconcile keeps the local session shadow consistent with the
// backend's canonical list of open sessions.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/model"
)

var log = logging.MustGetLogger("log")

// SessionFetcher returns the backend's canonical open-session list.
type SessionFetcher interface {
	FetchSessions(ctx context.Context, endpoint string) ([]model.Session, error)
}

// Config holds the polling cadence of a Reconciler.
type Config struct {
	// Endpoint is the canonical-state query path.
	Endpoint string
	// PollInterval is the fixed cadence. Failures do not change it.
	PollInterval time.Duration
	// SettleDelay is how long Schedule waits for further triggers.
	SettleDelay time.Duration
}

// Reconciler polls the backend and overwrites the shadow with its answer.
type Reconciler struct {
	shadow  *Shadow
	fetcher SessionFetcher
	cfg     Config

	pollMu sync.Mutex

	mu      sync.Mutex
	pending *time.Timer
	runCtx  context.Context
}

// New creates a reconciler for shadow.
func New(shadow *Shadow, f SessionFetcher, cfg Config) *Reconciler {
	return &Reconciler{shadow: shadow, fetcher: f, cfg: cfg, runCtx: context.Background()}
}

// Shadow returns the shadow the reconciler maintains.
func (r *Reconciler) Shadow() *Shadow {
	return r.shadow
}

// Poll fetches the canonical session list and merges it into the shadow.
// On failure the shadow keeps its last known value and the error is returned
// for callers that care; the scheduled loop ignores it.
func (r *Reconciler) Poll(ctx context.Context) (Diff, error) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	sessions, err := r.fetcher.FetchSessions(ctx, r.cfg.Endpoint)
	if err != nil {
		log.Warningf("session poll failed, keeping last known state: %v", err)
		return Diff{}, err
	}
	d, err := r.shadow.Replace(sessions)
	if err != nil {
		log.Errorf("persisting session shadow failed: %v", err)
	}
	if d.Changed() {
		log.Infof("sessions reconciled: %d added, %d updated, %d removed", d.Added, d.Updated, d.Removed)
	} else {
		log.Debugf("sessions unchanged (%d active)", d.Unchanged)
	}
	return d, err
}

// Schedule requests a poll after the settle delay. A pending scheduled poll
// is cancelled, so a burst of calls results in a single poll.
func (r *Reconciler) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
	}
	ctx := r.runCtx
	r.pending = time.AfterFunc(r.cfg.SettleDelay, func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = r.Poll(ctx)
	})
}

// Run polls immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()
	defer r.CancelPending()

	_, _ = r.Poll(ctx)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Poll(ctx)
		}
	}
}

// CancelPending drops a poll requested by Schedule that has not run yet.
func (r *Reconciler) CancelPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}
