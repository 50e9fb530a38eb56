// Package engine wires one delivery and reconciliation engine per section.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/config"
	"github.com/Tiliavir/shiftq/internal/lock"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/queue"
	"github.com/Tiliavir/shiftq/internal/reconcile"
	"github.com/Tiliavir/shiftq/internal/scheduler"
	"github.com/Tiliavir/shiftq/internal/storage"
	"github.com/Tiliavir/shiftq/internal/submit"
	"github.com/Tiliavir/shiftq/internal/transport"
)

var log = logging.MustGetLogger("log")

// Backend delivers actions and reports the canonical open sessions.
// *transport.Client implements it.
type Backend interface {
	Deliver(ctx context.Context, endpoint string, a model.Action, accepted []int) transport.Outcome
	FetchSessions(ctx context.Context, endpoint string) ([]model.Session, error)
}

// Deps are the collaborators shared by all engines of a process.
type Deps struct {
	Store   storage.Store
	Backend Backend
	// Now defaults to time.Now.
	Now func() time.Time
}

// Callbacks receive the outcome of a submission. All are optional.
type Callbacks struct {
	OnSuccess   func()
	OnDuplicate func()
	OnError     func(submit.Result)
}

// FailureHandler is told about queued requests the backend rejected.
type FailureHandler func(req model.ActionRequest, err error)

// idempotentEnd are statuses meaning "nothing to end" for end and cancel.
var idempotentEnd = []int{http.StatusNotFound, http.StatusConflict}

// Engine owns the lock table, queue, scheduler, shadow and reconciler of one
// section. Engines of different sections share nothing but the store.
type Engine struct {
	section config.Section

	locks     *lock.Table
	queue     *queue.Queue
	shadow    *reconcile.Shadow
	scheduler *scheduler.Scheduler
	reconcile *reconcile.Reconciler
	submitter *submit.Submitter

	mu       sync.Mutex
	handlers []FailureHandler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the engine for section from cfg.
func New(section config.Section, cfg config.Config, deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		section: section,
		locks:   lock.New(),
		queue:   queue.Open(deps.Store, section.QueueStorageKey()),
		shadow:  reconcile.OpenShadow(deps.Store, section.ShadowStorageKey()),
	}

	sessions := section.SessionsEndpoint
	if sessions == "" {
		sessions = cfg.Backend.SessionsPath
	}
	e.reconcile = reconcile.New(e.shadow, deps.Backend, reconcile.Config{
		Endpoint:     sessions,
		PollInterval: cfg.Reconcile.PollInterval,
		SettleDelay:  cfg.Reconcile.SettleDelay,
	})

	d := cfg.Delivery
	e.scheduler = scheduler.New(e.queue, deps.Backend, scheduler.Config{
		FlushInterval: d.FlushInterval,
		MaxQueueAge:   d.MaxQueueAge,
		BackoffBase:   d.BackoffBase,
		BackoffCap:    d.BackoffCap,
		DrainDelay:    d.DrainDelay,
		EnqueueDelay:  d.EnqueueDelay,
		Now:           now,
		OnDelivered: func(model.ActionRequest) {
			e.reconcile.Schedule()
		},
		OnPermanentFailure: e.permanentFailure,
	})

	e.submitter = submit.New(e.locks, e.queue, deps.Backend)
	e.submitter.Now = now
	e.submitter.Enqueued = e.scheduler.NotifyEnqueued
	return e
}

// Name returns the section name.
func (e *Engine) Name() string { return e.section.Name }

// Start runs the flush scheduler and the reconciliation poller until ctx is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.scheduler.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.reconcile.Run(ctx)
	}()
	log.Infof("section %s started, %d pending", e.section.Name, e.queue.Len())
}

// Stop halts the background loops and waits for in-flight submissions.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.submitter.Wait()
	e.reconcile.CancelPending()
}

// OnPermanentFailure registers h for requests dropped by the scheduler after
// the backend rejected them.
func (e *Engine) OnPermanentFailure(h FailureHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

func (e *Engine) permanentFailure(req model.ActionRequest, err error) {
	e.mu.Lock()
	handlers := append([]FailureHandler(nil), e.handlers...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(req, err)
	}
	e.reconcile.Schedule()
}

// Submit validates a and starts its delivery. The boolean is false when an
// identical action is still in flight. Delivered and queued start or switch
// actions mark the employee active in the shadow; end and cancel mark them
// idle.
func (e *Engine) Submit(ctx context.Context, a model.Action, cb Callbacks) (*submit.Pending, bool, error) {
	if err := a.Validate(); err != nil {
		return nil, false, err
	}

	opts := submit.Options{
		LockKey:     model.LockKey(a.Kind, a.EmployeeID),
		QueueKey:    model.QueueKey(a.Kind, a.EmployeeID),
		Endpoint:    e.section.Endpoint,
		OnDuplicate: cb.OnDuplicate,
		OnSuccess: func() {
			e.applyLocally(a)
			e.reconcile.Schedule()
			if cb.OnSuccess != nil {
				cb.OnSuccess()
			}
		},
		OnError: func(r submit.Result) {
			if r.Queued {
				e.applyLocally(a)
			}
			if cb.OnError != nil {
				cb.OnError(r)
			}
		},
	}
	switch {
	case a.Kind.ClosesSession():
		opts.AcceptedStatuses = idempotentEnd
	case a.Kind == model.KindRegister:
		// Every registered quantity counts, so queued registrations must not
		// replace each other.
		opts.QueueKey = ""
	}

	p, ok := e.submitter.Submit(ctx, a, opts)
	return p, ok, nil
}

func (e *Engine) applyLocally(a model.Action) {
	var err error
	switch {
	case a.Kind.OpensSession():
		err = e.shadow.Set(a.EmployeeID, a.JobID)
	case a.Kind.ClosesSession():
		err = e.shadow.Remove(a.EmployeeID)
	}
	if err != nil {
		log.Errorf("section %s: %v", e.section.Name, err)
	}
}

// Reconnected reacts to the network coming back.
func (e *Engine) Reconnected() { e.wake("reconnect") }

// Foregrounded reacts to the client being brought to the foreground.
func (e *Engine) Foregrounded() { e.wake("foreground") }

// Restored reacts to the client being restored from the background.
func (e *Engine) Restored() { e.wake("restore") }

func (e *Engine) wake(event string) {
	log.Debugf("section %s: %s", e.section.Name, event)
	e.scheduler.Trigger()
	e.reconcile.Schedule()
}

// Sessions returns the current shadow of active sessions.
func (e *Engine) Sessions() reconcile.Snapshot {
	return e.shadow.Snapshot()
}

// Pending returns the undelivered requests in queue order.
func (e *Engine) Pending() []model.ActionRequest {
	return e.queue.Snapshot()
}

// Flush delivers everything that is eligible now.
func (e *Engine) Flush(ctx context.Context) (delivered, failed int) {
	return e.scheduler.Drain(ctx)
}

// Refresh polls the backend immediately.
func (e *Engine) Refresh(ctx context.Context) (reconcile.Diff, error) {
	d, err := e.reconcile.Poll(ctx)
	if err != nil {
		return d, fmt.Errorf("section %s: %w", e.section.Name, err)
	}
	return d, nil
}

// Subscribe registers an observer of shadow changes.
func (e *Engine) Subscribe(o reconcile.Observer) {
	e.shadow.Subscribe(o)
}
