// Package scheduler drains the durable queue with a single-flight,
// timer-driven loop and exponential backoff.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/queue"
	"github.com/Tiliavir/shiftq/internal/timecalc"
	"github.com/Tiliavir/shiftq/internal/transport"
)

var log = logging.MustGetLogger("log")

// Deliverer performs one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, a model.Action, accepted []int) transport.Outcome
}

// Config holds the timing policy and hooks of a Scheduler.
type Config struct {
	// FlushInterval is the fixed tick period.
	FlushInterval time.Duration
	// MaxQueueAge bounds how long an undelivered request is kept.
	MaxQueueAge time.Duration
	// BackoffBase and BackoffCap shape the retry delay: min(cap, base*2^(n-1)).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// DrainDelay is the pause before the next tick after a success.
	DrainDelay time.Duration
	// EnqueueDelay is the pause before a tick after something was enqueued.
	EnqueueDelay time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnDelivered is called after a queued request was delivered.
	OnDelivered func(req model.ActionRequest)
	// OnPermanentFailure is called when a queued request is dropped because
	// the backend rejected it.
	OnPermanentFailure func(req model.ActionRequest, err error)
}

// TickResult tells what a single tick did.
type TickResult int

const (
	// Idle means no request was eligible.
	Idle TickResult = iota
	// Busy means another tick was already in flight.
	Busy
	Delivered
	Retrying
	Failed
)

func (r TickResult) String() string {
	switch r {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Delivered:
		return "delivered"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Scheduler delivers queued requests one at a time.
type Scheduler struct {
	queue     *queue.Queue
	transport Deliverer
	cfg       Config

	busy atomic.Bool
	wake chan struct{}
}

// New creates a scheduler draining q through d.
func New(q *queue.Queue, d Deliverer, cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		queue:     q,
		transport: d,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
	}
}

// Trigger requests an immediate tick. Multiple triggers before the loop wakes
// up coalesce into one.
func (s *Scheduler) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TriggerAfter requests a tick after d.
func (s *Scheduler) TriggerAfter(d time.Duration) {
	if d <= 0 {
		s.Trigger()
		return
	}
	time.AfterFunc(d, s.Trigger)
}

// NotifyEnqueued schedules a tick shortly after a request was enqueued.
func (s *Scheduler) NotifyEnqueued() {
	s.TriggerAfter(s.cfg.EnqueueDelay)
}

// Run ticks on the flush interval and on every trigger until ctx is cancelled.
// It ticks once at start so a backlog persisted by a previous run is retried.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	s.Trigger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.wake:
			s.Tick(ctx)
		}
	}
}

// Tick purges expired requests, then attempts delivery of the first eligible
// one. At most one tick runs at a time; a concurrent call returns Busy.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.busy.CompareAndSwap(false, true) {
		return Busy
	}
	defer s.busy.Store(false)

	now := s.cfg.Now()
	if _, err := s.queue.PurgeExpired(s.cfg.MaxQueueAge, now); err != nil {
		log.Errorf("purge failed: %v", err)
	}

	req, ok, err := s.queue.TakeEligible(now)
	if err != nil {
		log.Errorf("persisting queue after take failed: %v", err)
	}
	if !ok {
		return Idle
	}

	out := s.transport.Deliver(ctx, req.Endpoint, req.Payload, req.AcceptedStatuses)
	switch out.Class {
	case transport.Success:
		log.Infof("delivered %s (%s %s) after %d retries, status %d",
			req.ID, req.Payload.Kind, req.Payload.EmployeeID, req.RetryCount, out.Status)
		if s.cfg.OnDelivered != nil {
			s.cfg.OnDelivered(req)
		}
		s.TriggerAfter(s.cfg.DrainDelay)
		return Delivered

	case transport.RetryableFailure:
		req.RetryCount++
		delay := timecalc.Backoff(s.cfg.BackoffBase, s.cfg.BackoffCap, req.RetryCount)
		req.NextEligibleAt = s.cfg.Now().Add(delay)
		requeued, err := s.queue.Requeue(req)
		if err != nil {
			log.Errorf("persisting retry of %s failed: %v", req.ID, err)
		}
		if requeued {
			log.Warningf("delivery of %s failed (%v), retry %d in %s", req.ID, out.Err(), req.RetryCount, delay)
		}
		return Retrying

	default:
		err := out.Err()
		log.Errorf("dropping %s (%s %s): %v", req.ID, req.Payload.Kind, req.Payload.EmployeeID, err)
		if s.cfg.OnPermanentFailure != nil {
			s.cfg.OnPermanentFailure(req, err)
		}
		return Failed
	}
}

// Drain ticks until nothing is eligible, another tick is in flight, or ctx is
// done. It returns how many requests were delivered and dropped.
func (s *Scheduler) Drain(ctx context.Context) (delivered, failed int) {
	// Every tick removes or delays one request, so this bounds the loop.
	for budget := s.queue.Len(); budget > 0 && ctx.Err() == nil; budget-- {
		switch s.Tick(ctx) {
		case Delivered:
			delivered++
		case Failed:
			failed++
		case Idle, Busy:
			return delivered, failed
		}
	}
	return delivered, failed
}
