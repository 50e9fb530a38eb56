// Package submit attempts an action once and hands retryable failures to the
// durable queue, never running two submissions for one lock key at a time.
package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/lock"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/queue"
	"github.com/Tiliavir/shiftq/internal/transport"
)

var log = logging.MustGetLogger("log")

// ErrDuplicateInFlight is reported when a submission with the same lock key
// is still outstanding.
var ErrDuplicateInFlight = errors.New("a submission for this action is already in flight")

// Deliverer performs one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, a model.Action, accepted []int) transport.Outcome
}

// Options controls a single submission.
type Options struct {
	// LockKey excludes concurrent submissions of the same logical action.
	// Empty means no exclusion.
	LockKey string
	// QueueKey coalesces queued retries. Empty means always append.
	QueueKey string
	// Endpoint is the destination of the action.
	Endpoint string
	// AcceptedStatuses are non-2xx statuses that count as success.
	AcceptedStatuses []int

	OnSuccess   func()
	OnDuplicate func()
	// OnError receives queued (retryable) and permanent failures.
	OnError func(Result)
}

// Result is the outcome of one submission. Exactly one of Delivered,
// Duplicate or Err is set; Queued accompanies a retryable Err.
type Result struct {
	Delivered bool
	Duplicate bool
	Queued    bool
	Status    int
	Err       error
}

// Pending is the future of a submission.
type Pending struct {
	done chan struct{}
	res  Result
}

func settled(res Result) *Pending {
	p := &Pending{done: make(chan struct{}), res: res}
	close(p.done)
	return p
}

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It must only be called after Done is closed.
func (p *Pending) Result() Result { return p.res }

// Wait blocks until the outcome is known or ctx is done. Cancelling ctx does
// not cancel the submission.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Submitter composes the lock table, the transport and the durable queue.
type Submitter struct {
	locks     *lock.Table
	queue     *queue.Queue
	transport Deliverer
	// Enqueued is called after a request was handed to the queue.
	Enqueued func()
	Now      func() time.Time

	wg sync.WaitGroup
}

// New creates a submitter.
func New(locks *lock.Table, q *queue.Queue, d Deliverer) *Submitter {
	return &Submitter{locks: locks, queue: q, transport: d, Now: time.Now}
}

// Submit starts one delivery attempt for a. It returns false, and fires
// OnDuplicate, if opts.LockKey is held; nothing is sent in that case.
// Otherwise the attempt runs in the background and exactly one of OnSuccess
// or OnError fires.
func (s *Submitter) Submit(ctx context.Context, a model.Action, opts Options) (*Pending, bool) {
	if !s.locks.Acquire(opts.LockKey) {
		log.Infof("duplicate %s for %s ignored, %s still in flight", a.Kind, a.EmployeeID, opts.LockKey)
		if opts.OnDuplicate != nil {
			opts.OnDuplicate()
		}
		return settled(Result{Duplicate: true, Err: ErrDuplicateInFlight}), false
	}

	p := &Pending{done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(p.done)
		p.res = s.attempt(context.WithoutCancel(ctx), a, opts)
	}()
	return p, true
}

func (s *Submitter) attempt(ctx context.Context, a model.Action, opts Options) Result {
	out := s.transport.Deliver(ctx, opts.Endpoint, a, opts.AcceptedStatuses)
	s.locks.Release(opts.LockKey)

	switch out.Class {
	case transport.Success:
		log.Infof("%s %s delivered (status %d)", a.Kind, a.EmployeeID, out.Status)
		if opts.OnSuccess != nil {
			opts.OnSuccess()
		}
		return Result{Delivered: true, Status: out.Status}

	case transport.RetryableFailure:
		now := s.Now()
		req := model.ActionRequest{
			Key:              opts.QueueKey,
			Payload:          a,
			Endpoint:         opts.Endpoint,
			AcceptedStatuses: opts.AcceptedStatuses,
		}
		res, err := s.queue.Enqueue(req, now)
		if err != nil {
			log.Errorf("queueing %s %s: %v", a.Kind, a.EmployeeID, err)
		} else {
			log.Infof("%s %s queued for retry (%s): %v", a.Kind, a.EmployeeID, res, out.Err())
		}
		if s.Enqueued != nil {
			s.Enqueued()
		}
		r := Result{Queued: true, Status: out.Status, Err: out.Err()}
		if opts.OnError != nil {
			opts.OnError(r)
		}
		return r

	default:
		log.Errorf("%s %s rejected: %v", a.Kind, a.EmployeeID, out.Err())
		r := Result{Status: out.Status, Err: out.Err()}
		if opts.OnError != nil {
			opts.OnError(r)
		}
		return r
	}
}

// Wait blocks until every started submission has settled.
func (s *Submitter) Wait() {
	s.wg.Wait()
}
