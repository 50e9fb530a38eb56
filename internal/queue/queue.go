// Package queue implements the durable, key-deduplicated retry queue of
// undelivered actions.
package queue

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/storage"
)

var log = logging.MustGetLogger("log")

// EnqueueResult tells whether an enqueue replaced an existing entry.
type EnqueueResult int

const (
	Appended EnqueueResult = iota
	Merged
)

func (r EnqueueResult) String() string {
	if r == Merged {
		return "merged"
	}
	return "appended"
}

// Queue holds undelivered requests in insertion order and persists the whole
// sequence after every mutation. At most one entry exists per non-empty key.
type Queue struct {
	mu      sync.Mutex
	store   storage.Store
	name    string
	entries []model.ActionRequest
}

// Open loads the queue persisted under name. Missing or malformed data yields
// an empty queue; it never fails.
func Open(store storage.Store, name string) *Queue {
	q := &Queue{store: store, name: name}
	q.entries = q.load()
	return q
}

func (q *Queue) load() []model.ActionRequest {
	data, err := q.store.Load(q.name)
	if err != nil {
		log.Warningf("queue %s: could not load, starting empty: %v", q.name, err)
		return nil
	}
	if data == nil {
		return nil
	}

	var loaded []model.ActionRequest
	if err := json.Unmarshal(data, &loaded); err != nil {
		q.reset(fmt.Errorf("decoding: %w", err))
		return nil
	}
	for i, r := range loaded {
		if !r.WellFormed() {
			q.reset(fmt.Errorf("entry %d is malformed", i))
			return nil
		}
	}

	// Collapse duplicate keys, keeping the later entry.
	out := make([]model.ActionRequest, 0, len(loaded))
	for _, r := range loaded {
		if i := indexOf(out, r.Key); i >= 0 {
			out = append(out[:i], out[i+1:]...)
		}
		out = append(out, r)
	}
	return out
}

func (q *Queue) reset(cause error) {
	log.Warningf("queue %s: corrupt persisted state reset to empty: %v", q.name, cause)
	if err := storage.Quarantine(q.store, q.name); err != nil {
		log.Warningf("queue %s: %v", q.name, err)
	}
}

func indexOf(entries []model.ActionRequest, key string) int {
	if key == "" {
		return -1
	}
	for i := range entries {
		if entries[i].Key == key {
			return i
		}
	}
	return -1
}

// persist must be called with q.mu held.
func (q *Queue) persist() error {
	entries := q.entries
	if entries == nil {
		entries = []model.ActionRequest{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue %s: encoding: %w", q.name, err)
	}
	if err := q.store.Save(q.name, data); err != nil {
		return fmt.Errorf("queue %s: %w", q.name, err)
	}
	return nil
}

// Enqueue adds req as ready now. If an entry with the same key exists its
// payload, endpoint and accepted statuses are replaced and its retry state is
// reset; otherwise req is appended. The in-memory queue is updated even if
// persisting fails.
func (q *Queue) Enqueue(req model.ActionRequest, now time.Time) (EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := indexOf(q.entries, req.Key); i >= 0 {
		e := &q.entries[i]
		e.Payload = req.Payload
		e.Endpoint = req.Endpoint
		e.AcceptedStatuses = req.AcceptedStatuses
		e.RetryCount = 0
		e.NextEligibleAt = now
		log.Infof("queue %s: merged %s into pending request %s", q.name, req.Key, e.ID)
		return Merged, q.persist()
	}

	if req.ID == "" {
		req.ID = model.NewRequestID()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = now
	}
	req.RetryCount = 0
	req.NextEligibleAt = now
	q.entries = append(q.entries, req)
	log.Infof("queue %s: appended %s (key %q), %d pending", q.name, req.ID, req.Key, len(q.entries))
	return Appended, q.persist()
}

// TakeEligible removes and returns the first entry, in insertion order, whose
// NextEligibleAt is not after now.
func (q *Queue) TakeEligible(now time.Time) (model.ActionRequest, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.NextEligibleAt.After(now) {
			continue
		}
		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		return e, true, q.persist()
	}
	return model.ActionRequest{}, false, nil
}

// Requeue puts back a request that failed a retry at its original position,
// ordered by enqueue time and then by the time-sortable ID. If a fresh request
// for the same key was enqueued meanwhile, the fresh one wins and req is
// dropped; Requeue then returns false.
func (q *Queue) Requeue(req model.ActionRequest) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if indexOf(q.entries, req.Key) >= 0 {
		log.Debugf("queue %s: retry of %s superseded by a newer request for %s", q.name, req.ID, req.Key)
		return false, nil
	}
	i := slices.IndexFunc(q.entries, func(e model.ActionRequest) bool {
		return enqueuedBefore(req, e)
	})
	if i < 0 {
		i = len(q.entries)
	}
	q.entries = slices.Insert(q.entries, i, req)
	return true, q.persist()
}

func enqueuedBefore(a, b model.ActionRequest) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// PurgeExpired drops entries enqueued more than maxAge before now and returns them.
func (q *Queue) PurgeExpired(maxAge time.Duration, now time.Time) ([]model.ActionRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []model.ActionRequest
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) > maxAge {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	if len(dropped) == 0 {
		return nil, nil
	}
	log.Infof("queue %s: dropped %d request(s) older than %s", q.name, len(dropped), maxAge)
	return dropped, q.persist()
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the pending requests in queue order.
func (q *Queue) Snapshot() []model.ActionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.ActionRequest, len(q.entries))
	copy(out, q.entries)
	return out
}
