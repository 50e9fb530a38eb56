package reconcile

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/storage"
)

// Snapshot maps employee id to the job the employee is active on.
type Snapshot map[string]string

// Sessions returns the snapshot as a session list ordered by employee id.
func (s Snapshot) Sessions() []model.Session {
	out := make([]model.Session, 0, len(s))
	emps := make([]string, 0, len(s))
	for emp := range s {
		emps = append(emps, emp)
	}
	slices.Sort(emps)
	for _, emp := range emps {
		out = append(out, model.Session{EmployeeID: emp, JobID: s[emp]})
	}
	return out
}

// Diff counts what a merge changed.
type Diff struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// Changed reports whether the merge altered the shadow.
func (d Diff) Changed() bool {
	return d.Added+d.Updated+d.Removed > 0
}

// Observer is notified with a copy of the shadow after every net change.
type Observer func(Snapshot)

// Shadow is the local, persisted view of who is active on which job.
type Shadow struct {
	mu        sync.Mutex
	store     storage.Store
	name      string
	active    map[string]string
	observers []Observer
}

// OpenShadow loads the shadow persisted under name. Missing or malformed data
// yields an empty shadow.
func OpenShadow(store storage.Store, name string) *Shadow {
	s := &Shadow{store: store, name: name, active: map[string]string{}}
	data, err := store.Load(name)
	if err != nil {
		log.Warningf("shadow %s: could not load, starting empty: %v", name, err)
		return s
	}
	if data == nil {
		return s
	}
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warningf("shadow %s: corrupt persisted state reset to empty: %v", name, err)
		if err := storage.Quarantine(store, name); err != nil {
			log.Warningf("shadow %s: %v", name, err)
		}
		return s
	}
	for emp, job := range loaded {
		s.active[emp] = job
	}
	return s
}

// Subscribe registers an observer for future changes.
func (s *Shadow) Subscribe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Job returns the job employee is active on.
func (s *Shadow) Job(employee string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.active[employee]
	return job, ok
}

// Snapshot returns a copy of the shadow.
func (s *Shadow) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(Snapshot(s.active))
}

// Set records employee as active on job. Used for optimistic local updates.
func (s *Shadow) Set(employee, job string) error {
	s.mu.Lock()
	if cur, ok := s.active[employee]; ok && cur == job {
		s.mu.Unlock()
		return nil
	}
	s.active[employee] = job
	return s.commitLocked()
}

// Remove records employee as idle. Used for optimistic local updates.
func (s *Shadow) Remove(employee string) error {
	s.mu.Lock()
	if _, ok := s.active[employee]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.active, employee)
	return s.commitLocked()
}

// Replace overwrites the shadow with the server's canonical session list:
// employees missing from sessions are removed, listed employees are set to
// the server's job. Unchanged entries produce no notification.
func (s *Shadow) Replace(sessions []model.Session) (Diff, error) {
	server := make(map[string]string, len(sessions))
	for _, sess := range sessions {
		server[sess.EmployeeID] = sess.JobID
	}

	s.mu.Lock()
	var d Diff
	for emp := range s.active {
		if _, ok := server[emp]; !ok {
			delete(s.active, emp)
			d.Removed++
		}
	}
	for emp, job := range server {
		cur, ok := s.active[emp]
		switch {
		case !ok:
			d.Added++
		case cur != job:
			d.Updated++
		default:
			d.Unchanged++
			continue
		}
		s.active[emp] = job
	}
	if !d.Changed() {
		s.mu.Unlock()
		return d, nil
	}
	return d, s.commitLocked()
}

// commitLocked persists the shadow, releases s.mu and notifies observers.
func (s *Shadow) commitLocked() error {
	snap := maps.Clone(Snapshot(s.active))
	observers := append([]Observer(nil), s.observers...)
	var err error
	if data, mErr := json.Marshal(snap); mErr != nil {
		err = fmt.Errorf("shadow %s: encoding: %w", s.name, mErr)
	} else if sErr := s.store.Save(s.name, data); sErr != nil {
		err = fmt.Errorf("shadow %s: %w", s.name, sErr)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o(maps.Clone(snap))
	}
	return err
}
