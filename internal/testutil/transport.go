package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/transport"
)

// Call records one delivery attempt seen by a ScriptedTransport.
type Call struct {
	Endpoint string
	Action   model.Action
	Accepted []int
}

// ScriptedTransport answers delivery attempts with a fixed sequence of
// statuses, then with Fallback once the script is exhausted. Statuses are
// classified exactly like the HTTP client does.
//
// Gate, if non-nil, blocks every attempt until it is closed or receives a value,
// which lets tests hold a submission in flight.
type ScriptedTransport struct {
	mu       sync.Mutex
	script   []int
	Fallback int
	Gate     chan struct{}
	calls    []Call
	sessions []model.Session
	fetchErr error
}

// NewScriptedTransport answers with statuses in order, then 200.
func NewScriptedTransport(statuses ...int) *ScriptedTransport {
	return &ScriptedTransport{script: statuses, Fallback: 200}
}

// Deliver implements the delivery interface used by the engine.
func (s *ScriptedTransport) Deliver(ctx context.Context, endpoint string, a model.Action, accepted []int) transport.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Endpoint: endpoint, Action: a, Accepted: accepted})
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transport.Outcome{Class: transport.RetryableFailure, Status: transport.StatusUnreachable, Cause: ctx.Err()}
		}
	}

	s.mu.Lock()
	status := s.Fallback
	if len(s.script) > 0 {
		status = s.script[0]
		s.script = s.script[1:]
	}
	s.mu.Unlock()

	out := transport.Outcome{Class: transport.Classify(status, accepted), Status: status}
	if out.Class != transport.Success {
		out.Cause = errors.New("scripted failure")
	}
	return out
}

// Calls returns a copy of the attempts seen so far.
func (s *ScriptedTransport) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// SetSessions sets the canonical session list returned by FetchSessions.
func (s *ScriptedTransport) SetSessions(sessions []model.Session, err error) {
	s.mu.Lock()
	s.sessions = sessions
	s.fetchErr = err
	s.mu.Unlock()
}

// FetchSessions implements the session source used by the reconciler.
func (s *ScriptedTransport) FetchSessions(ctx context.Context, endpoint string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make([]model.Session, len(s.sessions))
	copy(out, s.sessions)
	return out, nil
}
