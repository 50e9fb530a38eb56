package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionKind names what a submitted action does to a shift.
type ActionKind string

const (
	KindStart    ActionKind = "start"
	KindEnd      ActionKind = "end"
	KindCancel   ActionKind = "cancel"
	KindSwitch   ActionKind = "switch"
	KindRegister ActionKind = "register"
)

// ParseKind maps a user supplied string to a known ActionKind.
func ParseKind(s string) (ActionKind, error) {
	switch k := ActionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindStart, KindEnd, KindCancel, KindSwitch, KindRegister:
		return k, nil
	}
	return "", fmt.Errorf("unknown action kind %q", s)
}

// OpensSession reports whether a delivered action leaves the employee active on a job.
func (k ActionKind) OpensSession() bool {
	return k == KindStart || k == KindSwitch
}

// ClosesSession reports whether a delivered action leaves the employee idle.
func (k ActionKind) ClosesSession() bool {
	return k == KindEnd || k == KindCancel
}

// Action is the body of one state-changing request sent to the workflow backend.
type Action struct {
	EmployeeID string     `json:"employeeId" yaml:"employee_id"`
	JobID      string     `json:"jobId" yaml:"job_id"`
	Kind       ActionKind `json:"action" yaml:"action"`
	ClockTime  string     `json:"clockTime" yaml:"clock_time"`
	Quantity   *int       `json:"quantity,omitempty" yaml:"quantity,omitempty"`
}

// Validate checks the fields every backend requires for the action kind.
func (a Action) Validate() error {
	if strings.TrimSpace(a.EmployeeID) == "" {
		return errors.New("employee id is required")
	}
	switch a.Kind {
	case KindStart, KindSwitch:
		if a.JobID == "" {
			return fmt.Errorf("%s requires a job id", a.Kind)
		}
	case KindRegister:
		if a.JobID == "" {
			return errors.New("register requires a job id")
		}
		if a.Quantity == nil || *a.Quantity <= 0 {
			return errors.New("register requires a positive quantity")
		}
	case KindEnd, KindCancel:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.ClockTime != "" {
		if _, err := time.Parse("15:04", a.ClockTime); err != nil {
			return fmt.Errorf("clock time %q is not HH:MM", a.ClockTime)
		}
	}
	return nil
}

// ActionRequest is one undelivered action waiting in the durable queue.
type ActionRequest struct {
	ID               string    `json:"id" yaml:"id"`
	Key              string    `json:"key,omitempty" yaml:"key,omitempty"`
	Payload          Action    `json:"payload" yaml:"payload"`
	Endpoint         string    `json:"endpoint" yaml:"endpoint"`
	AcceptedStatuses []int     `json:"acceptedStatuses,omitempty" yaml:"accepted_statuses,omitempty"`
	EnqueuedAt       time.Time `json:"enqueuedAt" yaml:"enqueued_at"`
	NextEligibleAt   time.Time `json:"nextEligibleAt" yaml:"next_eligible_at"`
	RetryCount       int       `json:"retryCount" yaml:"retry_count"`
}

// WellFormed reports whether a request loaded from storage can be delivered.
func (r ActionRequest) WellFormed() bool {
	return r.Endpoint != "" && !r.EnqueuedAt.IsZero() && r.RetryCount >= 0 && r.Payload.Kind != ""
}

// NewRequestID returns a time-sortable identifier for a queued request.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session is one open shift as reported by the backend.
type Session struct {
	EmployeeID string `json:"employeeId"`
	JobID      string `json:"jobId"`
}

// SessionList is the canonical open-session response of the backend.
type SessionList struct {
	OK       bool      `json:"ok"`
	Sessions []Session `json:"sessions"`
}
