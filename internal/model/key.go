package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// LockKey builds the in-flight exclusion identity "<kind>:<employee>". Switch
// shares the start key and cancel shares the end key, so opening and closing a
// shift are each single-flight per employee.
func LockKey(kind ActionKind, employeeID string) string {
	switch kind {
	case KindSwitch:
		kind = KindStart
	case KindCancel:
		kind = KindEnd
	}
	return actionKey(kind, employeeID)
}

// QueueKey builds the coalescing identity of a queued action. Only actions of
// the same effect replace each other: a queued switch never replaces a queued
// start. Cancel shares the end key, the later closing action wins.
func QueueKey(kind ActionKind, employeeID string) string {
	if kind == KindCancel {
		kind = KindEnd
	}
	return actionKey(kind, employeeID)
}

// actionKey joins kind and the NFC-normalized employee id, so "Ana" typed on
// two keyboards maps to one key.
func actionKey(kind ActionKind, employeeID string) string {
	return string(kind) + ":" + norm.NFC.String(strings.TrimSpace(employeeID))
}
