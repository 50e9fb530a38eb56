package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/shiftq/internal/model"
)

func intPtr(v int) *int { return &v }

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  model.Action
		wantErr bool
	}{
		{"start ok", model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart, ClockTime: "07:30"}, false},
		{"start without job", model.Action{EmployeeID: "Ana", Kind: model.KindStart}, true},
		{"end without job", model.Action{EmployeeID: "Ana", Kind: model.KindEnd}, false},
		{"cancel ok", model.Action{EmployeeID: "Ana", Kind: model.KindCancel}, false},
		{"missing employee", model.Action{JobID: "10", Kind: model.KindStart}, true},
		{"register ok", model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindRegister, Quantity: intPtr(4)}, false},
		{"register zero qty", model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindRegister, Quantity: intPtr(0)}, true},
		{"register no qty", model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindRegister}, true},
		{"bad clock", model.Action{EmployeeID: "Ana", Kind: model.KindEnd, ClockTime: "7h"}, true},
		{"unknown kind", model.Action{EmployeeID: "Ana", Kind: "pause"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := model.ParseKind(" Start ")
	require.NoError(t, err)
	assert.Equal(t, model.KindStart, k)

	_, err = model.ParseKind("pause")
	assert.Error(t, err)
}

func TestKindSessionEffects(t *testing.T) {
	assert.True(t, model.KindStart.OpensSession())
	assert.True(t, model.KindSwitch.OpensSession())
	assert.True(t, model.KindEnd.ClosesSession())
	assert.True(t, model.KindCancel.ClosesSession())
	assert.False(t, model.KindRegister.OpensSession())
	assert.False(t, model.KindRegister.ClosesSession())
}

func TestActionRequestWellFormed(t *testing.T) {
	ok := model.ActionRequest{
		Endpoint:   "https://backend/actions",
		EnqueuedAt: time.Now(),
		Payload:    model.Action{EmployeeID: "Ana", Kind: model.KindEnd},
	}
	assert.True(t, ok.WellFormed())

	noEndpoint := ok
	noEndpoint.Endpoint = ""
	assert.False(t, noEndpoint.WellFormed())

	noTime := ok
	noTime.EnqueuedAt = time.Time{}
	assert.False(t, noTime.WellFormed())
}

func TestNewRequestID(t *testing.T) {
	id := model.NewRequestID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, model.NewRequestID())
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "start:Ana", model.LockKey(model.KindStart, " Ana "))
	assert.Equal(t, "start:Ana", model.LockKey(model.KindSwitch, "Ana"))
	assert.Equal(t, "end:Ana", model.LockKey(model.KindEnd, "Ana"))
	assert.Equal(t, "end:Ana", model.LockKey(model.KindCancel, "Ana"))
	assert.Equal(t, "register:Ana", model.LockKey(model.KindRegister, "Ana"))
}

func TestQueueKey(t *testing.T) {
	assert.Equal(t, "start:Ana", model.QueueKey(model.KindStart, " Ana "))
	assert.Equal(t, "switch:Ana", model.QueueKey(model.KindSwitch, "Ana"))
	assert.Equal(t, "end:Ana", model.QueueKey(model.KindCancel, "Ana"))
	// Decomposed "José" (e + combining acute) collapses to the composed form.
	assert.Equal(t, "end:Jos\u00e9", model.QueueKey(model.KindEnd, "Jose\u0301"))
}
