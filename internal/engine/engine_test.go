package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/shiftq/internal/config"
	"github.com/Tiliavir/shiftq/internal/engine"
	"github.com/Tiliavir/shiftq/internal/model"
	"github.com/Tiliavir/shiftq/internal/reconcile"
	"github.com/Tiliavir/shiftq/internal/storage"
	"github.com/Tiliavir/shiftq/internal/submit"
	"github.com/Tiliavir/shiftq/internal/testutil"
)

var t0 = time.Date(2026, 2, 27, 7, 30, 0, 0, time.UTC)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Delivery.EnqueueDelay = time.Hour
	cfg.Reconcile.SettleDelay = time.Hour
	cfg.Reconcile.PollInterval = time.Hour
	cfg.Sections = []config.Section{
		{Name: "assembly", Endpoint: "/assembly/actions"},
		{Name: "paint", Endpoint: "/paint/actions", SessionsEndpoint: "/paint/sessions"},
	}
	return cfg
}

func newEngine(t *testing.T, tr *testutil.ScriptedTransport) (*engine.Engine, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(t0)
	cfg := testConfig()
	e := engine.New(cfg.Sections[0], cfg, engine.Deps{
		Store:   storage.NewFileStore(t.TempDir()),
		Backend: tr,
		Now:     clock.Now,
	})
	t.Cleanup(e.Stop)
	return e, clock
}

func submitAndWait(t *testing.T, e *engine.Engine, a model.Action) submit.Result {
	t.Helper()
	p, ok, err := e.Submit(context.Background(), a, engine.Callbacks{})
	require.NoError(t, err)
	require.True(t, ok)
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	return res
}

func TestSubmitUpdatesShadowOptimistically(t *testing.T) {
	tr := testutil.NewScriptedTransport()
	e, _ := newEngine(t, tr)

	res := submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart, ClockTime: "07:30"})
	assert.True(t, res.Delivered)
	assert.Equal(t, reconcile.Snapshot{"Ana": "10"}, e.Sessions())

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "20", Kind: model.KindSwitch, ClockTime: "09:00"})
	assert.Equal(t, reconcile.Snapshot{"Ana": "20"}, e.Sessions())

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "20", Kind: model.KindRegister, ClockTime: "09:30", Quantity: intPtr(3)})
	assert.Equal(t, reconcile.Snapshot{"Ana": "20"}, e.Sessions())

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", Kind: model.KindEnd, ClockTime: "16:00"})
	assert.Empty(t, e.Sessions())

	calls := tr.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "/assembly/actions", c.Endpoint)
	}
	assert.Equal(t, []int{404, 409}, calls[3].Accepted)
	assert.Nil(t, calls[0].Accepted)
}

func TestPermanentFailureLeavesShadowUntouched(t *testing.T) {
	tr := testutil.NewScriptedTransport(400)
	e, _ := newEngine(t, tr)

	res := submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart})
	assert.Error(t, res.Err)
	assert.False(t, res.Queued)
	assert.Empty(t, e.Sessions())
	assert.Empty(t, e.Pending())
}

func TestQueuedSubmitIsFlushedLater(t *testing.T) {
	tr := testutil.NewScriptedTransport(0)
	e, _ := newEngine(t, tr)

	res := submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart, ClockTime: "07:30"})
	assert.True(t, res.Queued)
	assert.Equal(t, reconcile.Snapshot{"Ana": "10"}, e.Sessions(), "queued actions are applied locally")

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "start:Ana", pending[0].Key)
	assert.Equal(t, t0, pending[0].EnqueuedAt)

	delivered, failed := e.Flush(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Zero(t, failed)
	assert.Empty(t, e.Pending())
	assert.Len(t, tr.Calls(), 2)
}

func TestQueuedRegistrationsAreNotCoalesced(t *testing.T) {
	tr := testutil.NewScriptedTransport(503, 503)
	e, _ := newEngine(t, tr)

	for _, qty := range []int{3, 5} {
		res := submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindRegister, Quantity: intPtr(qty)})
		require.True(t, res.Queued)
	}
	assert.Len(t, e.Pending(), 2)
}

func TestQueuedSwitchKeepsQueuedStart(t *testing.T) {
	tr := testutil.NewScriptedTransport(503, 503)
	e, _ := newEngine(t, tr)

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart, ClockTime: "07:30"})
	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "20", Kind: model.KindSwitch, ClockTime: "09:00"})

	pending := e.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "start:Ana", pending[0].Key)
	assert.Equal(t, "10", pending[0].Payload.JobID)
	assert.Equal(t, "07:30", pending[0].Payload.ClockTime)
	assert.Equal(t, "switch:Ana", pending[1].Key)
	assert.Equal(t, "20", pending[1].Payload.JobID)
	assert.Equal(t, reconcile.Snapshot{"Ana": "20"}, e.Sessions())
}

func TestQueuedStartIsReplacedByNewerStart(t *testing.T) {
	tr := testutil.NewScriptedTransport(503, 503)
	e, _ := newEngine(t, tr)

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart})
	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "11", Kind: model.KindStart})

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "11", pending[0].Payload.JobID)
}

func TestDuplicateSubmit(t *testing.T) {
	tr := testutil.NewScriptedTransport()
	tr.Gate = make(chan struct{})
	e, _ := newEngine(t, tr)
	a := model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart}

	p, ok, err := e.Submit(context.Background(), a, engine.Callbacks{})
	require.NoError(t, err)
	require.True(t, ok)

	dup := false
	_, ok, err = e.Submit(context.Background(), a, engine.Callbacks{OnDuplicate: func() { dup = true }})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, dup)

	close(tr.Gate)
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Len(t, tr.Calls(), 1)
}

func TestSubmitRejectsInvalidAction(t *testing.T) {
	tr := testutil.NewScriptedTransport()
	e, _ := newEngine(t, tr)

	_, ok, err := e.Submit(context.Background(), model.Action{EmployeeID: "Ana", Kind: model.KindStart}, engine.Callbacks{})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, tr.Calls())
}

func TestPermanentFailureDuringFlushNotifies(t *testing.T) {
	tr := testutil.NewScriptedTransport(0, 422)
	e, _ := newEngine(t, tr)

	var failed []model.ActionRequest
	e.OnPermanentFailure(func(req model.ActionRequest, err error) {
		failed = append(failed, req)
	})

	submitAndWait(t, e, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart})
	_, dropped := e.Flush(context.Background())

	assert.Equal(t, 1, dropped)
	require.Len(t, failed, 1)
	assert.Equal(t, "Ana", failed[0].Payload.EmployeeID)
	assert.Empty(t, e.Pending())
}

func TestRefreshReconcilesShadow(t *testing.T) {
	tr := testutil.NewScriptedTransport()
	e, _ := newEngine(t, tr)
	submitAndWait(t, e, model.Action{EmployeeID: "A", JobID: "10", Kind: model.KindStart})
	submitAndWait(t, e, model.Action{EmployeeID: "B", JobID: "20", Kind: model.KindStart})

	tr.SetSessions([]model.Session{{EmployeeID: "A", JobID: "10"}, {EmployeeID: "C", JobID: "30"}}, nil)
	d, err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Changed())
	assert.Equal(t, reconcile.Snapshot{"A": "10", "C": "30"}, e.Sessions())
}

func TestRegistrySectionsAreIsolated(t *testing.T) {
	tr := testutil.NewScriptedTransport(503)
	r, err := engine.NewRegistry(testConfig(), engine.Deps{
		Store:   storage.NewFileStore(t.TempDir()),
		Backend: tr,
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	assert.Equal(t, []string{"assembly", "paint"}, r.Names())

	_, err = r.Get("")
	assert.ErrorIs(t, err, engine.ErrUnknownSection, "ambiguous without a name")
	assembly, err := r.Get("assembly")
	require.NoError(t, err)
	assert.Equal(t, "assembly", assembly.Name())
	paint, err := r.Get("paint")
	require.NoError(t, err)

	submitAndWait(t, assembly, model.Action{EmployeeID: "Ana", JobID: "10", Kind: model.KindStart})
	assert.Len(t, assembly.Pending(), 1)
	assert.Empty(t, paint.Pending())
	assert.Empty(t, paint.Sessions())

	_, err = r.Get("welding")
	assert.ErrorIs(t, err, engine.ErrUnknownSection)
}

func TestRegistryRequiresSections(t *testing.T) {
	_, err := engine.NewRegistry(config.Default(), engine.Deps{})
	assert.ErrorIs(t, err, config.ErrNoSections)
}

func TestStartStop(t *testing.T) {
	tr := testutil.NewScriptedTransport()
	tr.SetSessions([]model.Session{{EmployeeID: "A", JobID: "10"}}, nil)
	e, _ := newEngine(t, tr)

	e.Start(context.Background())
	require.Eventually(t, func() bool { return len(e.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
	e.Reconnected()
	e.Stop()
}

func intPtr(v int) *int { return &v }
