package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/ptz"
	"joyptz/internal/ptz/ptztest"
)

type countingObserver struct {
	sent, suppressed, failed map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		sent:       map[string]int{},
		suppressed: map[string]int{},
		failed:     map[string]int{},
	}
}

func (o *countingObserver) CommandSent(op string) { o.sent[op]++ }
func (o *countingObserver) CommandSuppressed(op string) { o.suppressed[op]++ }
func (o *countingObserver) CommandFailed(op string, _ error) { o.failed[op]++ }

func TestControllerSetIntentHasNoSideEffects(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())

	c.SetIntent(ptz.Vector{Pan: 1}, 0.5)
	assert.Empty(t, rec.Calls())

	v, f := c.Intent()
	assert.Equal(t, ptz.Vector{Pan: 1}, v)
	assert.Equal(t, 0.5, f)
}

func TestControllerTickSendsAndSuppresses(t *testing.T) {
	rec := &ptztest.Recorder{}
	obs := newCountingObserver()
	c := New(rec, DefaultConfig(), WithObserver(obs))

	c.SetIntent(ptz.Vector{Pan: 0.5}, 0)
	require.NoError(t, c.Tick())
	c.SetIntent(ptz.Vector{Pan: 0.52}, 0)
	require.NoError(t, c.Tick())
	c.SetIntent(ptz.Vector{Pan: 0.8}, 0)
	require.NoError(t, c.Tick())

	assert.Equal(t, []ptztest.Call{
		{Op: "move", Vector: ptz.Vector{Pan: 0.5}},
		{Op: "move", Vector: ptz.Vector{Pan: 0.8}},
	}, rec.Calls())
	assert.Equal(t, ptz.Vector{Pan: 0.8}, c.Active())
	assert.Equal(t, 2, obs.sent[OpMove])
	assert.Equal(t, 1, obs.suppressed[OpMove])
}

func TestControllerStopIsIdempotent(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())

	require.NoError(t, c.Tick())
	assert.Empty(t, rec.Calls(), "no stop while already stopped")

	c.SetIntent(ptz.Vector{Tilt: -0.7}, 0)
	require.NoError(t, c.Tick())
	c.SetIntent(ptz.Vector{Tilt: 0.003}, 0)
	require.NoError(t, c.Tick())
	require.NoError(t, c.Tick())
	require.NoError(t, c.Tick())

	assert.Equal(t, []string{"move", "stop"}, rec.Ops())
	assert.True(t, c.Active().IsZero())
}

func TestControllerLockFreezesActiveVector(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())

	c.SetIntent(ptz.Vector{Pan: -0.6}, 0)
	require.NoError(t, c.Tick())
	active := c.Active()

	assert.True(t, c.ToggleLock())
	for _, v := range []ptz.Vector{{Pan: 1}, {}, {Tilt: 1, Zoom: -1}} {
		c.SetIntent(v, 0.9)
		require.NoError(t, c.Tick())
		assert.Equal(t, active, c.Active())
	}
	assert.Equal(t, []string{"move"}, rec.Ops(), "no calls while locked, no stop on lock entry")

	assert.False(t, c.ToggleLock())
	require.NoError(t, c.Tick())
	assert.Equal(t, ptz.Vector{Tilt: 1, Zoom: -1}, c.Active(), "stored intent resumes after unlock")
	assert.Equal(t, 0.9, c.ActiveFocus())
}

func TestControllerFailedSendIsRetried(t *testing.T) {
	rec := &ptztest.Recorder{}
	obs := newCountingObserver()
	c := New(rec, DefaultConfig(), WithObserver(obs))

	rec.Fail(errors.New("connection refused"))
	c.SetIntent(ptz.Vector{Pan: 0.4}, 0)
	err := c.Tick()
	require.Error(t, err)

	var ae *ptz.ActuatorError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, OpMove, ae.Op)
	assert.True(t, c.Active().IsZero(), "active vector only advances on confirmed send")
	assert.Equal(t, 1, obs.failed[OpMove])

	rec.Fail(nil)
	require.NoError(t, c.Tick())
	assert.Equal(t, ptz.Vector{Pan: 0.4}, c.Active())
	assert.Equal(t, []string{"move"}, rec.Ops())
}

func TestControllerFocusIndependentOfMotion(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())

	c.SetIntent(ptz.Zero, 0.3)
	require.NoError(t, c.Tick())
	c.SetFocus(0.31)
	require.NoError(t, c.Tick())
	c.SetFocus(0)
	require.NoError(t, c.Tick())

	assert.Equal(t, []ptztest.Call{
		{Op: "focus", Focus: 0.3},
		{Op: "focus", Focus: 0},
	}, rec.Calls())
}

func TestControllerInvalidPresetLeavesMotion(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())
	c.SetIntent(ptz.Vector{Pan: 0.5}, 0)
	require.NoError(t, c.Tick())

	err := c.GotoPreset(-1)
	assert.ErrorIs(t, err, ptz.ErrInvalidPreset)
	assert.Equal(t, ptz.Vector{Pan: 0.5}, c.Active())

	require.NoError(t, c.GotoPreset(3))
	require.NoError(t, c.Aux(ptz.AuxWiper))
	assert.Equal(t, []string{"move", "preset", "aux"}, rec.Ops())
}

func TestControllerHalt(t *testing.T) {
	rec := &ptztest.Recorder{}
	c := New(rec, DefaultConfig())
	c.SetIntent(ptz.Vector{Zoom: 1}, 0.5)
	require.NoError(t, c.Tick())
	c.ToggleLock()

	require.NoError(t, c.Halt())
	assert.Equal(t, []string{"move", "focus", "stop", "focus"}, rec.Ops())
	assert.True(t, c.Active().IsZero())
	assert.Zero(t, c.ActiveFocus())
}

func TestControllerSanitizesIntent(t *testing.T) {
	c := New(&ptztest.Recorder{}, DefaultConfig())
	c.SetIntent(ptz.Vector{Pan: 4, Tilt: -9}, 2)
	v, f := c.Intent()
	assert.Equal(t, ptz.Vector{Pan: 1, Tilt: -1}, v)
	assert.Equal(t, 1.0, f)
}
