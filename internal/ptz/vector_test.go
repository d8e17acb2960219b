package ptz

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorNormAndDistance(t *testing.T) {
	v := Vector{Pan: 3, Tilt: 4}
	assert.InDelta(t, 5.0, v.Norm(), 1e-9)
	assert.InDelta(t, 0.0, v.Distance(v), 1e-9)
	assert.InDelta(t, 1.0, Vector{Zoom: 1}.Distance(Zero), 1e-9)
}

func TestVectorSanitize(t *testing.T) {
	v := Vector{Pan: math.NaN(), Tilt: math.Inf(1), Zoom: -3}
	assert.Equal(t, Vector{Pan: 0, Tilt: 0, Zoom: -1}, v.Sanitize())
	assert.True(t, Vector{}.Sanitize().IsZero())
}

func TestVectorScale(t *testing.T) {
	assert.Equal(t, Vector{Pan: 0.5, Tilt: -0.25}, Vector{Pan: 1, Tilt: -0.5}.Scale(0.5))
}

func TestActuatorErrorUnwrap(t *testing.T) {
	base := errors.New("timeout")
	err := Wrap("move", base)
	require.Error(t, err)

	var ae *ActuatorError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "move", ae.Op)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "ptz move: timeout", err.Error())
	assert.NoError(t, Wrap("stop", nil))
}

func TestWrapKeepsExistingActuatorError(t *testing.T) {
	inner := Wrap("move", errors.New("refused"))
	outer := Wrap("tick", inner)
	assert.Same(t, inner, outer)
}
