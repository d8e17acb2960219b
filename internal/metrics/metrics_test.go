package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/control"
	"joyptz/internal/ptz"
	"joyptz/internal/ptz/ptztest"
	"joyptz/internal/tracking"
)

func TestControllerDecisionsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig(), control.WithObserver(c))

	ctrl.SetMotion(ptz.Vector{Pan: 1})
	require.NoError(t, ctrl.Tick())
	require.NoError(t, ctrl.Tick())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Commands.WithLabelValues(control.OpMove, ResultSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Commands.WithLabelValues(control.OpMove, ResultSuppressed)))

	c.CommandFailed(control.OpStop, errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Commands.WithLabelValues(control.OpStop, ResultFailed)))
}

func TestTrackingSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.Sample(tracking.Decision{Found: true, Closeness: 0.3, Speed: 0.32})
	c.Sample(tracking.Decision{Found: false, Speed: 0.32})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TrackingSamples))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TrackingLost))
	assert.InDelta(t, 0.3, testutil.ToFloat64(c.Closeness), 1e-9)
	assert.InDelta(t, 0.32, testutil.ToFloat64(c.Speed), 1e-9)
}

func TestRegisteringTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.CommandSent(control.OpFocus)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.Commands.WithLabelValues(control.OpFocus, ResultSent)))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CommandSent(control.OpMove)
		c.CommandSuppressed(control.OpMove)
		c.CommandFailed(control.OpMove, nil)
		c.Sample(tracking.Decision{})
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.CommandSent(control.OpPreset)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `joyptz_commands_total{op="preset",result="sent"} 1`)
	assert.Contains(t, string(body), "joyptz_tracking_closeness")
}
