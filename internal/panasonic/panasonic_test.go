package panasonic

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/ptz"
)

type fakeCamera struct {
	mu    sync.Mutex
	cmds  []string
	reply string
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, r.URL.Query().Get("cmd"))
	if f.reply != "" {
		w.Write([]byte(f.reply))
		return
	}
	w.Write([]byte(r.URL.Query().Get("cmd")[1:]))
}

func (f *fakeCamera) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func newTestController(t *testing.T) (*Controller, *fakeCamera) {
	t.Helper()
	cam := &fakeCamera{}
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)

	c, err := NewController(Config{BaseURL: srv.URL + "/cgi-bin/aw_ptz"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, cam
}

func TestSpeedToValue(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 50},
		{0.04, 50},
		{-0.04, 50},
		{1, 99},
		{-1, 1},
		{0.5, 74},
		{-0.5, 25},
		{3, 99},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, speedToValue(tt.in), "speedToValue(%v)", tt.in)
	}
}

func TestMoveAndStop(t *testing.T) {
	c, cam := newTestController(t)

	require.NoError(t, c.Move(ptz.Vector{Pan: 1, Tilt: -1, Zoom: 0.5}))
	require.NoError(t, c.Stop())
	require.NoError(t, c.SetFocus(-0.5))

	assert.Equal(t, []string{"#PTS9901", "#Z74", "#PTS5050", "#Z50", "#F25"}, cam.commands())
}

func TestGotoPreset(t *testing.T) {
	c, cam := newTestController(t)

	require.NoError(t, c.GotoPreset(7))
	assert.ErrorIs(t, c.GotoPreset(100), ptz.ErrInvalidPreset)
	assert.Equal(t, []string{"#R07"}, cam.commands())
}

func TestAuxiliaryCommand(t *testing.T) {
	c, cam := newTestController(t)

	require.NoError(t, c.AuxiliaryCommand(ptz.AuxIROn))
	assert.ErrorIs(t, c.AuxiliaryCommand(ptz.AuxWiper), ptz.ErrUnsupported)
	assert.Equal(t, []string{"#D61"}, cam.commands())
}

func TestCameraErrorReply(t *testing.T) {
	c, cam := newTestController(t)
	cam.reply = "eR3"

	err := c.Move(ptz.Vector{Pan: 1})
	var aerr *ptz.ActuatorError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "move", aerr.Op)

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "eR3", cerr.Reply)
	assert.Len(t, cam.commands(), 1, "zoom is not sent after a failed pan/tilt")
}

func TestUnreachableCamera(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c, err := NewController(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	srv.Close()

	assert.Error(t, c.Stop())
}

func TestNewControllerRequiresAddress(t *testing.T) {
	_, err := NewController(Config{})
	assert.Error(t, err)
}
