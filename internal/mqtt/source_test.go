package mqtt

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/input"
	"joyptz/internal/ptz"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func next(t *testing.T, s *Source) input.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return input.Event{}
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://broker:1883", Config{Broker: "broker"}.BrokerURL())
	assert.Equal(t, "tcp://broker:1884", Config{Broker: "broker", Port: 1884}.BrokerURL())
	assert.Equal(t, "ssl://broker:8883", Config{Broker: "broker", Certificate: "ca.pem"}.BrokerURL())
}

func TestMessagesBecomeEvents(t *testing.T) {
	s := newSource(quietLogger())
	defer s.Close()

	s.onMessage(nil, fakeMessage{topic: "cam/ptz", payload: []byte("ptz left")})
	assert.Equal(t, ptz.Vector{Pan: -1}, *next(t, s).Intent)

	s.handle([]byte("preset 4"))
	assert.Equal(t, input.Command{Kind: input.CommandPreset, Preset: 4}, next(t, s).Command)

	s.handle([]byte("speed 5"))
	next(t, s)
	s.handle([]byte("ptz up"))
	assert.Equal(t, ptz.Vector{Tilt: 0.5}, *next(t, s).Intent)

	s.handle([]byte("ptz stop"))
	assert.Equal(t, ptz.Zero, *next(t, s).Intent)
	assert.Equal(t, 0.0, *next(t, s).Focus)
}

func TestBadPayloadIsIgnored(t *testing.T) {
	s := newSource(quietLogger())
	defer s.Close()

	s.handle([]byte("ptz somersault"))
	s.handle([]byte("lock"))
	assert.Equal(t, input.CommandToggleLock, next(t, s).Command.Kind)
}

func TestHandleAfterCloseDoesNotBlock(t *testing.T) {
	s := newSource(quietLogger())
	require.NoError(t, s.Close())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.handle([]byte("ptz left"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle blocked after Close")
	}
}

func TestClientOptions(t *testing.T) {
	s := newSource(quietLogger())
	opts, err := s.clientOptions(Config{Broker: "broker", Topic: "cam/ptz", Username: "u", Password: "p"})
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Contains(t, opts.ClientID, "joyptz-")
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, uint(4), opts.ProtocolVersion)
	assert.Equal(t, int64(60), opts.KeepAlive)
}

func TestClientOptionsCertificate(t *testing.T) {
	s := newSource(quietLogger())

	_, err := s.clientOptions(Config{Broker: "b", Topic: "t", Certificate: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = s.clientOptions(Config{Broker: "b", Topic: "t", Certificate: bad})
	assert.Error(t, err)
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(Config{Broker: "localhost"}, quietLogger())
	assert.Error(t, err)
}
