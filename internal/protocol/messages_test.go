package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypePong, PongPayload{ClientTimestamp: 1, ServerTimestamp: 2})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","payload":{"client_timestamp":1,"server_timestamp":2}}`, string(data))
}

func TestNewMessageWithoutPayload(t *testing.T) {
	msg, err := NewMessage(TypePTZStop, nil)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ptz_stop"}`, string(data))
}

func TestParsePayload(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ptz_command","payload":{"pan":0.5,"tilt":-1,"zoom":0,"focus":0.2}}`), &msg))
	assert.Equal(t, TypePTZCommand, msg.Type)

	var cmd PTZCommandPayload
	require.NoError(t, msg.ParsePayload(&cmd))
	assert.Equal(t, 0.5, cmd.Pan)
	assert.Equal(t, -1.0, cmd.Tilt)
	require.NotNil(t, cmd.Focus)
	assert.Equal(t, 0.2, *cmd.Focus)
}

func TestParseMissingPayload(t *testing.T) {
	msg := Message{Type: TypePTZLock}
	var v PTZAuxPayload
	assert.NoError(t, msg.ParsePayload(&v))
	assert.Empty(t, v.Command)

	bad := Message{Type: TypePTZAux, Payload: json.RawMessage(`[1,2]`)}
	assert.Error(t, bad.ParsePayload(&v))
}
