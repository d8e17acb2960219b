// Package protocol defines the JSON messages exchanged with the browser
// remote over its WebSocket.
package protocol

import "encoding/json"

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePTZCommand   = "ptz_command"
	TypePTZStop      = "ptz_stop"
	TypePTZPreset    = "ptz_preset"
	TypePTZLock      = "ptz_lock"
	TypePTZAux       = "ptz_aux"
	TypePTZSpeed     = "ptz_speed"
	TypeError        = "error"
)

// Error codes
const (
	ErrStreamUnavailable = "STREAM_UNAVAILABLE"
	ErrUnsupported       = "UNSUPPORTED"
	ErrInvalidMessage    = "INVALID_MESSAGE"
)

// Preset actions
const (
	PresetRecall = "recall"
	PresetSave   = "save"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload for status messages
type StatusPayload struct {
	Camera          string `json:"camera"`
	StreamConnected bool   `json:"stream_connected"`
	ControlProtocol string `json:"control_protocol"`
	VideoProtocol   string `json:"video_protocol,omitempty"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PTZCommandPayload is a velocity intent. Focus is optional.
type PTZCommandPayload struct {
	Pan   float64  `json:"pan"`
	Tilt  float64  `json:"tilt"`
	Zoom  float64  `json:"zoom"`
	Focus *float64 `json:"focus,omitempty"`
}

// PTZPresetPayload for preset recall/save
type PTZPresetPayload struct {
	Action       string `json:"action"`
	PresetNumber int    `json:"preset_number"`
}

// PTZAuxPayload names an auxiliary command such as "wiper".
type PTZAuxPayload struct {
	Command string `json:"command"`
}

// PTZSpeedPayload sets the speed multiplier, 0-1.
type PTZSpeedPayload struct {
	Speed float64 `json:"speed"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct. A missing
// payload leaves v untouched.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
