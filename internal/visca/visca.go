// Package visca drives Sony-compatible PTZ cameras with VISCA commands over
// UDP (VISCA-over-IP), raw TCP or an RS-232 serial line.
package visca

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"

	"joyptz/internal/ptz"
)

// Transport names.
const (
	ProtocolUDP    = "udp"
	ProtocolTCP    = "tcp"
	ProtocolSerial = "serial"
)

const (
	maxPanSpeed   = 0x18
	maxTiltSpeed  = 0x14
	maxZoomSpeed  = 7
	maxFocusSpeed = 7

	// directionDeadband keeps an axis stopped for tiny components.
	directionDeadband = 0.05

	writeTimeout = 100 * time.Millisecond
)

// Config for a VISCA controller.
type Config struct {
	// For UDP: address like "192.168.1.100:52381"
	// For TCP: address like "192.168.1.100:5678"
	// For serial: device path like "/dev/ttyUSB0"
	Address  string
	Protocol string
	// BaudRate of the serial line, 9600 when zero.
	BaudRate int
	// CameraAddress is the VISCA device address 1-7, 1 when zero.
	CameraAddress int
	// MaxPreset is the highest preset number accepted, 255 when zero.
	MaxPreset int
}

// Controller sends VISCA commands to one camera. It implements ptz.Actuator.
type Controller struct {
	mu        sync.Mutex
	conn      io.WriteCloser
	addr      int
	seqNum    uint32
	framed    bool
	maxPreset int
}

// NewController opens the transport described by cfg.
func NewController(cfg Config) (*Controller, error) {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolUDP
	}

	var conn io.WriteCloser
	switch protocol {
	case ProtocolUDP, ProtocolTCP:
		c, err := net.DialTimeout(protocol, cfg.Address, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to VISCA over %s: %w", protocol, err)
		}
		conn = deadlineConn{c}
	case ProtocolSerial:
		baud := cfg.BaudRate
		if baud == 0 {
			baud = 9600
		}
		port, err := serial.Open(cfg.Address, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open VISCA serial port %s: %w", cfg.Address, err)
		}
		conn = port
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}

	return newController(conn, protocol == ProtocolUDP, cfg), nil
}

// NewControllerWithConn wraps an already open connection. framed selects
// VISCA-over-IP framing.
func NewControllerWithConn(conn io.WriteCloser, framed bool, cfg Config) *Controller {
	return newController(conn, framed, cfg)
}

func newController(conn io.WriteCloser, framed bool, cfg Config) *Controller {
	addr := cfg.CameraAddress
	if addr < 1 || addr > 7 {
		addr = 1
	}
	maxPreset := cfg.MaxPreset
	if maxPreset <= 0 || maxPreset > 255 {
		maxPreset = 255
	}
	return &Controller{
		conn:      conn,
		addr:      addr,
		framed:    framed,
		maxPreset: maxPreset,
	}
}

// deadlineConn bounds each write so a stalled camera cannot block a tick.
type deadlineConn struct {
	net.Conn
}

func (c deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// Close closes the VISCA connection
func (c *Controller) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// buildPayload constructs a raw VISCA command (address + payload + terminator)
func (c *Controller) buildPayload(payload []byte) []byte {
	cmd := make([]byte, 0, len(payload)+2)
	cmd = append(cmd, byte(0x80|c.addr))
	cmd = append(cmd, payload...)
	cmd = append(cmd, 0xFF)
	return cmd
}

// buildOverIP wraps a VISCA payload in VISCA-over-IP framing
func (c *Controller) buildOverIP(viscaPayload []byte) []byte {
	// Bytes 0-1: message type (0x01 0x00 for command)
	// Bytes 2-3: payload length (big endian)
	// Bytes 4-7: sequence number (big endian)
	header := make([]byte, 8, 8+len(viscaPayload))
	header[0] = 0x01
	header[1] = 0x00
	binary.BigEndian.PutUint16(header[2:4], uint16(len(viscaPayload)))
	binary.BigEndian.PutUint32(header[4:8], c.seqNum)
	c.seqNum++

	return append(header, viscaPayload...)
}

// send writes one command without waiting for the camera's reply.
func (c *Controller) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	packet := c.buildPayload(payload)
	if c.framed {
		packet = c.buildOverIP(packet)
	}
	if _, err := c.conn.Write(packet); err != nil {
		return err
	}
	return nil
}

// Move drives pan/tilt and zoom at the given velocities. Positive pan is
// right, positive tilt is up, positive zoom is tele.
func (c *Controller) Move(v ptz.Vector) error {
	if err := c.send(panTiltPayload(v.Pan, v.Tilt)); err != nil {
		return ptz.Wrap("move", err)
	}
	if err := c.send(zoomPayload(v.Zoom)); err != nil {
		return ptz.Wrap("move", err)
	}
	return nil
}

// Stop stops pan, tilt and zoom.
func (c *Controller) Stop() error {
	err := errors.Join(
		c.send(panTiltPayload(0, 0)),
		c.send(zoomPayload(0)),
	)
	return ptz.Wrap("stop", err)
}

// SetFocus drives focus. Positive is far, negative is near, zero stops.
func (c *Controller) SetFocus(speed float64) error {
	return ptz.Wrap("focus", c.send(focusPayload(speed)))
}

// GotoPreset recalls a preset position.
func (c *Controller) GotoPreset(n int) error {
	if n < 0 || n > c.maxPreset {
		return fmt.Errorf("preset %d outside 0-%d: %w", n, c.maxPreset, ptz.ErrInvalidPreset)
	}
	// Memory Recall: 01 04 3F 02 pp
	return ptz.Wrap("preset", c.send([]byte{0x01, 0x04, 0x3F, 0x02, byte(n)}))
}

// AuxiliaryCommand sends the infrared cut filter commands. VISCA has no
// standard wiper command.
func (c *Controller) AuxiliaryCommand(name string) error {
	var payload []byte
	switch name {
	case ptz.AuxIRAuto:
		// Auto ICR On: 01 04 51 02
		payload = []byte{0x01, 0x04, 0x51, 0x02}
	case ptz.AuxIROn:
		// ICR On: 01 04 01 02
		payload = []byte{0x01, 0x04, 0x01, 0x02}
	case ptz.AuxIROff:
		payload = []byte{0x01, 0x04, 0x01, 0x03}
	default:
		return fmt.Errorf("visca aux %q: %w", name, ptz.ErrUnsupported)
	}
	return ptz.Wrap("aux", c.send(payload))
}

// panTiltPayload builds Pan-tiltDrive: 01 06 01 VV WW XX YY
// VV = pan speed (01-18), WW = tilt speed (01-14)
// XX: 01=left, 02=right, 03=stop
// YY: 01=up, 02=down, 03=stop
func panTiltPayload(pan, tilt float64) []byte {
	panSpeed := byte(clampInt(int(math.Round(math.Abs(pan)*maxPanSpeed)), 1, maxPanSpeed))
	tiltSpeed := byte(clampInt(int(math.Round(math.Abs(tilt)*maxTiltSpeed)), 1, maxTiltSpeed))

	var panDir, tiltDir byte
	switch {
	case pan < -directionDeadband:
		panDir = 0x01
	case pan > directionDeadband:
		panDir = 0x02
	default:
		panDir = 0x03
		panSpeed = 0x01
	}

	switch {
	case tilt > directionDeadband:
		tiltDir = 0x01
	case tilt < -directionDeadband:
		tiltDir = 0x02
	default:
		tiltDir = 0x03
		tiltSpeed = 0x01
	}

	return []byte{0x01, 0x06, 0x01, panSpeed, tiltSpeed, panDir, tiltDir}
}

// zoomPayload builds CAM_Zoom: 01 04 07 XY
// X: 0=stop, 2=tele, 3=wide; Y: speed 0-7
func zoomPayload(zoom float64) []byte {
	return []byte{0x01, 0x04, 0x07, variable(zoom, maxZoomSpeed)}
}

// focusPayload builds CAM_Focus: 01 04 08 XY
// X: 0=stop, 2=far, 3=near; Y: speed 0-7
func focusPayload(focus float64) []byte {
	return []byte{0x01, 0x04, 0x08, variable(focus, maxFocusSpeed)}
}

func variable(v float64, maxSpeed int) byte {
	switch {
	case v > directionDeadband:
		return 0x20 | byte(clampInt(int(math.Round(v*float64(maxSpeed))), 0, maxSpeed))
	case v < -directionDeadband:
		return 0x30 | byte(clampInt(int(math.Round(-v*float64(maxSpeed))), 0, maxSpeed))
	}
	return 0x00
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

var _ ptz.Actuator = (*Controller)(nil)
