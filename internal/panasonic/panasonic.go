// Package panasonic drives Panasonic AW-series PTZ cameras through their HTTP
// CGI interface.
package panasonic

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"joyptz/internal/ptz"
)

const maxPreset = 99

// Config for Panasonic controller
type Config struct {
	Address string // Camera IP address or hostname (e.g., "192.168.1.100")
	// BaseURL overrides the CGI endpoint derived from Address.
	BaseURL string
	Timeout time.Duration
}

// CommandError is a negative camera reply such as "eR1".
type CommandError struct {
	Command string
	Reply   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("camera rejected %s: %s", e.Command, e.Reply)
}

// Controller manages HTTP CGI communication with a Panasonic PTZ camera.
// It implements ptz.Actuator.
type Controller struct {
	baseURL string
	client  *http.Client
	mu      sync.Mutex
}

// NewController creates a new Panasonic controller
func NewController(cfg Config) (*Controller, error) {
	base := cfg.BaseURL
	if base == "" {
		if cfg.Address == "" {
			return nil, fmt.Errorf("camera address is required")
		}
		base = fmt.Sprintf("http://%s/cgi-bin/aw_ptz", cfg.Address)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Controller{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Close closes the controller
func (c *Controller) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Move sends pan/tilt and zoom speeds.
func (c *Controller) Move(v ptz.Vector) error {
	// #PTS<pan><tilt> where values are 01-99 (50 = stop)
	if err := c.sendCommand(fmt.Sprintf("#PTS%02d%02d", speedToValue(v.Pan), speedToValue(v.Tilt))); err != nil {
		return ptz.Wrap("move", err)
	}
	return ptz.Wrap("move", c.sendCommand(fmt.Sprintf("#Z%02d", speedToValue(v.Zoom))))
}

// Stop stops all PTZ movement immediately
func (c *Controller) Stop() error {
	if err := c.sendCommand("#PTS5050"); err != nil {
		return ptz.Wrap("stop", err)
	}
	return ptz.Wrap("stop", c.sendCommand("#Z50"))
}

// SetFocus sends a focus speed, #F<speed> with 50 = stop.
func (c *Controller) SetFocus(speed float64) error {
	return ptz.Wrap("focus", c.sendCommand(fmt.Sprintf("#F%02d", speedToValue(speed))))
}

// GotoPreset recalls a preset position (0-99 for Panasonic)
func (c *Controller) GotoPreset(n int) error {
	if n < 0 || n > maxPreset {
		return fmt.Errorf("preset %d outside 0-%d: %w", n, maxPreset, ptz.ErrInvalidPreset)
	}
	return ptz.Wrap("preset", c.sendCommand(fmt.Sprintf("#R%02d", n)))
}

// AuxiliaryCommand maps the infrared commands onto night mode (#D6).
func (c *Controller) AuxiliaryCommand(name string) error {
	var cmd string
	switch name {
	case ptz.AuxIROn:
		cmd = "#D61"
	case ptz.AuxIROff:
		cmd = "#D60"
	default:
		return fmt.Errorf("panasonic aux %q: %w", name, ptz.ErrUnsupported)
	}
	return ptz.Wrap("aux", c.sendCommand(cmd))
}

// sendCommand sends a command to the camera via HTTP CGI
func (c *Controller) sendCommand(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := url.Values{}
	q.Set("cmd", cmd)
	q.Set("res", "1")

	resp, err := c.client.Get(c.baseURL + "?" + q.Encode())
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned %s for %s", resp.Status, cmd)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	reply := strings.TrimSpace(string(body))
	if strings.HasPrefix(strings.ToLower(reply), "er") {
		return &CommandError{Command: cmd, Reply: reply}
	}
	return nil
}

// speedToValue converts a -1.0 to 1.0 value to Panasonic's 01-99 range
func speedToValue(v float64) int {
	v = ptz.Clamp(v)

	if v > -0.05 && v < 0.05 {
		return 50
	}
	// negative values use 01-49, positive use 51-99
	return int(50 + v*49)
}

var _ ptz.Actuator = (*Controller)(nil)
