// Package config loads the joyptz YAML configuration.
//
// Defaults come from DefaultConfig, the file is decoded on top of them,
// flag overrides are applied last and Validate is called once everything
// is merged. The rest of the program can then assume a well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"joyptz/internal/control"
	"joyptz/internal/input"
	"joyptz/internal/logging"
	"joyptz/internal/mqtt"
	"joyptz/internal/onvif"
	"joyptz/internal/panasonic"
	"joyptz/internal/remote"
	"joyptz/internal/tracking"
	"joyptz/internal/visca"
	"joyptz/internal/webrtc"
)

// Camera control protocols.
const (
	TypeONVIF     = "onvif"
	TypeVISCA     = "visca"
	TypePanasonic = "panasonic"
)

// Config is the top-level YAML configuration.
type Config struct {
	// Cameras are keyed by the name given on the command line.
	Cameras map[string]Camera `yaml:"cameras"`

	Control  ControlConfig  `yaml:"control"`
	Tracking TrackingConfig `yaml:"tracking"`
	Joystick JoystickConfig `yaml:"joystick"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Remote   RemoteConfig   `yaml:"remote"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Camera describes one camera and how to reach it.
type Camera struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Stream is the RTSP URL used by the tracker and the remote preview.
	Stream string `yaml:"stream,omitempty"`

	// ONVIF
	Profile   string `yaml:"profile,omitempty"`
	DeviceURL string `yaml:"device_url,omitempty"`

	// VISCA
	Transport     string `yaml:"transport,omitempty"`
	Device        string `yaml:"device,omitempty"`
	BaudRate      int    `yaml:"baud_rate,omitempty"`
	CameraAddress int    `yaml:"camera_address,omitempty"`
	MaxPreset     int    `yaml:"max_preset,omitempty"`

	TimeoutMS int `yaml:"timeout_ms,omitempty"`
}

type ControlConfig struct {
	TickRate       float64 `yaml:"tick_rate"`
	MoveThreshold  float64 `yaml:"move_threshold"`
	StopThreshold  float64 `yaml:"stop_threshold"`
	FocusThreshold float64 `yaml:"focus_threshold"`
}

type TrackingConfig struct {
	UpdateIntervalMS     int     `yaml:"update_interval_ms"`
	CloseEnough          float64 `yaml:"close_enough"`
	NotCloseEnough       float64 `yaml:"not_close_enough"`
	WobbleThreshold      float64 `yaml:"wobble_threshold"`
	InitialSpeed         float64 `yaml:"initial_speed"`
	MaxSpeed             float64 `yaml:"max_speed"`
	SpeedStep            float64 `yaml:"speed_step"`
	SpeedChangeThreshold float64 `yaml:"speed_change_threshold"`

	// Window shows the annotated frames and lets the operator pick the target.
	Window bool `yaml:"window"`
	// ROI is the initial target as [x, y, width, height], used without a window.
	ROI []int `yaml:"roi,omitempty"`
}

type JoystickConfig struct {
	Devices []string `yaml:"devices"`
	// Ranges overrides raw axis ranges by evdev axis code.
	Ranges map[int]AxisRange `yaml:"ranges,omitempty"`
}

type AxisRange struct {
	Min int32 `yaml:"min"`
	Max int32 `yaml:"max"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	Port         int    `yaml:"port,omitempty"`
	Topic        string `yaml:"topic"`
	ClientID     string `yaml:"client_id,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Certificate  string `yaml:"certificate,omitempty"`
	KeepAliveSec int    `yaml:"keepalive_sec"`
}

type RemoteConfig struct {
	Listen     string   `yaml:"listen"`
	ICEServers []string `yaml:"ice_servers,omitempty"`
	// StaticIPs switches WebRTC to ICE-lite with these host addresses.
	StaticIPs []string `yaml:"static_ips,omitempty"`
}

type MetricsConfig struct {
	// Listen enables the Prometheus endpoint when non-empty.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults. It has no cameras.
func DefaultConfig() Config {
	ctrl := control.DefaultConfig()
	tr := tracking.DefaultConfig()
	return Config{
		Cameras: map[string]Camera{},
		Control: ControlConfig{
			TickRate:       5,
			MoveThreshold:  ctrl.MoveThreshold,
			StopThreshold:  ctrl.StopThreshold,
			FocusThreshold: ctrl.FocusThreshold,
		},
		Tracking: TrackingConfig{
			UpdateIntervalMS:     int(tr.UpdateInterval / time.Millisecond),
			CloseEnough:          tr.CloseEnough,
			NotCloseEnough:       tr.NotCloseEnough,
			WobbleThreshold:      tr.WobbleThreshold,
			InitialSpeed:         tr.InitialSpeed,
			MaxSpeed:             tr.MaxSpeed,
			SpeedStep:            tr.SpeedStep,
			SpeedChangeThreshold: tr.SpeedChangeThreshold,
			Window:               true,
		},
		Joystick: JoystickConfig{
			Devices: []string{"/dev/input/event0"},
		},
		MQTT: MQTTConfig{
			Topic:        "joyptz",
			KeepAliveSec: 60,
		},
		Remote: RemoteConfig{
			Listen:     ":8080",
			ICEServers: webrtc.DefaultConfig().ICEServers,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of the defaults.
// Unknown keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	// Only whitespace or comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing content")
	}
	if cfg.Cameras == nil {
		cfg.Cameras = map[string]Camera{}
	}
	return cfg, nil
}

// FlagOverrides carries command line values that replace file values.
// A nil pointer leaves the field alone.
type FlagOverrides struct {
	LogLevel        *string
	TickRate        *float64
	JoystickDevices *string
	MQTTBroker      *string
	MQTTTopic       *string
	RemoteListen    *string
	StaticIPs       *string
	MetricsListen   *string
	Window          *bool
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.TickRate != nil {
		cfg.Control.TickRate = *o.TickRate
	}
	if o.JoystickDevices != nil {
		cfg.Joystick.Devices = splitList(*o.JoystickDevices)
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}
	if o.MQTTTopic != nil {
		cfg.MQTT.Topic = *o.MQTTTopic
	}
	if o.RemoteListen != nil {
		cfg.Remote.Listen = *o.RemoteListen
	}
	if o.StaticIPs != nil {
		cfg.Remote.StaticIPs = splitList(*o.StaticIPs)
	}
	if o.MetricsListen != nil {
		cfg.Metrics.Listen = *o.MetricsListen
	}
	if o.Window != nil {
		cfg.Tracking.Window = *o.Window
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if len(c.Cameras) == 0 {
		return errors.New("at least one camera must be configured")
	}
	for _, name := range c.CameraNames() {
		cam := c.Cameras[name]
		if err := cam.Validate(); err != nil {
			return fmt.Errorf("cameras.%s: %w", name, err)
		}
	}

	if c.Control.TickRate <= 0 {
		return fmt.Errorf("control.tick_rate must be > 0 (got %v)", c.Control.TickRate)
	}
	if c.Control.MoveThreshold < 0 || c.Control.StopThreshold < 0 || c.Control.FocusThreshold < 0 {
		return errors.New("control thresholds must be >= 0")
	}

	t := c.Tracking
	if t.UpdateIntervalMS < 0 {
		return fmt.Errorf("tracking.update_interval_ms must be >= 0 (got %d)", t.UpdateIntervalMS)
	}
	if t.CloseEnough >= t.NotCloseEnough {
		return fmt.Errorf("tracking.close_enough (%v) must be < tracking.not_close_enough (%v)", t.CloseEnough, t.NotCloseEnough)
	}
	if t.InitialSpeed <= 0 || t.MaxSpeed > 1 || t.InitialSpeed > t.MaxSpeed {
		return fmt.Errorf("tracking speeds must satisfy 0 < initial_speed <= max_speed <= 1 (got %v, %v)", t.InitialSpeed, t.MaxSpeed)
	}

	if len(t.ROI) != 0 && len(t.ROI) != 4 {
		return fmt.Errorf("tracking.roi must be [x, y, width, height] (got %d values)", len(t.ROI))
	}

	for i, dev := range c.Joystick.Devices {
		if dev == "" {
			return fmt.Errorf("joystick.devices[%d] is empty", i)
		}
	}
	for code, r := range c.Joystick.Ranges {
		if r.Max <= r.Min {
			return fmt.Errorf("joystick.ranges[%d]: max must be > min", code)
		}
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic must not be empty")
		}
		if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("invalid mqtt.port: %d (must be 1-65535)", c.MQTT.Port)
		}
	}

	if c.Remote.Listen == "" {
		return errors.New("remote.listen must not be empty")
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with / (got %q)", c.Metrics.Path)
	}
	return nil
}

// Validate checks one camera entry.
func (c Camera) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	switch c.Type {
	case TypeONVIF:
		if c.Host == "" && c.DeviceURL == "" {
			return errors.New("host is required")
		}
	case TypePanasonic:
		if c.Host == "" {
			return errors.New("host is required")
		}
	case TypeVISCA:
		switch c.Transport {
		case "", visca.ProtocolUDP, visca.ProtocolTCP:
			if c.Host == "" {
				return errors.New("host is required")
			}
		case visca.ProtocolSerial:
			if c.Device == "" {
				return errors.New("device is required for serial transport")
			}
			if c.BaudRate < 0 {
				return fmt.Errorf("invalid baud_rate: %d", c.BaudRate)
			}
		default:
			return fmt.Errorf("invalid transport %q (must be udp, tcp or serial)", c.Transport)
		}
		if c.CameraAddress < 0 || c.CameraAddress > 7 {
			return fmt.Errorf("invalid camera_address: %d (must be 1-7)", c.CameraAddress)
		}
	default:
		return fmt.Errorf("invalid type %q (must be onvif, visca or panasonic)", c.Type)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must be >= 0 (got %d)", c.TimeoutMS)
	}
	return nil
}

// CameraNames returns the configured camera names, sorted.
func (c *Config) CameraNames() []string {
	names := make([]string, 0, len(c.Cameras))
	for name := range c.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Camera looks up a camera by name.
func (c *Config) Camera(name string) (Camera, error) {
	cam, ok := c.Cameras[name]
	if !ok {
		return Camera{}, fmt.Errorf("unknown camera %q (configured: %s)", name, strings.Join(c.CameraNames(), ", "))
	}
	return cam, nil
}

// ControlConfig converts the control section.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		MoveThreshold:  c.Control.MoveThreshold,
		StopThreshold:  c.Control.StopThreshold,
		FocusThreshold: c.Control.FocusThreshold,
	}
}

// TrackingConfig converts the tracking section.
func (c *Config) TrackingConfig() tracking.Config {
	t := c.Tracking
	return tracking.Config{
		UpdateInterval:       time.Duration(t.UpdateIntervalMS) * time.Millisecond,
		CloseEnough:          t.CloseEnough,
		NotCloseEnough:       t.NotCloseEnough,
		WobbleThreshold:      t.WobbleThreshold,
		InitialSpeed:         t.InitialSpeed,
		MaxSpeed:             t.MaxSpeed,
		SpeedStep:            t.SpeedStep,
		SpeedChangeThreshold: t.SpeedChangeThreshold,
	}
}

// ROI returns the configured initial target region, empty when unset.
func (c *Config) ROI() image.Rectangle {
	r := c.Tracking.ROI
	if len(r) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3])
}

// JoystickConfig converts the joystick section.
func (c *Config) JoystickConfig() input.JoystickConfig {
	cfg := input.JoystickConfig{Devices: c.Joystick.Devices}
	if len(c.Joystick.Ranges) > 0 {
		cfg.Ranges = make(map[int]input.AxisRange, len(c.Joystick.Ranges))
		for code, r := range c.Joystick.Ranges {
			cfg.Ranges[code] = input.AxisRange{Min: r.Min, Max: r.Max}
		}
	}
	return cfg
}

// MQTTConfig converts the mqtt section.
func (c *Config) MQTTConfig() mqtt.Config {
	m := c.MQTT
	return mqtt.Config{
		Broker:      m.Broker,
		Port:        m.Port,
		Topic:       m.Topic,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		Certificate: ExpandPath(m.Certificate),
		KeepAlive:   time.Duration(m.KeepAliveSec) * time.Second,
	}
}

// RemoteConfig converts the remote section for the named camera.
func (c *Config) RemoteConfig(camera string) remote.Config {
	return remote.Config{
		ListenAddr:      c.Remote.Listen,
		Camera:          camera,
		ControlProtocol: c.Cameras[camera].Type,
		WebRTC: webrtc.Config{
			ICEServers: c.Remote.ICEServers,
			StaticIPs:  c.Remote.StaticIPs,
		},
	}
}

func (c Camera) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ONVIFConfig converts an onvif camera entry.
func (c Camera) ONVIFConfig() onvif.Config {
	return onvif.Config{
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.Username,
		Password:  c.Password,
		DeviceURL: c.DeviceURL,
		Profile:   c.Profile,
		Timeout:   c.timeout(),
	}
}

// VISCAConfig converts a visca camera entry. Network transports default to
// port 52381 over UDP and 5678 over TCP.
func (c Camera) VISCAConfig() visca.Config {
	cfg := visca.Config{
		Protocol:      c.Transport,
		BaudRate:      c.BaudRate,
		CameraAddress: c.CameraAddress,
		MaxPreset:     c.MaxPreset,
	}
	if cfg.Protocol == "" {
		cfg.Protocol = visca.ProtocolUDP
	}
	switch cfg.Protocol {
	case visca.ProtocolSerial:
		cfg.Address = c.Device
	default:
		port := c.Port
		if port == 0 && cfg.Protocol == visca.ProtocolTCP {
			port = 5678
		} else if port == 0 {
			port = 52381
		}
		cfg.Address = fmt.Sprintf("%s:%d", c.Host, port)
	}
	return cfg
}

// PanasonicConfig converts a panasonic camera entry.
func (c Camera) PanasonicConfig() panasonic.Config {
	addr := c.Host
	if c.Port != 0 {
		addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return panasonic.Config{
		Address: addr,
		Timeout: c.timeout(),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
