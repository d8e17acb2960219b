package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/control"
	"joyptz/internal/tracking"
	"joyptz/internal/visca"
)

const sample = `
cameras:
  stage:
    type: onvif
    host: 192.168.1.20
    username: admin
    password: secret
    stream: rtsp://192.168.1.20/stream1
  booth:
    type: visca
    host: 192.168.1.30
    transport: tcp
  desk:
    type: visca
    transport: serial
    device: /dev/ttyUSB0
    baud_rate: 38400
  aw:
    type: panasonic
    host: 192.168.1.40
    timeout_ms: 1500
control:
  tick_rate: 10
tracking:
  update_interval_ms: 250
mqtt:
  broker: broker.local
  topic: studio/ptz
  keepalive_sec: 30
logging:
  level: debug
`

func parseValid(t *testing.T, s string) Config {
	t.Helper()
	cfg, err := Parse([]byte(s))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5.0, cfg.Control.TickRate)
	assert.Equal(t, control.DefaultConfig(), cfg.ControlConfig())
	assert.Equal(t, tracking.DefaultConfig(), cfg.TrackingConfig())
	assert.Equal(t, ":8080", cfg.Remote.Listen)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Tracking.Window)

	// No cameras yet.
	assert.ErrorContains(t, cfg.Validate(), "at least one camera")
}

func TestParseMergesOverDefaults(t *testing.T) {
	cfg := parseValid(t, sample)

	assert.Equal(t, []string{"aw", "booth", "desk", "stage"}, cfg.CameraNames())
	assert.Equal(t, 10.0, cfg.Control.TickRate)
	assert.Equal(t, control.DefaultMoveThreshold, cfg.Control.MoveThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.TrackingConfig().UpdateInterval)
	assert.Equal(t, tracking.DefaultCloseEnough, cfg.TrackingConfig().CloseEnough)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("control:\n  tick_rat: 3\n"))
	assert.ErrorContains(t, err, "decode config yaml")
}

func TestParseRejectsTrailingDocument(t *testing.T) {
	_, err := Parse([]byte("logging:\n  level: info\n---\nlogging:\n  level: debug\n"))
	assert.ErrorContains(t, err, "trailing content")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joyptz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Cameras, 4)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestFlagOverrides(t *testing.T) {
	cfg := parseValid(t, sample)

	level := "warn"
	rate := 2.5
	devices := "/dev/input/event3, /dev/input/event7,"
	ips := "10.0.0.2"
	window := false
	FlagOverrides{
		LogLevel:        &level,
		TickRate:        &rate,
		JoystickDevices: &devices,
		StaticIPs:       &ips,
		Window:          &window,
	}.Apply(&cfg)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2.5, cfg.Control.TickRate)
	assert.Equal(t, []string{"/dev/input/event3", "/dev/input/event7"}, cfg.Joystick.Devices)
	assert.Equal(t, []string{"10.0.0.2"}, cfg.Remote.StaticIPs)
	assert.False(t, cfg.Tracking.Window)
	// Untouched fields keep the file value.
	assert.Equal(t, "studio/ptz", cfg.MQTT.Topic)

	FlagOverrides{}.Apply(nil)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad type", func(c *Config) { c.Cameras["x"] = Camera{Type: "pelco", Host: "h"} }, "cameras.x: invalid type"},
		{"missing host", func(c *Config) { c.Cameras["x"] = Camera{Type: TypePanasonic} }, "host is required"},
		{"serial without device", func(c *Config) {
			c.Cameras["x"] = Camera{Type: TypeVISCA, Transport: visca.ProtocolSerial}
		}, "device is required"},
		{"bad transport", func(c *Config) {
			c.Cameras["x"] = Camera{Type: TypeVISCA, Host: "h", Transport: "usb"}
		}, "invalid transport"},
		{"bad port", func(c *Config) { c.Cameras["x"] = Camera{Type: TypeONVIF, Host: "h", Port: 70000} }, "invalid port"},
		{"tick rate", func(c *Config) { c.Control.TickRate = 0 }, "control.tick_rate"},
		{"thresholds", func(c *Config) { c.Control.StopThreshold = -1 }, "thresholds"},
		{"closeness order", func(c *Config) { c.Tracking.CloseEnough = 0.5 }, "close_enough"},
		{"speed order", func(c *Config) { c.Tracking.InitialSpeed = 2 }, "tracking speeds"},
		{"roi shape", func(c *Config) { c.Tracking.ROI = []int{1, 2} }, "tracking.roi must be"},
		{"empty device", func(c *Config) { c.Joystick.Devices = []string{""} }, "joystick.devices[0]"},
		{"bad range", func(c *Config) { c.Joystick.Ranges = map[int]AxisRange{2: {Min: 5, Max: 5}} }, "joystick.ranges[2]"},
		{"mqtt topic", func(c *Config) { c.MQTT.Topic = "" }, "mqtt.topic"},
		{"listen", func(c *Config) { c.Remote.Listen = "" }, "remote.listen"},
		{"metrics path", func(c *Config) { c.Metrics.Listen = ":9100"; c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseValid(t, sample)
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestROI(t *testing.T) {
	cfg := parseValid(t, sample)
	assert.True(t, cfg.ROI().Empty())

	cfg.Tracking.ROI = []int{10, 20, 100, 50}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, image.Rect(10, 20, 110, 70), cfg.ROI())
}

func TestCameraLookup(t *testing.T) {
	cfg := parseValid(t, sample)

	cam, err := cfg.Camera("stage")
	require.NoError(t, err)
	assert.Equal(t, TypeONVIF, cam.Type)

	_, err = cfg.Camera("lobby")
	assert.ErrorContains(t, err, `unknown camera "lobby" (configured: aw, booth, desk, stage)`)
}

func TestCameraConverters(t *testing.T) {
	cfg := parseValid(t, sample)

	onv := cfg.Cameras["stage"].ONVIFConfig()
	assert.Equal(t, "192.168.1.20", onv.Host)
	assert.Equal(t, "admin", onv.Username)
	assert.Equal(t, "secret", onv.Password)

	tcp := cfg.Cameras["booth"].VISCAConfig()
	assert.Equal(t, visca.ProtocolTCP, tcp.Protocol)
	assert.Equal(t, "192.168.1.30:5678", tcp.Address)

	udp := Camera{Type: TypeVISCA, Host: "10.0.0.9"}.VISCAConfig()
	assert.Equal(t, visca.ProtocolUDP, udp.Protocol)
	assert.Equal(t, "10.0.0.9:52381", udp.Address)

	serial := cfg.Cameras["desk"].VISCAConfig()
	assert.Equal(t, "/dev/ttyUSB0", serial.Address)
	assert.Equal(t, 38400, serial.BaudRate)

	aw := cfg.Cameras["aw"].PanasonicConfig()
	assert.Equal(t, "192.168.1.40", aw.Address)
	assert.Equal(t, 1500*time.Millisecond, aw.Timeout)
}

func TestSectionConverters(t *testing.T) {
	cfg := parseValid(t, sample)
	cfg.Joystick.Ranges = map[int]AxisRange{2: {Min: 0, Max: 255}}

	m := cfg.MQTTConfig()
	assert.Equal(t, "broker.local", m.Broker)
	assert.Equal(t, 30*time.Second, m.KeepAlive)
	assert.Equal(t, "tcp://broker.local:1883", m.BrokerURL())

	js := cfg.JoystickConfig()
	assert.Equal(t, int32(255), js.Ranges[2].Max)

	rc := cfg.RemoteConfig("stage")
	assert.Equal(t, "stage", rc.Camera)
	assert.Equal(t, TypeONVIF, rc.ControlProtocol)
	assert.Equal(t, ":8080", rc.ListenAddr)
	assert.NotEmpty(t, rc.WebRTC.ICEServers)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/etc/joyptz.yaml", ExpandPath("/etc/joyptz.yaml"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "certs/ca.pem"), ExpandPath("~/certs/ca.pem"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}

func TestExampleConfig(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"aw", "booth", "desk", "stage"}, cfg.CameraNames())
}
