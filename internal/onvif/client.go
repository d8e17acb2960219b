// Package onvif drives ONVIF Profile S cameras: continuous pan/tilt/zoom,
// presets, imaging focus and auxiliary commands over SOAP with WS-Security
// UsernameToken authentication.
package onvif

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"joyptz/internal/ptz"
)

// Config describes how to reach a camera.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// DeviceURL overrides http://Host:Port/onvif/device_service.
	DeviceURL string
	// Profile selects a media profile by token; the first profile is used
	// when empty.
	Profile string
	Timeout time.Duration
}

// Range is a velocity range advertised by the camera.
type Range struct {
	Min float64 `xml:"Min"`
	Max float64 `xml:"Max"`
}

// scale maps v in [-1, 1] onto the range.
func (r Range) scale(v float64) float64 {
	if r.Min == 0 && r.Max == 0 {
		return v
	}
	if v >= 0 {
		return v * r.Max
	}
	return -v * r.Min
}

// Client is an ONVIF camera connection. It implements ptz.Actuator.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mediaURL   string
	ptzURL     string
	imagingURL string

	profileToken string
	sourceToken  string
	panTiltSpace string
	zoomSpace    string
	xRange       Range
	yRange       Range
}

// Dial connects to the camera, discovers its services and loads the
// continuous velocity ranges of the selected profile.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DeviceURL == "" {
		if cfg.Host == "" {
			return nil, errors.New("camera host is required")
		}
		port := cfg.Port
		if port == 0 {
			port = 80
		}
		cfg.DeviceURL = fmt.Sprintf("http://%s:%d/onvif/device_service", cfg.Host, port)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
	if err := c.discover(ctx); err != nil {
		return nil, fmt.Errorf("onvif discovery: %w", err)
	}
	if err := c.loadProfile(ctx); err != nil {
		return nil, fmt.Errorf("onvif profile: %w", err)
	}
	// Leave the camera stationary, as a previous session may have died mid-move.
	if err := c.stop(ctx); err != nil {
		return nil, fmt.Errorf("onvif initial stop: %w", err)
	}
	return c, nil
}

type getCapabilities struct {
	XMLName  xml.Name `xml:"tds:GetCapabilities"`
	Category string   `xml:"tds:Category"`
}

type getCapabilitiesResponse struct {
	Capabilities struct {
		Media   struct{ XAddr string } `xml:"Media"`
		PTZ     struct{ XAddr string } `xml:"PTZ"`
		Imaging struct{ XAddr string } `xml:"Imaging"`
	} `xml:"Capabilities"`
}

func (c *Client) discover(ctx context.Context) error {
	var resp getCapabilitiesResponse
	if err := c.call(ctx, c.cfg.DeviceURL, getCapabilities{Category: "All"}, &resp); err != nil {
		return err
	}
	caps := resp.Capabilities
	if caps.Media.XAddr == "" || caps.PTZ.XAddr == "" {
		return errors.New("device has no media or PTZ service")
	}
	c.mediaURL = c.rebase(caps.Media.XAddr)
	c.ptzURL = c.rebase(caps.PTZ.XAddr)
	c.imagingURL = c.rebase(caps.Imaging.XAddr)
	return nil
}

// rebase keeps the path of a service address but points it at the host
// used for the device service. Cameras behind NAT often advertise internal
// addresses.
func (c *Client) rebase(addr string) string {
	if addr == "" {
		return ""
	}
	svc, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	dev, err := url.Parse(c.cfg.DeviceURL)
	if err != nil {
		return addr
	}
	svc.Scheme = dev.Scheme
	svc.Host = dev.Host
	return svc.String()
}

type getProfiles struct {
	XMLName xml.Name `xml:"trt:GetProfiles"`
}

type profile struct {
	Token                    string `xml:"token,attr"`
	Name                     string `xml:"Name"`
	VideoSourceConfiguration struct {
		SourceToken string `xml:"SourceToken"`
	} `xml:"VideoSourceConfiguration"`
	PTZConfiguration *struct {
		Token string `xml:"token,attr"`
	} `xml:"PTZConfiguration"`
}

type getProfilesResponse struct {
	Profiles []profile `xml:"Profiles"`
}

type getConfigurationOptions struct {
	XMLName            xml.Name `xml:"tptz:GetConfigurationOptions"`
	ConfigurationToken string   `xml:"tptz:ConfigurationToken"`
}

type velocitySpace2D struct {
	URI    string `xml:"URI"`
	XRange Range  `xml:"XRange"`
	YRange Range  `xml:"YRange"`
}

type velocitySpace1D struct {
	URI    string `xml:"URI"`
	XRange Range  `xml:"XRange"`
}

type getConfigurationOptionsResponse struct {
	Options struct {
		Spaces struct {
			PanTilt []velocitySpace2D `xml:"ContinuousPanTiltVelocitySpace"`
			Zoom    []velocitySpace1D `xml:"ContinuousZoomVelocitySpace"`
		} `xml:"Spaces"`
	} `xml:"PTZConfigurationOptions"`
}

func (c *Client) loadProfile(ctx context.Context) error {
	var profiles getProfilesResponse
	if err := c.call(ctx, c.mediaURL, getProfiles{}, &profiles); err != nil {
		return err
	}
	var selected *profile
	for i := range profiles.Profiles {
		p := &profiles.Profiles[i]
		if c.cfg.Profile == "" || p.Token == c.cfg.Profile {
			selected = p
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("profile %q not found", c.cfg.Profile)
	}
	if selected.PTZConfiguration == nil {
		return fmt.Errorf("profile %q has no PTZ configuration", selected.Token)
	}
	c.profileToken = selected.Token
	c.sourceToken = selected.VideoSourceConfiguration.SourceToken

	var opts getConfigurationOptionsResponse
	req := getConfigurationOptions{ConfigurationToken: selected.PTZConfiguration.Token}
	if err := c.call(ctx, c.ptzURL, req, &opts); err != nil {
		return err
	}
	if pt := opts.Options.Spaces.PanTilt; len(pt) > 0 {
		c.panTiltSpace = pt[0].URI
		c.xRange = pt[0].XRange
		c.yRange = pt[0].YRange
	}
	if z := opts.Options.Spaces.Zoom; len(z) > 0 {
		c.zoomSpace = z[0].URI
	}
	return nil
}

// ProfileToken returns the media profile in use.
func (c *Client) ProfileToken() string { return c.profileToken }

// Ranges returns the continuous pan and tilt velocity ranges.
func (c *Client) Ranges() (x, y Range) { return c.xRange, c.yRange }

type vector2D struct {
	X     float64 `xml:"x,attr"`
	Y     float64 `xml:"y,attr"`
	Space string  `xml:"space,attr,omitempty"`
}

type vector1D struct {
	X     float64 `xml:"x,attr"`
	Space string  `xml:"space,attr,omitempty"`
}

type continuousMove struct {
	XMLName      xml.Name `xml:"tptz:ContinuousMove"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	PanTilt      vector2D `xml:"tptz:Velocity>tt:PanTilt"`
	Zoom         vector1D `xml:"tptz:Velocity>tt:Zoom"`
}

type stopRequest struct {
	XMLName      xml.Name `xml:"tptz:Stop"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	PanTilt      bool     `xml:"tptz:PanTilt"`
	Zoom         bool     `xml:"tptz:Zoom"`
}

type gotoPreset struct {
	XMLName      xml.Name `xml:"tptz:GotoPreset"`
	ProfileToken string   `xml:"tptz:ProfileToken"`
	PresetToken  string   `xml:"tptz:PresetToken"`
}

type sendAuxiliaryCommand struct {
	XMLName       xml.Name `xml:"tptz:SendAuxiliaryCommand"`
	ProfileToken  string   `xml:"tptz:ProfileToken"`
	AuxiliaryData string   `xml:"tptz:AuxiliaryData"`
}

type imagingMove struct {
	XMLName          xml.Name `xml:"timg:Move"`
	VideoSourceToken string   `xml:"timg:VideoSourceToken"`
	Speed            float64  `xml:"timg:Focus>tt:Continuous>tt:Speed"`
}

type imagingStop struct {
	XMLName          xml.Name `xml:"timg:Stop"`
	VideoSourceToken string   `xml:"timg:VideoSourceToken"`
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.http.Timeout)
}

// Move starts a continuous move. Pan and tilt are scaled onto the camera's
// advertised velocity space.
func (c *Client) Move(v ptz.Vector) error {
	ctx, cancel := c.ctx()
	defer cancel()

	req := continuousMove{
		ProfileToken: c.profileToken,
		PanTilt: vector2D{
			X:     c.xRange.scale(v.Pan),
			Y:     c.yRange.scale(v.Tilt),
			Space: c.panTiltSpace,
		},
		Zoom: vector1D{X: v.Zoom, Space: c.zoomSpace},
	}
	return ptz.Wrap("move", c.call(ctx, c.ptzURL, req, nil))
}

// Stop stops pan, tilt and zoom.
func (c *Client) Stop() error {
	ctx, cancel := c.ctx()
	defer cancel()
	return ptz.Wrap("stop", c.stop(ctx))
}

func (c *Client) stop(ctx context.Context) error {
	return c.call(ctx, c.ptzURL, stopRequest{ProfileToken: c.profileToken, PanTilt: true, Zoom: true}, nil)
}

// SetFocus drives a continuous focus move; zero stops focusing.
func (c *Client) SetFocus(speed float64) error {
	if c.imagingURL == "" || c.sourceToken == "" {
		return fmt.Errorf("onvif focus: %w", ptz.ErrUnsupported)
	}
	ctx, cancel := c.ctx()
	defer cancel()

	var req any = imagingMove{VideoSourceToken: c.sourceToken, Speed: speed}
	if speed == 0 {
		req = imagingStop{VideoSourceToken: c.sourceToken}
	}
	return ptz.Wrap("focus", c.call(ctx, c.imagingURL, req, nil))
}

// GotoPreset moves to the preset whose token is the decimal preset number.
func (c *Client) GotoPreset(n int) error {
	if n < 0 {
		return fmt.Errorf("preset %d: %w", n, ptz.ErrInvalidPreset)
	}
	ctx, cancel := c.ctx()
	defer cancel()

	err := c.call(ctx, c.ptzURL, gotoPreset{ProfileToken: c.profileToken, PresetToken: strconv.Itoa(n)}, nil)
	var fault *Fault
	if errors.As(err, &fault) && isArgumentFault(fault) {
		return fmt.Errorf("preset %d: %w: %v", n, ptz.ErrInvalidPreset, fault)
	}
	return ptz.Wrap("preset", err)
}

func isArgumentFault(f *Fault) bool {
	sub := f.Code.Subcode.Value
	return strings.Contains(sub, "InvalidArgVal") || strings.Contains(sub, "NoToken")
}

// auxiliaryData maps command names to ONVIF auxiliary data strings.
var auxiliaryData = map[string]string{
	ptz.AuxWiper:  "tt:Wiper|On",
	ptz.AuxIROn:   "tt:IRLamp|On",
	ptz.AuxIROff:  "tt:IRLamp|Off",
	ptz.AuxIRAuto: "tt:IRLamp|Auto",
}

// AuxiliaryCommand sends a named auxiliary command. Raw ONVIF auxiliary
// strings ("tt:Wiper|On") are passed through.
func (c *Client) AuxiliaryCommand(name string) error {
	data, ok := auxiliaryData[name]
	if !ok {
		if !strings.HasPrefix(name, "tt:") {
			return fmt.Errorf("onvif aux %q: %w", name, ptz.ErrUnsupported)
		}
		data = name
	}
	ctx, cancel := c.ctx()
	defer cancel()
	return ptz.Wrap("aux", c.call(ctx, c.ptzURL, sendAuxiliaryCommand{ProfileToken: c.profileToken, AuxiliaryData: data}, nil))
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var _ ptz.Actuator = (*Client)(nil)
