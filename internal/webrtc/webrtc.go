// Package webrtc wraps a pion peer connection that sends the camera's H.264
// stream to a browser.
package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// ErrNoTrack is returned when writing before a track was added.
var ErrNoTrack = errors.New("no video track")

// Session represents a WebRTC session with a client
type Session struct {
	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	onICE      func(candidate *webrtc.ICECandidate)
	logger     *slog.Logger
	mu         sync.Mutex
	closed     bool
}

// Config for WebRTC session
type Config struct {
	ICEServers []string // STUN/TURN server URLs
	// StaticIPs enables ICE-lite and advertises these host addresses
	// instead of gathering candidates.
	StaticIPs []string
	Logger    *slog.Logger
}

// DefaultConfig returns a default WebRTC configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

// NewSession creates a new WebRTC session
func NewSession(cfg Config, onICE func(*webrtc.ICECandidate)) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	config := webrtc.Configuration{}
	for _, url := range cfg.ICEServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	var se webrtc.SettingEngine
	if len(cfg.StaticIPs) > 0 {
		se.SetLite(true)
		se.SetNAT1To1IPs(cfg.StaticIPs, webrtc.ICECandidateTypeHost)
		config.ICEServers = nil
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &Session{
		pc:     pc,
		onICE:  onICE,
		logger: logger,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && session.onICE != nil {
			session.onICE(c)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		session.logger.Info("webrtc connection state", "state", s.String())
	})

	return session, nil
}

// AddH264Track adds an H264 video track to the session
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"joyptz-camera",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	if _, err := s.pc.AddTrack(videoTrack); err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}

	s.videoTrack = videoTrack
	return nil
}

// CreateOffer creates an SDP offer. It blocks until ICE gathering is done
// so the offer carries every candidate.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// WriteRTP writes a marshalled RTP packet to the video track
func (s *Session) WriteRTP(packet []byte) error {
	s.mu.Lock()
	track := s.videoTrack
	s.mu.Unlock()

	if track == nil {
		return ErrNoTrack
	}
	_, err := track.Write(packet)
	return err
}

// Forward writes packets to the track until the channel closes or a write
// fails.
func (s *Session) Forward(packets <-chan []byte) {
	for packet := range packets {
		if err := s.WriteRTP(packet); err != nil {
			s.logger.Debug("stopped forwarding video", "error", err)
			return
		}
	}
}

// Close closes the WebRTC session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.pc != nil {
		return s.pc.Close()
	}
	return nil
}
