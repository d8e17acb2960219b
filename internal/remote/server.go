// Package remote serves the browser control page: a WebSocket carrying PTZ
// commands and a WebRTC preview of the camera stream.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"

	"joyptz/internal/input"
	"joyptz/internal/protocol"
	"joyptz/internal/ptz"
	"joyptz/internal/webrtc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	rtpBuffer      = 500
)

// Stream is the video source shared by preview sessions.
type Stream interface {
	Subscribe(size int) (<-chan []byte, func())
	Connected() bool
}

// Config for the server
type Config struct {
	ListenAddr      string
	Camera          string
	ControlProtocol string
	WebRTC          webrtc.Config
}

// Server is the browser remote. It implements input.Source: commands from
// every connected browser are merged into one event stream.
type Server struct {
	cfg      Config
	stream   Stream
	staticFS fs.FS
	logger   *slog.Logger
	upgrader websocket.Upgrader

	events chan input.Event
	done   chan struct{}
	once   sync.Once

	clientsMu sync.RWMutex
	clients   map[*Client]bool

	httpSrv *http.Server
}

// Client represents a connected WebSocket client
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	webrtc *webrtc.Session
	send   chan []byte
	logger *slog.Logger
	unsub  func()
	mu     sync.Mutex
	closed bool
	moving bool
}

// New creates a server. stream may be nil to disable the preview.
func New(cfg Config, staticFS fs.FS, stream Stream, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WebRTC.Logger == nil {
		cfg.WebRTC.Logger = logger
	}
	return &Server{
		cfg:      cfg,
		stream:   stream,
		staticFS: staticFS,
		logger:   logger,
		events:   make(chan input.Event, 64),
		done:     make(chan struct{}),
		clients:  make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local network use
			},
		},
	}
}

// Handler returns the HTTP routes: /ws and the static control page.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.staticFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	}
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("remote server starting", "listen", s.cfg.ListenAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Events returns the merged command stream. It stays open until Close.
func (s *Server) Events() <-chan input.Event {
	return s.events
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.clientsMu.Lock()
		for client := range s.clients {
			client.Close()
		}
		s.clientsMu.Unlock()
	})
	return nil
}

// ClientCount returns the number of connected browsers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) emit(evs ...input.Event) {
	for _, ev := range evs {
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:     id,
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
		logger: s.logger.With("client", id),
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	client.logger.Info("browser connected", "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()

	client.sendStatus()

	if s.stream != nil {
		if err := client.initWebRTC(); err != nil {
			client.logger.Error("failed to initialize WebRTC", "error", err)
			client.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrStreamUnavailable,
				Message: err.Error(),
			})
		}
	}
}

func (c *Client) initWebRTC() error {
	session, err := webrtc.NewSession(c.server.cfg.WebRTC, func(candidate *pwebrtc.ICECandidate) {
		cand := candidate.ToJSON()
		payload := protocol.ICECandidatePayload{Candidate: cand.Candidate}
		if cand.SDPMid != nil {
			payload.SDPMid = *cand.SDPMid
		}
		if cand.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *cand.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return nil
	}
	c.webrtc = session
	c.mu.Unlock()

	if err := session.AddH264Track(); err != nil {
		return err
	}

	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	packets, unsub := c.server.stream.Subscribe(rtpBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.mu.Unlock()
	go session.Forward(packets)

	return nil
}

func (c *Client) sendStatus() {
	status := protocol.StatusPayload{
		Camera:          c.server.cfg.Camera,
		ControlProtocol: c.server.cfg.ControlProtocol,
	}
	if c.server.stream != nil {
		status.StreamConnected = c.server.stream.Connected()
		status.VideoProtocol = "rtsp"
	}
	c.sendMessage(protocol.TypeStatus, status)
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.logger.Error("failed to create message", "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message", "type", msgType)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		// A browser that disappears mid-move must not leave the camera running.
		if c.moving {
			c.server.emit(input.IntentEvent(ptz.Zero))
		}
		c.Close()
		c.logger.Info("browser disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) invalid(message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrInvalidMessage,
		Message: message,
	})
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.invalid("Failed to parse message")
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid(err.Error())
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid(err.Error())
			return
		}
		if session := c.session(); session != nil {
			if err := session.SetAnswer(payload.SDP); err != nil {
				c.logger.Warn("failed to set answer", "error", err)
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid(err.Error())
			return
		}
		if session := c.session(); session != nil {
			if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				c.logger.Warn("failed to add ICE candidate", "error", err)
			}
		}

	case protocol.TypePTZCommand:
		var payload protocol.PTZCommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid(err.Error())
			return
		}
		v := ptz.Vector{Pan: payload.Pan, Tilt: payload.Tilt, Zoom: payload.Zoom}
		c.moving = !v.IsZero()
		evs := []input.Event{input.IntentEvent(v)}
		if payload.Focus != nil {
			evs = append(evs, input.FocusEvent(*payload.Focus))
		}
		c.server.emit(evs...)

	case protocol.TypePTZStop:
		c.moving = false
		c.server.emit(input.IntentEvent(ptz.Zero), input.FocusEvent(0))

	case protocol.TypePTZPreset:
		var payload protocol.PTZPresetPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.invalid(err.Error())
			return
		}
		if payload.Action != "" && payload.Action != protocol.PresetRecall {
			c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrUnsupported,
				Message: "preset action " + payload.Action + " is not supported",
			})
			return
		}
		c.server.emit(input.CommandEvent(input.Command{Kind: input.CommandPreset, Preset: payload.PresetNumber}))

	case protocol.TypePTZLock:
		c.server.emit(input.CommandEvent(input.Command{Kind: input.CommandToggleLock}))

	case protocol.TypePTZAux:
		var payload protocol.PTZAuxPayload
		if err := msg.ParsePayload(&payload); err != nil || payload.Command == "" {
			c.invalid("aux command required")
			return
		}
		c.server.emit(input.CommandEvent(input.Command{Kind: input.CommandAux, Aux: payload.Command}))

	case protocol.TypePTZSpeed:
		var payload protocol.PTZSpeedPayload
		if err := msg.ParsePayload(&payload); err != nil || payload.Speed <= 0 || payload.Speed > 1 {
			c.invalid("speed must be in (0, 1]")
			return
		}
		c.server.emit(input.CommandEvent(input.Command{Kind: input.CommandSpeed, Speed: payload.Speed}))

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.invalid("unknown message type " + msg.Type)
	}
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.unsub != nil {
		c.unsub()
	}
	if c.webrtc != nil {
		c.webrtc.Close()
		c.webrtc = nil
	}

	close(c.send)
}
