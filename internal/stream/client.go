// Package stream pulls the camera's RTSP video and republishes its RTP
// packets to preview sessions.
package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

const maxReconnectDelay = 30 * time.Second

// Client handles RTSP connection and RTP streaming using gortsplib
type Client struct {
	url    string
	hub    *Hub
	logger *slog.Logger
	stopCh chan struct{}

	mu        sync.Mutex
	client    *gortsplib.Client
	connected bool
	stopped   bool
}

// NewClient creates a new RTSP client
func NewClient(rtspURL string, logger *slog.Logger) (*Client, error) {
	if _, err := base.ParseURL(rtspURL); err != nil {
		return nil, fmt.Errorf("invalid RTSP URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:    rtspURL,
		hub:    NewHub(),
		logger: logger.With("component", "rtsp"),
		stopCh: make(chan struct{}),
	}, nil
}

// Connect establishes the RTSP connection and starts streaming. Lost
// connections are re-established in the background.
func (c *Client) Connect() error {
	return c.connect()
}

// Connected reports whether the stream is currently playing.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe returns a channel of marshalled RTP packets.
func (c *Client) Subscribe(size int) (<-chan []byte, func()) {
	return c.hub.Subscribe(size)
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("client closed")
	}

	client := &gortsplib.Client{
		Transport: func() *gortsplib.Transport {
			t := gortsplib.TransportTCP
			return &t
		}(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			c.logger.Debug("decode error", "error", err)
		},
	}

	u, err := base.ParseURL(c.url)
	if err != nil {
		return err
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return err
	}

	videoMedia, videoFormat := findVideo(desc)
	if videoFormat == nil {
		client.Close()
		return fmt.Errorf("no video track in %s", c.url)
	}

	if _, err := client.Setup(desc.BaseURL, videoMedia, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		c.hub.Publish(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	c.client = client
	c.connected = true
	c.logger.Info("connected and playing", "format", videoFormat.Codec())

	go c.monitorConnection(client)

	return nil
}

// findVideo prefers H264/H265 and falls back to the first video media.
func findVideo(desc *description.Session) (*description.Media, format.Format) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264, *format.H265:
				return media, forma
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media, media.Formats[0]
		}
	}
	return nil, nil
}

// monitorConnection watches for disconnection and reconnects
func (c *Client) monitorConnection(client *gortsplib.Client) {
	err := client.Wait()

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case <-c.stopCh:
		return
	default:
	}

	c.logger.Warn("connection lost", "error", err)

	for attempt := 1; ; attempt++ {
		delay := backoff(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			continue
		}

		c.logger.Info("reconnected")
		return
	}
}

// backoff doubles from one second up to maxReconnectDelay.
func backoff(attempt int) time.Duration {
	if attempt > 6 {
		return maxReconnectDelay
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxReconnectDelay)
}

// Close closes the RTSP connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.connected = false
	client := c.client
	c.mu.Unlock()

	close(c.stopCh)

	if client != nil {
		client.Close()
	}
	c.hub.Close()
	return nil
}
