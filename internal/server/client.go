package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/realtime"
)

// Client is the realtime.Transport for one WebSocket connection. Data frames
// are written only by the write pump; pings and the close frame go through
// WriteControl, which gorilla allows concurrently with other writes.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	hub    *realtime.Hub
	router *realtime.Router

	id             realtime.ConnectionID
	addr           string
	maxMessageSize int64
	writeTimeout   time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	// logger is fixed before the hub can reach the client; log adds the
	// connection id and is only used by the pumps.
	logger zerolog.Logger
	log    zerolog.Logger
}

// NewClient creates a Client for conn. The send queue is buffered to
// SendBufferSize frames.
func NewClient(conn *websocket.Conn, hub *realtime.Hub, router *realtime.Router, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	logger = logger.With().Str("remote_addr", addr).Logger()
	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		hub:            hub,
		router:         router,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   cfg.WriteTimeout,
		rateLimiter:    newRateLimiter(cfg.RateLimit, nil),
		rateLimit:      cfg.RateLimit,
		logger:         logger,
		log:            logger,
	}
}

// Run registers the client with the hub and starts its pumps.
func (c *Client) Run() realtime.ConnectionID {
	c.id = c.hub.Connect(c)
	c.log = c.logger.With().Str("connection_id", string(c.id)).Logger()

	go c.writePump()
	go c.readPump()
	return c.id
}

// ID returns the identity assigned by the hub.
func (c *Client) ID() realtime.ConnectionID { return c.id }

// Send queues frame for the write pump. It fails with ErrSlowConsumer when
// the queue stays full for the write timeout.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return realtime.ErrTransportClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return realtime.ErrTransportClosed
	case <-timer.C:
		return realtime.ErrSlowConsumer
	}
}

// Ping writes a ping control frame.
func (c *Client) Ping() error {
	select {
	case <-c.done:
		return realtime.ErrTransportClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame and closes the socket. Only the first call has
// any effect.
func (c *Client) Close() error {
	err := realtime.ErrTransportClosed
	c.once.Do(func() {
		close(c.done)
		err = nil
		if c.conn == nil {
			return
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); werr != nil && !isExpectedCloseError(werr) {
			c.logger.Debug().Err(werr).Msg("error writing close frame")
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// handleReadError logs the read failure at a level matching its cause and
// returns the error to report as the disconnect cause.
func (c *Client) handleReadError(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug().Err(err).Msg("client disconnected")
		return nil
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
		return nil
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
	return err
}

// checkRateLimit reports whether the next inbound message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded, discarding message")
		return false
	}
	return true
}

func (c *Client) readPump() {
	var cause error
	defer func() {
		c.hub.Disconnect(c.id, cause)
	}()

	c.conn.SetPongHandler(func(string) error {
		c.hub.Touch(c.id)
		return nil
	})

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			cause = c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.hub.Touch(c.id)
			continue
		}

		c.router.Handle(c.id, rawMessage)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.writeTextMessage(message); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("websocket write failed")
				}
				c.hub.Disconnect(c.id, err)
				return
			}
		}
	}
}

// writeTextMessage writes one frame and then any frames already queued, each
// as its own message.
func (c *Client) writeTextMessage(message []byte) error {
	if err := c.writeFrame(message); err != nil {
		return err
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeQueuedMessages() error {
	n := len(c.send)
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
			return nil
		case message := <-c.send:
			if err := c.writeFrame(message); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) writeFrame(message []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}
