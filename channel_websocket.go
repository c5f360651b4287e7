package realtime

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const defaultWriteTimeout = time.Second

type (
	// WebsocketConfig tunes the channels built by NewWebsocketChannelFactory. The zero value is usable.
	WebsocketConfig struct {
		// Dialer defaults to websocket.DefaultDialer.
		Dialer *websocket.Dialer
		// WriteTimeout bounds every frame write. Defaults to one second.
		WriteTimeout time.Duration
		// PingInterval enables active keep-alive pings when positive.
		PingInterval time.Duration
	}

	// wsChannel is a Channel over a websocket connection. Every handler is invoked from its run goroutine.
	wsChannel struct {
		cfg      WebsocketConfig
		logger   Logger
		handlers ChannelHandlers

		mu     sync.Mutex
		conn   *websocket.Conn
		closed bool

		writeMu   sync.Mutex
		closeOnce sync.Once
		done      chan struct{}
	}
)

// NewWebsocketChannelFactory returns a ChannelFactory dialing websocket targets.
func NewWebsocketChannelFactory(logger Logger, cfg WebsocketConfig) ChannelFactory {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger = loggerOrNoop(logger).WithField("channel", "websocket")

	return func(ctx context.Context, target Target, handlers ChannelHandlers) (Channel, error) {
		w := &wsChannel{
			cfg:      cfg,
			logger:   logger,
			handlers: handlers,
			done:     make(chan struct{}),
		}
		go w.run(ctx, target)
		return w, nil
	}
}

// Send writes data as one text frame.
func (w *wsChannel) Send(data []byte) error {
	w.mu.Lock()
	conn, closed := w.conn, w.closed
	w.mu.Unlock()

	if closed {
		return ErrConnectionClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	w.logger.Debugf("=> [DATA] %s", data)
	return nil
}

// Close sends a normal closure frame and shuts the socket. Closing before the dial completes drops
// the socket as soon as it is established.
func (w *wsChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		conn := w.conn
		w.mu.Unlock()

		close(w.done)

		if conn == nil {
			return
		}

		w.logger.Infoln("closing connection from our side")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(w.cfg.WriteTimeout),
		)
		err = conn.Close()
	})
	return err
}

func (w *wsChannel) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closed
}

func (w *wsChannel) run(ctx context.Context, target Target) {
	conn, resp, err := w.cfg.Dialer.DialContext(ctx, target.URL.String(), target.Header)
	if err = w.handleDialError(resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", target, err)
		w.handlers.fireError(err)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		w.handlers.fireClose()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	w.logger.Debugf("success opening connection to %s", target)
	w.handlers.fireOpen()

	if w.cfg.PingInterval > 0 {
		go w.keepAlive(conn)
	}

	w.read(conn)
}

func (w *wsChannel) read(conn *websocket.Conn) {
	for {
		messageType, bts, err := conn.ReadMessage()
		if err != nil {
			w.handleReadError(conn, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			w.logger.Debugf("<= [DATA] %s", bts)
			w.handlers.fireMessage(bts)
		default:
			w.logger.Debugln("<= [BIN] ignored")
		}
	}
}

func (w *wsChannel) handleReadError(conn *websocket.Conn, err error) {
	defer func() {
		w.closeOnce.Do(func() {
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			close(w.done)
			_ = conn.Close()
		})
	}()

	if w.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.logger.Debugf("<= [CLOSE] %s", err)
		w.handlers.fireClose()
		return
	}

	w.logger.Errorf("error occurred on websocket read: %s", err)
	w.handlers.fireError(errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error()))
	w.handlers.fireClose()
}

func (w *wsChannel) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.logger.Debugln("=> [PING]")
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.logger.Warnf("cannot ping: %s", err)
			}
		}
	}
}

func (w *wsChannel) handleDialError(resp *http.Response, err error) error {
	if err == nil {
		return nil
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		var msg string
		if resp.Body != nil {
			if bts, readErr := io.ReadAll(resp.Body); readErr == nil {
				msg = string(bts)
			}
		}
		return errors.Wrap(ErrRateLimit, msg)
	}

	return errors.Wrap(ErrCannotConnect, err.Error())
}
