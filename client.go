package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// EventClose is the local notification dispatched once an open connection goes away. Its payload is
// Event{"error": bool}, true when the channel failed rather than closed.
const EventClose = "close"

// State of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type (
	// Option configures a Client.
	Option func(*Client)

	// Client owns at most one channel and bridges it to its embedded Dispatcher: outbound events are
	// published under NamespaceClient, inbound ones under NamespaceServer and the end of a connection as
	// LocalEvent(EventClose).
	Client struct {
		*Dispatcher[Event]

		factory ChannelFactory
		newID   IDGenerator
		logger  Logger

		mu      sync.Mutex
		state   State
		current *attempt
	}

	// attempt is the identity of one connection: callbacks carrying a superseded attempt are dropped.
	attempt struct {
		target Target

		// guarded by Client.mu
		channel Channel
		opened  bool

		openC chan struct{}
		failC chan error
	}
)

func WithLogger(l Logger) Option {
	return func(c *Client) {
		c.logger = loggerOrNoop(l)
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.newID = g
		}
	}
}

// NewClient creates a disconnected client building its channels with factory.
func NewClient(factory ChannelFactory, opts ...Option) *Client {
	c := &Client{
		factory: factory,
		newID:   GenerateID,
		logger:  noopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Dispatcher = NewDispatcher[Event](c.logger)
	c.logger = c.logger.WithField("component", "client")
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// IsConnected reports whether the owned channel has opened.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect builds a channel towards target and blocks until it opens, fails or ctx is done. It fails
// with ErrAlreadyConnected, without creating a channel, while another channel is owned.
func (c *Client) Connect(ctx context.Context, target Target) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return errors.Wrapf(ErrAlreadyConnected, "connect to %s", target)
	}
	a := &attempt{
		target: target,
		openC:  make(chan struct{}),
		failC:  make(chan error, 1),
	}
	c.current = a
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Infof("connecting to %s", target)

	ch, err := c.factory(ctx, target, c.handlersFor(a))
	if err != nil {
		c.release(a)
		c.logger.Errorf("cannot create channel to %s: %s", target, err)
		return errors.Wrapf(ErrConnectFailed, "%s: %s", target, err)
	}

	c.mu.Lock()
	a.channel = ch
	owned := c.current == a
	c.mu.Unlock()

	if !owned {
		// released while the factory was running, nobody else knows about ch
		_ = ch.Close()
	}

	select {
	case <-a.openC:
		return nil
	case err := <-a.failC:
		return errors.Wrapf(ErrConnectFailed, "%s: %s", target, err)
	case <-ctx.Done():
		c.release(a)
		return errors.Wrapf(ctx.Err(), "connect to %s", target)
	}
}

// Disconnect closes and releases the owned channel. When ch is given it must be the owned channel,
// otherwise nothing happens and false is returned.
func (c *Client) Disconnect(ch ...Channel) bool {
	c.mu.Lock()
	a := c.current
	if len(ch) > 0 && (a == nil || a.channel == nil || a.channel != ch[0]) {
		c.mu.Unlock()
		c.logger.Debugln("ignoring disconnect of a stale channel")
		return false
	}
	c.mu.Unlock()

	if a == nil {
		return true
	}

	if owned, wasOpen := c.release(a); owned {
		c.logger.Infof("disconnected from %s", a.target)
		if !wasOpen {
			a.fail(errors.Wrap(ErrConnectionClosed, "disconnected before open"))
		}
	}
	return true
}

// Close disconnects and removes every listener.
func (c *Client) Close() {
	c.Disconnect()
	c.Dispatcher.Close()
}

// Receive publishes an inbound event as ServerEvent(name) and AnyOf(NamespaceServer).
func (c *Client) Receive(name string, e Event) error {
	c.logger.WithField("direction", "received").Debugf("%s %s", name, e.ID())

	if err := c.Dispatch(ServerEvent(name), e); err != nil {
		c.logger.Warnf("dispatching received %s: %s", name, err)
		return err
	}
	return nil
}

// Send wraps data into an envelope of type name, publishes it as ClientEvent(name) and
// AnyOf(NamespaceClient), then writes it to the channel. Listeners observe the event even when the
// write fails.
func (c *Client) Send(name string, data any) (Event, error) {
	c.mu.Lock()
	var ch Channel
	if c.state == StateConnected && c.current != nil {
		ch = c.current.channel
	}
	c.mu.Unlock()

	if ch == nil {
		return nil, errors.Wrapf(ErrNotConnected, "send %s", name)
	}

	fields, err := toFields(data)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s", name)
	}

	env := Envelope{EventID: c.newID(EventIDPrefix), Type: name, Fields: fields}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "send %s: %s", name, err)
	}

	e := env.Event()
	c.logger.WithField("direction", "sent").Debugf("%s %s", name, env.EventID)

	if err := c.Dispatch(ClientEvent(name), e); err != nil {
		c.logger.Warnf("dispatching sent %s: %s", name, err)
	}

	if err := ch.Send(raw); err != nil {
		c.logger.Errorf("cannot write %s: %s", name, err)
		return e, errors.Wrapf(err, "write %s", name)
	}
	return e, nil
}

func (c *Client) handlersFor(a *attempt) ChannelHandlers {
	return ChannelHandlers{
		OnOpen:    func() { c.handleOpen(a) },
		OnMessage: func(data []byte) { c.handleMessage(a, data) },
		OnError:   func(err error) { c.handleError(a, err) },
		OnClose:   func() { c.handleClose(a) },
	}
}

func (c *Client) handleOpen(a *attempt) {
	c.mu.Lock()
	if c.current != a || a.opened {
		c.mu.Unlock()
		return
	}
	a.opened = true
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Infof("connected to %s", a.target)
	close(a.openC)
}

func (c *Client) handleMessage(a *attempt, data []byte) {
	if !c.owns(a) {
		return
	}

	e, err := DecodeEvent(data)
	if err != nil {
		c.logger.Errorf("dropping inbound frame: %s", err)
		return
	}

	_ = c.Receive(e.Type(), e)
}

// handleError reports a failure before open to the pending Connect and a failure after open as a
// close notification.
func (c *Client) handleError(a *attempt, err error) {
	owned, wasOpen := c.release(a)
	switch {
	case !owned:
		c.logger.Debugf("ignoring error of a superseded channel: %s", err)
	case !wasOpen:
		c.logger.Errorf("connecting to %s: %s", a.target, err)
		a.fail(err)
	default:
		c.logger.Errorf("connection to %s failed: %s", a.target, err)
		c.dispatchClose(true)
	}
}

func (c *Client) handleClose(a *attempt) {
	owned, wasOpen := c.release(a)
	switch {
	case !owned:
	case !wasOpen:
		c.logger.Errorf("connection to %s closed before opening", a.target)
		a.fail(errors.Wrap(ErrConnectionClosed, "closed before open"))
	default:
		c.logger.Infof("connection to %s closed", a.target)
		c.dispatchClose(false)
	}
}

func (c *Client) dispatchClose(failed bool) {
	if err := c.Dispatch(LocalEvent(EventClose), Event{"error": failed}); err != nil {
		c.logger.Warnf("dispatching %s: %s", EventClose, err)
	}
}

func (c *Client) owns(a *attempt) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current == a
}

// release drops a if it is still the owned attempt and closes its channel.
func (c *Client) release(a *attempt) (owned, wasOpen bool) {
	c.mu.Lock()
	if c.current != a {
		c.mu.Unlock()
		return false, false
	}
	c.current = nil
	c.state = StateDisconnected
	ch, wasOpen := a.channel, a.opened
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Warnf("closing channel to %s: %s", a.target, err)
		}
	}
	return true, wasOpen
}

func (a *attempt) fail(err error) {
	select {
	case a.failC <- err:
	default:
	}
}
