package realtime

import (
	"context"
	"net/http"
	"net/url"
)

type (
	// Channel is one bidirectional text connection. Close must be idempotent.
	//
	// Channels are compared by identity, so implementations must be comparable (typically a pointer).
	Channel interface {
		Send(data []byte) error
		Close() error
	}

	// ChannelHandlers are the lifecycle callbacks a channel reports to. A channel must not invoke them
	// concurrently; OnOpen happens at most once, before any OnMessage.
	ChannelHandlers struct {
		OnOpen    func()
		OnMessage func(data []byte)
		OnError   func(err error)
		OnClose   func()
	}

	// ChannelFactory builds a channel towards target and starts opening it. The outcome of the opening
	// is reported through handlers, never through the returned error, which only covers failures to
	// even start.
	ChannelFactory func(ctx context.Context, target Target, handlers ChannelHandlers) (Channel, error)

	// Target describes where a channel connects to.
	Target struct {
		URL    url.URL
		Header http.Header
	}
)

// NewTarget parses rawURL into a Target.
func NewTarget(rawURL string, header http.Header) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, err
	}
	return Target{URL: *u, Header: header}, nil
}

func (t Target) String() string {
	u := t.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func (h ChannelHandlers) fireOpen() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h ChannelHandlers) fireMessage(data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(data)
	}
}

func (h ChannelHandlers) fireError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h ChannelHandlers) fireClose() {
	if h.OnClose != nil {
		h.OnClose()
	}
}
