package realtime

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockChannel struct {
	mock.Mock

	handlers ChannelHandlers
}

func newMockChannel(handlers ChannelHandlers, sendErr error) *mockChannel {
	m := &mockChannel{handlers: handlers}
	m.On("Send", mock.Anything).Return(sendErr).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *mockChannel) Send(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockChannel) sent() []string {
	var out []string
	for _, call := range m.Calls {
		if call.Method == "Send" {
			out = append(out, string(call.Arguments.Get(0).([]byte)))
		}
	}
	return out
}

// channelFactory builds mock channels. onCreate runs inside the factory with the handlers of the new
// channel; by default it reports the channel as opened.
type channelFactory struct {
	mu       sync.Mutex
	onCreate func(h ChannelHandlers)
	sendErr  error
	err      error
	channels []*mockChannel
}

func newChannelFactory() *channelFactory {
	return &channelFactory{onCreate: func(h ChannelHandlers) { h.OnOpen() }}
}

func (f *channelFactory) build(_ context.Context, _ Target, h ChannelHandlers) (Channel, error) {
	if f.err != nil {
		return nil, f.err
	}

	ch := newMockChannel(h, f.sendErr)
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()

	if f.onCreate != nil {
		f.onCreate(h)
	}
	return ch, nil
}

func (f *channelFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.channels)
}

func (f *channelFactory) last() *mockChannel {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.channels[len(f.channels)-1]
}
