package realtime

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleListener(t *testing.T) {
	d := NewDispatcher[int](nil)
	var results []int

	d.On(LocalEvent("event"), func(data int) {
		results = append(results, data)
	})

	require.NoError(t, d.Dispatch(LocalEvent("event"), 42))
	assert.Equal(t, []int{42}, results)
}

func TestListenersRunInRegistrationOrderThenWildcard(t *testing.T) {
	d := NewDispatcher[int](nil)
	var order []string

	d.On(AnyOf(NamespaceServer), func(int) { order = append(order, "wildcard-1") })
	d.On(ServerEvent("ping"), func(int) { order = append(order, "exact-1") })
	d.On(ServerEvent("ping"), func(int) { order = append(order, "exact-2") })
	d.On(AnyOf(NamespaceServer), func(int) { order = append(order, "wildcard-2") })
	d.On(ServerEvent("pong"), func(int) { order = append(order, "other") })
	d.On(AnyOf(NamespaceClient), func(int) { order = append(order, "other-namespace") })

	require.NoError(t, d.Dispatch(ServerEvent("ping"), 1))
	assert.Equal(t, []string{"exact-1", "exact-2", "wildcard-1", "wildcard-2"}, order)
}

func TestDispatchWildcardKeyRunsWildcardListenersOnce(t *testing.T) {
	d := NewDispatcher[int](nil)
	calls := 0
	d.On(AnyOf(NamespaceClient), func(int) { calls++ })

	require.NoError(t, d.Dispatch(AnyOf(NamespaceClient), 1))
	assert.Equal(t, 1, calls)
}

func TestNoListeners(t *testing.T) {
	d := NewDispatcher[int](nil)
	assert.NoError(t, d.Dispatch(LocalEvent("nonexistentEvent"), 100))
}

func TestMultipleEvents(t *testing.T) {
	d := NewDispatcher[int](nil)
	var event1Result, event2Result int

	d.On(LocalEvent("event1"), func(data int) { event1Result = data })
	d.On(LocalEvent("event2"), func(data int) { event2Result = data })

	require.NoError(t, d.Dispatch(LocalEvent("event1"), 5))
	require.NoError(t, d.Dispatch(LocalEvent("event2"), 15))

	assert.Equal(t, 5, event1Result)
	assert.Equal(t, 15, event2Result)
}

func TestOffRemovesExactlyOneListener(t *testing.T) {
	d := NewDispatcher[int](nil)
	var got []string

	first := d.On(ServerEvent("x"), func(int) { got = append(got, "first") })
	d.On(ServerEvent("x"), func(int) { got = append(got, "second") })

	d.Off(ServerEvent("x"), first)
	require.NoError(t, d.Dispatch(ServerEvent("x"), 0))

	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, d.ListenerCount(ServerEvent("x")))
}

func TestOffWithoutIDsRemovesOnlyThatKey(t *testing.T) {
	d := NewDispatcher[int](nil)
	var got []string

	d.On(ServerEvent("x"), func(int) { got = append(got, "x1") })
	d.On(ServerEvent("x"), func(int) { got = append(got, "x2") })
	d.On(ServerEvent("y"), func(int) { got = append(got, "y") })

	d.Off(ServerEvent("x"))
	require.NoError(t, d.Dispatch(ServerEvent("x"), 0))
	require.NoError(t, d.Dispatch(ServerEvent("y"), 0))

	assert.Equal(t, []string{"y"}, got)
	assert.Zero(t, d.ListenerCount(ServerEvent("x")))
}

func TestOffUnknownIsNoop(t *testing.T) {
	d := NewDispatcher[int](nil)
	id := d.On(ServerEvent("x"), func(int) {})

	assert.NotPanics(t, func() {
		d.Off(ServerEvent("missing"))
		d.Off(ServerEvent("missing"), id)
		d.Off(ServerEvent("x"), id+100)
	})
	assert.Equal(t, 1, d.ListenerCount(ServerEvent("x")))
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher[int](newWriterLogger(&buf))
	calls := 0

	d.On(ServerEvent("x"), func(int) { panic("boom") })
	d.On(ServerEvent("x"), func(int) { calls++ })
	d.On(AnyOf(NamespaceServer), func(int) { calls++ })

	err := d.Dispatch(ServerEvent("x"), 0)

	assert.True(t, errors.Is(err, ErrListenerPanic))
	assert.Equal(t, 2, calls)
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "component=dispatcher")
}

func TestListenerMayMutateDispatcherWhileDispatching(t *testing.T) {
	d := NewDispatcher[int](nil)
	var got []int

	var self ListenerID
	self = d.On(LocalEvent("x"), func(v int) {
		got = append(got, v)
		d.Off(LocalEvent("x"), self)
		d.On(LocalEvent("y"), func(v int) { got = append(got, v*10) })
		_ = d.Dispatch(LocalEvent("y"), v+1)
	})

	require.NoError(t, d.Dispatch(LocalEvent("x"), 1))
	require.NoError(t, d.Dispatch(LocalEvent("x"), 5))

	assert.Equal(t, []int{1, 20}, got)
}

func TestWaitForNextResolvesWithPayload(t *testing.T) {
	d := NewDispatcher[string](nil)
	before := d.ListenerCount(ServerEvent("x"))

	go func() {
		for d.ListenerCount(ServerEvent("x")) == before {
			time.Sleep(time.Millisecond)
		}
		_ = d.Dispatch(ServerEvent("x"), "first")
		_ = d.Dispatch(ServerEvent("x"), "second")
	}()

	v, err := d.WaitForNext(context.Background(), ServerEvent("x"), time.Second)

	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, before, d.ListenerCount(ServerEvent("x")))
}

func TestWaitForNextTimesOutWithoutResidualListener(t *testing.T) {
	d := NewDispatcher[string](nil)
	before := d.ListenerCount(ServerEvent("x"))

	_, err := d.WaitForNext(context.Background(), ServerEvent("x"), 20*time.Millisecond)

	assert.True(t, errors.Is(err, ErrWaitTimeout))
	assert.Equal(t, before, d.ListenerCount(ServerEvent("x")))
}

func TestWaitForNextHonoursContext(t *testing.T) {
	d := NewDispatcher[string](nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.WaitForNext(ctx, ServerEvent("x"), 0)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, d.ListenerCount(ServerEvent("x")))
}

func TestCloseRemovesAllListeners(t *testing.T) {
	d := NewDispatcher[int](nil)
	d.On(ServerEvent("x"), func(int) { t.Fatal("listener survived Close") })
	d.On(AnyOf(NamespaceServer), func(int) { t.Fatal("listener survived Close") })

	d.Close()

	assert.NoError(t, d.Dispatch(ServerEvent("x"), 0))
}

func TestConcurrent(t *testing.T) {
	d := NewDispatcher[int](nil)
	var mu sync.Mutex
	var results []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.On(LocalEvent("event"), func(data int) {
				mu.Lock()
				results = append(results, data+i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			_ = d.Dispatch(LocalEvent("event"), j)
		}(j)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, 100)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "server.response.done", ServerEvent("response.done").String())
	assert.Equal(t, "client.*", AnyOf(NamespaceClient).String())
	assert.Equal(t, "close", LocalEvent(EventClose).String())
	assert.Equal(t, AnyOf(NamespaceServer), ServerEvent("x").Wildcard())
}
