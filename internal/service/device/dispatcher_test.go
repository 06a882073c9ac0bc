package device

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
)

type command struct {
	ID    int
	State bool
}

// fakeTransport fails the first failures[id] commands for a device.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []command
	failures map[int]int
	onCall   func(calls int)
}

func (f *fakeTransport) Command(ctx context.Context, d Device, state bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, command{ID: d.ID, State: state})
	n := len(f.calls)
	fail := f.failures[d.ID] != 0
	if f.failures[d.ID] > 0 {
		f.failures[d.ID]--
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return fmt.Errorf("%w: connection refused", ErrDispatch)
	}
	return nil
}

func (f *fakeTransport) Calls() []command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command(nil), f.calls...)
}

func newTestDispatcher(t *testing.T, transport Transport, retries int) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := &config.Config{
		MaxRetries:         retries,
		DispatchTimeout:    time.Second,
		DispatchRetryDelay: 0,
	}
	return NewDispatcher(transport, cfg, logger.NewWriterLogger(&buf)), &buf
}

func TestSend_SucceedsFirstAttempt(t *testing.T) {
	transport := &fakeTransport{}
	dispatcher, _ := newTestDispatcher(t, transport, 3)

	ok := dispatcher.Send(context.Background(), Device{ID: 2, Address: "http://esp2"}, true)

	assert.True(t, ok)
	assert.Equal(t, []command{{ID: 2, State: true}}, transport.Calls())
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	transport := &fakeTransport{failures: map[int]int{1: 2}}
	dispatcher, _ := newTestDispatcher(t, transport, 3)

	ok := dispatcher.Send(context.Background(), Device{ID: 1}, false)

	assert.True(t, ok)
	assert.Len(t, transport.Calls(), 3)
}

func TestSend_FailsAfterExactlyMaxRetries(t *testing.T) {
	for _, retries := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			transport := &fakeTransport{failures: map[int]int{4: -1}}
			dispatcher, logs := newTestDispatcher(t, transport, retries)

			ok := dispatcher.Send(context.Background(), Device{ID: 4}, true)

			assert.False(t, ok)
			assert.Len(t, transport.Calls(), retries)
			assert.Equal(t, retries, strings.Count(logs.String(), "Failed to send command on to device 4"))
		})
	}
}

func TestSend_WaitsBetweenAttempts(t *testing.T) {
	transport := &fakeTransport{failures: map[int]int{1: -1}}
	dispatcher, _ := newTestDispatcher(t, transport, 3)
	dispatcher.retryDelay = 250 * time.Millisecond

	var waits []time.Duration
	dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	dispatcher.Send(context.Background(), Device{ID: 1}, true)

	// No wait after the final attempt.
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, waits)
}

func TestSend_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{failures: map[int]int{1: -1}, onCall: func(int) { cancel() }}
	dispatcher, _ := newTestDispatcher(t, transport, 5)

	ok := dispatcher.Send(ctx, Device{ID: 1}, true)

	assert.False(t, ok)
	assert.Len(t, transport.Calls(), 1)
}

func TestSend_AppliesAttemptTimeout(t *testing.T) {
	var deadlines []bool
	transport := transportFunc(func(ctx context.Context, d Device, state bool) error {
		_, has := ctx.Deadline()
		deadlines = append(deadlines, has)
		<-ctx.Done()
		return ctx.Err()
	})
	dispatcher, _ := newTestDispatcher(t, transport, 2)
	dispatcher.timeout = 10 * time.Millisecond

	ok := dispatcher.Send(context.Background(), Device{ID: 1}, true)

	assert.False(t, ok)
	assert.Equal(t, []bool{true, true}, deadlines)
}

func TestTurnAllOff_BestEffort(t *testing.T) {
	transport := &fakeTransport{failures: map[int]int{2: -1}}
	dispatcher, _ := newTestDispatcher(t, transport, 3)
	devices := NewRegistry(map[int]string{1: "http://a", 2: "http://b", 3: "http://c"}).All()

	failed := dispatcher.TurnAllOff(context.Background(), devices)

	assert.Equal(t, 1, failed)
	require.Len(t, transport.Calls(), 3, "one attempt per device, no retries")
	for i, call := range transport.Calls() {
		assert.Equal(t, i+1, call.ID)
		assert.False(t, call.State)
	}
}

type transportFunc func(ctx context.Context, d Device, state bool) error

func (f transportFunc) Command(ctx context.Context, d Device, state bool) error {
	return f(ctx, d, state)
}

