package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwatch/internal/config"
	"gridwatch/internal/logger"
	"gridwatch/internal/service/camera"
	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
	"gridwatch/internal/service/state"
)

type fakeFrame struct {
	closed bool
}

func (f *fakeFrame) Close() error {
	f.closed = true
	return nil
}

type fakeSource struct {
	frames []*fakeFrame
	next   int
	closed bool
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{}
	for i := 0; i < n; i++ {
		s.frames = append(s.frames, &fakeFrame{})
	}
	return s
}

func (s *fakeSource) Read() (camera.Frame, bool) {
	if s.closed || s.next >= len(s.frames) {
		return nil, false
	}
	f := s.frames[s.next]
	s.next++
	return f, true
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// fakeConnector hands out scripted results in order. Once the script is
// exhausted it cancels the run and reports the cancellation.
type fakeConnector struct {
	results []interface{} // camera.Source or error
	calls   int
	cancel  context.CancelFunc
}

func (c *fakeConnector) Connect(ctx context.Context) (camera.Source, error) {
	c.calls++
	if len(c.results) == 0 {
		c.cancel()
		return nil, ctx.Err()
	}
	next := c.results[0]
	c.results = c.results[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(camera.Source), nil
}

type fakeAnalyzer struct {
	script []grid.Activity
	calls  int
	resets int
	before func(call int)
}

func (a *fakeAnalyzer) Analyze(frame camera.Frame) (grid.Activity, error) {
	a.calls++
	if a.before != nil {
		a.before(a.calls)
	}
	if a.calls > len(a.script) {
		return a.script[len(a.script)-1], nil
	}
	return a.script[a.calls-1], nil
}

func (a *fakeAnalyzer) Reset() {
	a.resets++
}

type fakePresence struct {
	present bool
	calls   int
}

func (p *fakePresence) DetectPresence(frame camera.Frame) (bool, []image.Rectangle, error) {
	p.calls++
	return p.present, nil, nil
}

type fakeDisplay struct {
	quitAfter int
	shown     int
	closed    bool
}

func (d *fakeDisplay) Show(frame camera.Frame, activity grid.Activity, presence bool, people []image.Rectangle) (bool, error) {
	d.shown++
	return d.quitAfter > 0 && d.shown >= d.quitAfter, nil
}

func (d *fakeDisplay) Close() error {
	d.closed = true
	return nil
}

type sent struct {
	Tick  int
	ID    int
	State bool
}

type fakeSender struct {
	mu       sync.Mutex
	tick     func() int
	failing  map[int]bool
	sent     []sent
	offCalls int
}

func (s *fakeSender) Send(ctx context.Context, d device.Device, state bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{Tick: s.tick(), ID: d.ID, State: state})
	return !s.failing[d.ID]
}

func (s *fakeSender) TurnAllOff(ctx context.Context, devices []device.Device) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offCalls++
	return 0
}

func (s *fakeSender) Sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]sent(nil), s.sent...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tick != out[j].Tick {
			return out[i].Tick < out[j].Tick
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type harness struct {
	manager   *Manager
	connector *fakeConnector
	analyzer  *fakeAnalyzer
	sender    *fakeSender
	store     *state.Store
	sleeps    []time.Duration
	ctx       context.Context
}

func newHarness(t *testing.T, cfg *config.Config, analyzer *fakeAnalyzer, results ...interface{}) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	spec := grid.Spec{Rows: 2, Cols: 2}
	store := state.NewStore(spec)
	h := &harness{
		connector: &fakeConnector{results: results, cancel: cancel},
		analyzer:  analyzer,
		store:     store,
		ctx:       ctx,
	}
	h.sender = &fakeSender{tick: func() int { return analyzer.calls }, failing: map[int]bool{}}

	devices := device.NewRegistry(map[int]string{1: "http://d1", 2: "http://d2", 3: "http://d3", 4: "http://d4"})
	h.manager = NewManager(Components{
		Connector:  h.connector,
		Analyzer:   analyzer,
		Dispatcher: h.sender,
		Devices:    devices,
		Store:      store,
	}, cfg, logger.NewWriterLogger(&bytes.Buffer{}))
	h.manager.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func testConfig() *config.Config {
	return &config.Config{
		SourceFPS:          30,
		FPSLimit:           10,
		ProcessingInterval: 1,
		RecoveryPause:      2 * time.Second,
	}
}

func quiet() grid.Activity {
	return grid.Activity{false, false, false, false}
}

func TestManager_InitialConnectionFailureIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAnalyzer{}, camera.ErrConnection)

	err := h.manager.Run(h.ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, camera.ErrConnection))
	assert.Equal(t, 1, h.sender.offCalls, "devices are turned off even when startup fails")
	assert.Equal(t, state.PhaseStopped, h.store.Phase())
}

func TestManager_OverrideAndClearEndToEnd(t *testing.T) {
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil, quiet(), quiet(), quiet()}}
	source := newFakeSource(4)
	h := newHarness(t, testConfig(), analyzer, source)

	require.NoError(t, h.store.SetOverride(3, true))
	analyzer.before = func(call int) {
		if call == 3 {
			_, err := h.store.ClearOverride(3)
			require.NoError(t, err)
		}
	}

	require.NoError(t, h.manager.Run(h.ctx))

	want := []sent{
		{Tick: 1, ID: 3, State: true}, // pinned before the first grid is defined
		{Tick: 2, ID: 1, State: false},
		{Tick: 2, ID: 2, State: false},
		{Tick: 2, ID: 4, State: false},
		{Tick: 3, ID: 3, State: false}, // override cleared, cell inactive
	}
	if diff := cmp.Diff(want, h.sender.Sent()); diff != "" {
		t.Errorf("dispatched commands mismatch (-want +got):\n%s", diff)
	}

	for i, f := range source.frames {
		assert.True(t, f.closed, "frame %d closed", i)
	}
	assert.True(t, source.closed)
	assert.Equal(t, 1, h.sender.offCalls)
	assert.Equal(t, state.PhaseStopped, h.store.Phase())
}

func TestManager_ProcessesEveryNthFrame(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingInterval = 3
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil}}
	h := newHarness(t, cfg, analyzer, newFakeSource(7))

	require.NoError(t, h.manager.Run(h.ctx))

	assert.Equal(t, 2, analyzer.calls)
	pauses := 0
	for _, d := range h.sleeps {
		if d == 100*time.Millisecond {
			pauses++
		}
	}
	assert.Equal(t, 2, pauses, "one pause per processed frame")
}

func TestManager_PresenceTurnsOnUnpinnedDevices(t *testing.T) {
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil, quiet()}}
	h := newHarness(t, testConfig(), analyzer, newFakeSource(2))
	presence := &fakePresence{present: true}
	h.manager.presence = presence
	require.NoError(t, h.store.SetOverride(2, false))

	require.NoError(t, h.manager.Run(h.ctx))

	assert.Equal(t, 1, presence.calls, "presence only runs once a grid is defined")
	want := []sent{
		{Tick: 1, ID: 2, State: false},
		{Tick: 2, ID: 1, State: true},
		{Tick: 2, ID: 3, State: true},
		{Tick: 2, ID: 4, State: true},
	}
	if diff := cmp.Diff(want, h.sender.Sent()); diff != "" {
		t.Errorf("dispatched commands mismatch (-want +got):\n%s", diff)
	}

	snap := h.store.Snapshot()
	assert.True(t, snap.Presence)
}

func TestManager_FailedDispatchPolicy(t *testing.T) {
	tests := []struct {
		name        string
		retryFailed bool
		wantSends   int
	}{
		{"record attempt by default", false, 1},
		{"retry failed dispatch", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RetryFailedDispatch = tt.retryFailed
			active := grid.Activity{true, false, false, false}
			analyzer := &fakeAnalyzer{script: []grid.Activity{active, active, active}}
			h := newHarness(t, cfg, analyzer, newFakeSource(3))
			h.sender.failing[1] = true

			require.NoError(t, h.manager.Run(h.ctx))

			sends := 0
			for _, s := range h.sender.Sent() {
				if s.ID == 1 {
					sends++
				}
			}
			assert.Equal(t, tt.wantSends, sends)

			snap := h.store.Snapshot()
			require.NotNil(t, snap.Devices[0].Last)
			assert.False(t, snap.Devices[0].Last.OK)
		})
	}
}

func TestManager_RecoversAfterReadFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil}}
	first, second := newFakeSource(1), newFakeSource(1)
	h := newHarness(t, testConfig(), analyzer, first, camera.ErrConnection, second)

	require.NoError(t, h.manager.Run(h.ctx))

	assert.Equal(t, 2, analyzer.calls)
	assert.Equal(t, 2, analyzer.resets, "reference frame dropped on every reconnect")
	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.Contains(t, h.sleeps, 2*time.Second, "pause before retrying an exhausted reconnect")
	assert.Equal(t, 4, h.connector.calls)
	assert.Equal(t, state.PhaseStopped, h.store.Phase())
}

func TestManager_ReconnectKeepsLastComputedGrid(t *testing.T) {
	active := grid.Activity{false, true, false, false}
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil, active, nil}}
	h := newHarness(t, testConfig(), analyzer, newFakeSource(2), newFakeSource(1))

	require.NoError(t, h.manager.Run(h.ctx))

	assert.Equal(t, 3, analyzer.calls)
	snap := h.store.Snapshot()
	assert.Equal(t, active, snap.Activity, "reference frame after reconnect keeps the published grid")

	status := h.manager.Status()
	assert.Equal(t, map[string]bool{"0": false, "1": true, "2": false, "3": false}, status.GridActivity)
}

func TestManager_PreviewQuit(t *testing.T) {
	analyzer := &fakeAnalyzer{script: []grid.Activity{nil}}
	source := newFakeSource(5)
	h := newHarness(t, testConfig(), analyzer, source)
	display := &fakeDisplay{quitAfter: 2}
	h.manager.display = display

	require.NoError(t, h.manager.Run(h.ctx))

	assert.Equal(t, 2, analyzer.calls)
	assert.True(t, display.closed)
	assert.True(t, source.closed)
	assert.Equal(t, 1, h.sender.offCalls)
}

func TestManager_Status(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeAnalyzer{})
	h.store.Publish(grid.Activity{true, false, false, true}, false)
	require.NoError(t, h.store.SetOverride(2, true))

	status := h.manager.Status()
	assert.Equal(t, map[string]bool{"0": true, "1": false, "2": false, "3": true}, status.GridActivity)
	assert.Equal(t, map[string]bool{"2": true}, status.ManualOverrides)
	require.Len(t, status.Devices, 4)
	assert.Equal(t, "http://d1", status.Devices[0].Address)

	message, err := h.manager.StatusMessage()
	require.NoError(t, err)
	assert.Contains(t, string(message), `"phase":"connecting"`)
}
