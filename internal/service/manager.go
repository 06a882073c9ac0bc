package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gridwatch/internal/config"
	"gridwatch/internal/dto"
	"gridwatch/internal/logger"
	"gridwatch/internal/service/clock"
	"gridwatch/internal/service/camera"
	"gridwatch/internal/service/device"
	"gridwatch/internal/service/grid"
	"gridwatch/internal/service/reconcile"
	"gridwatch/internal/service/state"
	"gridwatch/internal/service/websocket"
)

// Connector opens the camera with bounded retries.
type Connector interface {
	Connect(ctx context.Context) (camera.Source, error)
}

// Analyzer turns a frame into an activity grid. Reset drops any frame it
// retained so the next call starts over.
type Analyzer interface {
	Analyze(frame camera.Frame) (grid.Activity, error)
	Reset()
}

// PresenceDetector reports whether a person is in the frame.
type PresenceDetector interface {
	DetectPresence(frame camera.Frame) (bool, []image.Rectangle, error)
}

// Display renders a processed frame. Show returns true when the operator
// asked to quit.
type Display interface {
	Show(frame camera.Frame, activity grid.Activity, presence bool, people []image.Rectangle) (bool, error)
	Close() error
}

// Sender delivers device commands.
type Sender interface {
	Send(ctx context.Context, d device.Device, state bool) bool
	TurnAllOff(ctx context.Context, devices []device.Device) int
}

// Components are the collaborators of a Manager. Presence, Display and Hub
// are optional.
type Components struct {
	Connector  Connector
	Analyzer   Analyzer
	Presence   PresenceDetector
	Display    Display
	Dispatcher Sender
	Devices    *device.Registry
	Store      *state.Store
	Hub        *websocket.HubService
}

// Manager runs the control loop: read a frame, analyze it, reconcile and
// dispatch device commands, publish the result.
type Manager struct {
	connector  Connector
	analyzer   Analyzer
	presence   PresenceDetector
	display    Display
	dispatcher Sender
	devices    *device.Registry
	store      *state.Store
	hub        *websocket.HubService
	reconciler *reconcile.Reconciler
	logger     *logger.Logger

	frameCounter    int
	processEveryNth int // Przetwarzaj co N-tą klatkę
	framePause      time.Duration
	recoveryPause   time.Duration
	retryFailed     bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(c Components, config *config.Config, logger *logger.Logger) *Manager {
	return &Manager{
		connector:       c.Connector,
		analyzer:        c.Analyzer,
		presence:        c.Presence,
		display:         c.Display,
		dispatcher:      c.Dispatcher,
		devices:         c.Devices,
		store:           c.Store,
		hub:             c.Hub,
		reconciler:      reconcile.NewReconciler(c.Store.Spec()),
		logger:          logger,
		processEveryNth: config.FrameInterval(),
		framePause:      config.FramePause(),
		recoveryPause:   config.RecoveryPause,
		retryFailed:     config.RetryFailedDispatch,
		sleep:           clock.Sleep,
	}
}

// Run drives the loop until ctx ends or the operator quits from the preview
// window. Only a failed initial connection is returned as an error; every
// later camera failure is recovered from. Devices are always turned off
// before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.setPhase(state.PhaseConnecting)

	source, err := m.connector.Connect(ctx)
	if err != nil {
		m.shutdown(nil)
		if errors.Is(err, camera.ErrConnection) {
			return fmt.Errorf("initial camera connection: %w", err)
		}
		return nil
	}

	m.logger.Info("🎬 Control loop started - processing every %d frame(s)", m.processEveryNth)
	m.setPhase(state.PhaseRunning)

	for ctx.Err() == nil {
		frame, ok := source.Read()
		if !ok {
			m.logger.Warning("⚠️  Failed to read frame from camera, reconnecting")
			source.Close()
			source, err = m.recover(ctx)
			if err != nil {
				break
			}
			continue
		}

		quit := m.handleFrame(ctx, frame)
		frame.Close()
		if quit {
			m.logger.Info("Quit requested from preview window")
			break
		}
	}

	m.shutdown(source)
	return nil
}

// handleFrame runs one tick for frame. It reports whether the operator
// asked to quit.
func (m *Manager) handleFrame(ctx context.Context, frame camera.Frame) bool {
	// 🎯 Przetwarzaj tylko co N-tą klatkę
	m.frameCounter++
	if m.frameCounter%m.processEveryNth != 0 {
		return false
	}
	m.frameCounter = 0

	activity, err := m.analyzer.Analyze(frame)
	if err != nil {
		m.logger.Error("Error analyzing frame: %v", err)
		return false
	}

	presence := false
	var people []image.Rectangle
	if activity.Defined() && m.presence != nil {
		presence, people, err = m.presence.DetectPresence(frame)
		if err != nil {
			m.logger.Error("Error detecting presence: %v", err)
			return false
		}
	}

	m.store.Publish(activity, presence)
	m.reconcileAndDispatch(ctx, activity, presence)
	m.broadcastStatus()

	quit := false
	if m.display != nil {
		quit, err = m.display.Show(frame, activity, presence, people)
		if err != nil {
			m.logger.Warning("Error rendering preview: %v", err)
		}
	}

	m.sleep(ctx, m.framePause)
	return quit
}

// reconcileAndDispatch sends every pending decision, one goroutine per
// device, and waits for all of them. Sends run on a context that is not
// cancelled with ctx so a stop request never interrupts a command.
func (m *Manager) reconcileAndDispatch(ctx context.Context, activity grid.Activity, presence bool) {
	overrides, lastKnown := m.store.Inputs()
	pending := m.reconciler.Reconcile(activity, presence, overrides, lastKnown).Pending()
	if len(pending) == 0 {
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for _, decision := range pending {
		d, ok := m.devices.Lookup(decision.DeviceID)
		if !ok {
			m.logger.Warning("No device configured for id %d", decision.DeviceID)
			continue
		}

		if decision.Pinned {
			m.logger.Info("Device %d -> %s (manual override)", d.ID, device.CommandName(decision.Desired))
		} else {
			m.logger.Info("Device %d -> %s", d.ID, device.CommandName(decision.Desired))
		}

		wg.Add(1)
		go func(d device.Device, desired bool) {
			defer wg.Done()
			ok := m.dispatcher.Send(sendCtx, d, desired)
			m.store.RecordDispatch(d.ID, desired, ok, ok || !m.retryFailed)
		}(d, decision.Desired)
	}
	wg.Wait()
}

// recover reconnects until it succeeds or ctx ends.
func (m *Manager) recover(ctx context.Context) (camera.Source, error) {
	m.setPhase(state.PhaseRecovering)
	m.analyzer.Reset()

	for {
		source, err := m.connector.Connect(ctx)
		if err == nil {
			m.logger.Info("Camera connection recovered")
			m.setPhase(state.PhaseRunning)
			return source, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.logger.Error("Camera recovery failed: %v; retrying in %v", err, m.recoveryPause)
		if err := m.sleep(ctx, m.recoveryPause); err != nil {
			return nil, err
		}
	}
}

// shutdown turns every device off and releases the source and the preview.
func (m *Manager) shutdown(source camera.Source) {
	m.logger.Info("🛑 Stopping control loop")

	m.dispatcher.TurnAllOff(context.Background(), m.devices.All())

	if source != nil {
		if err := source.Close(); err != nil {
			m.logger.Warning("Error closing camera: %v", err)
		}
	}
	if m.display != nil {
		if err := m.display.Close(); err != nil {
			m.logger.Warning("Error closing preview: %v", err)
		}
	}

	m.setPhase(state.PhaseStopped)
	m.logger.Info("🛑 Control loop stopped")
}

func (m *Manager) setPhase(p state.Phase) {
	m.store.SetPhase(p)
	m.broadcastStatus()
}

// Status returns the current status payload.
func (m *Manager) Status() dto.StatusResponse {
	return dto.NewStatusResponse(m.store.Snapshot(), m.store.Spec(), m.devices)
}

// StatusMessage returns Status encoded as JSON.
func (m *Manager) StatusMessage() ([]byte, error) {
	return json.Marshal(m.Status())
}

func (m *Manager) broadcastStatus() {
	if m.hub == nil {
		return
	}
	message, err := m.StatusMessage()
	if err != nil {
		m.logger.Error("Failed to encode status: %v", err)
		return
	}
	m.hub.Broadcast(message)
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.hub
}

func (m *Manager) GetStore() *state.Store {
	return m.store
}

func (m *Manager) GetDevices() *device.Registry {
	return m.devices
}
