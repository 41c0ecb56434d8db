package nfc

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Polling intervals
const (
	DefaultPollingInterval = 100 * time.Millisecond
	DefaultQueueSize       = 8
)

// ResultHandler receives every exchange outcome, on the consumer goroutine.
type ResultHandler func(Outcome)

// ReaderOption configures an NFCReader.
type ReaderOption func(*NFCReader)

// WithReaderLogger sets the logger for the reader and its session.
func WithReaderLogger(logger *zap.Logger) ReaderOption {
	return func(r *NFCReader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the real clock, for tests.
func WithClock(clock Clock) ReaderOption {
	return func(r *NFCReader) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithPollInterval sets how often the device is asked for tags.
func WithPollInterval(d time.Duration) ReaderOption {
	return func(r *NFCReader) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithRemovalTimeout sets how long a tag must be absent before it can trigger again.
func WithRemovalTimeout(d time.Duration) ReaderOption {
	return func(r *NFCReader) {
		r.removalTimeout = d
	}
}

// WithQueueSize bounds the detection event queue.
func WithQueueSize(n int) ReaderOption {
	return func(r *NFCReader) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithSessionOptions passes options to the reader's Session.
func WithSessionOptions(opts ...SessionOption) ReaderOption {
	return func(r *NFCReader) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

// NFCReader polls a device for presented tags and runs one block read exchange per
// presentation. Detection events are queued and handled by a single consumer, so no two
// exchanges are ever in flight.
type NFCReader struct {
	deviceManager *DeviceManager
	manager       Manager
	session       *Session
	presence      *PresenceTracker
	clock         Clock
	logger        *zap.Logger

	pollInterval   time.Duration
	removalTimeout time.Duration
	queueSize      int
	sessionOpts    []SessionOption

	queue      chan DetectionEvent
	results    chan Outcome
	statusChan chan DeviceStatus
	stopChan   chan struct{}
	stopOnce   sync.Once
	startOnce  sync.Once
	workerWg   sync.WaitGroup

	handlersMu sync.RWMutex
	handlers   []ResultHandler

	statusMux   sync.RWMutex
	cardPresent bool
}

// NewNFCReader creates a reader for deviceStr. An empty deviceStr uses the first device
// the manager lists. A nil manager gives a reader that only handles submitted events.
func NewNFCReader(deviceStr string, manager Manager, opts ...ReaderOption) *NFCReader {
	r := &NFCReader{
		manager:      manager,
		clock:        NewRealClock(),
		logger:       zap.NewNop(),
		pollInterval: DefaultPollingInterval,
		queueSize:    DefaultQueueSize,
		statusChan:   make(chan DeviceStatus, 1),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.queue = make(chan DetectionEvent, r.queueSize)
	r.results = make(chan Outcome, r.queueSize)
	r.presence = NewPresenceTracker(r.clock, r.removalTimeout)
	r.session = NewSession(append([]SessionOption{WithLogger(r.logger.Named("session"))}, r.sessionOpts...)...)
	if manager != nil {
		r.deviceManager = NewDeviceManager(manager, deviceStr, r.clock, r.logger.Named("device"))
	}
	return r
}

// OnResult registers a handler for every outcome.
func (r *NFCReader) OnResult(h ResultHandler) {
	if h == nil {
		return
	}
	r.handlersMu.Lock()
	r.handlers = append(r.handlers, h)
	r.handlersMu.Unlock()
}

// Results returns a channel of outcomes. Outcomes are dropped when nobody keeps up.
func (r *NFCReader) Results() <-chan Outcome {
	return r.results
}

// StatusUpdates returns a channel that provides DeviceStatus updates.
func (r *NFCReader) StatusUpdates() <-chan DeviceStatus {
	return r.statusChan
}

// Start begins polling and event handling in separate goroutines. Later calls are no-ops.
func (r *NFCReader) Start() {
	r.startOnce.Do(func() {
		r.logger.Debug("reader starting")
		r.workerWg.Add(1)
		go r.consumer()
		if r.deviceManager != nil {
			r.workerWg.Add(1)
			go r.worker()
		}
	})
}

// Stop shuts down the reader and waits for its goroutines. Queued events are discarded.
func (r *NFCReader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.workerWg.Wait()
}

// Submit queues a detection event. It returns false if the reader is stopped or the queue
// is full; the event is dropped in both cases.
func (r *NFCReader) Submit(ev DetectionEvent) bool {
	select {
	case <-r.stopChan:
		return false
	default:
	}

	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = r.clock.Now()
	}

	select {
	case r.queue <- ev:
		return true
	default:
		uid := ""
		if ev.Tag != nil {
			uid = ev.Tag.UID()
		}
		r.logger.Warn("detection queue full, dropping event", zap.String("uid", uid))
		return false
	}
}

// consumer handles queued events one at a time.
func (r *NFCReader) consumer() {
	defer r.workerWg.Done()
	for {
		select {
		case <-r.stopChan:
			return
		case ev := <-r.queue:
			r.publish(r.session.Handle(ev))
		}
	}
}

func (r *NFCReader) publish(out Outcome) {
	r.handlersMu.RLock()
	handlers := append([]ResultHandler(nil), r.handlers...)
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		h(out)
	}

	select {
	case r.results <- out:
	default:
		r.logger.Debug("results channel full, outcome not buffered", zap.String("uid", out.UID))
	}
}

func (r *NFCReader) worker() {
	defer r.workerWg.Done()

	pollTicker := r.clock.NewTicker(r.pollInterval)
	deviceCheckTicker := r.clock.NewTicker(DeviceCheckInterval)
	defer func() {
		pollTicker.Stop()
		deviceCheckTicker.Stop()
		r.deviceManager.Close()
		r.broadcastDeviceStatus("Reader stopped")
		r.logger.Debug("reader worker stopped")
	}()

	var deviceChanges <-chan struct{}
	if notifier, ok := r.manager.(DeviceChangeNotifier); ok {
		deviceChanges = notifier.DeviceChanges()
	}

	r.handleDeviceCheck()

	for {
		select {
		case <-r.stopChan:
			return
		case <-deviceCheckTicker.C():
			r.handleDeviceCheck()
		case <-deviceChanges:
			r.handleDeviceCheck()
		case <-pollTicker.C():
			r.poll()
		}
	}
}

// handleDeviceCheck attempts to connect to the device if not connected and not in cooldown.
func (r *NFCReader) handleDeviceCheck() {
	if r.deviceManager.HasDevice() || r.deviceManager.InCooldown() {
		return
	}
	if err := r.deviceManager.TryConnect(); err != nil {
		r.logger.Debug("connection attempt failed", zap.Error(err))
		r.broadcastDeviceStatus(fmt.Sprintf("Connection failed: %v", err))
		return
	}
	r.broadcastDeviceStatus()
}

// poll asks the device for tags and queues one event per newly presented tag.
func (r *NFCReader) poll() {
	dev := r.deviceManager.Device()
	if dev == nil || r.deviceManager.InCooldown() {
		return
	}

	tags, err := dev.GetTags()
	if err != nil {
		if IsTagRemovedError(err) {
			r.presence.Clear()
			r.setCardPresent(false)
			return
		}
		if r.deviceManager.HandleError(err, r.stopChan) {
			r.presence.Clear()
			r.setCardPresent(false)
		}
		r.broadcastDeviceStatus()
		return
	}
	r.deviceManager.ResetRetryCount()

	for _, tag := range r.presence.Observe(tags) {
		r.logger.Info("tag detected", zap.String("uid", tag.UID()), zap.String("type", tag.Type()))
		r.Submit(DetectionEvent{
			Tag:        tag,
			Device:     dev.Connection(),
			DetectedAt: r.clock.Now(),
		})
	}
	for _, uid := range r.presence.Sweep() {
		r.logger.Debug("tag removed", zap.String("uid", uid))
	}
	r.setCardPresent(r.presence.Present())
}

// GetDeviceStatus returns the current device status by querying live state.
func (r *NFCReader) GetDeviceStatus() DeviceStatus {
	r.statusMux.RLock()
	status := DeviceStatus{CardPresent: r.cardPresent}
	r.statusMux.RUnlock()

	if r.deviceManager == nil {
		status.Message = "Not connected"
		return status
	}

	status.InCooldown = r.deviceManager.InCooldown()
	if dev := r.deviceManager.Device(); dev != nil {
		status.Connected = true
		status.Device = dev.Connection()
		status.Message = fmt.Sprintf("Connected to %s", dev.String())
	} else if status.InCooldown {
		status.Message = "Device in cooldown"
	} else {
		status.Message = "Not connected"
	}
	return status
}

// broadcastDeviceStatus broadcasts a device status update.
// An optional custom message can be provided to override the default message.
func (r *NFCReader) broadcastDeviceStatus(customMessage ...string) {
	status := r.GetDeviceStatus()
	if len(customMessage) > 0 && customMessage[0] != "" {
		status.Message = customMessage[0]
	}

	select {
	case r.statusChan <- status:
	default:
		r.logger.Debug("device status channel full or no listener")
	}
}

func (r *NFCReader) setCardPresent(present bool) {
	r.statusMux.Lock()
	if r.cardPresent == present {
		r.statusMux.Unlock()
		return
	}
	r.cardPresent = present
	r.statusMux.Unlock()

	if present {
		r.broadcastDeviceStatus(fmt.Sprintf("Card detected (UID: %s)", r.presence.LastUID()))
	} else {
		r.broadcastDeviceStatus("Card removed")
	}
}
