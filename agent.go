package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nedpals/nfcv-agent/buildinfo"
	"github.com/nedpals/nfcv-agent/config"
	"github.com/nedpals/nfcv-agent/display"
	"github.com/nedpals/nfcv-agent/nfc"
	"github.com/nedpals/nfcv-agent/nfc/remotenfc"
	bridgetls "github.com/nedpals/nfcv-agent/tls"
	"go.uber.org/zap"
)

// managerFactory builds the manager for one transport name.
type managerFactory func(cfg *config.Config, logger *zap.Logger) nfc.Manager

var managerFactories = map[string]managerFactory{
	config.TransportPCSC: func(cfg *config.Config, logger *zap.Logger) nfc.Manager {
		return nfc.NewPCSCManager(logger.Named("pcsc"))
	},
	config.TransportLibNFC: func(cfg *config.Config, logger *zap.Logger) nfc.Manager {
		return nfc.NewLibNFCManager(logger.Named("libnfc"))
	},
	config.TransportRemote: func(cfg *config.Config, logger *zap.Logger) nfc.Manager {
		return remotenfc.NewManager(remotenfc.Options{
			RequestTimeout: cfg.Bridge.RequestTimeout,
			Logger:         logger.Named("remote"),
		})
	},
}

// newCertManager builds the certificate manager of a TLS bridge.
var newCertManager = func(logger *zap.Logger) (*bridgetls.Manager, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return bridgetls.NewManager(dir, logger), nil
}

// Agent wires transports, the reader worker and the display together.
type Agent struct {
	Config    *config.Config
	Logger    *zap.Logger
	Manager   *nfc.MultiManager
	Display   *display.Display
	Reader    *nfc.NFCReader
	Bridge    *remotenfc.Server
	Bootstrap *bridgetls.BootstrapServer

	mu       sync.Mutex
	done     chan struct{}
	handlers []nfc.ResultHandler
}

// NewAgent builds the managers of every enabled transport.
func NewAgent(cfg *config.Config, logger *zap.Logger, sinks ...display.Sink) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}

	var entries []nfc.ManagerEntry
	for _, name := range cfg.Transports {
		factory, ok := managerFactories[name]
		if !ok {
			logger.Warn("unknown transport, skipping", zap.String("transport", name))
			continue
		}
		entries = append(entries, nfc.ManagerEntry{Name: name, Manager: factory(cfg, logger)})
	}

	return &Agent{
		Config:  cfg,
		Logger:  logger,
		Manager: nfc.NewMultiManager(logger, entries...),
		Display: display.New(cfg.Locale, sinks...),
	}
}

// remoteManager returns the bridge manager when the remote transport is enabled.
func (a *Agent) remoteManager() *remotenfc.Manager {
	m, ok := a.Manager.GetManager(config.TransportRemote)
	if !ok {
		return nil
	}
	remote, _ := m.(*remotenfc.Manager)
	return remote
}

// Start opens the bridge (if enabled) and starts the reader.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Reader != nil {
		return errors.New("agent is already running")
	}

	remote := a.remoteManager()
	if remote != nil {
		if err := a.startBridge(remote); err != nil {
			return err
		}
	}

	a.Reader = nfc.NewNFCReader(a.Config.Device, a.Manager,
		nfc.WithReaderLogger(a.Logger.Named("reader")),
		nfc.WithPollInterval(a.Config.Reader.PollInterval),
		nfc.WithRemovalTimeout(a.Config.Reader.RemovalTimeout),
		nfc.WithQueueSize(a.Config.Reader.QueueSize),
	)
	a.Reader.OnResult(a.Display.HandleOutcome)
	for _, h := range a.handlers {
		a.Reader.OnResult(h)
	}

	a.done = make(chan struct{})
	go a.forwardStatus(a.Reader, a.done)
	if remote != nil {
		drainDetections(remote.Detections())
		go a.forwardDetections(a.Reader, remote.Detections(), a.done)
	}

	a.Reader.Start()
	a.Logger.Info("agent started",
		zap.Strings("transports", a.Config.Transports),
		zap.String("locale", a.Display.Presenter().Locale().String()))
	return nil
}

// startBridge opens the bridge and, with TLS, the CA bootstrap server. The caller holds a.mu.
func (a *Agent) startBridge(remote *remotenfc.Manager) error {
	cfg := remotenfc.ServerConfig{
		Listen:  a.Config.Bridge.Listen,
		MDNS:    a.Config.Bridge.MDNS,
		Name:    a.Config.Bridge.Name,
		Version: buildinfo.FullVersion(),
		Logger:  a.Logger.Named("bridge"),
	}

	var certs *bridgetls.Manager
	if a.Config.Bridge.TLS {
		var err error
		if certs, err = newCertManager(a.Logger.Named("tls")); err != nil {
			return fmt.Errorf("failed to set up bridge TLS: %w", err)
		}
		lan, err := bridgetls.GetLANIPs()
		if err != nil {
			a.Logger.Warn("failed to list LAN addresses, certificate covers localhost only", zap.Error(err))
		}
		if cfg.CertFile, cfg.KeyFile, err = certs.EnsureCertificates(bridgetls.CertHosts(lan)); err != nil {
			return fmt.Errorf("failed to set up bridge TLS: %w", err)
		}
	}

	a.Bridge = remotenfc.NewServer(remote, cfg)
	if err := a.Bridge.Start(); err != nil {
		a.Bridge = nil
		return fmt.Errorf("failed to start remote bridge: %w", err)
	}

	if certs != nil && a.Config.Bridge.BootstrapListen != "" {
		a.Bootstrap = bridgetls.NewBootstrapServer(certs, a.Config.Bridge.BootstrapListen, a.Logger.Named("bootstrap"))
		if err := a.Bootstrap.Start(); err != nil {
			a.Logger.Warn("CA bootstrap server unavailable", zap.Error(err))
			a.Bootstrap = nil
		}
	}
	return nil
}

func (a *Agent) forwardStatus(reader *nfc.NFCReader, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case status := <-reader.StatusUpdates():
			a.Logger.Debug("device status", zap.Bool("connected", status.Connected), zap.String("message", status.Message))
			a.Display.HandleStatus(status)
		}
	}
}

// forwardDetections queues every tap pushed by a remote reader.
func (a *Agent) forwardDetections(reader *nfc.NFCReader, detections <-chan nfc.DetectionEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-detections:
			reader.Submit(ev)
		}
	}
}

// drainDetections drops taps reported while the agent was stopped.
func drainDetections(detections <-chan nfc.DetectionEvent) {
	for {
		select {
		case <-detections:
		default:
			return
		}
	}
}

// Running reports whether the reader is started.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Reader != nil
}

// Stop stops the reader and the bridge. The managers stay open so Start can be called again.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Reader == nil {
		return
	}

	a.Reader.Stop()
	close(a.done)
	a.Reader = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.Bootstrap != nil {
		if err := a.Bootstrap.Stop(ctx); err != nil {
			a.Logger.Warn("bootstrap server shutdown error", zap.Error(err))
		}
		a.Bootstrap = nil
	}
	if a.Bridge != nil {
		if err := a.Bridge.Stop(ctx); err != nil {
			a.Logger.Warn("bridge shutdown error", zap.Error(err))
		}
		a.Bridge = nil
	}

	a.Logger.Info("agent stopped")
}

// BridgeAddr returns the address the bridge listens on, empty when it is not running.
func (a *Agent) BridgeAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Bridge == nil || a.Bridge.Addr() == nil {
		return ""
	}
	return a.Bridge.Addr().String()
}

// BridgeScheme returns "ws" or "wss" for the running bridge, empty when it is not running.
func (a *Agent) BridgeScheme() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Bridge == nil {
		return ""
	}
	return a.Bridge.Scheme()
}

// BootstrapAddr returns the address of the CA bootstrap server, empty when it is not running.
func (a *Agent) BootstrapAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Bootstrap == nil || a.Bootstrap.Addr() == nil {
		return ""
	}
	return a.Bootstrap.Addr().String()
}

// Close stops the agent and releases every transport.
func (a *Agent) Close() error {
	a.Stop()
	return a.Manager.Close()
}

// SetLocale switches the display language.
func (a *Agent) SetLocale(locale string) {
	a.Display.SetLocale(locale)
	a.mu.Lock()
	a.Config.Locale = a.Display.Presenter().Locale().String()
	a.mu.Unlock()
}

// SaveConfig writes the current configuration to path.
func (a *Agent) SaveConfig(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Config.Save(path)
}

// Device returns the configured reader name.
func (a *Agent) Device() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Config.Device
}

// SetDevice selects the reader used from the next Start. It returns false when name is
// already selected.
func (a *Agent) SetDevice(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Config.Device == name {
		return false
	}
	a.Config.Device = name
	return true
}

// OnResult registers a handler attached to the reader on every Start.
func (a *Agent) OnResult(h nfc.ResultHandler) {
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()
}

// ReadOnce starts the agent, waits for the first outcome and stops again.
func (a *Agent) ReadOnce(ctx context.Context) (nfc.Outcome, error) {
	outcomes := make(chan nfc.Outcome, 1)
	a.OnResult(func(out nfc.Outcome) {
		select {
		case outcomes <- out:
		default:
		}
	})

	if err := a.Start(); err != nil {
		return nfc.Outcome{}, err
	}
	defer a.Stop()

	select {
	case out := <-outcomes:
		return out, nil
	case <-ctx.Done():
		return nfc.Outcome{}, fmt.Errorf("no tag presented: %w", ctx.Err())
	}
}

// ListDevices returns the devices of every enabled transport.
func (a *Agent) ListDevices() ([]string, error) {
	return a.Manager.ListDevices()
}
