package remotenfc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/nedpals/nfcv-agent/protocol"
	"go.uber.org/zap"
)

// ServerConfig configures the bridge listener.
type ServerConfig struct {
	Listen  string // e.g. ":18393"
	MDNS    bool
	Name    string // mDNS instance name, defaults to the hostname
	Version string
	// CertFile and KeyFile switch the bridge to wss://
	CertFile string
	KeyFile  string
	Logger   *zap.Logger
}

// Secure reports whether a certificate is configured.
func (c ServerConfig) Secure() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// instanceName is the configured name, else the hostname.
func (c ServerConfig) instanceName() string {
	if c.Name != "" {
		return c.Name
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "nfcv-agent"
}

// Server exposes a Manager over HTTP and advertises it with mDNS.
type Server struct {
	config     ServerConfig
	manager    *Manager
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
	logger     *zap.Logger
}

// NewServer creates a bridge server for manager.
func NewServer(manager *Manager, config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	s := &Server{config: config, manager: manager, logger: config.Logger}

	mux := http.NewServeMux()
	mux.Handle(protocol.WebSocketPath, NewHandler(manager, protocol.ServerInfo{
		Name:    config.instanceName(),
		Version: config.Version,
	}, config.Logger))
	mux.HandleFunc("/health", s.handleHealthCheck)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener, serves in the background and registers the mDNS service.
// An mDNS failure is logged and does not stop the server.
func (s *Server) Start() error {
	var tlsConfig *tls.Config
	if s.config.Secure() {
		cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load bridge certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = ln
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge server error", zap.Error(err))
		}
	}()
	s.logger.Info("remote bridge listening", zap.String("addr", ln.Addr().String()), zap.String("scheme", s.Scheme()))

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Warn("auto-discovery unavailable", zap.Error(err))
		}
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Scheme returns "wss" when the bridge serves TLS, else "ws".
func (s *Server) Scheme() string {
	if s.config.Secure() {
		return "wss"
	}
	return "ws"
}

// Stop withdraws the mDNS record and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Debug("mDNS service stopped")
	}
	return s.httpServer.Shutdown(ctx)
}

// startMDNS registers the bridge as _nfcv-agent._tcp for auto-discovery.
func (s *Server) startMDNS() error {
	tcpAddr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address %s", s.listener.Addr())
	}

	name := s.config.instanceName()
	txtRecords := []string{
		"version=" + s.config.Version,
		"protocol=websocket",
		"scheme=" + s.Scheme(),
		"path=" + protocol.WebSocketPath,
	}

	server, err := zeroconf.Register(name, protocol.MDNSServiceType, protocol.MDNSDomain, tcpAddr.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Info("mDNS service registered", zap.String("name", name), zap.Int("port", tcpAddr.Port))
	return nil
}

// handleHealthCheck provides a health check endpoint (GET /health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"remotes": s.manager.DeviceCount(),
	})
}
