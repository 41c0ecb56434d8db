package tls

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BootstrapServer hands out the CA certificate over plain HTTP, so a phone can trust the
// bridge before its first wss:// connection.
type BootstrapServer struct {
	manager    *Manager
	listen     string
	listener   net.Listener
	httpServer *http.Server
	logger     *zap.Logger
}

// NewBootstrapServer creates a server for listen, e.g. ":18394".
func NewBootstrapServer(manager *Manager, listen string, logger *zap.Logger) *BootstrapServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BootstrapServer{manager: manager, listen: listen, logger: logger}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler serves /ca.pem and /ca.crt, and a short page with the fingerprint at /.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start binds the listener and serves in the background.
func (s *BootstrapServer) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bootstrap server error", zap.Error(err))
		}
	}()

	fields := []zap.Field{zap.String("addr", ln.Addr().String())}
	if fp, err := s.manager.CAFingerprint(); err == nil {
		fields = append(fields, zap.String("caFingerprint", fp))
	}
	s.logger.Info("CA bootstrap server listening", fields...)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *BootstrapServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down.
func (s *BootstrapServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	caCert, err := s.manager.ReadCACert()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="nfcv-agent-ca.pem"`)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(caCert)

	s.logger.Info("CA certificate downloaded", zap.String("remote", r.RemoteAddr))
}

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fingerprint, err := s.manager.CAFingerprint()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Download the CA certificate from /ca.pem and install it as a trusted CA.\n\n")
	fmt.Fprintf(w, "Check that its SHA-256 fingerprint matches the one in the agent log:\n%s\n", fingerprint)
}
