// Package tls issues the remote bridge's server certificate from a local CA that is
// installed in the system trust store, so phones on the LAN can connect over wss://.
package tls

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jittering/truststore"
	"go.uber.org/zap"
)

// IssueFunc writes a certificate for hosts into dir, signed by the CA in caDir.
type IssueFunc func(caDir string, hosts []string, dir string) (certFile, keyFile string, err error)

// Manager keeps the CA and the server certificate under a config directory:
//
//	<dir>/ca/rootCA.pem
//	<dir>/tls/server.crt, server.key, hosts.txt
type Manager struct {
	caDir      string
	tlsDir     string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	issue      IssueFunc
	logger     *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIssuer replaces the truststore issuer.
func WithIssuer(issue IssueFunc) ManagerOption {
	return func(m *Manager) {
		if issue != nil {
			m.issue = issue
		}
	}
}

// NewManager creates a Manager rooted at configDir.
func NewManager(configDir string, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	m := &Manager{
		caDir:      caDir,
		tlsDir:     tlsDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		issue:      issueWithTruststore,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureCertificates returns a certificate valid for hosts, issuing a new one when none
// exists or the hosts changed since the last one. Issuing may install the CA and prompt
// for a password.
func (m *Manager) EnsureCertificates(hosts []string) (certFile, keyFile string, err error) {
	if len(hosts) == 0 {
		return "", "", errors.New("no hosts for certificate")
	}
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	switch {
	case !m.certsExist():
		m.logger.Info("no bridge certificate, issuing one", zap.Strings("hosts", hosts))
	case m.hostsChanged(hosts):
		m.logger.Info("network changed, reissuing bridge certificate", zap.Strings("hosts", hosts))
	default:
		m.logger.Debug("using existing bridge certificate", zap.String("cert", m.certFile))
		return m.certFile, m.keyFile, nil
	}

	if err := m.generate(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) generate(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	certFile, keyFile, err := m.issue(m.caDir, hosts, m.tlsDir)
	if err != nil {
		return err
	}
	if certFile != m.certFile {
		if err := os.Rename(certFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if keyFile != m.keyFile {
		if err := os.Rename(keyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Warn("failed to cache certificate hosts", zap.Error(err))
	}

	fields := []zap.Field{zap.String("cert", m.certFile)}
	if fp, err := m.CAFingerprint(); err == nil {
		fields = append(fields, zap.String("caFingerprint", fp))
	}
	m.logger.Info("bridge certificate issued", fields...)
	return nil
}

// issueWithTruststore creates the CA on first use, installs it in the system trust store
// and signs a server certificate with it.
func issueWithTruststore(caDir string, hosts []string, dir string) (string, string, error) {
	// truststore reads its CA location from the environment
	if err := os.Setenv("CAROOT", caDir); err != nil {
		return "", "", fmt.Errorf("failed to set CAROOT: %w", err)
	}

	ml, err := truststore.NewLib()
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize truststore: %w", err)
	}
	if err := ml.Install(); err != nil {
		return "", "", fmt.Errorf("failed to install CA: %w", err)
	}
	cert, err := ml.MakeCert(hosts, dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate certificate: %w", err)
	}
	return cert.CertFile, cert.KeyFile, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the cached list, ignoring order.
func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil || len(cached) != len(hosts) {
		return true
	}

	a := append([]string(nil), cached...)
	b := append([]string(nil), hosts...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0600)
}

// CACertFile returns the path of the CA certificate.
func (m *Manager) CACertFile() string {
	return m.caCertFile
}

// ReadCACert returns the CA certificate PEM.
func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}

// CAFingerprint returns the SHA-256 of the CA certificate as colon-separated hex.
func (m *Manager) CAFingerprint() (string, error) {
	certPEM, err := m.ReadCACert()
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", errors.New("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
