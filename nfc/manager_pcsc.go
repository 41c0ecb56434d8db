package nfc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"go.uber.org/zap"
)

// pcscContext is the subset of *scard.Context used by the PC/SC transport.
type pcscContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (pcscCard, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Release() error
}

// pcscCard is the subset of *scard.Card used by the PC/SC transport.
type pcscCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (*scard.CardStatus, error)
	Disconnect(d scard.Disposition) error
}

// scardContext adapts *scard.Context to pcscContext.
type scardContext struct {
	ctx *scard.Context
}

func establishSCardContext() (pcscContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &scardContext{ctx: ctx}, nil
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (pcscCard, error) {
	card, err := c.ctx.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func (c *scardContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, timeout)
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

// pcscManager implements Manager using PC/SC via ebfe/scard
type pcscManager struct {
	establish func() (pcscContext, error)
	logger    *zap.Logger
	ctx       pcscContext
	ctxMu     sync.Mutex
}

// NewPCSCManager creates a Manager for PC/SC contactless readers.
func NewPCSCManager(logger *zap.Logger) Manager {
	return newPCSCManagerWithContext(establishSCardContext, logger)
}

func newPCSCManagerWithContext(establish func() (pcscContext, error), logger *zap.Logger) *pcscManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pcscManager{establish: establish, logger: logger}
}

// ensureContext ensures we have a valid PC/SC context
func (m *pcscManager) ensureContext() (pcscContext, error) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx != nil {
		// Check if context is still valid by listing readers
		if _, err := m.ctx.ListReaders(); err == nil {
			return m.ctx, nil
		}
		m.ctx.Release()
		m.ctx = nil
	}

	ctx, err := m.establish()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	m.ctx = ctx
	return ctx, nil
}

// ListDevices returns the contactless readers known to the PC/SC service.
func (m *pcscManager) ListDevices() ([]string, error) {
	ctx, err := m.ensureContext()
	if err != nil {
		return nil, err
	}
	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return filterContactlessReaders(readers), nil
}

// OpenDevice opens a reader. A card does not need to be present.
func (m *pcscManager) OpenDevice(deviceStr string) (Device, error) {
	ctx, err := m.ensureContext()
	if err != nil {
		return nil, err
	}

	readerName := deviceStr
	if readerName == "" {
		readers, err := m.ListDevices()
		if err != nil {
			return nil, err
		}
		if len(readers) == 0 {
			return nil, fmt.Errorf("no PC/SC readers found: %w", ErrNoDevice)
		}
		readerName = readers[0]
	}

	return newPCSCDevice(ctx, readerName, m.logger), nil
}

// Close releases the PC/SC context.
func (m *pcscManager) Close() error {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()

	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Release()
	m.ctx = nil
	return err
}

// filterContactlessReaders drops SAM slots, which never hold a tag.
func filterContactlessReaders(readers []string) []string {
	var filtered []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
