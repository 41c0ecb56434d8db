package display

import (
	"sync"

	"github.com/nedpals/nfcv-agent/nfc"
	"go.uber.org/zap"
)

// Sink shows a view.
type Sink interface {
	Show(View)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(View)

func (f SinkFunc) Show(v View) { f(v) }

// LogSink writes views to a logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Show(v View) {
	fields := []zap.Field{zap.String("value", v.Value)}
	if v.Notice != "" {
		fields = append(fields, zap.String("notice", v.Notice))
	}
	s.logger.Info(v.Info, fields...)
}

// Display fans presenter output out to sinks.
type Display struct {
	presenter *Presenter
	mu        sync.RWMutex
	sinks     []Sink
}

// New creates a display for locale.
func New(locale string, sinks ...Sink) *Display {
	return &Display{presenter: NewPresenter(locale), sinks: sinks}
}

// Presenter returns the underlying presenter.
func (d *Display) Presenter() *Presenter {
	return d.presenter
}

// AddSink attaches a sink and shows it the current view.
func (d *Display) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
	s.Show(d.presenter.Current())
}

// HandleOutcome is an nfc.ResultHandler.
func (d *Display) HandleOutcome(out nfc.Outcome) {
	d.show(d.presenter.Outcome(out))
}

// HandleStatus shows a reader status change.
func (d *Display) HandleStatus(status nfc.DeviceStatus) {
	d.show(d.presenter.Status(status))
}

// SetLocale switches language and re-renders every sink.
func (d *Display) SetLocale(locale string) {
	d.show(d.presenter.SetLocale(locale))
}

func (d *Display) show(v View) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sinks {
		s.Show(v)
	}
}
