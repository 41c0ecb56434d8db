package display

import (
	"sync"

	"github.com/nedpals/nfcv-agent/nfc"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// View is what a sink shows. Notice is a transient message for failures.
type View struct {
	Info   string
	Value  string
	Notice string
}

// Presenter keeps the current screen state and renders it in one locale.
// State is kept as catalog keys so a locale switch re-renders it.
type Presenter struct {
	mu      sync.Mutex
	locale  language.Tag
	printer *message.Printer

	info   Key
	value  string
	notice Key

	// seenReader is set once a reader has connected; losing it afterwards shows
	// readerDisabled instead of readerMissing
	seenReader bool
}

// NewPresenter creates a presenter showing the ready message.
func NewPresenter(locale string) *Presenter {
	p := &Presenter{info: KeyReady, value: NoValue}
	p.setLocale(Match(locale))
	return p
}

// Locale returns the language in use.
func (p *Presenter) Locale() language.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locale
}

// SetLocale switches language and returns the re-rendered view.
func (p *Presenter) SetLocale(locale string) View {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocale(Match(locale))
	p.notice = ""
	return p.render()
}

func (p *Presenter) setLocale(tag language.Tag) {
	p.locale = tag
	p.printer = newPrinter(tag)
}

// Text renders one catalog message.
func (p *Presenter) Text(key Key) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printer.Sprintf(string(key))
}

// Current returns the view without changing state.
func (p *Presenter) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.render()
	v.Notice = ""
	return v
}

// Outcome applies an exchange result.
//
// Protocol and transport failures clear the value. An unsupported tag only raises a
// notice and leaves the previous reading on screen.
func (p *Presenter) Outcome(out nfc.Outcome) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.notice = ""
	switch {
	case out.OK():
		p.info = KeyTagDetected
		p.value = out.Decimal
	case out.Failure == nfc.FailureUnsupportedTag:
		p.notice = KeyTechNotSupported
	default:
		p.info = failureKey(out.Failure)
		p.value = NoValue
		p.notice = p.info
	}
	return p.render()
}

// Status applies a reader status change.
func (p *Presenter) Status(status nfc.DeviceStatus) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.notice = ""
	switch {
	case status.Connected:
		p.seenReader = true
		if p.info == KeyReaderMissing || p.info == KeyReaderDisabled {
			p.info = KeyReady
		}
	case status.InCooldown || p.seenReader:
		p.info = KeyReaderDisabled
		p.value = NoValue
	default:
		p.info = KeyReaderMissing
		p.value = NoValue
	}
	return p.render()
}

func (p *Presenter) render() View {
	v := View{
		Info:  p.printer.Sprintf(string(p.info)),
		Value: p.value,
	}
	if p.notice != "" {
		v.Notice = p.printer.Sprintf(string(p.notice))
	}
	return v
}

func failureKey(kind nfc.FailureKind) Key {
	switch kind {
	case nfc.FailureTransport:
		return KeyCommunicationError
	case nfc.FailureBadStatus, nfc.FailureShortResponse:
		return KeyBlockReadError
	case nfc.FailureUnsupportedTag:
		return KeyTechNotSupported
	default:
		return KeyInternalError
	}
}
