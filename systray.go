package main

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"fyne.io/systray"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/nedpals/nfcv-agent/buildinfo"
	"github.com/nedpals/nfcv-agent/config"
	"github.com/nedpals/nfcv-agent/display"
	"github.com/nedpals/nfcv-agent/protocol"
	bridgetls "github.com/nedpals/nfcv-agent/tls"
)

// reachableURL builds a URL on a scheme://host:port base. listen is a host:port pair;
// an empty or unspecified host is replaced by the first LAN address.
func reachableURL(scheme, listen string, ips []string, path string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
		if len(ips) > 0 {
			host = ips[0]
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, port), path)
}

// bridgeURL is the websocket URL phones connect to.
func bridgeURL(scheme, listen string, ips []string) string {
	return reachableURL(scheme, listen, ips, protocol.WebSocketPath)
}

func lanIPs() []string {
	ips, _ := bridgetls.GetLANIPs()
	return ips
}

type languageItem struct {
	tag  language.Tag
	item *systray.MenuItem
}

// SystrayApp shows the last reading in the system tray.
type SystrayApp struct {
	agent      *Agent
	configPath string
	logger     *zap.Logger

	mInfo       *systray.MenuItem
	mValue      *systray.MenuItem
	mNotice     *systray.MenuItem
	mBridgeMenu *systray.MenuItem
	mBridgeURL  *systray.MenuItem
	mCopyURL    *systray.MenuItem
	mCAURL      *systray.MenuItem
	mDeviceMenu *systray.MenuItem
	mRefresh    *systray.MenuItem
	mLangMenu   *systray.MenuItem
	mStart      *systray.MenuItem
	mStop       *systray.MenuItem
	mQuit       *systray.MenuItem

	// running mirrors the agent state; show must not take the agent lock
	running atomic.Bool

	languages []languageItem
	langClick chan language.Tag

	mu              sync.Mutex
	deviceMenuItems map[string]*systray.MenuItem
	deviceClick     chan string
}

// NewSystrayApp creates a tray app. configPath is where a language change is saved;
// empty means the default config location.
func NewSystrayApp(agent *Agent, configPath string) *SystrayApp {
	return &SystrayApp{
		agent:           agent,
		configPath:      configPath,
		logger:          agent.Logger.Named("systray"),
		langClick:       make(chan language.Tag),
		deviceMenuItems: make(map[string]*systray.MenuItem),
		deviceClick:     make(chan string),
	}
}

// Run blocks until the tray is closed.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit closes the tray from any goroutine.
func (s *SystrayApp) Quit() {
	systray.Quit()
}

func (s *SystrayApp) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle(display.NoValue)

	s.setupMenu()
	s.relabel()

	s.agent.Display.AddSink(display.SinkFunc(s.show))

	go s.handleMenuEvents()
	s.autoStartAgent()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
	s.logger.Info("system tray exited")
}

func (s *SystrayApp) setupMenu() {
	s.mInfo = systray.AddMenuItem("", "Reader status")
	s.mInfo.Disable()
	s.mValue = systray.AddMenuItem(display.NoValue, "Value of the last tag")
	s.mValue.Disable()
	s.mNotice = systray.AddMenuItem("", "Last error")
	s.mNotice.Disable()
	s.mNotice.Hide()

	systray.AddSeparator()

	if s.agent.Config.HasTransport(config.TransportRemote) {
		s.mBridgeMenu = systray.AddMenuItem("Remote readers", "Phones acting as readers")
		s.mBridgeURL = s.mBridgeMenu.AddSubMenuItem("Bridge: Not running", "Websocket URL for phones")
		s.mBridgeURL.Disable()
		s.mCopyURL = s.mBridgeMenu.AddSubMenuItem("  Copy Bridge URL", "Copy the bridge URL to clipboard")
		s.mCAURL = s.mBridgeMenu.AddSubMenuItem("", "Install this CA on phones to trust wss://")
		s.mCAURL.Disable()
		s.mCAURL.Hide()
		systray.AddSeparator()
	}

	s.mDeviceMenu = systray.AddMenuItem("Device", "Select NFC Device")
	s.mRefresh = s.mDeviceMenu.AddSubMenuItem("Refresh Devices", "Refresh device list")

	s.mLangMenu = systray.AddMenuItem("", "")
	current := s.agent.Display.Presenter().Locale()
	for _, tag := range display.Supported {
		item := s.mLangMenu.AddSubMenuItemCheckbox(display.Translate(tag, display.KeyLanguageName), tag.String(), tag == current)
		s.languages = append(s.languages, languageItem{tag: tag, item: item})
		go s.forwardLanguageClicks(tag, item)
	}

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start reading tags")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop reading tags")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("", "")
}

func (s *SystrayApp) forwardLanguageClicks(tag language.Tag, item *systray.MenuItem) {
	for range item.ClickedCh {
		s.langClick <- tag
	}
}

func (s *SystrayApp) forwardDeviceClicks(name string, item *systray.MenuItem) {
	for range item.ClickedCh {
		s.deviceClick <- name
	}
}

// relabel sets the localized menu texts.
func (s *SystrayApp) relabel() {
	p := s.agent.Display.Presenter()
	title := p.Text(display.KeyTitle)
	systray.SetTooltip(fmt.Sprintf("%s %s", title, buildinfo.Version))
	s.mLangMenu.SetTitle(p.Text(display.KeyLanguage))
	s.mQuit.SetTitle(p.Text(display.KeyQuit))

	current := p.Locale()
	for _, l := range s.languages {
		if l.tag == current {
			l.item.Check()
		} else {
			l.item.Uncheck()
		}
	}
}

// show is the tray's display sink.
func (s *SystrayApp) show(v display.View) {
	systray.SetTitle(v.Value)
	s.mInfo.SetTitle(v.Info)
	s.mValue.SetTitle(v.Value)

	if v.Notice == "" {
		s.mNotice.Hide()
		if s.running.Load() {
			systray.SetIcon(iconDataConnected)
		}
		return
	}
	s.logger.Info("notice", zap.String("text", v.Notice))
	s.mNotice.SetTitle(v.Notice)
	s.mNotice.Show()
	systray.SetIcon(iconDataError)
}

func (s *SystrayApp) autoStartAgent() {
	go func() {
		s.start()
		s.updateDeviceList()
	}()
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.start()
		case <-s.mStop.ClickedCh:
			s.stop()
		case <-s.mRefresh.ClickedCh:
			s.updateDeviceList()
		case <-s.copyClicks():
			s.copyBridgeURL()
		case tag := <-s.langClick:
			s.switchLanguage(tag)
		case name := <-s.deviceClick:
			s.switchDevice(name)
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// copyClicks is nil without the bridge menu, which blocks that select case forever.
func (s *SystrayApp) copyClicks() <-chan struct{} {
	if s.mCopyURL == nil {
		return nil
	}
	return s.mCopyURL.ClickedCh
}

func (s *SystrayApp) start() {
	if err := s.agent.Start(); err != nil {
		s.logger.Error("failed to start agent", zap.Error(err))
		systray.SetIcon(iconDataError)
		s.mStart.Enable()
		s.mStop.Disable()
		return
	}
	s.running.Store(true)
	systray.SetIcon(iconDataConnected)
	s.updateBridgeURL()
	s.mStart.Disable()
	s.mStop.Enable()
}

func (s *SystrayApp) stop() {
	s.running.Store(false)
	s.agent.Stop()
	systray.SetIcon(iconDataStopped)
	if s.mBridgeURL != nil {
		s.mBridgeURL.SetTitle("Bridge: Not running")
		s.mCAURL.Hide()
	}
	s.mStop.Disable()
	s.mStart.Enable()
}

// switchLanguage re-renders the tray in tag and saves the choice.
func (s *SystrayApp) switchLanguage(tag language.Tag) {
	s.agent.SetLocale(tag.String())
	s.relabel()

	if err := s.agent.SaveConfig(s.configPath); err != nil {
		s.logger.Warn("failed to save language", zap.Error(err))
		return
	}
	s.logger.Info("language changed", zap.String("locale", tag.String()))
}

// switchDevice restarts the reader on another device.
func (s *SystrayApp) switchDevice(name string) {
	s.mu.Lock()
	for device, item := range s.deviceMenuItems {
		if device == name {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
	s.mu.Unlock()

	if !s.agent.SetDevice(name) {
		return
	}

	if s.running.Load() {
		s.agent.Stop()
		s.start()
	}
}

// updateDeviceList shows the current devices. Items are reused across refreshes
// because a menu item cannot be removed, only hidden.
func (s *SystrayApp) updateDeviceList() {
	devices, err := s.agent.ListDevices()
	if err != nil {
		s.logger.Warn("error listing devices", zap.Error(err))
		return
	}
	sort.Strings(devices)
	selected := s.agent.Device()

	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(devices))
	for _, name := range devices {
		present[name] = true
		checked := selected == name
		item, ok := s.deviceMenuItems[name]
		if !ok {
			item = s.mDeviceMenu.AddSubMenuItemCheckbox(name, "Select this device", checked)
			s.deviceMenuItems[name] = item
			go s.forwardDeviceClicks(name, item)
		}
		if checked {
			item.Check()
		} else {
			item.Uncheck()
		}
		item.Show()
	}

	for name, item := range s.deviceMenuItems {
		if !present[name] {
			item.Hide()
		}
	}
}

func (s *SystrayApp) getBridgeURL() string {
	addr := s.agent.BridgeAddr()
	if addr == "" {
		return ""
	}
	return bridgeURL(s.agent.BridgeScheme(), addr, lanIPs())
}

func (s *SystrayApp) updateBridgeURL() {
	if s.mBridgeURL == nil {
		return
	}
	if url := s.getBridgeURL(); url != "" {
		s.mBridgeURL.SetTitle("Bridge: " + url)
	}
	if addr := s.agent.BootstrapAddr(); addr != "" {
		s.mCAURL.SetTitle("CA: " + reachableURL("http", addr, lanIPs(), "/ca.pem"))
		s.mCAURL.Show()
	} else {
		s.mCAURL.Hide()
	}
}

func (s *SystrayApp) copyBridgeURL() {
	url := s.getBridgeURL()
	if url == "" {
		return
	}
	if err := copyToClipboard(url); err != nil {
		s.logger.Warn("failed to copy to clipboard", zap.Error(err))
		return
	}
	s.logger.Info("copied bridge URL to clipboard", zap.String("url", url))
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}

	stdin.Close()
	return cmd.Wait()
}
