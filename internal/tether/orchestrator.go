// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"grimm.is/tetherd/internal/config"
	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/services"
	"grimm.is/tetherd/internal/tether/eventbus"
	"grimm.is/tetherd/internal/tether/nms"
)

var _ services.Service = (*ServiceAdapter)(nil)

// ResultSink is the capability a caller hands the orchestrator to learn the
// outcome of an asynchronous start/stop request. It stands in for the
// cross-process parcel-proxy a real platform client would pass: the core
// only needs something it can call Send on, not a concrete IPC mechanism.
type ResultSink interface {
	Send(code ErrorCode)
}

// noopSink discards the result; used when a caller doesn't need one.
type noopSink struct{}

func (noopSink) Send(ErrorCode) {}

// RadioController drives a physical radio's tethering mode (USB gadget
// function, Wi-Fi soft-AP, Bluetooth PAN). The core only needs the
// enable/disable edge and, for Bluetooth, a best-effort liveness probe; the
// radio driver itself is an external collaborator (Non-goal).
type RadioController interface {
	SetEnabled(ctx context.Context, enabled bool) error
}

// BluetoothController additionally exposes a liveness check. Its result is
// inherently racy: a true reading can lag the actual PAN teardown by an
// unspecified amount, and callers must not assume a negative reading rules
// out a pand restart racing the check. This orchestrator preserves that
// behavior as observed rather than inventing a synchronous replacement.
type BluetoothController interface {
	RadioController
	IsTetheringOn(ctx context.Context) (bool, error)
}

// Orchestrator is the facade every external caller (CLI, api package)
// drives. It owns the registry, the master state machine, the per-interface
// state machines, and the provisioning gate, and is the only component that
// creates or tears down an ifaceSM.
type Orchestrator struct {
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	registry     *Registry
	master       *Master
	provisioning *ProvisioningGate
	nmsCli       nms.Client
	bus          *eventbus.Bus
	log          *logging.Logger

	cfg   *config.Tethering
	cfgMu sync.RWMutex

	usb  RadioController
	wifi RadioController
	bt   BluetoothController

	usbRequested  bool // mUsbTetherRequested: a setUsbTethering(true) is pending RNDIS coming up
	wifiRequested bool // mWifiTetherRequested: a setWifiTethering(true) is pending the AP coming up
	btRequested   bool
	rndisEnabled  bool // mRndisEnabled: last USB broadcast's reported RNDIS state
}

// NewOrchestrator wires a fresh Orchestrator around an already-constructed
// Master and Registry. usb/wifi/bt may be nil, in which case that radio's
// start/stop calls report ServiceUnavail (the radio controller is an
// external collaborator the caller may not have wired on a given build).
func NewOrchestrator(registry *Registry, master *Master, nmsCli nms.Client, bus *eventbus.Bus, hook ProvisioningHook, usb, wifi RadioController, bt BluetoothController, cfg *config.Tethering, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		master:       master,
		provisioning: NewProvisioningGate(hook),
		nmsCli:       nmsCli,
		bus:          bus,
		log:          log.WithComponent("orchestrator"),
		cfg:          cfg,
		usb:          usb,
		wifi:         wifi,
		bt:           bt,
	}
}

// Start runs the master loop and the event-bus consumer until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.ctx = runCtx
	o.cancel = cancel

	o.wg.Add(2)
	go func() { defer o.wg.Done(); o.master.Run(runCtx) }()
	go func() { defer o.wg.Done(); o.consumeBus(runCtx) }()
}

// Stop cancels the master loop, the bus consumer, and every live ifaceSM.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.registry.Snapshot() {
		if e.sm != nil {
			close(e.sm.inbox)
		}
	}
}

// UpdateConfig swaps the orchestrator's configuration snapshot, propagating
// it to the master.
func (o *Orchestrator) UpdateConfig(cfg *config.Tethering) {
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()
	o.master.UpdateConfig(cfg)
}

func (o *Orchestrator) config() *config.Tethering {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// consumeBus translates normalized OS broadcasts into registry mutations
// and ifaceSM lifecycle events, implementing the conflict policy: USB and
// Wi-Fi interfaces are only ever removed by an explicit removal event, never
// by an administrative down; Bluetooth treats down the same as removed.
// Interfaces that match no configured type are never tracked.
func (o *Orchestrator) consumeBus(ctx context.Context) {
	ch := o.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o.handleBusEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleBusEvent(ctx context.Context, ev eventbus.Event) {
	switch e := ev.(type) {
	case eventbus.InterfaceUpEvent:
		ifType := o.classifyInterfaceType(e.Name)
		if ifType == InterfaceInvalid {
			return
		}
		o.interfaceAdded(e.Name, ifType)
	case eventbus.InterfaceDownEvent:
		o.interfaceStatusChanged(ctx, e.Name, false)
	case eventbus.InterfaceRemovedEvent:
		o.interfaceRemoved(ctx, e.Name)
	case eventbus.USBStateEvent:
		o.handleUSBStateEvent(ctx, e)
	case eventbus.WifiAPStateEvent:
		o.handleWifiAPStateEvent(ctx, e)
	case eventbus.SIMStateEvent:
		o.onSIMStateChanged(e.State)
	case eventbus.ConfigChangedEvent:
		// Caller drives UpdateConfig directly; nothing to do here.
	}
}

// handleUSBStateEvent tracks the last-reported RNDIS state and, on a
// connected+RNDIS-up transition, installs the usb0 entry and completes a
// pending setUsbTethering(true) by tethering it. A RNDIS-down transition
// tears the entry down.
func (o *Orchestrator) handleUSBStateEvent(ctx context.Context, e eventbus.USBStateEvent) {
	o.mu.Lock()
	o.rndisEnabled = e.RNDISEnabled
	pending := o.usbRequested
	o.mu.Unlock()

	if e.Connected && e.RNDISEnabled {
		o.interfaceAdded("usb0", InterfaceUSB)
		if pending {
			o.Tether("usb0")
		}
		return
	}
	if !e.RNDISEnabled {
		o.interfaceRemoved(ctx, "usb0")
	}
}

// handleWifiAPStateEvent completes a pending setWifiTethering(true) once the
// soft-AP reports ENABLED, and tears the entry down and clears the pending
// flag on any of DISABLING/DISABLED/FAILED.
func (o *Orchestrator) handleWifiAPStateEvent(ctx context.Context, e eventbus.WifiAPStateEvent) {
	switch e.State {
	case eventbus.WifiAPEnabled:
		o.mu.Lock()
		pending := o.wifiRequested
		o.mu.Unlock()
		o.interfaceAdded("wlan-ap0", InterfaceWifi)
		if pending {
			o.Tether("wlan-ap0")
		}
	case eventbus.WifiAPDisabling, eventbus.WifiAPDisabled, eventbus.WifiAPFailed:
		o.interfaceRemoved(ctx, "wlan-ap0")
		o.mu.Lock()
		o.wifiRequested = false
		o.mu.Unlock()
	}
}

// tetherMatchingType tethers the first tracked interface of type t, for the
// "RNDIS/AP already up" fast path where no new broadcast will arrive to
// drive the usual tether-on-broadcast flow.
func (o *Orchestrator) tetherMatchingType(t InterfaceType) ErrorCode {
	for _, name := range o.registry.tetherableIfaces() {
		if e, ok := o.registry.Get(name); ok && e.Type == t {
			return o.Tether(name)
		}
	}
	return UnknownIface
}

// untetherMatchingType unrequests every tracked interface of type t.
func (o *Orchestrator) untetherMatchingType(t InterfaceType) {
	for _, name := range o.registry.tetherableIfaces() {
		if e, ok := o.registry.Get(name); ok && e.Type == t {
			o.Untether(name)
		}
	}
}

// classifyInterfaceType matches name against the configured per-type regex
// lists, tried in WIFI, USB, BLUETOOTH order; the first match wins. An
// interface matching none of the configured patterns is InterfaceInvalid and
// must be ignored rather than tracked.
func (o *Orchestrator) classifyInterfaceType(name string) InterfaceType {
	cfg := o.config()
	if cfg == nil {
		return InterfaceInvalid
	}
	switch {
	case matchesAny(cfg.TetherableWifiRegexs, name):
		return InterfaceWifi
	case matchesAny(cfg.TetherableUsbRegexs, name):
		return InterfaceUSB
	case matchesAny(cfg.TetherableBluetoothRegexs, name):
		return InterfaceBluetooth
	default:
		return InterfaceInvalid
	}
}

// matchesAny reports whether name matches any pattern in patterns. An
// invalid pattern is skipped rather than treated as a match.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// interfaceAdded installs a fresh registry entry and spawns its ifaceSM if
// iface isn't already tracked.
func (o *Orchestrator) interfaceAdded(name string, ifType InterfaceType) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.registry.Get(name); ok {
		return
	}

	handle := uuid.New()
	sm := newIfaceSM(name, ifType, handle, o.registry, o.master.Inbox(), o.nmsCli, o.log)
	entry := &TetherEntry{Handle: handle, Type: ifType, LastState: StateAvailable, sm: sm}
	o.registry.put(name, entry)

	if o.ctx != nil {
		o.wg.Add(1)
		go func() { defer o.wg.Done(); sm.run(o.ctx) }()
	}
}

// interfaceStatusChanged applies the link-down policy: USB and Wi-Fi ignore
// an administrative down (they only tear down on removal), Bluetooth acts
// on it immediately since its PAN link has no separate removal signal.
func (o *Orchestrator) interfaceStatusChanged(ctx context.Context, name string, up bool) {
	if up {
		return
	}
	entry, ok := o.registry.Get(name)
	if !ok {
		return
	}
	if entry.Type == InterfaceBluetooth {
		o.sendToIface(name, msgInterfaceDown{})
		o.registry.Remove(name)
	}
}

func (o *Orchestrator) interfaceRemoved(ctx context.Context, name string) {
	o.sendToIface(name, msgInterfaceDown{})
	o.registry.Remove(name)
}

func (o *Orchestrator) onSIMStateChanged(state string) {
	for _, t := range o.provisioning.OnSIMStateChanged(state) {
		o.log.Info("re-running provisioning after SIM reload", "type", t)
		typ := t
		go func() {
			_, _ = o.provisioning.Check(o.ctxOrBackground(), o.config(), typ, false)
		}()
	}
}

func (o *Orchestrator) ctxOrBackground() context.Context {
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

func (o *Orchestrator) sendToIface(name string, msg ifaceMsg) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.registry.Get(name)
	if !ok || entry.sm == nil {
		return
	}
	select {
	case entry.sm.inbox <- msg:
	default:
		o.log.Warn("ifaceSM inbox full, dropping message", "iface", name)
	}
}

// StartTethering is CMD_START_TETHERING: the user-facing entry point for
// enabling a whole radio type. It runs the provisioning gate, then calls the
// matching setXxxTethering(true), which owns the pending-flag/broadcast
// handshake for that radio type.
func (o *Orchestrator) StartTethering(ctx context.Context, t InterfaceType, sink ResultSink, showUI bool) {
	if sink == nil {
		sink = noopSink{}
	}

	ok, err := o.provisioning.Check(ctx, o.config(), t, showUI)
	if err != nil || !ok {
		sink.Send(ServiceUnavail)
		return
	}

	var code ErrorCode
	switch t {
	case InterfaceUSB:
		code = o.SetUsbTethering(ctx, true)
	case InterfaceWifi:
		code = o.SetWifiTethering(ctx, true)
	case InterfaceBluetooth:
		code = o.SetBluetoothTethering(ctx, true)
	default:
		sink.Send(UnknownIface)
		return
	}
	if code != NoError {
		o.provisioning.CancelRecheck(t)
	}
	sink.Send(code)
}

// StopTethering is CMD_STOP_TETHERING for a whole radio type.
func (o *Orchestrator) StopTethering(ctx context.Context, t InterfaceType) ErrorCode {
	o.provisioning.CancelRecheck(t)

	switch t {
	case InterfaceUSB:
		return o.SetUsbTethering(ctx, false)
	case InterfaceWifi:
		return o.SetWifiTethering(ctx, false)
	case InterfaceBluetooth:
		return o.SetBluetoothTethering(ctx, false)
	default:
		return UnknownIface
	}
}

// Tether is CMD_TETHER_REQUESTED for a single already-tracked interface.
func (o *Orchestrator) Tether(name string) ErrorCode {
	entry, ok := o.registry.Get(name)
	if !ok {
		return UnknownIface
	}
	if entry.LastState == StateUnavailable {
		return UnavailIface
	}
	o.sendToIface(name, msgTetherRequested{})
	return NoError
}

// Untether is CMD_TETHER_UNREQUESTED for a single tracked interface.
func (o *Orchestrator) Untether(name string) ErrorCode {
	if _, ok := o.registry.Get(name); !ok {
		return UnknownIface
	}
	o.sendToIface(name, msgTetherUnrequested{})
	return NoError
}

// UntetherAll unrequests every currently tethered interface.
func (o *Orchestrator) UntetherAll() {
	for _, name := range o.registry.tetheredIfaces() {
		o.sendToIface(name, msgTetherUnrequested{})
	}
}

// GetTetheredIfaces returns the names of every interface in StateTethered.
func (o *Orchestrator) GetTetheredIfaces() []string { return o.registry.tetheredIfaces() }

// GetTetherableIfaces returns the names of every tracked interface.
func (o *Orchestrator) GetTetherableIfaces() []string { return o.registry.tetherableIfaces() }

// GetErroredIfaces returns the names of every interface with a sticky error.
func (o *Orchestrator) GetErroredIfaces() []string { return o.registry.erroredIfaces() }

// GetLastTetherError returns the sticky error code for iface, or
// UnknownIface if it isn't tracked.
func (o *Orchestrator) GetLastTetherError(name string) ErrorCode {
	e, ok := o.registry.Get(name)
	if !ok {
		return UnknownIface
	}
	return e.LastError
}

// IsRequested reports t's pending-request flag. StartTethering sets it;
// StopTethering, a failed radio enable and, for Wi-Fi, an AP
// DISABLING/DISABLED/FAILED broadcast clear it.
func (o *Orchestrator) IsRequested(t InterfaceType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch t {
	case InterfaceUSB:
		return o.usbRequested
	case InterfaceWifi:
		return o.wifiRequested
	case InterfaceBluetooth:
		return o.btRequested
	default:
		return false
	}
}

// ClearErrors drives CMD_CLEAR_ERROR into the master.
func (o *Orchestrator) ClearErrors() {
	o.master.Inbox() <- masterMsgClearError{}
}

// SetUsbTethering is the USB RNDIS convenience entry point. If RNDIS is
// already up it tethers the matching usb iface immediately; otherwise it
// requests RNDIS and marks mUsbTetherRequested pending, and
// handleUSBStateEvent completes the tether once the connected+RNDIS
// broadcast arrives. Disabling always tears down the matching iface and
// clears the pending flag; mRndisEnabled is cleared only once the radio
// accepts the disable.
func (o *Orchestrator) SetUsbTethering(ctx context.Context, enable bool) ErrorCode {
	if o.usb == nil {
		return ServiceUnavail
	}

	if enable {
		o.mu.Lock()
		rndisOn := o.rndisEnabled
		o.usbRequested = true
		o.mu.Unlock()

		if rndisOn {
			return o.tetherMatchingType(InterfaceUSB)
		}
		if err := o.usb.SetEnabled(ctx, true); err != nil {
			o.log.Warn("set usb tethering failed", "error", err)
			o.mu.Lock()
			o.usbRequested = false
			o.mu.Unlock()
			return ServiceUnavail
		}
		return NoError
	}

	o.mu.Lock()
	o.usbRequested = false
	o.mu.Unlock()
	o.untetherMatchingType(InterfaceUSB)
	if err := o.usb.SetEnabled(ctx, false); err != nil {
		o.log.Warn("clear usb tethering failed", "error", err)
		return ServiceUnavail
	}
	o.mu.Lock()
	o.rndisEnabled = false
	o.mu.Unlock()
	return NoError
}

// SetWifiTethering is the Wi-Fi soft-AP convenience entry point. Enabling
// marks mWifiTetherRequested pending and asks the soft-AP to come up;
// handleWifiAPStateEvent completes the tether on ENABLED and clears the
// flag on any DISABLING/DISABLED/FAILED. Disabling always tears down the
// matching iface and clears the flag directly, since stopTethering must
// not wait on a broadcast that may never arrive.
func (o *Orchestrator) SetWifiTethering(ctx context.Context, enable bool) ErrorCode {
	if o.wifi == nil {
		return ServiceUnavail
	}

	if enable {
		o.mu.Lock()
		o.wifiRequested = true
		o.mu.Unlock()
		if err := o.wifi.SetEnabled(ctx, true); err != nil {
			o.log.Warn("set wifi tethering failed", "error", err)
			o.mu.Lock()
			o.wifiRequested = false
			o.mu.Unlock()
			return ServiceUnavail
		}
		return NoError
	}

	o.mu.Lock()
	o.wifiRequested = false
	o.mu.Unlock()
	o.untetherMatchingType(InterfaceWifi)
	if err := o.wifi.SetEnabled(ctx, false); err != nil {
		o.log.Warn("clear wifi tethering failed", "error", err)
		return ServiceUnavail
	}
	return NoError
}

// SetBluetoothTethering is the Bluetooth PAN convenience entry point.
// IsTetheringOn's racy semantics (see BluetoothController) are preserved:
// callers should treat it as a hint, not a synchronization point.
func (o *Orchestrator) SetBluetoothTethering(ctx context.Context, enable bool) ErrorCode {
	if o.bt == nil {
		return ServiceUnavail
	}
	o.mu.Lock()
	o.btRequested = enable
	o.mu.Unlock()
	if err := o.bt.SetEnabled(ctx, enable); err != nil {
		o.log.Warn("set bluetooth tethering failed", "error", err, "enable", enable)
		o.mu.Lock()
		o.btRequested = !enable
		o.mu.Unlock()
		return ServiceUnavail
	}
	return NoError
}

// IsBluetoothTetheringOn reports the controller's last-observed PAN state.
// It is a racy read by design; see BluetoothController.
func (o *Orchestrator) IsBluetoothTetheringOn(ctx context.Context) (bool, error) {
	if o.bt == nil {
		return false, nil
	}
	return o.bt.IsTetheringOn(ctx)
}

// AsService adapts the Orchestrator to the services.Service lifecycle
// interface so it can be supervised alongside the rest of the daemon's
// services uniformly.
func (o *Orchestrator) AsService() *ServiceAdapter {
	return &ServiceAdapter{orch: o}
}

// ServiceAdapter implements services.Service over an Orchestrator. It is a
// thin shim: the interface's Start/Stop take no result beyond an error,
// while the orchestrator's own Start/Stop are synchronous and errorless, so
// this just bridges the two shapes.
type ServiceAdapter struct {
	orch *Orchestrator

	mu      sync.Mutex
	running bool
	lastErr error
}

// Name identifies the service for status reporting.
func (a *ServiceAdapter) Name() string { return "tether" }

// Reload swaps in a new tethering configuration without restarting the
// orchestrator; it never reports a restart since UpdateConfig applies live.
func (a *ServiceAdapter) Reload(cfg *config.Config) (bool, error) {
	if cfg == nil || cfg.Tethering == nil {
		return false, nil
	}
	a.orch.UpdateConfig(cfg.Tethering)
	return false, nil
}

// Start begins the orchestrator's run loop.
func (a *ServiceAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orch.Start(ctx)
	a.running = true
	a.lastErr = nil
	return nil
}

// Stop tears down every tethered interface and halts the run loop.
func (a *ServiceAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orch.UntetherAll()
	a.orch.Stop()
	a.running = false
	return nil
}

// Status reports whether the orchestrator's loop is currently running.
func (a *ServiceAdapter) Status() services.ServiceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := services.ServiceStatus{Name: "tether", Running: a.running}
	if a.lastErr != nil {
		status.Error = a.lastErr.Error()
	}
	return status
}
