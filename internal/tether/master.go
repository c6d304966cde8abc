// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"
	"time"

	"grimm.is/tetherd/internal/clock"
	"grimm.is/tetherd/internal/config"
	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/tether/nms"
	"grimm.is/tetherd/internal/tether/upstream"
)

// UpstreamSettleTime is how long the master waits before retrying upstream
// selection when nothing was found and tryCell was already attempted.
const UpstreamSettleTime = 10 * time.Second

// masterPhase is the master state machine's coarse phase. Its five
// near-identical error subclasses are modeled as a single ErrorState
// discriminated by errCode, per the design note on sum types rather
// than five distinct Go types.
type masterPhase int

const (
	masterInitial masterPhase = iota
	masterAlive
	masterErrorState
)

// LifecycleHook is an opaque, lifecycle-tied collaborator started on entry
// to TetherModeAlive and stopped on exit (e.g. the SIM-change listener or
// the offload-to-hardware controller). Non-goal: the core does not
// implement what's behind the hook, only drives its start/stop.
type LifecycleHook interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// noopHook is used where the caller has no concrete collaborator to wire.
type noopHook struct{}

func (noopHook) Start(context.Context) error { return nil }
func (noopHook) Stop(context.Context) error  { return nil }

// MetricsSink receives master state-machine observability signals. Nil is
// a valid, no-op sink.
type MetricsSink interface {
	SetMasterState(state string)
	SetTetheredCount(n int)
	IncErrors(code string)
}

type noopMetrics struct{}

func (noopMetrics) SetMasterState(string) {}
func (noopMetrics) SetTetheredCount(int)  {}
func (noopMetrics) IncErrors(string)      {}

// masterMsg is the message set consumed by the master state machine.
type masterMsg interface{ isMasterMsg() }

type masterMsgTetherModeRequested struct {
	handle Handle
	name   string
	inbox  chan ifaceMsg
}
type masterMsgTetherModeUnrequested struct{ handle Handle }
type masterMsgUpstreamChanged struct{}
type masterMsgRetryUpstream struct{}
type masterMsgUpstreamCallback struct {
	kind  upstream.Event
	state upstream.NetworkState
}
type masterMsgClearError struct{}

func (masterMsgTetherModeRequested) isMasterMsg()   {}
func (masterMsgTetherModeUnrequested) isMasterMsg() {}
func (masterMsgUpstreamChanged) isMasterMsg()       {}
func (masterMsgRetryUpstream) isMasterMsg()         {}
func (masterMsgUpstreamCallback) isMasterMsg()      {}
func (masterMsgClearError) isMasterMsg()            {}

// Master is the master state machine: exactly one exists process-wide. It
// owns upstream selection, the IP-forwarding master switch, the DHCP range
// lifecycle, DNS-forwarder programming and global error recovery.
type Master struct {
	inbox chan masterMsg

	phase   masterPhase
	errCode ErrorCode

	requestList []Handle
	dispatch    map[Handle]chan<- ifaceMsg

	currentUpstream string
	tryCell         bool

	cfg      *config.Tethering
	registry *Registry
	nmsCli   nms.Client
	monitor  upstream.Monitor
	simHook  LifecycleHook
	offload  LifecycleHook
	clk      clock.Clock
	metrics  MetricsSink
	log      *logging.Logger
}

// NewMaster constructs a Master. simHook/offload/metrics may be nil.
func NewMaster(cfg *config.Tethering, registry *Registry, nmsCli nms.Client, monitor upstream.Monitor, simHook, offload LifecycleHook, metrics MetricsSink, clk clock.Clock, log *logging.Logger) *Master {
	if simHook == nil {
		simHook = noopHook{}
	}
	if offload == nil {
		offload = noopHook{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Master{
		inbox:    make(chan masterMsg, 64),
		dispatch: make(map[Handle]chan<- ifaceMsg),
		cfg:      cfg,
		registry: registry,
		nmsCli:   nmsCli,
		monitor:  monitor,
		simHook:  simHook,
		offload:  offload,
		clk:      clk,
		metrics:  metrics,
		log:      log.WithComponent("master"),
	}
}

// Inbox returns the channel interface SMs and the orchestrator send
// commands on.
func (m *Master) Inbox() chan<- masterMsg { return m.inbox }

// UpdateConfig swaps in a freshly rebuilt configuration snapshot. Safe to
// call from any goroutine; it is only ever read by the master loop.
func (m *Master) UpdateConfig(cfg *config.Tethering) {
	m.cfg = cfg
}

// Run is the master's single-threaded event loop. It blocks until ctx is
// canceled.
func (m *Master) Run(ctx context.Context) {
	go m.forwardUpstreamEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.inbox:
			m.handle(ctx, msg)
		}
	}
}

func (m *Master) forwardUpstreamEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cb, ok := <-m.monitor.Events():
			if !ok {
				return
			}
			select {
			case m.inbox <- masterMsgUpstreamCallback{kind: cb.Kind, state: cb.State}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Master) handle(ctx context.Context, msg masterMsg) {
	switch t := msg.(type) {
	case masterMsgTetherModeRequested:
		m.onTetherModeRequested(ctx, t)
	case masterMsgTetherModeUnrequested:
		m.onTetherModeUnrequested(ctx, t)
	case masterMsgUpstreamChanged:
		m.selectUpstream(ctx, true)
		m.tryCell = false
	case masterMsgRetryUpstream:
		m.selectUpstream(ctx, m.tryCell)
	case masterMsgUpstreamCallback:
		m.onUpstreamCallback(ctx, t)
	case masterMsgClearError:
		m.onClearError()
	}
}

func (m *Master) onTetherModeRequested(ctx context.Context, t masterMsgTetherModeRequested) {
	if _, known := m.dispatch[t.handle]; !known {
		m.requestList = append(m.requestList, t.handle)
	}
	m.dispatch[t.handle] = t.inbox

	switch m.phase {
	case masterInitial:
		m.enterAlive(ctx)
	case masterAlive:
		t.inbox <- msgConnectionChanged{upstream: m.currentUpstream, hasUpstream: m.currentUpstream != ""}
	case masterErrorState:
		// Stays queued; will be serviced once CMD_CLEAR_ERROR runs.
	}
}

func (m *Master) onTetherModeUnrequested(ctx context.Context, t masterMsgTetherModeUnrequested) {
	for i, h := range m.requestList {
		if h == t.handle {
			m.requestList = append(m.requestList[:i], m.requestList[i+1:]...)
			break
		}
	}
	delete(m.dispatch, t.handle)

	if len(m.requestList) != 0 || m.phase != masterAlive {
		return
	}

	if err := m.nmsCli.StopTethering(ctx); err != nil {
		m.enterError(ctx, StopTetheringError)
		return
	}
	if err := m.nmsCli.SetIPForwardingEnabled(ctx, false); err != nil {
		m.enterError(ctx, IPForwardingDisableError)
		return
	}
	m.exitAlive(ctx)
	m.phase = masterInitial
	m.metrics.SetMasterState("initial")
}

func (m *Master) onUpstreamCallback(ctx context.Context, t masterMsgUpstreamCallback) {
	if t.state.Network != m.currentUpstream && m.currentUpstream == "" {
		m.selectUpstream(ctx, false)
		return
	}
	switch t.kind {
	case upstream.EventAvailable:
		// no-op
	case upstream.EventCapabilities:
		m.handleNewUpstreamNetworkState(ctx, &t.state)
	case upstream.EventLinkProperties:
		m.programDNS(ctx, t.state)
		m.handleNewUpstreamNetworkState(ctx, &t.state)
	case upstream.EventLost:
		m.handleNewUpstreamNetworkState(ctx, nil)
	}
}

func (m *Master) onClearError() {
	if m.phase != masterErrorState {
		return
	}
	m.phase = masterInitial
	m.errCode = NoError
	m.registry.clearAllErrors()
	m.metrics.SetMasterState("initial")
}

// enterAlive runs the TetherModeAlive entry sequence.
func (m *Master) enterAlive(ctx context.Context) {
	if err := m.nmsCli.SetIPForwardingEnabled(ctx, true); err != nil {
		m.enterError(ctx, IPForwardingEnableError)
		return
	}

	dhcpRanges := []string{}
	if m.cfg != nil {
		dhcpRanges = m.cfg.DHCPRanges
	}
	if err := m.nmsCli.StartTethering(ctx, dhcpRanges); err != nil {
		_ = m.nmsCli.StopTethering(ctx)
		if err2 := m.nmsCli.StartTethering(ctx, dhcpRanges); err2 != nil {
			_ = m.nmsCli.SetIPForwardingEnabled(ctx, false)
			m.enterError(ctx, StartTetheringError)
			return
		}
	}

	if err := m.monitor.Start(ctx); err != nil {
		m.log.Warn("upstream monitor start failed", "error", err)
	}
	if err := m.simHook.Start(ctx); err != nil {
		m.log.Warn("sim listener start failed", "error", err)
	}
	if err := m.offload.Start(ctx); err != nil {
		m.log.Warn("offload controller start failed", "error", err)
	}

	m.phase = masterAlive
	m.metrics.SetMasterState("alive")
	m.selectUpstream(ctx, true)
}

// exitAlive runs the TetherModeAlive exit sequence.
func (m *Master) exitAlive(ctx context.Context) {
	if err := m.offload.Stop(ctx); err != nil {
		m.log.Warn("offload controller stop failed", "error", err)
	}
	m.monitor.ReleaseMobile()
	m.monitor.Stop()
	if err := m.simHook.Stop(ctx); err != nil {
		m.log.Warn("sim listener stop failed", "error", err)
	}
	m.notifyAll("", false)
	m.currentUpstream = ""
}

// enterError transitions into the error phase, broadcasting code to every
// SM on the request list and best-effort reverting IP forwarding.
func (m *Master) enterError(ctx context.Context, code ErrorCode) {
	m.phase = masterErrorState
	m.errCode = code
	m.metrics.SetMasterState("error")
	m.metrics.IncErrors(code.String())
	for _, h := range m.requestList {
		if ch, ok := m.dispatch[h]; ok {
			ch <- msgIfaceError{code: code}
		}
	}
	_ = m.nmsCli.SetIPForwardingEnabled(ctx, false)
}

// selectUpstream implements the upstream-selection algorithm.
func (m *Master) selectUpstream(ctx context.Context, tryCell bool) {
	preferred := []string{}
	dunRequired := false
	if m.cfg != nil {
		preferred = m.cfg.PreferredUpstreamIfaceTypes
		dunRequired = m.cfg.IsDunRequired
	}

	var chosen *upstream.NetworkState
	for _, typeName := range preferred {
		for _, ns := range m.monitor.Networks() {
			if ns.Type == typeName && ns.Connected {
				candidate := ns
				chosen = &candidate
				break
			}
		}
		if chosen != nil {
			break
		}
	}

	var upType UpstreamType
	if chosen != nil {
		upType = ParseUpstreamType(chosen.Type)
	}

	switch {
	case chosen != nil && upType.isMobile():
		m.monitor.RequestMobile(upType == UpstreamMobileDun || dunRequired)
	case chosen == nil && tryCell:
		m.monitor.RequestMobile(dunRequired)
	case chosen == nil:
		m.scheduleRetry(ctx)
		m.handleNewUpstreamNetworkState(ctx, nil)
		return
	default:
		m.monitor.ReleaseMobile()
	}

	if chosen == nil {
		m.handleNewUpstreamNetworkState(ctx, nil)
		return
	}
	m.programDNS(ctx, *chosen)
	m.handleNewUpstreamNetworkState(ctx, chosen)
}

// scheduleRetry arms a single delayed CMD_RETRY_UPSTREAM. There is no
// explicit cancellation: a subsequent CMD_UPSTREAM_CHANGED supersedes it by
// flipping tryCell, so a stale firing just re-runs selection with whatever
// tryCell holds at that point.
func (m *Master) scheduleRetry(ctx context.Context) {
	ch := m.clk.After(UpstreamSettleTime)
	go func() {
		select {
		case <-ch:
			select {
			case m.inbox <- masterMsgRetryUpstream{}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
}

// handleNewUpstreamNetworkState resolves the new upstream (or none) and
// notifies every SM on the request list.
func (m *Master) handleNewUpstreamNetworkState(ctx context.Context, ns *upstream.NetworkState) {
	newUpstream := ""
	if ns != nil && ns.Connected {
		for _, r := range ns.LinkProperties.Routes {
			if r.IsDefault {
				newUpstream = ns.Network
				break
			}
		}
	}
	m.currentUpstream = newUpstream
	m.notifyAll(newUpstream, newUpstream != "")
}

func (m *Master) programDNS(ctx context.Context, ns upstream.NetworkState) {
	dnsServers := ns.LinkProperties.DNS
	if len(dnsServers) == 0 && m.cfg != nil {
		dnsServers = m.cfg.DefaultIPv4DNS
	}
	if len(dnsServers) == 0 {
		return
	}
	if err := m.nmsCli.SetDNSForwarders(ctx, ns.Network, dnsServers); err != nil {
		m.enterError(ctx, SetDNSForwardersError)
	}
}

func (m *Master) notifyAll(upstreamIface string, has bool) {
	m.metrics.SetTetheredCount(len(m.registry.tetheredIfaces()))
	for _, h := range m.requestList {
		if ch, ok := m.dispatch[h]; ok {
			ch <- msgConnectionChanged{upstream: upstreamIface, hasUpstream: has}
		}
	}
}
