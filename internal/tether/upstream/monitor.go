// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package upstream implements the upstream network monitor: it observes
// which host interfaces carry a usable IPv4 default route, classifies them
// by type, and reports transitions to the master state machine as the
// AVAILABLE/CAPABILITIES/LINKPROPERTIES/LOST events described in .
package upstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/tetherd/internal/logging"
)

// Event is the kind of transition reported for a network.
type Event int

const (
	EventAvailable Event = iota
	EventCapabilities
	EventLinkProperties
	EventLost
)

func (e Event) String() string {
	switch e {
	case EventAvailable:
		return "AVAILABLE"
	case EventCapabilities:
		return "CAPABILITIES"
	case EventLinkProperties:
		return "LINKPROPERTIES"
	case EventLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Route mirrors the subset of a route's attributes the master cares about
// when resolving which interface carries the best IPv4 default route.
type Route struct {
	Interface string
	Gateway   string
	IsDefault bool
}

// LinkProperties is the observed property set of a candidate network.
type LinkProperties struct {
	Interfaces []string
	Routes     []Route
	DNS        []string
}

// NetworkState is the monitor's view of one observed network, keyed by an
// opaque handle (here, the interface name: this daemon does not multiplex
// several logical networks per physical link).
type NetworkState struct {
	Network        string
	Type           string // "ETHERNET" | "WIFI" | "MOBILE_HIPRI" | "MOBILE_DUN"
	Connected      bool
	LinkProperties LinkProperties
}

// Callback is one message delivered to the master.
type Callback struct {
	Kind  Event
	State NetworkState
}

// Monitor is the upstream network monitor's public contract.
type Monitor interface {
	// Start begins observing. Idempotent. The cellular APN type is chosen
	// per call by RequestMobile's dun argument.
	Start(ctx context.Context) error
	// Stop cancels outstanding mobile requests and stops observing. Idempotent.
	Stop()
	// Lookup returns the current state of an already-known network.
	Lookup(network string) (NetworkState, bool)
	// Networks returns a snapshot of every currently tracked network,
	// used by the master's upstream-selection algorithm to rank candidates.
	Networks() []NetworkState
	// Events returns the channel of reported transitions.
	Events() <-chan Callback
	// RequestMobile asks the platform for a cellular connection of the
	// given APN type. A no-op stand-in here: the core has no bearer driver
	// to drive (Non-goal); it only needs the call to exist and be
	// idempotent/cancelable so the master's selection algorithm is exercised.
	RequestMobile(dun bool)
	// ReleaseMobile cancels any outstanding RequestMobile.
	ReleaseMobile()
	// Probe synchronously checks reachability of a candidate network's
	// gateway. The master's upstream selection does not call it; it ranks
	// candidates by preferred type and connected state only.
	Probe(ctx context.Context, network string) (time.Duration, error)
}

// NetlinkMonitor implements Monitor using the host's netlink route table.
type NetlinkMonitor struct {
	log *logging.Logger

	mu       sync.Mutex
	states   map[string]NetworkState
	events   chan Callback
	cancel   context.CancelFunc
	mobileOn bool
}

// NewNetlinkMonitor returns a NetlinkMonitor that has not yet been started.
func NewNetlinkMonitor(log *logging.Logger) *NetlinkMonitor {
	return &NetlinkMonitor{
		log:    log.WithComponent("upstream"),
		states: make(map[string]NetworkState),
		events: make(chan Callback, 32),
	}
}

// Start begins watching the route table for default-route changes.
func (m *NetlinkMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.refresh(); err != nil {
		m.log.Warn("initial route refresh failed", "error", err)
	}

	updates := make(chan netlink.RouteUpdate, 32)
	done := make(chan struct{})
	if err := netlink.RouteSubscribe(updates, done); err != nil {
		return fmt.Errorf("subscribe to route updates: %w", err)
	}

	go func() {
		<-runCtx.Done()
		close(done)
	}()
	go m.watch(runCtx, updates)
	return nil
}

// Stop cancels observation and outstanding mobile requests.
func (m *NetlinkMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mobileOn = false
}

// Lookup returns the last-known NetworkState for network.
func (m *NetlinkMonitor) Lookup(network string) (NetworkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[network]
	return s, ok
}

// Events returns the channel of reported transitions.
func (m *NetlinkMonitor) Events() <-chan Callback { return m.events }

// Networks returns a snapshot of every currently tracked network.
func (m *NetlinkMonitor) Networks() []NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NetworkState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out
}

// RequestMobile marks a cellular connection as wanted. There is no bearer
// driver behind this in-process (Non-goal); it exists so the master's
// upstream-selection algorithm has something to call.
func (m *NetlinkMonitor) RequestMobile(dun bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mobileOn = true
	m.log.Debug("mobile connection requested", "dun", dun)
}

// ReleaseMobile cancels any outstanding RequestMobile.
func (m *NetlinkMonitor) ReleaseMobile() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mobileOn {
		m.log.Debug("mobile connection released")
	}
	m.mobileOn = false
}

// Probe pings the candidate network's default gateway once and returns how
// long the ping took.
func (m *NetlinkMonitor) Probe(ctx context.Context, network string) (time.Duration, error) {
	state, ok := m.Lookup(network)
	if !ok || len(state.LinkProperties.Routes) == 0 {
		return 0, fmt.Errorf("no route information for %s", network)
	}

	var target string
	for _, r := range state.LinkProperties.Routes {
		if r.IsDefault && r.Gateway != "" {
			target = r.Gateway
			break
		}
	}
	if target == "" {
		return 0, fmt.Errorf("no default gateway for %s", network)
	}

	pinger, err := probing.NewPinger(target)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	start := time.Now()
	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no reply from %s", target)
	}
	return time.Since(start), nil
}

func (m *NetlinkMonitor) watch(ctx context.Context, updates <-chan netlink.RouteUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if err := m.refresh(); err != nil {
				m.log.Warn("route refresh failed", "error", err)
			}
		}
	}
}

// refresh re-derives NetworkState for every link carrying an IPv4 default
// route and emits the appropriate Callback for anything that changed.
func (m *NetlinkMonitor) refresh() error {
	links, err := netlink.LinkList()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(links))
	for _, link := range links {
		name := link.Attrs().Name
		if name == "lo" {
			continue
		}
		seen[name] = true

		routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
		if err != nil {
			continue
		}

		var rs []Route
		hasDefault := false
		for _, r := range routes {
			isDefault := r.Dst == nil
			gw := ""
			if r.Gw != nil {
				gw = r.Gw.String()
			}
			if isDefault {
				hasDefault = true
			}
			rs = append(rs, Route{Interface: name, Gateway: gw, IsDefault: isDefault})
		}

		next := NetworkState{
			Network:   name,
			Type:      classify(name),
			Connected: hasDefault,
			LinkProperties: LinkProperties{
				Interfaces: []string{name},
				Routes:     rs,
			},
		}

		m.mu.Lock()
		prev, existed := m.states[name]
		m.states[name] = next
		m.mu.Unlock()

		switch {
		case !existed && next.Connected:
			m.emit(Callback{Kind: EventAvailable, State: next})
			m.emit(Callback{Kind: EventLinkProperties, State: next})
		case existed && prev.Connected != next.Connected:
			if next.Connected {
				m.emit(Callback{Kind: EventLinkProperties, State: next})
			} else {
				m.emit(Callback{Kind: EventLost, State: next})
			}
		}
	}

	m.mu.Lock()
	for name, st := range m.states {
		if !seen[name] {
			delete(m.states, name)
			m.emit(Callback{Kind: EventLost, State: st})
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *NetlinkMonitor) emit(cb Callback) {
	select {
	case m.events <- cb:
	default:
		m.log.Warn("upstream event dropped, channel full", "network", cb.State.Network)
	}
}

// classify derives an upstream type from an interface name. Real
// classification on a production host would consult the platform's
// connectivity manager for capabilities; this heuristic is the device-side
// equivalent used when only link names are available.
func classify(name string) string {
	switch {
	case strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "en"):
		return "ETHERNET"
	case strings.HasPrefix(name, "wlan") || strings.HasPrefix(name, "wl"):
		return "WIFI"
	case strings.HasPrefix(name, "wwan") || strings.HasPrefix(name, "ppp") || strings.HasPrefix(name, "rmnet"):
		return "MOBILE_HIPRI"
	default:
		return "ETHERNET"
	}
}
