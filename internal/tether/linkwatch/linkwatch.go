// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package linkwatch is the concrete producer side of the event bus: it
// turns raw netlink link events and D-Bus broadcasts into the normalized
// eventbus.Event types the orchestrator consumes. It owns its own
// subscriptions end to end (dial, watch loop, unsubscribe on Stop) so no
// other component has to manage OS broadcast-receiver lifetimes.
package linkwatch

import (
	"context"
	"strings"
	"sync"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"

	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/tether/eventbus"
)

const (
	rtmNewlink = syscall.RTM_NEWLINK
	rtmDellink = syscall.RTM_DELLINK
)

// Watcher watches the host's netlink link table and, optionally, a system
// D-Bus for USB/Wi-Fi-AP/SIM broadcasts, publishing normalized events onto
// a Bus.
type Watcher struct {
	bus *eventbus.Bus
	log *logging.Logger

	conn   *netlink.Conn
	rtConn *rtnetlink.Conn
	dbus   *dbus.Conn

	mu       sync.Mutex
	lastUp   map[uint32]bool
	known    map[uint32]string
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New dials the netlink link-table socket. It does not fail if a system
// D-Bus is unreachable (USB/Wi-Fi-AP/SIM broadcasts are then simply never
// observed) since not every target has one.
func New(bus *eventbus.Bus, log *logging.Logger) (*Watcher, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{Groups: 0x1}) // RTMGRP_LINK
	if err != nil {
		return nil, err
	}
	rtConn, err := rtnetlink.Dial(nil)
	if err != nil {
		conn.Close()
		return nil, err
	}

	w := &Watcher{
		bus:    bus,
		log:    log.WithComponent("linkwatch"),
		conn:   conn,
		rtConn: rtConn,
		lastUp: make(map[uint32]bool),
		known:  make(map[uint32]string),
		stopCh: make(chan struct{}),
	}

	if dbusConn, err := dbus.SystemBus(); err == nil {
		w.dbus = dbusConn
	} else {
		w.log.Warn("system bus unavailable, USB/wifi-ap/SIM broadcasts disabled", "error", err)
	}

	return w, nil
}

// Run watches until ctx is canceled or Stop is called. It blocks, so call
// it from its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	var dbusCh chan *dbus.Signal
	if w.dbus != nil {
		dbusCh = make(chan *dbus.Signal, 32)
		w.dbus.Signal(dbusCh)
		w.addDBusMatches()
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	go w.watchLinks()

	if dbusCh == nil {
		<-w.stopCh
		return
	}
	for {
		select {
		case <-w.stopCh:
			return
		case sig, ok := <-dbusCh:
			if !ok {
				return
			}
			w.handleSignal(sig)
		}
	}
}

// Stop tears down both subscriptions. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.conn.Close()
		w.rtConn.Close()
		if w.dbus != nil {
			w.dbus.Close()
		}
	})
}

func (w *Watcher) addDBusMatches() {
	matches := []string{
		"type='signal',interface='org.freedesktop.ModemManager1.Sim',member='PropertiesChanged'",
		"type='signal',interface='org.freedesktop.NetworkManager.Device',member='StateChanged'",
		"type='signal',interface='grimm.is.tetherd.WifiAP',member='StateChanged'",
		"type='signal',interface='grimm.is.tetherd.USB',member='StateChanged'",
	}
	for _, m := range matches {
		if call := w.dbus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, m); call.Err != nil {
			w.log.Warn("add dbus match failed", "match", m, "error", call.Err)
		}
	}
}

func (w *Watcher) handleSignal(sig *dbus.Signal) {
	switch {
	case strings.HasSuffix(sig.Name, ".Sim.PropertiesChanged"):
		if state := simStateFromSignal(sig); state != "" {
			w.bus.Publish(eventbus.SIMStateEvent{State: state})
		}
	case strings.HasSuffix(sig.Name, "WifiAP.StateChanged"):
		if len(sig.Body) > 0 {
			if s, ok := sig.Body[0].(uint32); ok {
				w.bus.Publish(eventbus.WifiAPStateEvent{State: eventbus.WifiAPState(s)})
			}
		}
	case strings.HasSuffix(sig.Name, "USB.StateChanged"):
		if len(sig.Body) >= 2 {
			connected, _ := sig.Body[0].(bool)
			rndis, _ := sig.Body[1].(bool)
			w.bus.Publish(eventbus.USBStateEvent{Connected: connected, RNDISEnabled: rndis})
		}
	}
}

// simStateFromSignal extracts a "State" key from a ModemManager-style
// PropertiesChanged(interface, changed map[string]dbus.Variant, invalidated)
// signal body.
func simStateFromSignal(sig *dbus.Signal) string {
	if len(sig.Body) < 2 {
		return ""
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ""
	}
	v, ok := changed["State"]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func (w *Watcher) watchLinks() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		msgs, err := w.conn.Receive()
		if err != nil {
			select {
			case <-w.stopCh:
				return
			default:
				w.log.Warn("netlink receive error", "error", err)
				continue
			}
		}
		for _, msg := range msgs {
			w.handleLinkMessage(msg)
		}
	}
}

func (w *Watcher) handleLinkMessage(msg netlink.Message) {
	switch msg.Header.Type {
	case rtmNewlink:
		w.onLinkUpdate(msg.Data)
	case rtmDellink:
		w.onLinkRemoved(msg.Data)
	}
}

func (w *Watcher) onLinkUpdate(data []byte) {
	var lm rtnetlink.LinkMessage
	if err := lm.UnmarshalBinary(data); err != nil {
		return
	}
	name := lm.Attributes.Name
	if name == "" || name == "lo" {
		return
	}

	up := lm.Attributes.OperationalState == rtnetlink.OperStateUp

	w.mu.Lock()
	w.known[lm.Index] = name
	wasUp, seen := w.lastUp[lm.Index]
	w.lastUp[lm.Index] = up
	w.mu.Unlock()

	if seen && wasUp == up {
		return
	}
	if up {
		w.bus.Publish(eventbus.InterfaceUpEvent{Name: name})
	} else {
		w.bus.Publish(eventbus.InterfaceDownEvent{Name: name})
	}
}

func (w *Watcher) onLinkRemoved(data []byte) {
	var lm rtnetlink.LinkMessage
	if err := lm.UnmarshalBinary(data); err != nil {
		return
	}
	name := lm.Attributes.Name

	w.mu.Lock()
	if name == "" {
		name = w.known[lm.Index]
	}
	delete(w.known, lm.Index)
	delete(w.lastUp, lm.Index)
	w.mu.Unlock()

	if name == "" || name == "lo" {
		return
	}
	w.bus.Publish(eventbus.InterfaceRemovedEvent{Name: name})
}
