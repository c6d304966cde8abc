// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"

	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/tether/nms"
)

// ifaceLocalState is the per-interface state machine's internal state. It
// refines InterfaceState with a transient "starting" phase that is not
// itself externally visible (Starting reports as AVAILABLE to the
// registry until an upstream arrives).
type ifaceLocalState int

const (
	ifaceAvailable ifaceLocalState = iota
	ifaceStarting
	ifaceTethered
)

// ifaceMsg is the message set consumed by a per-interface state machine.
// Exactly one ifaceSM goroutine processes these, in the order they were
// sent by any one source (in-order delivery per source).
type ifaceMsg interface{ isIfaceMsg() }

type msgTetherRequested struct{}
type msgTetherUnrequested struct{}
type msgInterfaceDown struct{}
type msgConnectionChanged struct {
	upstream    string
	hasUpstream bool
}
type msgIfaceError struct{ code ErrorCode }

func (msgTetherRequested) isIfaceMsg()    {}
func (msgTetherUnrequested) isIfaceMsg()  {}
func (msgInterfaceDown) isIfaceMsg()      {}
func (msgConnectionChanged) isIfaceMsg()  {}
func (msgIfaceError) isIfaceMsg()         {}

// ifaceSM is one per-downstream-interface state machine. Its lifecycle is
// coupled to the master via request/unrequest messages; it never talks to
// another ifaceSM directly.
type ifaceSM struct {
	name    string
	ifType  InterfaceType
	handle  Handle
	inbox   chan ifaceMsg
	state   ifaceLocalState
	current string // current upstream iface name, "" if none

	registry    *Registry
	masterInbox chan<- masterMsg
	nmsClient   nms.Client
	log         *logging.Logger
}

func newIfaceSM(name string, ifType InterfaceType, handle Handle, registry *Registry, masterInbox chan<- masterMsg, client nms.Client, log *logging.Logger) *ifaceSM {
	return &ifaceSM{
		name:        name,
		ifType:      ifType,
		handle:      handle,
		inbox:       make(chan ifaceMsg, 16),
		state:       ifaceAvailable,
		registry:    registry,
		masterInbox: masterInbox,
		nmsClient:   client,
		log:         log.WithComponent("ifacesm").With("iface", name),
	}
}

// run is the single-threaded event loop for this interface's messages.
// It returns once the machine is torn down by CMD_INTERFACE_DOWN.
func (s *ifaceSM) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.inbox:
			if !ok {
				return
			}
			if s.handleMsg(ctx, m) {
				return
			}
		}
	}
}

// handleMsg processes one message and returns true if the machine has
// terminated (CMD_INTERFACE_DOWN).
func (s *ifaceSM) handleMsg(ctx context.Context, m ifaceMsg) bool {
	switch msg := m.(type) {
	case msgTetherRequested:
		s.onTetherRequested()
	case msgTetherUnrequested:
		s.onTetherUnrequested(ctx)
	case msgInterfaceDown:
		s.onInterfaceDown(ctx)
		return true
	case msgConnectionChanged:
		s.onConnectionChanged(ctx, msg)
	case msgIfaceError:
		s.onError(msg.code)
	}
	return false
}

func (s *ifaceSM) onTetherRequested() {
	if s.state != ifaceAvailable {
		return
	}
	s.state = ifaceStarting
	s.masterInbox <- masterMsgTetherModeRequested{handle: s.handle, name: s.name, inbox: s.inbox}
}

func (s *ifaceSM) onTetherUnrequested(ctx context.Context) {
	if s.state != ifaceStarting && s.state != ifaceTethered {
		return
	}
	if s.current != "" {
		if err := s.nmsClient.TeardownDownstream(ctx, s.name); err != nil {
			s.log.Warn("teardown downstream failed", "error", err)
		}
	}
	s.masterInbox <- masterMsgTetherModeUnrequested{handle: s.handle}
	s.state = ifaceAvailable
	s.current = ""
	s.registry.setState(s.name, StateAvailable)
}

func (s *ifaceSM) onInterfaceDown(ctx context.Context) {
	if s.state == ifaceStarting || s.state == ifaceTethered {
		if s.current != "" {
			if err := s.nmsClient.TeardownDownstream(ctx, s.name); err != nil {
				s.log.Warn("teardown downstream on interface-down failed", "error", err)
			}
		}
		s.masterInbox <- masterMsgTetherModeUnrequested{handle: s.handle}
	}
}

func (s *ifaceSM) onConnectionChanged(ctx context.Context, msg msgConnectionChanged) {
	if s.state != ifaceStarting && s.state != ifaceTethered {
		return
	}
	if !msg.hasUpstream {
		if s.current != "" {
			if err := s.nmsClient.TeardownDownstream(ctx, s.name); err != nil {
				s.log.Warn("drop forwarding on lost upstream failed", "error", err)
			}
		}
		s.current = ""
		// Starting stays Starting; Tethered stays Tethered awaiting the next upstream.
		return
	}

	if err := s.nmsClient.ProgramDownstream(ctx, s.name, msg.upstream); err != nil {
		s.log.Warn("program downstream failed", "error", err, "upstream", msg.upstream)
		return
	}
	s.current = msg.upstream
	if s.state == ifaceStarting {
		s.state = ifaceTethered
		s.registry.setState(s.name, StateTethered)
	}
}

func (s *ifaceSM) onError(code ErrorCode) {
	s.registry.setError(s.name, code)
	s.state = ifaceAvailable
	s.current = ""
	s.registry.setState(s.name, StateAvailable)
}
