// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tetherd/internal/logging"
)

func testIfaceSM(t *testing.T, nmsCli *fakeNMS) (*ifaceSM, *Registry, chan masterMsg) {
	t.Helper()
	reg := NewRegistry()
	masterInbox := make(chan masterMsg, 8)
	handle := uuid.New()
	reg.put("wlan0", &TetherEntry{Handle: handle, Type: InterfaceWifi, LastState: StateAvailable})
	s := newIfaceSM("wlan0", InterfaceWifi, handle, reg, masterInbox, nmsCli, logging.New(logging.DefaultConfig()))
	return s, reg, masterInbox
}

func TestIfaceSMTetherRequestedSendsMasterRequestOnce(t *testing.T) {
	s, _, masterInbox := testIfaceSM(t, newFakeNMS())

	s.onTetherRequested()
	assert.Equal(t, ifaceStarting, s.state)

	select {
	case msg := <-masterInbox:
		req, ok := msg.(masterMsgTetherModeRequested)
		require.True(t, ok)
		assert.Equal(t, s.handle, req.handle)
	default:
		t.Fatal("expected a tether-mode-requested message to the master")
	}

	// A second request while already starting is a no-op.
	s.onTetherRequested()
	select {
	case <-masterInbox:
		t.Fatal("must not re-request tether mode while already starting")
	default:
	}
}

func TestIfaceSMConnectionChangedProgramsDownstreamAndMarksTethered(t *testing.T) {
	nmsCli := newFakeNMS()
	s, reg, _ := testIfaceSM(t, nmsCli)
	s.onTetherRequested()

	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})

	assert.Equal(t, ifaceTethered, s.state)
	assert.Equal(t, "eth0", s.current)
	assert.Equal(t, []string{"wlan0->eth0"}, nmsCli.programCalls)

	e, ok := reg.Get("wlan0")
	require.True(t, ok)
	assert.Equal(t, StateTethered, e.LastState)
}

func TestIfaceSMConnectionChangedIgnoredWhenAvailable(t *testing.T) {
	nmsCli := newFakeNMS()
	s, _, _ := testIfaceSM(t, nmsCli)

	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})

	assert.Equal(t, ifaceAvailable, s.state)
	assert.Empty(t, nmsCli.programCalls)
}

func TestIfaceSMConnectionLostTearsDownButStaysTethered(t *testing.T) {
	nmsCli := newFakeNMS()
	s, _, _ := testIfaceSM(t, nmsCli)
	s.onTetherRequested()
	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})
	require.Equal(t, ifaceTethered, s.state)

	s.onConnectionChanged(context.Background(), msgConnectionChanged{hasUpstream: false})

	assert.Equal(t, ifaceTethered, s.state, "losing the upstream does not revert a Tethered interface to Starting")
	assert.Empty(t, s.current)
	assert.Equal(t, []string{"wlan0"}, nmsCli.teardownCalls)
}

func TestIfaceSMTetherUnrequestedTearsDownAndNotifiesMaster(t *testing.T) {
	nmsCli := newFakeNMS()
	s, reg, masterInbox := testIfaceSM(t, nmsCli)
	s.onTetherRequested()
	<-masterInbox
	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})

	s.onTetherUnrequested(context.Background())

	assert.Equal(t, ifaceAvailable, s.state)
	assert.Empty(t, s.current)
	assert.Equal(t, []string{"wlan0"}, nmsCli.teardownCalls)

	e, _ := reg.Get("wlan0")
	assert.Equal(t, StateAvailable, e.LastState)

	select {
	case msg := <-masterInbox:
		unreq, ok := msg.(masterMsgTetherModeUnrequested)
		require.True(t, ok)
		assert.Equal(t, s.handle, unreq.handle)
	default:
		t.Fatal("expected a tether-mode-unrequested message to the master")
	}
}

func TestIfaceSMTetherUnrequestedWhileAvailableIsNoop(t *testing.T) {
	nmsCli := newFakeNMS()
	s, _, masterInbox := testIfaceSM(t, nmsCli)

	s.onTetherUnrequested(context.Background())

	select {
	case <-masterInbox:
		t.Fatal("must not notify the master when nothing was requested")
	default:
	}
}

func TestIfaceSMInterfaceDownTerminatesAndNotifiesMasterOnlyIfActive(t *testing.T) {
	nmsCli := newFakeNMS()
	s, _, masterInbox := testIfaceSM(t, nmsCli)

	// Down while merely Available: no master notification.
	s.onInterfaceDown(context.Background())
	select {
	case <-masterInbox:
		t.Fatal("must not notify the master for a down event on an available interface")
	default:
	}

	s.onTetherRequested()
	<-masterInbox
	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})

	terminated := s.handleMsg(context.Background(), msgInterfaceDown{})
	assert.True(t, terminated)
	assert.Equal(t, []string{"wlan0"}, nmsCli.teardownCalls)

	select {
	case msg := <-masterInbox:
		assert.IsType(t, masterMsgTetherModeUnrequested{}, msg)
	default:
		t.Fatal("expected a tether-mode-unrequested message on interface-down while tethered")
	}
}

func TestIfaceSMOnErrorResetsToAvailableAndRecordsCode(t *testing.T) {
	nmsCli := newFakeNMS()
	s, reg, _ := testIfaceSM(t, nmsCli)
	s.onTetherRequested()
	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})
	require.Equal(t, ifaceTethered, s.state)

	s.onError(StartTetheringError)

	assert.Equal(t, ifaceAvailable, s.state)
	assert.Empty(t, s.current)

	e, _ := reg.Get("wlan0")
	assert.Equal(t, StartTetheringError, e.LastError)
	assert.Equal(t, StateAvailable, e.LastState)
}

func TestIfaceSMProgramDownstreamFailureKeepsPreviousUpstream(t *testing.T) {
	nmsCli := newFakeNMS()
	nmsCli.failProgram = true
	s, _, _ := testIfaceSM(t, nmsCli)
	s.onTetherRequested()

	s.onConnectionChanged(context.Background(), msgConnectionChanged{upstream: "eth0", hasUpstream: true})

	assert.Equal(t, ifaceStarting, s.state, "a failed program call must not advance Starting to Tethered")
	assert.Empty(t, s.current)
}
