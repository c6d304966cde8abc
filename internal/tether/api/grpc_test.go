// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tetherd/internal/tether"
)

func TestParseInterfaceType(t *testing.T) {
	assert.Equal(t, tether.InterfaceWifi, parseInterfaceType("WIFI"))
	assert.Equal(t, tether.InterfaceUSB, parseInterfaceType("USB"))
	assert.Equal(t, tether.InterfaceBluetooth, parseInterfaceType("BLUETOOTH"))
	assert.Equal(t, tether.InterfaceInvalid, parseInterfaceType("nonsense"))
}

func TestChanSinkDeliversOnlyFirstSend(t *testing.T) {
	sink := newChanSink()
	sink.Send(tether.NoError)
	sink.Send(tether.ServiceUnavail)

	assert.Equal(t, tether.NoError, <-sink.ch)
	select {
	case <-sink.ch:
		t.Fatal("a full sink must drop subsequent sends rather than block")
	default:
	}
}

func TestGRPCServerStartTetheringUnknownTypeReturnsCode(t *testing.T) {
	orch, _ := testOrchestrator(t)
	srv := NewGRPCServer(orch)

	resp, err := srv.StartTethering(context.Background(), &StartTetheringRequest{Type: "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, tether.UnknownIface.String(), resp.Code)
}

func TestGRPCServerTetherUnknownInterface(t *testing.T) {
	orch, _ := testOrchestrator(t)
	srv := NewGRPCServer(orch)

	resp, err := srv.Tether(context.Background(), &TetherRequest{Iface: "ghost0"})
	require.NoError(t, err)
	assert.Equal(t, tether.UnknownIface.String(), resp.Code)
}

func TestGRPCServerTetherKnownInterface(t *testing.T) {
	orch, bus := testOrchestrator(t)
	withTrackedInterface(t, orch, bus, "wlan0")
	srv := NewGRPCServer(orch)

	resp, err := srv.Tether(context.Background(), &TetherRequest{Iface: "wlan0"})
	require.NoError(t, err)
	assert.Equal(t, tether.NoError.String(), resp.Code)
}

func TestGRPCServerGetStatusReflectsRegistry(t *testing.T) {
	orch, bus := testOrchestrator(t)
	withTrackedInterface(t, orch, bus, "wlan0")
	srv := NewGRPCServer(orch)

	resp, err := srv.GetStatus(context.Background(), &StatusRequest{})
	require.NoError(t, err)
	assert.Contains(t, resp.Tetherable, "wlan0")
	assert.Empty(t, resp.Errored)
}

func TestGRPCServerClearErrorsDoesNotBlock(t *testing.T) {
	orch, bus := testOrchestrator(t)
	withTrackedInterface(t, orch, bus, "wlan0")
	srv := NewGRPCServer(orch)

	resp, err := srv.ClearErrors(context.Background(), &ClearErrorsRequest{})
	require.NoError(t, err)
	assert.NotNil(t, resp)
}
