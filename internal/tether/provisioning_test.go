// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tetherd/internal/config"
)

type fakeHook struct {
	silentOK, uiOK bool
	err            error
	silentCalls    int
	uiCalls        int
	lastToken      config.SecureString
}

func (f *fakeHook) RequestSilent(_ context.Context, _ InterfaceType, token config.SecureString) (bool, error) {
	f.silentCalls++
	f.lastToken = token
	return f.silentOK, f.err
}

func (f *fakeHook) RequestUI(_ context.Context, _ InterfaceType, token config.SecureString) (bool, error) {
	f.uiCalls++
	f.lastToken = token
	return f.uiOK, f.err
}

func provisioningRequiredCfg() *config.Tethering {
	return &config.Tethering{
		ProvisioningApp:          []string{"com.carrier.app", "ProvisionActivity"},
		EntitlementCheckRequired: true,
		ProvisioningAppToken:     "carrier-shared-secret",
	}
}

func TestProvisioningGateIsRequired(t *testing.T) {
	g := NewProvisioningGate(nil)

	assert.False(t, g.IsRequired(nil))
	assert.False(t, g.IsRequired(&config.Tethering{}))

	cfg := provisioningRequiredCfg()
	assert.True(t, g.IsRequired(cfg))

	cfg.NoProvisioning = true
	assert.False(t, g.IsRequired(cfg))
}

func TestProvisioningGateCheckSkipsWhenNotRequired(t *testing.T) {
	hook := &fakeHook{}
	g := NewProvisioningGate(hook)

	ok, err := g.Check(context.Background(), &config.Tethering{}, InterfaceWifi, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, hook.silentCalls)
	assert.Zero(t, hook.uiCalls)
}

func TestProvisioningGateCheckRoutesSilentVsUI(t *testing.T) {
	cfg := provisioningRequiredCfg()

	hook := &fakeHook{silentOK: true, uiOK: true}
	g := NewProvisioningGate(hook)

	ok, err := g.Check(context.Background(), cfg, InterfaceUSB, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, hook.silentCalls)
	assert.Zero(t, hook.uiCalls)
	assert.Equal(t, cfg.ProvisioningAppToken, hook.lastToken)

	ok, err = g.Check(context.Background(), cfg, InterfaceUSB, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, hook.uiCalls)
}

func TestProvisioningGateCheckPropagatesDenialAndError(t *testing.T) {
	cfg := provisioningRequiredCfg()

	denied := &fakeHook{silentOK: false}
	g := NewProvisioningGate(denied)
	ok, err := g.Check(context.Background(), cfg, InterfaceWifi, false)
	require.NoError(t, err)
	assert.False(t, ok)

	failing := &fakeHook{err: errors.New("entitlement service unreachable")}
	g = NewProvisioningGate(failing)
	ok, err = g.Check(context.Background(), cfg, InterfaceWifi, false)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestProvisioningGateSIMReloadRetriggersOnlyActiveTypes(t *testing.T) {
	cfg := provisioningRequiredCfg()
	hook := &fakeHook{silentOK: true}
	g := NewProvisioningGate(hook)

	_, err := g.Check(context.Background(), cfg, InterfaceWifi, false)
	require.NoError(t, err)

	// First observation establishes a baseline; it is never itself a
	// reload edge.
	assert.Empty(t, g.OnSIMStateChanged("NOT_READY"))

	types := g.OnSIMStateChanged("LOADED")
	assert.Equal(t, []InterfaceType{InterfaceWifi}, types)

	// Canceling the recheck for USB (never active) changes nothing; a
	// second LOADED->LOADED transition is not an edge and retriggers
	// nothing either.
	g.CancelRecheck(InterfaceUSB)
	assert.Empty(t, g.OnSIMStateChanged("LOADED"))

	assert.Empty(t, g.OnSIMStateChanged("NOT_READY"))
	types = g.OnSIMStateChanged("LOADED")
	assert.Equal(t, []InterfaceType{InterfaceWifi}, types)
}

func TestProvisioningGateCancelRecheckRemovesType(t *testing.T) {
	cfg := provisioningRequiredCfg()
	hook := &fakeHook{silentOK: true}
	g := NewProvisioningGate(hook)

	_, err := g.Check(context.Background(), cfg, InterfaceWifi, false)
	require.NoError(t, err)
	g.CancelRecheck(InterfaceWifi)

	g.OnSIMStateChanged("NOT_READY")
	assert.Empty(t, g.OnSIMStateChanged("LOADED"))
}
