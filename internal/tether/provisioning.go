// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tether

import (
	"context"
	"sync"

	"grimm.is/tetherd/internal/config"
)

// ProvisioningHook is the external carrier-provisioning UI/service. The
// core only ever drives it through this interface (Non-goal: the
// provisioning UI/service itself is out of scope). token is the configured
// ProvisioningAppToken, passed through so a real hook can authenticate its
// call to the carrier's entitlement-check service without reaching back
// into config itself.
type ProvisioningHook interface {
	// RequestSilent asks for a non-interactive entitlement check.
	RequestSilent(ctx context.Context, t InterfaceType, token config.SecureString) (bool, error)
	// RequestUI asks for a user-interactive entitlement check.
	RequestUI(ctx context.Context, t InterfaceType, token config.SecureString) (bool, error)
}

// alwaysApprove is the default hook used when no provisioning UI/service is
// wired: every check passes immediately.
type alwaysApprove struct{}

func (alwaysApprove) RequestSilent(context.Context, InterfaceType, config.SecureString) (bool, error) {
	return true, nil
}
func (alwaysApprove) RequestUI(context.Context, InterfaceType, config.SecureString) (bool, error) {
	return true, nil
}

// ProvisioningGate decides whether a user "start" request must first pass
// an entitlement check, and re-triggers provisioning on a SIM reload while
// tethered.
type ProvisioningGate struct {
	mu         sync.Mutex
	hook       ProvisioningHook
	simLoaded  *bool // nil until first SIM state observed
	activeType map[InterfaceType]bool
}

// NewProvisioningGate returns a gate using hook (alwaysApprove if nil).
func NewProvisioningGate(hook ProvisioningHook) *ProvisioningGate {
	if hook == nil {
		hook = alwaysApprove{}
	}
	return &ProvisioningGate{hook: hook, activeType: make(map[InterfaceType]bool)}
}

// IsRequired reports whether cfg names a provisioning app, the carrier
// config requires an entitlement check, and the override isn't set.
func (g *ProvisioningGate) IsRequired(cfg *config.Tethering) bool {
	if cfg == nil {
		return false
	}
	return len(cfg.ProvisioningApp) == 2 && cfg.EntitlementCheckRequired && !cfg.NoProvisioning
}

// Check runs the entitlement check for t if required by cfg, routing
// through the UI path when showUI is set. It marks t active on success so
// a later SIM reload re-triggers it.
func (g *ProvisioningGate) Check(ctx context.Context, cfg *config.Tethering, t InterfaceType, showUI bool) (bool, error) {
	if !g.IsRequired(cfg) {
		g.markActive(t, true)
		return true, nil
	}

	var ok bool
	var err error
	if showUI {
		ok, err = g.hook.RequestUI(ctx, t, cfg.ProvisioningAppToken)
	} else {
		ok, err = g.hook.RequestSilent(ctx, t, cfg.ProvisioningAppToken)
	}
	if err != nil || !ok {
		return false, err
	}
	g.markActive(t, true)
	return true, nil
}

// CancelRecheck marks t inactive; pending periodic rechecks for it stop
// mattering once tether-down is reached.
func (g *ProvisioningGate) CancelRecheck(t InterfaceType) {
	g.markActive(t, false)
}

func (g *ProvisioningGate) markActive(t InterfaceType, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if active {
		g.activeType[t] = true
	} else {
		delete(g.activeType, t)
	}
}

// OnSIMStateChanged records state and returns the set of currently-active
// interface types that must be re-provisioned, if this transition is a
// NOT_READY (or any non-LOADED) -> LOADED edge.
func (g *ProvisioningGate) OnSIMStateChanged(state string) []InterfaceType {
	g.mu.Lock()
	defer g.mu.Unlock()

	loaded := state == "LOADED"
	wasNotLoaded := g.simLoaded != nil && !*g.simLoaded
	g.simLoaded = &loaded

	if !(loaded && wasNotLoaded) {
		return nil
	}

	types := make([]InterfaceType, 0, len(g.activeType))
	for t := range g.activeType {
		types = append(types, t)
	}
	return types
}
