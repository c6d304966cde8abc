// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"testing"
	"time"

	"grimm.is/tetherd/internal/clock"
	"grimm.is/tetherd/internal/config"
	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/tether"
	"grimm.is/tetherd/internal/tether/eventbus"
	"grimm.is/tetherd/internal/tether/upstream"
)

// fakeNMS is a no-op nms.Client double: the api package only needs the
// orchestrator to be drivable end to end, not actual network programming.
type fakeNMS struct{}

func (fakeNMS) SetIPForwardingEnabled(ctx context.Context, enabled bool) error { return nil }
func (fakeNMS) StartTethering(ctx context.Context, dhcpRanges []string) error  { return nil }
func (fakeNMS) StopTethering(ctx context.Context) error                       { return nil }
func (fakeNMS) SetDNSForwarders(ctx context.Context, upstreamIface string, servers []string) error {
	return nil
}
func (fakeNMS) ProgramDownstream(ctx context.Context, downstreamIface, upstreamIface string) error {
	return nil
}
func (fakeNMS) TeardownDownstream(ctx context.Context, downstreamIface string) error { return nil }
func (fakeNMS) ListInterfaces(ctx context.Context) ([]string, error)                { return nil, nil }

// fakeMonitor is an empty upstream.Monitor double with no candidate networks.
type fakeMonitor struct {
	events chan upstream.Callback
}

func newFakeMonitor() *fakeMonitor { return &fakeMonitor{events: make(chan upstream.Callback)} }

func (f *fakeMonitor) Start(ctx context.Context) error                      { return nil }
func (f *fakeMonitor) Stop()                                                {}
func (f *fakeMonitor) Lookup(string) (upstream.NetworkState, bool)          { return upstream.NetworkState{}, false }
func (f *fakeMonitor) Networks() []upstream.NetworkState                    { return nil }
func (f *fakeMonitor) Events() <-chan upstream.Callback                    { return f.events }
func (f *fakeMonitor) RequestMobile(dun bool)                              {}
func (f *fakeMonitor) ReleaseMobile()                                      {}
func (f *fakeMonitor) Probe(context.Context, string) (time.Duration, error) { return 0, nil }

func testTetheringCfg() *config.Tethering {
	cfg := config.DefaultTethering()
	cfg.TetherableWifiRegexs = []string{`^wlan\d+$`}
	cfg.TetherableUsbRegexs = []string{`^usb\d+$`}
	cfg.TetherableBluetoothRegexs = []string{`^bt-pan\d+$`}
	return cfg
}

func testOrchestrator(t *testing.T) (*tether.Orchestrator, *eventbus.Bus) {
	t.Helper()
	log := logging.New(logging.DefaultConfig())
	reg := tether.NewRegistry()
	bus := eventbus.New()
	cfg := testTetheringCfg()
	master := tether.NewMaster(cfg, reg, fakeNMS{}, newFakeMonitor(), nil, nil, nil, clock.NewFake(time.Unix(0, 0)), log)
	orch := tether.NewOrchestrator(reg, master, fakeNMS{}, bus, nil, nil, nil, nil, cfg, log)
	return orch, bus
}

// withTrackedInterface starts orch's run loop and publishes a link-up event
// so name becomes a tracked, tetherable interface before the test proceeds.
func withTrackedInterface(t *testing.T, orch *tether.Orchestrator, bus *eventbus.Bus, name string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	orch.Start(ctx)
	t.Cleanup(orch.Stop)
	bus.Publish(eventbus.InterfaceUpEvent{Name: name})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, n := range orch.GetTetherableIfaces() {
			if n == name {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("interface %q was not tracked in time", name)
}
