// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package upstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tetherd/internal/logging"
)

func TestClassifyInterfaceNames(t *testing.T) {
	cases := map[string]string{
		"eth0":   "ETHERNET",
		"enp0s3": "ETHERNET",
		"wlan0":  "WIFI",
		"wlp2s0": "WIFI",
		"wwan0":  "MOBILE_HIPRI",
		"ppp0":   "MOBILE_HIPRI",
		"rmnet0": "MOBILE_HIPRI",
		"lo":     "ETHERNET",
	}
	for name, want := range cases {
		assert.Equal(t, want, classify(name), "classify(%q)", name)
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "AVAILABLE", EventAvailable.String())
	assert.Equal(t, "CAPABILITIES", EventCapabilities.String())
	assert.Equal(t, "LINKPROPERTIES", EventLinkProperties.String())
	assert.Equal(t, "LOST", EventLost.String())
	assert.Equal(t, "UNKNOWN", Event(99).String())
}

func TestNetlinkMonitorLookupUnknownNetwork(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))
	_, ok := m.Lookup("wlan0")
	assert.False(t, ok)
}

func TestNetlinkMonitorNetworksSnapshotIsIndependent(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))
	m.states["eth0"] = NetworkState{Network: "eth0", Type: "ETHERNET", Connected: true}

	snap := m.Networks()
	require.Len(t, snap, 1)

	m.states["wlan0"] = NetworkState{Network: "wlan0", Type: "WIFI"}
	assert.Len(t, snap, 1, "a snapshot taken before the mutation must not observe it")
}

func TestNetlinkMonitorRequestAndReleaseMobile(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))

	m.RequestMobile(true)
	assert.True(t, m.mobileOn)

	m.ReleaseMobile()
	assert.False(t, m.mobileOn)
}

func TestNetlinkMonitorProbeWithoutRouteInfoErrors(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))
	m.states["eth0"] = NetworkState{Network: "eth0"}

	_, err := m.Probe(context.Background(), "eth0")
	assert.Error(t, err)
}

func TestNetlinkMonitorProbeUnknownNetworkErrors(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))

	_, err := m.Probe(context.Background(), "ghost0")
	assert.Error(t, err)
}

func TestNetlinkMonitorStopIsIdempotentWithoutStart(t *testing.T) {
	m := NewNetlinkMonitor(logging.New(logging.DefaultConfig()))
	m.Stop()
	m.Stop()
}
