// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tetherd/internal/logging"
)

func TestLocalNMSStartTetheringRejectsOddRangeCount(t *testing.T) {
	n := NewLocal(logging.New(logging.DefaultConfig()))
	err := n.StartTethering(context.Background(), []string{"192.168.43.10"})
	assert.Error(t, err)
}

func TestLocalNMSStartTetheringAcceptsPairedRanges(t *testing.T) {
	n := NewLocal(logging.New(logging.DefaultConfig()))
	err := n.StartTethering(context.Background(), []string{"192.168.43.10", "192.168.43.100"})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.43.10", "192.168.43.100"}, n.dhcpRanges)
}

func TestLocalNMSSetDNSForwardersRejectsNonIPEntries(t *testing.T) {
	n := NewLocal(logging.New(logging.DefaultConfig()))
	err := n.SetDNSForwarders(context.Background(), "eth0", []string{"not-an-ip"})
	assert.Error(t, err)
}

func TestLocalNMSTeardownDownstreamIsNoopWhenNothingProgrammed(t *testing.T) {
	n := NewLocal(logging.New(logging.DefaultConfig()))
	err := n.TeardownDownstream(context.Background(), "wlan0")
	assert.NoError(t, err)
}

func TestLocalNMSStopTetheringClearsRangesWithNothingRunning(t *testing.T) {
	n := NewLocal(logging.New(logging.DefaultConfig()))
	require.NoError(t, n.StartTethering(context.Background(), []string{"192.168.43.10", "192.168.43.100"}))

	err := n.StopTethering(context.Background())
	require.NoError(t, err)
	assert.Empty(t, n.dhcpRanges)
}
