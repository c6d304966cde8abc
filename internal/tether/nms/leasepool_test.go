// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nms

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePoolRejectsOddRangeCount(t *testing.T) {
	_, err := newLeasePool([]string{"192.168.43.10"}, nil)
	assert.Error(t, err)
}

func TestNewLeasePoolRejectsInvalidAddress(t *testing.T) {
	_, err := newLeasePool([]string{"not-an-ip", "192.168.43.50"}, nil)
	assert.Error(t, err)
}

func TestNewLeasePoolRejectsEmptyRanges(t *testing.T) {
	_, err := newLeasePool(nil, nil)
	assert.Error(t, err)
}

func TestLeasePoolOfferAndAckAssignSameAddress(t *testing.T) {
	pool, err := newLeasePool([]string{"192.168.43.10", "192.168.43.12"}, []string{"8.8.8.8"})
	require.NoError(t, err)

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	discover, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)

	offer := pool.offer(discover)
	require.NotNil(t, offer)
	assert.Equal(t, dhcpv4.MessageTypeOffer, offer.MessageType())
	assert.Equal(t, "192.168.43.11", offer.YourIPAddr.String(), "the range's first address is the gateway itself and must never be handed to a client")

	req, err := dhcpv4.NewRequestFromOffer(offer)
	require.NoError(t, err)

	ack := pool.ack(req)
	require.NotNil(t, ack)
	assert.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	assert.Equal(t, "192.168.43.11", ack.YourIPAddr.String())
}

func TestLeasePoolAllocateNeverAssignsGatewayAddress(t *testing.T) {
	pool, err := newLeasePool([]string{"192.168.43.10", "192.168.43.12"}, nil)
	require.NoError(t, err)

	for _, mac := range []string{"mac-1", "mac-2", "mac-3"} {
		ip := pool.allocate(mac)
		if ip != nil {
			assert.NotEqual(t, "192.168.43.10", ip.String())
		}
	}
}

func TestLeasePoolAllocateIsStickyPerMAC(t *testing.T) {
	pool, err := newLeasePool([]string{"192.168.43.10", "192.168.43.12"}, nil)
	require.NoError(t, err)

	first := pool.allocate("aa:bb:cc:dd:ee:ff")
	second := pool.allocate("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, first, second)
}

func TestLeasePoolAllocateExhaustsRange(t *testing.T) {
	pool, err := newLeasePool([]string{"192.168.43.10", "192.168.43.12"}, nil)
	require.NoError(t, err)

	assert.NotNil(t, pool.allocate("mac-1"))
	assert.NotNil(t, pool.allocate("mac-2"))
	assert.Nil(t, pool.allocate("mac-3"), "a third client must not get an address once the range (minus the reserved gateway address) is exhausted")
}

func TestLeasePoolHandleIgnoresUnknownMessageType(t *testing.T) {
	pool, err := newLeasePool([]string{"192.168.43.10", "192.168.43.12"}, nil)
	require.NoError(t, err)

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	discover, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)
	release, err := dhcpv4.NewReplyFromRequest(discover, dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease))
	require.NoError(t, err)

	assert.Nil(t, pool.handle(release))
}
