// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nms

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"grimm.is/tetherd/internal/netutil"
)

const defaultLeaseTime = 2 * time.Hour

// leasePool is a minimal sequential DHCPv4 allocator serving a set of
// start/end range pairs, used to back a single downstream interface.
type leasePool struct {
	mu      sync.Mutex
	ranges  []ipRange
	leases  map[string]net.IP // MAC -> IP
	dns     []net.IP
	gateway net.IP
}

type ipRange struct {
	start, end net.IP
}

func newLeasePool(rangePairs []string, dnsServers []string) (*leasePool, error) {
	if len(rangePairs) == 0 {
		return nil, fmt.Errorf("no dhcp ranges configured")
	}
	if len(rangePairs)%2 != 0 {
		return nil, fmt.Errorf("dhcp ranges must be start/end pairs, got %d entries", len(rangePairs))
	}
	p := &leasePool{leases: make(map[string]net.IP)}
	for i := 0; i+1 < len(rangePairs); i += 2 {
		start := net.ParseIP(rangePairs[i]).To4()
		end := net.ParseIP(rangePairs[i+1]).To4()
		if start == nil || end == nil {
			return nil, fmt.Errorf("invalid dhcp range %q-%q", rangePairs[i], rangePairs[i+1])
		}
		p.ranges = append(p.ranges, ipRange{start: start, end: end})
	}
	if len(p.ranges) > 0 {
		p.gateway = p.ranges[0].start
	}
	for _, s := range dnsServers {
		if ip := net.ParseIP(s).To4(); ip != nil {
			p.dns = append(p.dns, ip)
		}
	}
	return p, nil
}

// handle answers a DHCPv4 DISCOVER or REQUEST with an OFFER/ACK from the
// pool, or nil if the message type isn't one this pool answers.
func (p *leasePool) handle(req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		return p.offer(req)
	case dhcpv4.MessageTypeRequest:
		return p.ack(req)
	default:
		return nil
	}
}

func (p *leasePool) offer(req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	ip := p.allocate(netutil.FormatMAC(req.ClientHWAddr))
	if ip == nil {
		return nil
	}
	resp, err := dhcpv4.NewReplyFromRequest(req, p.options(ip, dhcpv4.MessageTypeOffer)...)
	if err != nil {
		return nil
	}
	return resp
}

func (p *leasePool) ack(req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	ip := p.allocate(netutil.FormatMAC(req.ClientHWAddr))
	if ip == nil {
		return nil
	}
	resp, err := dhcpv4.NewReplyFromRequest(req, p.options(ip, dhcpv4.MessageTypeAck)...)
	if err != nil {
		return nil
	}
	return resp
}

func (p *leasePool) options(ip net.IP, mt dhcpv4.MessageType) []dhcpv4.Modifier {
	opts := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithNetmask(net.IPv4Mask(255, 255, 255, 0)),
		dhcpv4.WithLeaseTime(uint32(defaultLeaseTime.Seconds())),
	}
	if p.gateway != nil {
		opts = append(opts, dhcpv4.WithServerIP(p.gateway), dhcpv4.WithRouter(p.gateway))
	}
	if len(p.dns) > 0 {
		opts = append(opts, dhcpv4.WithDNS(p.dns...))
	}
	return opts
}

func (p *leasePool) allocate(mac string) net.IP {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.leases[mac]; ok {
		return ip
	}
	for _, r := range p.ranges {
		for ip := cloneIP(r.start); !ipGreater(ip, r.end); incIP(ip) {
			if !p.inUse(ip) {
				leased := cloneIP(ip)
				p.leases[mac] = leased
				return leased
			}
		}
	}
	return nil
}

func (p *leasePool) inUse(ip net.IP) bool {
	if p.gateway != nil && p.gateway.Equal(ip) {
		return true
	}
	for _, leased := range p.leases {
		if leased.Equal(ip) {
			return true
		}
	}
	return false
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func ipGreater(a, b net.IP) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}
