// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nms

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/miekg/dns"
	"github.com/vishvananda/netlink"

	tetherrors "grimm.is/tetherd/internal/errors"
	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/netutil"
)

const (
	procIPForward = "/proc/sys/net/ipv4/ip_forward"
	dnsPort       = 53
)

// downstreamServer is a single downstream interface's DHCP range server.
type downstreamServer struct {
	conn   net.PacketConn
	pool   *leasePool
	cancel context.CancelFunc
}

// LocalNMS is a concrete, in-process stand-in for the external
// network-management service. It is a client of the real OS facilities
// (proc, netlink) and of DHCP/DNS libraries, not a reimplementation of the
// core's own responsibilities.
type LocalNMS struct {
	mu sync.Mutex

	log        *logging.Logger
	dhcpRanges []string
	dnsServers []string
	downstream map[string]*downstreamServer
}

// NewLocal returns a LocalNMS ready to accept calls.
func NewLocal(log *logging.Logger) *LocalNMS {
	return &LocalNMS{
		log:        log.WithComponent("nms"),
		downstream: make(map[string]*downstreamServer),
	}
}

// SetIPForwardingEnabled writes the host's global IPv4 forwarding sysctl.
func (n *LocalNMS) SetIPForwardingEnabled(_ context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := os.WriteFile(procIPForward, []byte(val), 0o644); err != nil {
		code := tetherErrorCode(enabled)
		return tetherrors.Attr(tetherrors.Wrap(err, tetherrors.KindUnavailable, "set ip_forward"), "code", code)
	}
	return nil
}

func tetherErrorCode(enabling bool) string {
	if enabling {
		return "IP_FORWARDING_ENABLE_ERROR"
	}
	return "IP_FORWARDING_DISABLE_ERROR"
}

// StartTethering records the DHCP ranges to use for subsequently-programmed
// downstream interfaces. It does not itself bind any socket — that happens
// per-interface in ProgramDownstream, since DHCP only needs to run where a
// downstream client is actually attached.
func (n *LocalNMS) StartTethering(_ context.Context, dhcpRanges []string) error {
	if len(dhcpRanges)%2 != 0 {
		return tetherrors.Attr(tetherrors.New(tetherrors.KindValidation, "dhcp ranges must be an even count of start/end pairs"), "code", "START_TETHERING_ERROR")
	}
	n.mu.Lock()
	n.dhcpRanges = append([]string(nil), dhcpRanges...)
	n.mu.Unlock()
	return nil
}

// StopTethering tears down every downstream DHCP server still running.
func (n *LocalNMS) StopTethering(ctx context.Context) error {
	n.mu.Lock()
	names := make([]string, 0, len(n.downstream))
	for name := range n.downstream {
		names = append(names, name)
	}
	n.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := n.TeardownDownstream(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.mu.Lock()
	n.dhcpRanges = nil
	n.mu.Unlock()
	if firstErr != nil {
		return tetherrors.Attr(tetherrors.Wrap(firstErr, tetherrors.KindUnavailable, "stop tethering"), "code", "STOP_TETHERING_ERROR")
	}
	return nil
}

// SetDNSForwarders probes each resolver with an SOA query for the root zone
// to catch an unreachable forwarder, then records the list that
// ProgramDownstream hands to downstream DHCP clients as their DNS servers.
// One list is kept for all upstreams (the upstream interface argument is
// not used), and no DNS queries are forwarded in-process.
func (n *LocalNMS) SetDNSForwarders(ctx context.Context, _ string, servers []string) error {
	for _, s := range servers {
		if net.ParseIP(s) == nil {
			return tetherrors.Attr(tetherrors.Errorf(tetherrors.KindValidation, "invalid DNS forwarder %q", s), "code", "SET_DNS_FORWARDERS_ERROR")
		}
	}
	if err := probeForwarders(ctx, servers); err != nil {
		return tetherrors.Attr(tetherrors.Wrap(err, tetherrors.KindUnavailable, "dns forwarder unreachable"), "code", "SET_DNS_FORWARDERS_ERROR")
	}
	n.mu.Lock()
	n.dnsServers = append([]string(nil), servers...)
	n.mu.Unlock()
	return nil
}

// ProgramDownstream starts (or rebinds) a DHCP server on downstreamIface
// serving the configured ranges, and points its DNS option at the
// configured forwarders.
func (n *LocalNMS) ProgramDownstream(ctx context.Context, downstreamIface, upstreamIface string) error {
	n.mu.Lock()
	ranges := append([]string(nil), n.dhcpRanges...)
	dnsServers := append([]string(nil), n.dnsServers...)
	existing := n.downstream[downstreamIface]
	n.mu.Unlock()

	if existing != nil {
		_ = n.TeardownDownstream(ctx, downstreamIface)
	}

	pool, err := newLeasePool(ranges, dnsServers)
	if err != nil {
		return tetherrors.Attr(tetherrors.Wrap(err, tetherrors.KindValidation, "build lease pool"), "code", "START_TETHERING_ERROR")
	}

	conn, err := server4.NewIPv4UDPConn(downstreamIface, &net.UDPAddr{IP: net.IPv4zero, Port: 67})
	if err != nil {
		return tetherrors.Attr(tetherrors.Wrap(err, tetherrors.KindUnavailable, "bind dhcp socket"), "code", "START_TETHERING_ERROR")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ds := &downstreamServer{conn: conn, pool: pool, cancel: cancel}

	n.mu.Lock()
	n.downstream[downstreamIface] = ds
	n.mu.Unlock()

	go n.serve(loopCtx, downstreamIface, ds)
	gatewayMAC := netutil.FormatMAC(netutil.GenerateVirtualMAC(downstreamIface))
	n.log.Info("downstream programmed", "downstream", downstreamIface, "upstream", upstreamIface, "gateway_mac", gatewayMAC)
	return nil
}

// TeardownDownstream stops downstreamIface's DHCP server, if any.
func (n *LocalNMS) TeardownDownstream(_ context.Context, downstreamIface string) error {
	n.mu.Lock()
	ds, ok := n.downstream[downstreamIface]
	if ok {
		delete(n.downstream, downstreamIface)
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	ds.cancel()
	return ds.conn.Close()
}

// ListInterfaces returns the host's current interface names via netlink.
func (n *LocalNMS) ListInterfaces(_ context.Context) ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, tetherrors.Wrap(err, tetherrors.KindUnavailable, "list interfaces")
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}

func (n *LocalNMS) serve(ctx context.Context, iface string, ds *downstreamServer) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nread, peer, err := ds.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		req, err := dhcpv4.FromBytes(buf[:nread])
		if err != nil {
			continue
		}

		resp := ds.pool.handle(req)
		if resp == nil {
			continue
		}
		_, _ = ds.conn.WriteTo(resp.ToBytes(), peer)
	}
}

// probeForwarders sends a root-zone SOA query to every forwarder to catch
// an unreachable one before it is handed to downstream clients.
func probeForwarders(ctx context.Context, servers []string) error {
	if len(servers) == 0 {
		return nil
	}
	c := &dns.Client{Timeout: 2 * time.Second}
	m := new(dns.Msg)
	m.SetQuestion(".", dns.TypeSOA)

	var firstErr error
	for _, s := range servers {
		addr := net.JoinHostPort(s, strconv.Itoa(dnsPort))
		_, _, err := c.ExchangeContext(ctx, m, addr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
