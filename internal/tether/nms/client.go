// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nms is a client of the external network-management service: the
// collaborator that actually flips IP forwarding and configures NAT/DHCP.
// The tether core never implements packet forwarding, a DHCP server, or NAT
// table ownership itself (see the module's Non-goals) — it only issues the
// calls below and records their result. This package provides a concrete,
// thin stand-in backed by the same DHCP/DNS libraries the rest of the
// stack already uses, so the core can be exercised end-to-end without a
// separate daemon on the other side of the wire.
package nms

import "context"

// Client is the interface the tether core consumes. Every method must be
// bounded in time from the caller's perspective: it may fail, but must
// not block indefinitely.
type Client interface {
	// SetIPForwardingEnabled flips the host's global IP-forwarding switch.
	SetIPForwardingEnabled(ctx context.Context, enabled bool) error

	// StartTethering begins serving the given DHCP ranges (start/end pairs).
	// On failure the master retries once via StopTethering+StartTethering.
	StartTethering(ctx context.Context, dhcpRanges []string) error

	// StopTethering tears down everything StartTethering set up.
	StopTethering(ctx context.Context) error

	// SetDNSForwarders programs the forwarders used for the given upstream
	// interface. servers is a list of dotted-quad IPv4 addresses.
	SetDNSForwarders(ctx context.Context, upstreamIface string, servers []string) error

	// ProgramDownstream wires NAT/routing for a single downstream
	// interface against the given upstream interface.
	ProgramDownstream(ctx context.Context, downstreamIface, upstreamIface string) error

	// TeardownDownstream removes whatever ProgramDownstream set up for
	// downstreamIface. Safe to call when nothing was programmed.
	TeardownDownstream(ctx context.Context, downstreamIface string) error

	// ListInterfaces returns the host's current interface names.
	ListInterfaces(ctx context.Context) ([]string, error)
}
