// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import "grimm.is/tetherd/internal/logging"

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Config is the top-level structure for the tethering daemon's configuration.
type Config struct {
	// Schema version for backward compatibility.
	// @default: "1.0"
	// @example: "1.0"
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// Tethering controls which interfaces are tetherable and how upstream
	// selection and DHCP/DNS programming behave.
	Tethering *Tethering `hcl:"tethering,block" json:"tethering,omitempty"`

	// Syslog remote logging.
	Syslog *logging.SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`

	// State Directory (overrides default).
	StateDir string `hcl:"state_dir,optional" json:"state_dir,omitempty"`

	// Log Directory (overrides default).
	LogDir string `hcl:"log_dir,optional" json:"log_dir,omitempty"`
}

// Tethering is the HCL `tethering { ... }` block. It mirrors the core's
// TetheringConfig snapshot one-to-one; the core never reads *Config
// directly, only the Tethering sub-block handed to it on Reload.
type Tethering struct {
	// Interface-name regexes, tried in WIFI, USB, BLUETOOTH order; first match wins.
	// @default: []
	// @example: ["wlan[0-9]+", "ap[0-9]+"]
	TetherableWifiRegexs []string `hcl:"tetherable_wifi_regexs,optional" json:"tetherable_wifi_regexs,omitempty"`
	// @default: []
	// @example: ["rndis[0-9]+", "usb[0-9]+"]
	TetherableUsbRegexs []string `hcl:"tetherable_usb_regexs,optional" json:"tetherable_usb_regexs,omitempty"`
	// @default: []
	// @example: ["bt-pan[0-9]+"]
	TetherableBluetoothRegexs []string `hcl:"tetherable_bluetooth_regexs,optional" json:"tetherable_bluetooth_regexs,omitempty"`

	// Ordered preference list of upstream interface types, tried in order.
	// @enum: ETHERNET, WIFI, MOBILE_HIPRI, MOBILE_DUN
	// @default: ["ETHERNET", "WIFI", "MOBILE_HIPRI"]
	PreferredUpstreamIfaceTypes []string `hcl:"preferred_upstream_iface_types,optional" json:"preferred_upstream_iface_types,omitempty"`

	// DHCP ranges handed to the NMS on startTethering, as start/end pairs
	// (even length).
	// @default: []
	// @example: ["192.168.42.2", "192.168.42.254"]
	DHCPRanges []string `hcl:"dhcp_ranges,optional" json:"dhcp_ranges,omitempty"`

	// Whether the carrier requires the DUN APN (vs HIPRI) for tethering.
	// @default: false
	IsDunRequired bool `hcl:"is_dun_required,optional" json:"is_dun_required,omitempty"`

	// Fallback DNS servers used when the upstream candidate reports none.
	// @default: []
	// @example: ["1.1.1.1", "8.8.8.8"]
	DefaultIPv4DNS []string `hcl:"default_ipv4_dns,optional" json:"default_ipv4_dns,omitempty"`

	// Provisioning app [packageName, className], exactly two entries when set.
	// @default: []
	ProvisioningApp []string `hcl:"provisioning_app,optional" json:"provisioning_app,omitempty"`

	// Shared secret the provisioning hook presents to the carrier's
	// entitlement-check service. Masked in JSON/log output.
	// @default: ""
	ProvisioningAppToken SecureString `hcl:"provisioning_app_token,optional" json:"provisioning_app_token,omitempty"`

	// Whether the carrier config requires an entitlement check before tethering.
	// @default: false
	EntitlementCheckRequired bool `hcl:"entitlement_check_required,optional" json:"entitlement_check_required,omitempty"`

	// Operator override that force-disables provisioning regardless of the
	// two fields above (mirrors a debug system property in the source).
	// @default: false
	NoProvisioning bool `hcl:"no_provisioning,optional" json:"no_provisioning,omitempty"`
}

// DefaultTethering returns an empty-but-valid Tethering snapshot.
func DefaultTethering() *Tethering {
	return &Tethering{
		PreferredUpstreamIfaceTypes: []string{"ETHERNET", "WIFI", "MOBILE_HIPRI"},
	}
}
