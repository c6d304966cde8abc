// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Clone returns a deep copy of the configuration.
// Uses gob encoding to avoid issues with JSON field name transformations.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	dec := gob.NewDecoder(&buf)

	if err := enc.Encode(c); err != nil {
		fmt.Printf("CLONE ERROR: Failed to encode config: %v\n", err)
		return nil
	}

	var clone Config
	if err := dec.Decode(&clone); err != nil {
		fmt.Printf("CLONE ERROR: Failed to decode config: %v\n", err)
		return nil
	}

	return &clone
}

// Clone returns a deep copy of the tethering snapshot. The master state
// machine holds onto the pointer it was handed until the next config-change
// event, so the loader must never mutate a Tethering block in place once
// published; callers that build one incrementally should Clone a base and
// mutate the copy.
func (t *Tethering) Clone() *Tethering {
	if t == nil {
		return nil
	}
	clone := *t
	clone.TetherableWifiRegexs = append([]string(nil), t.TetherableWifiRegexs...)
	clone.TetherableUsbRegexs = append([]string(nil), t.TetherableUsbRegexs...)
	clone.TetherableBluetoothRegexs = append([]string(nil), t.TetherableBluetoothRegexs...)
	clone.PreferredUpstreamIfaceTypes = append([]string(nil), t.PreferredUpstreamIfaceTypes...)
	clone.DHCPRanges = append([]string(nil), t.DHCPRanges...)
	clone.DefaultIPv4DNS = append([]string(nil), t.DefaultIPv4DNS...)
	clone.ProvisioningApp = append([]string(nil), t.ProvisioningApp...)
	return &clone
}
