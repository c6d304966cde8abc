// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSinkSetMasterState(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.SetMasterState("alive")
	assert.InDelta(t, 1, testutil.ToFloat64(s.masterState), 0)

	s.SetMasterState("error")
	assert.InDelta(t, 2, testutil.ToFloat64(s.masterState), 0)

	s.SetMasterState("unknown-phase")
	assert.InDelta(t, -1, testutil.ToFloat64(s.masterState), 0)
}

func TestSinkSetTetheredCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.SetTetheredCount(3)
	assert.InDelta(t, 3, testutil.ToFloat64(s.tetheredCnt), 0)
}

func TestSinkIncErrorsPerCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.IncErrors("START_TETHERING_ERROR")
	s.IncErrors("START_TETHERING_ERROR")
	s.IncErrors("UNKNOWN_IFACE")

	assert.InDelta(t, 2, testutil.ToFloat64(s.errorsTotal.WithLabelValues("START_TETHERING_ERROR")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(s.errorsTotal.WithLabelValues("UNKNOWN_IFACE")), 0)
}
