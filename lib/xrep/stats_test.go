// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep_test

import (
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

func TestStatsCollector(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	_, m := newMount(t, damage(xfsag.AGFBlock, 0x10, 4))

	assert.Equal(t, 0, testutil.CollectAndCount(m.Stats))

	_, err := xrep.ScrubMetadata(ctx, m, xrep.Request{Type: xrep.TypeAGF, Flags: xrep.InRepair})
	require.NoError(t, err)
	_, err = xrep.ScrubMetadata(ctx, m, xrep.Request{Type: xrep.TypeAGI, Flags: xrep.InRepair | xrep.InForceRebuild})
	require.NoError(t, err)

	// Four metrics for each of the two types.
	assert.Equal(t, 8, testutil.CollectAndCount(m.Stats))

	exp := `
# HELP xrep_repair_attempted_total Number of repairs attempted
# TYPE xrep_repair_attempted_total counter
xrep_repair_attempted_total{type="agf"} 1
xrep_repair_attempted_total{type="agi"} 1
# HELP xrep_repair_retries_total Number of repairs retried after contention
# TYPE xrep_repair_retries_total counter
xrep_repair_retries_total{type="agf"} 0
xrep_repair_retries_total{type="agi"} 0
# HELP xrep_repair_succeeded_total Number of repairs whose rebuild finished
# TYPE xrep_repair_succeeded_total counter
xrep_repair_succeeded_total{type="agf"} 1
xrep_repair_succeeded_total{type="agi"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.Stats, strings.NewReader(exp),
		"xrep_repair_attempted_total",
		"xrep_repair_retries_total",
		"xrep_repair_succeeded_total"))

	reg := prometheus.NewPedanticRegistry()
	assert.NoError(t, reg.Register(m.Stats))
}

func TestStatsNil(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	_, m := newMount(t, damage(xfsag.AGFBlock, 0x10, 4))
	m.Stats = nil

	report, err := xrep.ScrubMetadata(ctx, m, xrep.Request{Type: xrep.TypeAGF, Flags: xrep.InRepair})
	require.NoError(t, err)
	assert.Equal(t, containers.OptionalValue(xrep.Succeeded), report.Outcome)
	assert.Equal(t, xrep.TypeStats{}, m.Stats.Get(xrep.TypeAGF))
}
