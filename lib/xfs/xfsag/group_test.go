// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag_test

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

func TestDrainIntents(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	g := xfsag.NewGroup(0, 1000, nil)

	assert.False(t, g.IntentsBusy())
	assert.NoError(t, g.DrainIntents(ctx))

	g.IntentHold()
	g.IntentHold()
	assert.True(t, g.IntentsBusy())

	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.DrainIntents(shortCtx), context.DeadlineExceeded)

	done := make(chan error)
	go func() { done <- g.DrainIntents(ctx) }()
	g.IntentRele()
	g.IntentRele()
	assert.NoError(t, <-done)
	assert.False(t, g.IntentsBusy())

	assert.Panics(t, g.IntentRele)
}

func TestCounters(t *testing.T) {
	t.Parallel()
	g := xfsag.NewGroup(0, 1000, nil)
	assert.False(t, g.SpaceCounters().OK)
	g.SetSpaceCounters(xfsag.SpaceCounters{FreeBlocks: 10})
	g.SetInodeCounters(xfsag.InodeCounters{Count: 64})
	assert.Equal(t, xfsprim.Extlen(10), g.SpaceCounters().Val.FreeBlocks)
	assert.Equal(t, uint32(64), g.InodeCounters().Val.Count)
	g.ForgetSpaceCounters()
	assert.False(t, g.SpaceCounters().OK)
	assert.True(t, g.InodeCounters().OK)
}

func TestInodeRange(t *testing.T) {
	t.Parallel()
	geom := xfsprim.Geometry{BlockSize: 512, InodeSize: 256}
	g := xfsag.NewGroup(0, 1000, nil)
	lo, hi, ok := g.InodeRange(geom)
	assert.True(t, ok)
	assert.Equal(t, xfsprim.AGIno(64), lo)
	assert.Equal(t, xfsprim.AGIno(1983), hi)

	_, _, ok = xfsag.NewGroup(0, 4, nil).InodeRange(geom)
	assert.False(t, ok)
}
