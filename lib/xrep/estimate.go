// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// AGStats are the group statistics that a rebuild budget is sized
// from, after implausible values have been replaced.
type AGStats struct {
	ICount  uint32
	AGLen   xfsprim.Extlen
	FreeLen xfsprim.Extlen
	UsedLen xfsprim.Extlen
}

// readAGStats gathers the statistics of a group, falling back to
// worst-case values for anything that cannot be read or makes no
// sense.  It does not wait for header locks; a busy header counts as
// unreadable.
func readAGStats(ctx context.Context, m *Mount, g *xfsag.Group) AGStats {
	icount := uint32(xfsprim.NullAGIno)
	if c := g.InodeCounters(); c.OK {
		icount = c.Val.Count
	} else if b, err := m.Svc.ReadBuf(ctx, m.Geom.FSBlock(g.AGNo, xfsag.AGIBlock), xfsag.AGIOps, xfsbuf.ReadTryLock); err == nil {
		var agi xfsag.AGI
		if err := agi.UnmarshalBinary(b.Data()); err == nil {
			icount = agi.Count
		}
		m.Svc.Relse(b)
	} else {
		dlog.Debugf(ctx, "estimate: agi: %v", err)
	}

	ret := AGStats{
		AGLen:   g.Length,
		FreeLen: g.Length,
		UsedLen: g.Length,
	}
	if b, err := m.Svc.ReadBuf(ctx, m.Geom.FSBlock(g.AGNo, xfsag.AGFBlock), xfsag.AGFOps, xfsbuf.ReadTryLock); err == nil {
		var agf xfsag.AGF
		if err := agf.UnmarshalBinary(b.Data()); err == nil {
			ret.AGLen = agf.Length
			ret.FreeLen = agf.FreeBlocks
			ret.UsedLen = agf.Length - agf.FreeBlocks
		}
		m.Svc.Relse(b)
	} else {
		dlog.Debugf(ctx, "estimate: agf: %v", err)
	}

	var capacity uint32
	if lo, hi, ok := g.InodeRange(m.Geom); ok {
		capacity = uint32(hi-lo) + 1
	}
	if icount == uint32(xfsprim.NullAGIno) || icount > capacity {
		icount = capacity
	}
	ret.ICount = icount

	if ret.AGLen != g.Length || ret.FreeLen >= ret.AGLen {
		ret.AGLen = g.Length
		ret.FreeLen = g.Length
		ret.UsedLen = g.Length
	}
	return ret
}

// AGBudget returns how many blocks rebuilding any one of a group's
// trees could need, given its statistics.  It is never less than 1.
func AGBudget(geom xfsprim.Geometry, feats xfsprim.Features, st AGStats) xfsprim.Extlen {
	bs := geom.BlockSize

	bnobtSz := 2 * xfsbtree.BnoBT.CalcSize(bs, uint64(st.FreeLen))

	var inobtSz xfsprim.Extlen
	if feats.Has(xfsprim.FeatSparseInodes) {
		inobtSz = xfsbtree.InoBT.CalcSize(bs, uint64(st.ICount/xfsprim.InodesPerHolemaskBit))
	} else {
		inobtSz = xfsbtree.InoBT.CalcSize(bs, uint64(st.ICount/xfsprim.InodesPerChunk))
	}
	if feats.Has(xfsprim.FeatFinobt) {
		inobtSz *= 2
	}

	var refcbtSz xfsprim.Extlen
	if feats.Has(xfsprim.FeatReflink) {
		refcbtSz = xfsbtree.RefcBT.CalcSize(bs, uint64(st.UsedLen))
	}

	var rmapbtSz xfsprim.Extlen
	if feats.Has(xfsprim.FeatRmapbt) {
		// With reflink, every block may be mapped twice.
		if feats.Has(xfsprim.FeatReflink) {
			rmapbtSz = xfsbtree.RmapBT.CalcSize(bs, 2*uint64(st.AGLen))
		} else {
			rmapbtSz = xfsbtree.RmapBT.CalcSize(bs, uint64(st.UsedLen))
		}
	}

	ret := xfsprim.Extlen(1)
	for _, sz := range []xfsprim.Extlen{bnobtSz, inobtSz, refcbtSz, rmapbtSz} {
		if sz > ret {
			ret = sz
		}
	}
	return ret
}

// EstimateAGBudget returns how many blocks to reserve for repairing
// something in the scrub's group.  Scrubs that will not repair
// reserve nothing.
func EstimateAGBudget(ctx context.Context, sc *Scrub) xfsprim.Extlen {
	if !sc.In.Has(InRepair) {
		return 0
	}
	g, ok := sc.Mount.Group(sc.AGNo)
	if !ok {
		return 0
	}
	st := readAGStats(ctx, sc.Mount, g)
	ret := AGBudget(sc.Mount.Geom, sc.Mount.Features, st)
	dlog.Debugf(ctx, "estimate: icount=%v aglen=%v freelen=%v usedlen=%v => %v blocks",
		st.ICount, st.AGLen, st.FreeLen, st.UsedLen, ret)
	return ret
}

// EstimateRTGroupBudget is EstimateAGBudget for a realtime group,
// whose trees are sized by the group's length in blocks.
func EstimateRTGroupBudget(ctx context.Context, sc *Scrub) xfsprim.Extlen {
	if !sc.In.Has(InRepair) {
		return 0
	}
	rtg := sc.RTG
	if rtg == nil {
		var ok bool
		if rtg, ok = sc.Mount.RTGroup(sc.AGNo); !ok {
			return 0
		}
	}
	geom, feats := sc.Mount.Geom, sc.Mount.Features
	usedLen, ok := rtg.Blocks(geom)
	if !ok {
		usedLen = uint64(geom.RGExtents) * uint64(geom.RTExtSize)
	}

	var ret xfsprim.Extlen
	if feats.Has(xfsprim.FeatRmapbt) {
		if sz := xfsbtree.RTRmapBT.CalcSize(geom.BlockSize, usedLen); sz > ret {
			ret = sz
		}
	}
	if feats.Has(xfsprim.FeatReflink) {
		if sz := xfsbtree.RTRefcBT.CalcSize(geom.BlockSize, usedLen); sz > ret {
			ret = sz
		}
	}
	dlog.Debugf(ctx, "estimate: %v usedlen=%v => %v blocks", rtg, usedLen, ret)
	return ret
}
