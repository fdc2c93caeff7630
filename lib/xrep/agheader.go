// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

var (
	agfOps = &ScrubOps{
		Kind:   KindPerAG,
		Setup:  SetupAGHeader,
		Scrub:  ScrubAGF,
		Repair: RepairAGF,
	}
	agiOps = &ScrubOps{
		Kind:   KindPerAG,
		Setup:  SetupAGHeader,
		Scrub:  ScrubAGI,
		Repair: RepairAGI,
	}
)

// AGFTrees returns the trees rooted in the AGF, for the volume's
// features.
func AGFTrees(feats xfsprim.Features) []xfsbtree.Type {
	ret := []xfsbtree.Type{xfsbtree.BnoBT, xfsbtree.CntBT}
	if feats.Has(xfsprim.FeatRmapbt) {
		ret = append(ret, xfsbtree.RmapBT)
	}
	if feats.Has(xfsprim.FeatReflink) {
		ret = append(ret, xfsbtree.RefcBT)
	}
	return ret
}

// AGITrees returns the trees rooted in the AGI, for the volume's
// features.
func AGITrees(feats xfsprim.Features) []xfsbtree.Type {
	ret := []xfsbtree.Type{xfsbtree.InoBT}
	if feats.Has(xfsprim.FeatFinobt) {
		ret = append(ret, xfsbtree.FinoBT)
	}
	return ret
}

// RootDescs returns the FindAGBtreeRoots descriptors of typs.
func RootDescs(typs []xfsbtree.Type) []FindRoot {
	ret := make([]FindRoot, len(typs))
	for i, typ := range typs {
		ret[i] = FindRoot{
			Owner: typ.Owner(),
			Ops:   typ.Ops(),
			Root:  xfsprim.NullAGBlock,
		}
	}
	return ret
}

// rootPlausible returns whether a root found by the scan could be the
// root of a tree in group g.
func rootPlausible(m *Mount, g *xfsag.Group, typ xfsbtree.Type, fr FindRoot) bool {
	return fr.Found() &&
		fr.Root >= xfsag.FirstFreeBlock &&
		xfsprim.Extlen(fr.Root) < g.Length &&
		int(fr.Height) <= typ.MaxHeight(m.Geom.BlockSize, uint64(g.Length))
}

// checkRoot returns whether the root recorded in a header is a block
// of the right tree at the recorded height.
func checkRoot(ctx context.Context, sc *Scrub, typ xfsbtree.Type, root xfsprim.AGBlock, height uint32) (bool, error) {
	g := sc.SA.Group
	if !rootPlausible(sc.Mount, g, typ, FindRoot{Root: root, Height: height}) {
		dlog.Infof(ctx, "%v root=%v height=%v is impossible", typ, root, height)
		return false, nil
	}
	b, err := sc.Tp.ReadBuf(ctx, sc.Mount.Geom.FSBlock(g.AGNo, root), typ.Ops(), 0)
	if err != nil {
		if errors.Is(err, xfserr.ErrCorrupt) {
			dlog.Infof(ctx, "%v root: %v", typ, err)
			return false, nil
		}
		return false, err
	}
	defer sc.Tp.Brelse(b)
	blk := xfsbtree.Decode(b)
	if uint32(blk.Head.Level)+1 != height || blk.Head.HasSiblings() {
		dlog.Infof(ctx, "%v root=%v: level=%v siblings=%v does not match height=%v",
			typ, root, blk.Head.Level, blk.Head.HasSiblings(), height)
		return false, nil
	}
	return true, nil
}

// verifyHeader runs the full verifier of a header that was locked
// unvalidated, binding ops to it on success.  Corruption is recorded
// in sc.Out rather than returned.
func verifyHeader(ctx context.Context, sc *Scrub, b *xfsbuf.Buf, ops *xfsbuf.Ops) (bool, error) {
	if err := ops.VerifyRead(b); err != nil {
		if errors.Is(err, xfserr.ErrCorrupt) {
			dlog.Infof(ctx, "%v", err)
			sc.Out |= OutCorrupt
			return false, nil
		}
		return false, err
	}
	if b.Ops() == nil {
		b.SetOps(ops)
	}
	return true, nil
}

func freeSpace(g *xfsag.Group) (free, longest xfsprim.Extlen, err error) {
	exts, err := xfsag.FreeExtents(g.Rmap, 0, g.Length)
	if err != nil {
		return 0, 0, err
	}
	for _, ext := range exts {
		free += ext.BlockCount
		if ext.BlockCount > longest {
			longest = ext.BlockCount
		}
	}
	return free, longest, nil
}

// AGF /////////////////////////////////////////////////////////////////////////

// ScrubAGF checks the AGF of the scrub's group: that it verifies,
// that every tree it roots has its root where it says at the height
// it says, and that its free space counters agree with the reverse
// mappings.
func ScrubAGF(ctx context.Context, sc *Scrub) error {
	b := sc.SA.AGF
	if ok, err := verifyHeader(ctx, sc, b, xfsag.AGFOps); !ok {
		if err == nil {
			sc.SA.Group.ForgetSpaceCounters()
		}
		return err
	}
	var agf xfsag.AGF
	if err := agf.UnmarshalBinary(b.Data()); err != nil {
		return err
	}

	roots := map[xfsbtree.Type]struct {
		root   xfsprim.AGBlock
		height uint32
	}{
		xfsbtree.BnoBT:  {agf.BnoRoot, agf.BnoLevel},
		xfsbtree.CntBT:  {agf.CntRoot, agf.CntLevel},
		xfsbtree.RmapBT: {agf.RmapRoot, agf.RmapLevel},
		xfsbtree.RefcBT: {agf.RefcRoot, agf.RefcLevel},
	}
	for _, typ := range AGFTrees(sc.Mount.Features) {
		ok, err := checkRoot(ctx, sc, typ, roots[typ].root, roots[typ].height)
		if err != nil {
			return fmt.Errorf("agf: %w", err)
		}
		if !ok {
			sc.Out |= OutCorrupt
		}
	}

	free, longest, err := freeSpace(sc.SA.Group)
	if err != nil {
		return fmt.Errorf("agf: %w", err)
	}
	if agf.FreeBlocks != free || agf.Longest != longest {
		dlog.Infof(ctx, "agf: freeblks=%v longest=%v, but reverse mappings say %v and %v",
			agf.FreeBlocks, agf.Longest, free, longest)
		sc.Out |= OutXCorrupt
	}

	if sc.Out&(OutCorrupt|OutXCorrupt) == 0 {
		sc.SA.Group.SetSpaceCounters(xfsag.SpaceCounters{
			FreeBlocks: agf.FreeBlocks,
			Longest:    agf.Longest,
			FLCount:    agf.FLCount,
			BtreeBlks:  agf.BtreeBlks,
		})
	} else {
		sc.SA.Group.ForgetSpaceCounters()
	}
	return nil
}

// RepairAGF rebuilds the AGF of the scrub's group from the reverse
// mappings: the tree roots are found by scanning, and the free space
// counters are recomputed.  The free list indexes are kept.
func RepairAGF(ctx context.Context, sc *Scrub) error {
	m, g := sc.Mount, sc.SA.Group
	if !m.Features.Has(xfsprim.FeatRmapbt) {
		return fmt.Errorf("agf: rebuild needs reverse mappings: %w", xfserr.ErrNotSupported)
	}
	agfBuf := sc.SA.AGF

	agflBuf, err := sc.Tp.ReadBuf(ctx, m.Geom.FSBlock(g.AGNo, xfsag.AGFLBlock), xfsag.AGFLOps, 0)
	if err != nil {
		return fmt.Errorf("agf: %w", err)
	}
	typs := AGFTrees(m.Features)
	found, err := FindAGBtreeRoots(ctx, sc, agfBuf, RootDescs(typs), agflBuf)
	sc.Tp.Brelse(agflBuf)
	if err != nil {
		return fmt.Errorf("agf: %w", err)
	}
	roots := make(map[xfsbtree.Type]FindRoot, len(typs))
	for i, typ := range typs {
		if !rootPlausible(m, g, typ, found[i]) {
			return fmt.Errorf("agf: no usable %v root %v: %w", typ, found[i], xfserr.ErrCorrupt)
		}
		roots[typ] = found[i]
	}

	var old xfsag.AGF
	if err := old.UnmarshalBinary(agfBuf.Data()); err != nil {
		return fmt.Errorf("agf: %w", err)
	}
	agf := xfsag.AGF{
		Magic:   xfsprim.MagicAGF,
		Version: 1,
		SeqNo:   g.AGNo,
		Length:  g.Length,
		FLFirst: old.FLFirst,
		FLLast:  old.FLLast,
		FLCount: old.FLCount,
		UUID:    m.Geom.UUID,
		LSN:     old.LSN,

		BnoRoot:   roots[xfsbtree.BnoBT].Root,
		BnoLevel:  roots[xfsbtree.BnoBT].Height,
		CntRoot:   roots[xfsbtree.CntBT].Root,
		CntLevel:  roots[xfsbtree.CntBT].Height,
		RmapRoot:  roots[xfsbtree.RmapBT].Root,
		RmapLevel: roots[xfsbtree.RmapBT].Height,

		RmapBlocks: roots[xfsbtree.RmapBT].Blocks,
	}
	if m.Features.Has(xfsprim.FeatReflink) {
		agf.RefcRoot = roots[xfsbtree.RefcBT].Root
		agf.RefcLevel = roots[xfsbtree.RefcBT].Height
		agf.RefcBlocks = roots[xfsbtree.RefcBT].Blocks
	} else {
		agf.RefcRoot = xfsprim.NullAGBlock
	}
	// Every tree but its root block.
	for _, typ := range []xfsbtree.Type{xfsbtree.BnoBT, xfsbtree.CntBT, xfsbtree.RmapBT} {
		if fr := roots[typ]; fr.Blocks > 0 {
			agf.BtreeBlks += fr.Blocks - 1
		}
	}
	if agf.FreeBlocks, agf.Longest, err = freeSpace(g); err != nil {
		return fmt.Errorf("agf: %w", err)
	}

	agf.PutBinary(agfBuf.Data())
	sc.Tp.LogBuf(agfBuf, 0, xfsag.AGFOffEnd)
	agfBuf.SetOps(xfsag.AGFOps)
	g.SetSpaceCounters(xfsag.SpaceCounters{
		FreeBlocks: agf.FreeBlocks,
		Longest:    agf.Longest,
		FLCount:    agf.FLCount,
		BtreeBlks:  agf.BtreeBlks,
	})
	dlog.Infof(ctx, "agf: rebuilt: bno=%v cnt=%v rmap=%v refc=%v free=%v",
		agf.BnoRoot, agf.CntRoot, agf.RmapRoot, agf.RefcRoot, agf.FreeBlocks)
	return RollAG(ctx, sc)
}

// AGI /////////////////////////////////////////////////////////////////////////

// ScrubAGI checks the AGI of the scrub's group: that it verifies,
// that the inode trees have their roots where it says, and that its
// inode counts agree with the in-core counts.
func ScrubAGI(ctx context.Context, sc *Scrub) error {
	b := sc.SA.AGI
	if ok, err := verifyHeader(ctx, sc, b, xfsag.AGIOps); !ok {
		return err
	}
	var agi xfsag.AGI
	if err := agi.UnmarshalBinary(b.Data()); err != nil {
		return err
	}

	roots := map[xfsbtree.Type]struct {
		root   xfsprim.AGBlock
		height uint32
	}{
		xfsbtree.InoBT:  {agi.Root, agi.Level},
		xfsbtree.FinoBT: {agi.FreeRoot, agi.FreeLevel},
	}
	for _, typ := range AGITrees(sc.Mount.Features) {
		ok, err := checkRoot(ctx, sc, typ, roots[typ].root, roots[typ].height)
		if err != nil {
			return fmt.Errorf("agi: %w", err)
		}
		if !ok {
			sc.Out |= OutCorrupt
		}
	}

	g := sc.SA.Group
	if c := g.InodeCounters(); c.OK && (c.Val.Count != agi.Count || c.Val.FreeCount != agi.FreeCount) {
		dlog.Infof(ctx, "agi: count=%v freecount=%v, but in-core counts are %v and %v",
			agi.Count, agi.FreeCount, c.Val.Count, c.Val.FreeCount)
		sc.Out |= OutXCorrupt
	}

	if sc.Out&(OutCorrupt|OutXCorrupt) == 0 {
		g.SetInodeCounters(xfsag.InodeCounters{
			Count:     agi.Count,
			FreeCount: agi.FreeCount,
		})
	}
	return nil
}

// RepairAGI rebuilds the AGI of the scrub's group: the inode tree
// roots are found by scanning the reverse mappings, and the inode
// counts come from the in-core counts if they are known, else from
// the old AGI if they are plausible.
func RepairAGI(ctx context.Context, sc *Scrub) error {
	m, g := sc.Mount, sc.SA.Group
	if !m.Features.Has(xfsprim.FeatRmapbt) {
		return fmt.Errorf("agi: rebuild needs reverse mappings: %w", xfserr.ErrNotSupported)
	}
	agiBuf := sc.SA.AGI

	typs := AGITrees(m.Features)
	found, err := FindAGBtreeRoots(ctx, sc, sc.SA.AGF, RootDescs(typs), nil)
	if err != nil {
		return fmt.Errorf("agi: %w", err)
	}
	roots := make(map[xfsbtree.Type]FindRoot, len(typs))
	for i, typ := range typs {
		if !rootPlausible(m, g, typ, found[i]) {
			return fmt.Errorf("agi: no usable %v root %v: %w", typ, found[i], xfserr.ErrCorrupt)
		}
		roots[typ] = found[i]
	}

	var old xfsag.AGI
	if err := old.UnmarshalBinary(agiBuf.Data()); err != nil {
		return fmt.Errorf("agi: %w", err)
	}
	var counts xfsag.InodeCounters
	if c := g.InodeCounters(); c.OK {
		counts = c.Val
	} else {
		var capacity uint32
		if lo, hi, ok := g.InodeRange(m.Geom); ok {
			capacity = uint32(hi-lo) + 1
		}
		if old.Magic != xfsprim.MagicAGI || old.FreeCount > old.Count || old.Count > capacity {
			return fmt.Errorf("agi: inode counts count=%v freecount=%v cannot be trusted or recomputed: %w",
				old.Count, old.FreeCount, xfserr.ErrCorrupt)
		}
		counts = xfsag.InodeCounters{Count: old.Count, FreeCount: old.FreeCount}
	}

	agi := xfsag.AGI{
		Magic:     xfsprim.MagicAGI,
		Version:   1,
		SeqNo:     g.AGNo,
		Length:    g.Length,
		Count:     counts.Count,
		Root:      roots[xfsbtree.InoBT].Root,
		Level:     roots[xfsbtree.InoBT].Height,
		FreeCount: counts.FreeCount,
		NewIno:    xfsprim.NullAGIno,
		DirIno:    xfsprim.NullAGIno,
		UUID:      m.Geom.UUID,
		LSN:       old.LSN,
		FreeRoot:  xfsprim.NullAGBlock,
		IBlocks:   roots[xfsbtree.InoBT].Blocks,
	}
	if m.Features.Has(xfsprim.FeatFinobt) {
		agi.FreeRoot = roots[xfsbtree.FinoBT].Root
		agi.FreeLevel = roots[xfsbtree.FinoBT].Height
		agi.FBlocks = roots[xfsbtree.FinoBT].Blocks
	}

	if old.Magic == xfsprim.MagicAGI {
		agi.Unlinked = old.Unlinked
	} else {
		agi.ClearUnlinked()
	}
	agi.PutBinary(agiBuf.Data())
	sc.Tp.LogBuf(agiBuf, 0, xfsag.AGIOffEnd)
	agiBuf.SetOps(xfsag.AGIOps)
	g.SetInodeCounters(counts)
	dlog.Infof(ctx, "agi: rebuilt: ino=%v fino=%v count=%v", agi.Root, agi.FreeRoot, agi.Count)
	return RollAG(ctx, sc)
}
