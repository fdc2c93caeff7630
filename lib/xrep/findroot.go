// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/textui"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// FindRoot describes one tree being searched for: the owner its
// blocks are recorded under, the validator its blocks pass, and,
// once the search is done, where its root is and how tall it is.
type FindRoot struct {
	Owner xfsprim.Owner
	Ops   *xfsbuf.Ops

	Root   xfsprim.AGBlock
	Height uint32
	// Blocks is how many blocks passed the structural check.
	Blocks xfsprim.Extlen
}

func (fr FindRoot) String() string {
	return fmt.Sprintf("{%v owner=%v root=%v height=%v blocks=%v}",
		fr.Ops, fr.Owner, fr.Root, fr.Height, fr.Blocks)
}

// Found returns whether the search found a root.
func (fr FindRoot) Found() bool {
	return fr.Root != xfsprim.NullAGBlock && fr.Height > 0
}

// FoldCandidate folds one block that passed the structural check in
// to the search state.
//
// A block taller than anything seen so far raises the height, and is
// the root if it has no siblings.  A second block at the tallest
// height means that there is no single root.  Shorter blocks change
// nothing.  The result does not depend on the order that blocks are
// folded in.
func FoldCandidate(fr FindRoot, agbno xfsprim.AGBlock, level uint16, hasSiblings bool) FindRoot {
	fr.Blocks++
	height := uint32(level) + 1
	switch {
	case height == fr.Height:
		fr.Root = xfsprim.NullAGBlock
	case height < fr.Height:
		// ignore
	default:
		fr.Height = height
		if hasSiblings {
			fr.Root = xfsprim.NullAGBlock
		} else {
			fr.Root = agbno
		}
	}
	return fr
}

type findRootStats struct {
	Records int
	Blocks  int
	Matched int
}

func (s findRootStats) String() string {
	return textui.Sprintf("find-roots: visited %v records (%v blocks), %v matched",
		s.Records, s.Blocks, s.Matched)
}

// FindAGBtreeRoots scans the reverse mappings of the scrub's group
// for the roots of the trees described by descs.  The caller must be
// holding the group headers.
//
// agflBuf is required if any descriptor is owned by xfsprim.OwnAG;
// blocks on the free list described by agfBuf are then skipped.
//
// The returned descriptors start out with no root; a tree whose root
// is still absent after the scan could not be found.  Errors reading
// blocks abort the scan.
func FindAGBtreeRoots(ctx context.Context, sc *Scrub, agfBuf *xfsbuf.Buf, descs []FindRoot, agflBuf *xfsbuf.Buf) ([]FindRoot, error) {
	g := sc.SA.Group
	if g == nil {
		return nil, fmt.Errorf("find-roots: %v: group is not set up", sc)
	}

	ret := make([]FindRoot, len(descs))
	needAGFL := false
	for i, desc := range descs {
		ret[i] = FindRoot{
			Owner:  desc.Owner,
			Ops:    desc.Ops,
			Root:   xfsprim.NullAGBlock,
			Height: 0,
		}
		if desc.Owner == xfsprim.OwnAG {
			needAGFL = true
		}
	}

	freeList := containers.NewSet[xfsprim.AGBlock]()
	if needAGFL {
		if agflBuf == nil || agfBuf == nil {
			return nil, fmt.Errorf("find-roots: %v: AG-owned trees need the AGF and AGFL", sc)
		}
		var agf xfsag.AGF
		if err := agf.UnmarshalBinary(agfBuf.Data()); err != nil {
			return nil, fmt.Errorf("find-roots: %w", err)
		}
		if err := xfsag.WalkAGFL(agf, agflBuf, func(agbno xfsprim.AGBlock) error {
			freeList.Insert(agbno)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("find-roots: %w", err)
		}
	}

	progressWriter := textui.NewProgress[findRootStats](ctx, dlog.LogLevelDebug, textui.Tunable(1*time.Second))
	defer progressWriter.Done()
	var stats findRootStats
	progressWriter.Set(stats)

	err := g.Rmap.QueryAll(func(rec xfsag.RmapRecord) error {
		if !rec.IsNonInode() {
			return nil
		}
		stats.Records++
		for agbno := rec.StartBlock; agbno < rec.End(); agbno++ {
			stats.Blocks++
			if rec.Owner == xfsprim.OwnAG && freeList.Has(agbno) {
				continue
			}
			for i := range ret {
				if ret[i].Owner != rec.Owner {
					continue
				}
				found, err := findRootBlock(ctx, sc, &ret[i], agbno)
				if err != nil {
					return err
				}
				if found {
					stats.Matched++
					break
				}
			}
		}
		progressWriter.Set(stats)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find-roots: %w", err)
	}
	return ret, nil
}

// findRootBlock reads a block and, if it is a block of fr's tree,
// folds it in to fr.
func findRootBlock(ctx context.Context, sc *Scrub, fr *FindRoot, agbno xfsprim.AGBlock) (bool, error) {
	ctx = dlog.WithField(ctx, "xrep.findroot.owner", fr.Owner)
	ctx = dlog.WithField(ctx, "xrep.findroot.agbno", agbno)
	ctx = dlog.WithField(ctx, "xrep.findroot.type", fr.Ops)

	addr := sc.Mount.Geom.FSBlock(sc.SA.Group.AGNo, agbno)
	b, err := sc.Tp.ReadBuf(ctx, addr, nil, 0)
	if err != nil {
		return false, err
	}
	defer sc.Tp.Brelse(b)

	if len(b.Data()) < 4 {
		return false, nil
	}
	if magic := xfsprim.Magic(binary.BigEndian.Uint32(b.Data())); magic != fr.Ops.Magic {
		return false, nil
	}
	if !xfsbuf.TryInterpret(b, fr.Ops) {
		dlog.Debugf(ctx, "right magic, but not a valid block")
		return false, nil
	}

	blk := xfsbtree.Decode(b)
	old := *fr
	*fr = FoldCandidate(*fr, agbno, blk.Head.Level, blk.Head.HasSiblings())
	dlog.Debugf(ctx, "level=%v siblings=%v: root %v->%v height %v->%v",
		blk.Head.Level, blk.Head.HasSiblings(), old.Root, fr.Root, old.Height, fr.Height)
	return true, nil
}
