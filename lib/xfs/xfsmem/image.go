// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsmem

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// Image is a JSON-able description of a volume, from which Build
// lays out the blocks.  Headers are derived from the trees; Damage is
// applied last, without fixing up checksums.
type Image struct {
	Geometry   xfsprim.Geometry
	Features   xfsprim.Features
	FreeBlocks containers.Optional[xfsprim.Extlen] // defaults to the free space of all groups
	Groups     []ImageGroup
	RTGroups   []ImageRTGroup `json:",omitempty"`
}

type ImageGroup struct {
	Length     xfsprim.Extlen `json:",omitempty"` // defaults to Geometry.AGBlocks
	Inodes     uint32
	FreeInodes uint32
	FreeList   []xfsprim.AGBlock `json:",omitempty"`
	Trees      []ImageTree
	Rmap       []xfsag.RmapRecord `json:",omitempty"` // records beyond those implied by headers and trees
	Damage     []ImageDamage      `json:",omitempty"`
}

// ImageTree lists the blocks of one B-tree.  Unlinked blocks (decoys)
// may be listed too.
type ImageTree struct {
	Type   xfsbtree.Type
	Blocks []ImageBlock
}

type ImageBlock struct {
	AGBno    xfsprim.AGBlock
	Level    uint16
	NumRecs  uint16 `json:",omitempty"` // defaults to 1
	LeftSib  containers.Optional[xfsprim.AGBlock]
	RightSib containers.Optional[xfsprim.AGBlock]
}

// ImageDamage zeroes Length bytes of a block starting at Offset.
type ImageDamage struct {
	AGBno  xfsprim.AGBlock
	Offset int
	Length int
}

type ImageRTGroup struct {
	Extents uint32
}

func (img Image) checkGeometry() error {
	geom := img.Geometry
	if geom.BlockSize < 512 || geom.BlockSize&(geom.BlockSize-1) != 0 {
		return fmt.Errorf("block size %d is not a power of 2 of at least 512", geom.BlockSize)
	}
	if geom.InodeSize == 0 || uint32(geom.InodeSize) > geom.BlockSize {
		return fmt.Errorf("inode size %d does not fit block size %d", geom.InodeSize, geom.BlockSize)
	}
	if geom.AGBlocks <= xfsprim.Extlen(xfsag.FirstFreeBlock) {
		return fmt.Errorf("groups of %d blocks have no room past the headers", geom.AGBlocks)
	}
	if geom.AGCount != 0 && int(geom.AGCount) != len(img.Groups) {
		return fmt.Errorf("geometry says %d groups, but image has %d", geom.AGCount, len(img.Groups))
	}
	return nil
}

// Build lays out an image in a new volume.
func Build(ctx context.Context, img Image) (*Volume, error) {
	if err := img.checkGeometry(); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	geom := img.Geometry
	geom.AGCount = xfsprim.AGNumber(len(img.Groups))

	vol := NewVolume(geom, img.Features, 0)
	var free xfsprim.Extlen
	for i, imgGrp := range img.Groups {
		agno := xfsprim.AGNumber(i)
		g, agf, err := buildGroup(vol, agno, imgGrp)
		if err != nil {
			return nil, fmt.Errorf("image: ag %d: %w", agno, err)
		}
		free += agf.FreeBlocks
		dlog.Debugf(ctx, "image: built %v: %d blocks, %d free", g, g.Length, agf.FreeBlocks)
	}
	for i, imgRTG := range img.RTGroups {
		vol.AddRTGroup(&xfsag.RTGroup{
			RGNo:    xfsprim.AGNumber(i),
			Extents: imgRTG.Extents,
		})
	}
	if img.FreeBlocks.OK {
		free = img.FreeBlocks.Val
	}
	vol.free = free
	return vol, nil
}

// canonicalRoot returns the unique highest block with no siblings,
// and the tree height.
func canonicalRoot(blocks []ImageBlock) (xfsprim.AGBlock, uint32) {
	root := xfsprim.NullAGBlock
	var height uint32
	for _, blk := range blocks {
		h := uint32(blk.Level) + 1
		switch {
		case h > height:
			height = h
			root = xfsprim.NullAGBlock
			if !blk.LeftSib.OK && !blk.RightSib.OK {
				root = blk.AGBno
			}
		case h == height:
			root = xfsprim.NullAGBlock
		}
	}
	return root, height
}

func buildGroup(vol *Volume, agno xfsprim.AGNumber, img ImageGroup) (*xfsag.Group, xfsag.AGF, error) {
	geom := vol.Geom
	length := img.Length
	if length == 0 {
		length = geom.AGBlocks
	}
	if length > geom.AGBlocks || length <= xfsprim.Extlen(xfsag.FirstFreeBlock) {
		return nil, xfsag.AGF{}, fmt.Errorf("length %d out of range (%d, %d]", length, xfsag.FirstFreeBlock, geom.AGBlocks)
	}
	idx := xfsag.NewRmapIndex()
	g := xfsag.NewGroup(agno, length, idx)
	vol.AddGroup(g)

	checkBno := func(what string, bno xfsprim.AGBlock) error {
		if bno < xfsag.FirstFreeBlock || xfsprim.Extlen(bno) >= length {
			return fmt.Errorf("%s block %d out of range [%d, %d)", what, bno, xfsag.FirstFreeBlock, length)
		}
		return nil
	}
	write := func(bno xfsprim.AGBlock, fill func([]byte)) error {
		dat := make([]byte, geom.BlockSize)
		fill(dat)
		return vol.WriteBlock(geom.FSBlock(agno, bno), dat)
	}

	idx.Insert(xfsag.RmapRecord{StartBlock: 0, BlockCount: xfsprim.Extlen(xfsag.FirstFreeBlock), Owner: xfsprim.OwnFS})

	// AGFL
	if uint32(len(img.FreeList)) > xfsag.AGFLSize(geom.BlockSize) {
		return nil, xfsag.AGF{}, fmt.Errorf("free list of %d blocks does not fit in the AGFL", len(img.FreeList))
	}
	for _, bno := range img.FreeList {
		if err := checkBno("free list", bno); err != nil {
			return nil, xfsag.AGF{}, err
		}
		idx.Insert(xfsag.RmapRecord{StartBlock: bno, BlockCount: 1, Owner: xfsprim.OwnAG})
	}
	if err := write(xfsag.AGFLBlock, func(dat []byte) {
		xfsag.FormatAGFL(dat, agno, geom.UUID, img.FreeList)
	}); err != nil {
		return nil, xfsag.AGF{}, err
	}

	// trees
	type treeInfo struct {
		root   xfsprim.AGBlock
		height uint32
		blocks int
	}
	trees := make(map[xfsbtree.Type]treeInfo)
	for _, tree := range img.Trees {
		if _, dup := trees[tree.Type]; dup {
			return nil, xfsag.AGF{}, fmt.Errorf("%v listed twice", tree.Type)
		}
		for _, blk := range tree.Blocks {
			blk := blk
			if err := checkBno(tree.Type.String(), blk.AGBno); err != nil {
				return nil, xfsag.AGF{}, err
			}
			head := xfsbtree.ShortHeader{
				Magic:    tree.Type.Magic(),
				Level:    blk.Level,
				NumRecs:  blk.NumRecs,
				LeftSib:  xfsprim.NullAGBlock,
				RightSib: xfsprim.NullAGBlock,
				Blkno:    geom.FSBlock(agno, blk.AGBno),
				UUID:     geom.UUID,
				Owner:    agno,
			}
			if head.NumRecs == 0 {
				head.NumRecs = 1
			}
			if blk.LeftSib.OK {
				head.LeftSib = blk.LeftSib.Val
			}
			if blk.RightSib.OK {
				head.RightSib = blk.RightSib.Val
			}
			if err := write(blk.AGBno, func(dat []byte) { xfsbtree.FormatShort(dat, head) }); err != nil {
				return nil, xfsag.AGF{}, err
			}
			idx.Insert(xfsag.RmapRecord{StartBlock: blk.AGBno, BlockCount: 1, Owner: tree.Type.Owner()})
		}
		root, height := canonicalRoot(tree.Blocks)
		trees[tree.Type] = treeInfo{root: root, height: height, blocks: len(tree.Blocks)}
	}
	for _, rec := range img.Rmap {
		if xfsprim.Extlen(rec.End()) > length {
			return nil, xfsag.AGF{}, fmt.Errorf("rmap record %v runs past the end of the group", rec)
		}
		idx.Insert(rec)
	}
	tree := func(typ xfsbtree.Type) treeInfo {
		if info, ok := trees[typ]; ok {
			return info
		}
		return treeInfo{root: xfsprim.NullAGBlock}
	}
	btreeBlocks := func(typs ...xfsbtree.Type) xfsprim.Extlen {
		var n xfsprim.Extlen
		for _, typ := range typs {
			if info := tree(typ); info.blocks > 0 {
				n += xfsprim.Extlen(info.blocks - 1)
			}
		}
		return n
	}

	// AGF
	freeExts, err := xfsag.FreeExtents(idx, 0, length)
	if err != nil {
		return nil, xfsag.AGF{}, err
	}
	agf := xfsag.AGF{
		Magic:      xfsprim.MagicAGF,
		Version:    1,
		SeqNo:      agno,
		Length:     length,
		BnoRoot:    tree(xfsbtree.BnoBT).root,
		CntRoot:    tree(xfsbtree.CntBT).root,
		RmapRoot:   tree(xfsbtree.RmapBT).root,
		BnoLevel:   tree(xfsbtree.BnoBT).height,
		CntLevel:   tree(xfsbtree.CntBT).height,
		RmapLevel:  tree(xfsbtree.RmapBT).height,
		FLCount:    uint32(len(img.FreeList)),
		BtreeBlks:  btreeBlocks(xfsbtree.BnoBT, xfsbtree.CntBT, xfsbtree.RmapBT),
		UUID:       geom.UUID,
		RmapBlocks: xfsprim.Extlen(tree(xfsbtree.RmapBT).blocks),
		RefcBlocks: xfsprim.Extlen(tree(xfsbtree.RefcBT).blocks),
		RefcRoot:   tree(xfsbtree.RefcBT).root,
		RefcLevel:  tree(xfsbtree.RefcBT).height,
	}
	if len(img.FreeList) > 0 {
		agf.FLLast = uint32(len(img.FreeList) - 1)
	}
	for _, ext := range freeExts {
		agf.FreeBlocks += ext.BlockCount
		if ext.BlockCount > agf.Longest {
			agf.Longest = ext.BlockCount
		}
	}
	if err := write(xfsag.AGFBlock, agf.PutBinary); err != nil {
		return nil, xfsag.AGF{}, err
	}

	// AGI
	if img.FreeInodes > img.Inodes {
		return nil, xfsag.AGF{}, fmt.Errorf("%d free inodes of %d", img.FreeInodes, img.Inodes)
	}
	agi := xfsag.AGI{
		Magic:     xfsprim.MagicAGI,
		Version:   1,
		SeqNo:     agno,
		Length:    length,
		Count:     img.Inodes,
		Root:      tree(xfsbtree.InoBT).root,
		Level:     tree(xfsbtree.InoBT).height,
		FreeCount: img.FreeInodes,
		NewIno:    xfsprim.NullAGIno,
		DirIno:    xfsprim.NullAGIno,
		UUID:      geom.UUID,
		FreeRoot:  tree(xfsbtree.FinoBT).root,
		FreeLevel: tree(xfsbtree.FinoBT).height,
		IBlocks:   xfsprim.Extlen(tree(xfsbtree.InoBT).blocks),
		FBlocks:   xfsprim.Extlen(tree(xfsbtree.FinoBT).blocks),
	}
	agi.ClearUnlinked()
	if err := write(xfsag.AGIBlock, agi.PutBinary); err != nil {
		return nil, xfsag.AGF{}, err
	}

	// damage
	for _, dmg := range img.Damage {
		if xfsprim.Extlen(dmg.AGBno) >= length {
			return nil, xfsag.AGF{}, fmt.Errorf("damage to block %d beyond the group", dmg.AGBno)
		}
		if dmg.Offset < 0 || dmg.Length < 0 || dmg.Offset+dmg.Length > int(geom.BlockSize) {
			return nil, xfsag.AGF{}, fmt.Errorf("damage to bytes [%d,+%d) of block %d is out of range", dmg.Offset, dmg.Length, dmg.AGBno)
		}
		addr := geom.FSBlock(agno, dmg.AGBno)
		dat := vol.Block(addr)
		for i := dmg.Offset; i < dmg.Offset+dmg.Length; i++ {
			dat[i] = 0
		}
		if err := vol.WriteBlock(addr, dat); err != nil {
			return nil, xfsag.AGF{}, err
		}
	}

	return g, agf, nil
}
