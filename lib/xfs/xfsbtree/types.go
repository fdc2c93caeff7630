// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xfsbtree knows the shape of each kind of B-tree: block
// headers, fan-out, worst-case sizes, and how to recognize a block of
// a given kind.  It does not know record formats.
package xfsbtree

import (
	"fmt"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

type Type uint8

const (
	BnoBT Type = iota
	CntBT
	InoBT
	FinoBT
	RmapBT
	RefcBT
	RTRmapBT
	RTRefcBT
)

// longHeaderSize is the size of a v5 long-form (inode-rooted) block
// header; only the realtime trees use it.
const longHeaderSize = 0x48

type typeInfo struct {
	name  string
	magic xfsprim.Magic
	owner xfsprim.Owner

	headerSize int
	recSize    int
	keySize    int
	ptrSize    int
	// Node blocks of overlapping-interval trees store a low key
	// and a high key per pointer.
	overlapping bool
}

var typeInfos = [...]typeInfo{
	BnoBT:    {"bnobt", xfsprim.MagicBnoBT, xfsprim.OwnAG, ShortHeaderSize, 8, 8, 4, false},
	CntBT:    {"cntbt", xfsprim.MagicCntBT, xfsprim.OwnAG, ShortHeaderSize, 8, 8, 4, false},
	InoBT:    {"inobt", xfsprim.MagicInoBT, xfsprim.OwnInoBT, ShortHeaderSize, 16, 4, 4, false},
	FinoBT:   {"finobt", xfsprim.MagicFinoBT, xfsprim.OwnInoBT, ShortHeaderSize, 16, 4, 4, false},
	RmapBT:   {"rmapbt", xfsprim.MagicRmapBT, xfsprim.OwnAG, ShortHeaderSize, 24, 20, 4, true},
	RefcBT:   {"refcountbt", xfsprim.MagicRefcBT, xfsprim.OwnRefC, ShortHeaderSize, 12, 4, 4, false},
	RTRmapBT: {"rtrmapbt", xfsprim.MagicRTRmap, xfsprim.OwnFS, longHeaderSize, 24, 20, 8, true},
	RTRefcBT: {"rtrefcountbt", xfsprim.MagicRTRefc, xfsprim.OwnFS, longHeaderSize, 12, 4, 8, false},
}

func (t Type) info() typeInfo {
	if int(t) >= len(typeInfos) {
		panic(fmt.Errorf("invalid btree type: %d", t))
	}
	return typeInfos[t]
}

func (t Type) String() string {
	if int(t) >= len(typeInfos) {
		return fmt.Sprintf("btree_type(%d)", uint8(t))
	}
	return typeInfos[t].name
}

func (t Type) Magic() xfsprim.Magic { return t.info().magic }

// Owner returns the reverse-mapping owner of this tree's blocks.
func (t Type) Owner() xfsprim.Owner { return t.info().owner }

// MaxRecs is the number of records (leaf) or pointers (node) that fit
// in one block.
func (t Type) MaxRecs(blockSize uint32, leaf bool) int {
	info := t.info()
	blockLen := int(blockSize) - info.headerSize
	if blockLen <= 0 {
		return 0
	}
	if leaf {
		return blockLen / info.recSize
	}
	keySize := info.keySize
	if info.overlapping {
		keySize *= 2
	}
	return blockLen / (keySize + info.ptrSize)
}

// MinRecs is the fewest records (leaf) or pointers (node) that a
// non-root block may hold.
func (t Type) MinRecs(blockSize uint32, leaf bool) int {
	return t.MaxRecs(blockSize, leaf) / 2
}

func (t Type) minLimits(blockSize uint32) [2]uint64 {
	return [2]uint64{
		uint64(t.MinRecs(blockSize, true)),
		uint64(t.MinRecs(blockSize, false)),
	}
}

func howMany(x, y uint64) uint64 {
	return (x + y - 1) / y
}

// CalcSize returns the number of blocks that a tree holding the given
// number of records could need, assuming every block is only
// minimally full.  A tree with no records still has a root block.
func CalcSize(limits [2]uint64, records uint64) uint64 {
	if limits[0] == 0 || limits[1] < 2 {
		panic(fmt.Errorf("should not happen: degenerate btree limits %v", limits))
	}
	levelBlocks := records
	var blocks uint64
	for level := 0; levelBlocks > 1; level++ {
		limit := limits[0]
		if level > 0 {
			limit = limits[1]
		}
		levelBlocks = howMany(levelBlocks, limit)
		blocks += levelBlocks
	}
	if blocks == 0 {
		blocks = 1
	}
	return blocks
}

// CalcSize is the package-level CalcSize using this tree type's
// fan-out; the result saturates at the largest valid extent length.
func (t Type) CalcSize(blockSize uint32, records uint64) xfsprim.Extlen {
	blocks := CalcSize(t.minLimits(blockSize), records)
	if blocks >= uint64(xfsprim.NullExtlen) {
		return xfsprim.NullExtlen - 1
	}
	return xfsprim.Extlen(blocks)
}

// MaxHeight returns the tallest a tree of this type could be when
// holding the given number of records.
func (t Type) MaxHeight(blockSize uint32, records uint64) int {
	limits := t.minLimits(blockSize)
	if limits[0] == 0 || limits[1] < 2 {
		return 1
	}
	levelBlocks := howMany(records, limits[0])
	height := 1
	for levelBlocks > 1 {
		levelBlocks = howMany(levelBlocks, limits[1])
		height++
	}
	return height
}

func (t Type) MarshalText() ([]byte, error) {
	if int(t) >= len(typeInfos) {
		return nil, fmt.Errorf("invalid btree type: %d", t)
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(dat []byte) error {
	for i, info := range typeInfos {
		if info.name == string(dat) {
			*t = Type(i)
			return nil
		}
	}
	return fmt.Errorf("unknown btree type: %q", dat)
}
