// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsprim

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/xfs-progs-ng/lib/fmtutil"
)

type (
	AGNumber uint32 // index of an allocation (or realtime) group
	AGBlock  uint32 // block number relative to the start of its group
	AGIno    uint32 // inode number relative to the start of its group
	Extlen   uint32 // length of an extent, in blocks
	FSBlock  uint64 // filesystem-wide block number
)

const (
	NullAGBlock = AGBlock(0xffff_ffff)
	NullAGIno   = AGIno(0xffff_ffff)
	NullExtlen  = Extlen(0xffff_ffff)
)

func formatAddr(addr uint64, null bool, f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#x", addr)
		if null {
			str = "null"
		}
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), addr)
	}
}

func (b AGBlock) Format(f fmt.State, verb rune) { formatAddr(uint64(b), b == NullAGBlock, f, verb) }
func (b FSBlock) Format(f fmt.State, verb rune) { formatAddr(uint64(b), false, f, verb) }

func (b AGBlock) Add(n Extlen) AGBlock { return b + AGBlock(n) }

// Geometry is the subset of the superblock needed to translate
// between group-relative and filesystem-wide addresses.
type Geometry struct {
	BlockSize uint32
	InodeSize uint16
	AGBlocks  Extlen // blocks per allocation group (the last group may be shorter)
	AGCount   AGNumber
	RTExtSize Extlen // realtime extent size, in blocks
	RGExtents uint32 // realtime extents per realtime group
	RGCount   AGNumber
	UUID      uuid.UUID // the metadata UUID stamped into every block header
}

func (g Geometry) FSBlock(agno AGNumber, agbno AGBlock) FSBlock {
	return FSBlock(uint64(agno)*uint64(g.AGBlocks) + uint64(agbno))
}

func (g Geometry) Split(fsbno FSBlock) (AGNumber, AGBlock) {
	return AGNumber(uint64(fsbno) / uint64(g.AGBlocks)), AGBlock(uint64(fsbno) % uint64(g.AGBlocks))
}

// InodesPerBlock returns how many inode records fit in one block.
func (g Geometry) InodesPerBlock() uint32 {
	if g.InodeSize == 0 {
		return 0
	}
	return g.BlockSize / uint32(g.InodeSize)
}

const (
	InodesPerChunk       = 64
	InodesPerHolemaskBit = 4
)
