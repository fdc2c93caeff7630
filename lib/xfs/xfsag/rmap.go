// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag

import (
	"fmt"

	"github.com/google/btree"

	"git.lukeshu.com/xfs-progs-ng/lib/fmtutil"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

type RmapFlags uint8

const (
	RmapAttrFork = RmapFlags(1 << iota)
	RmapBMBTBlock
	RmapUnwritten
)

var rmapFlagNames = []string{
	"ATTR_FORK",
	"BMBT_BLOCK",
	"UNWRITTEN",
}

func (f RmapFlags) Has(req RmapFlags) bool { return f&req == req }
func (f RmapFlags) String() string         { return fmtutil.BitfieldString(f, rmapFlagNames) }

// RmapRecord ties a group-relative extent back to its owner.
type RmapRecord struct {
	StartBlock xfsprim.AGBlock
	BlockCount xfsprim.Extlen
	Owner      xfsprim.Owner
	Offset     uint64    `json:",omitempty"` // file offset, only meaningful for inode owners
	Flags      RmapFlags `json:",omitempty"`
}

func (r RmapRecord) String() string {
	return fmt.Sprintf("{agbno:%v, len:%v, owner:%v, off:%v, flags:%v}",
		r.StartBlock, r.BlockCount, r.Owner, r.Offset, r.Flags)
}

// IsNonInode returns whether the record describes metadata owned by
// the filesystem itself, as opposed to a file.
func (r RmapRecord) IsNonInode() bool {
	return !r.Owner.IsInode()
}

// End returns the first block past the extent.
func (r RmapRecord) End() xfsprim.AGBlock {
	return r.StartBlock.Add(r.BlockCount)
}

// Compare orders records the way the reverse-mapping tree keys them:
// by start block, then owner, then offset.
func (a RmapRecord) Compare(b RmapRecord) int {
	switch {
	case a.StartBlock < b.StartBlock:
		return -1
	case a.StartBlock > b.StartBlock:
		return 1
	case a.Owner < b.Owner:
		return -1
	case a.Owner > b.Owner:
		return 1
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	default:
		return 0
	}
}

// RmapSource is anything that can enumerate the reverse-mapping
// records of one group.  The order is whatever the source yields.
type RmapSource interface {
	// QueryAll calls fn for every record; a non-nil return from
	// fn stops the query and is returned.
	QueryAll(fn func(RmapRecord) error) error
}

// RmapSlice is an RmapSource that yields records in slice order.
type RmapSlice []RmapRecord

var _ RmapSource = RmapSlice(nil)

func (s RmapSlice) QueryAll(fn func(RmapRecord) error) error {
	for _, rec := range s {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// RmapIndex is an ordered, in-memory reverse-mapping index.  The zero
// value is not usable; use NewRmapIndex.
type RmapIndex struct {
	tree *btree.BTreeG[RmapRecord]
}

var _ RmapSource = (*RmapIndex)(nil)

func NewRmapIndex(recs ...RmapRecord) *RmapIndex {
	idx := &RmapIndex{
		tree: btree.NewG[RmapRecord](16, func(a, b RmapRecord) bool {
			return a.Compare(b) < 0
		}),
	}
	for _, rec := range recs {
		idx.Insert(rec)
	}
	return idx
}

func (idx *RmapIndex) Insert(rec RmapRecord) { idx.tree.ReplaceOrInsert(rec) }
func (idx *RmapIndex) Delete(rec RmapRecord) { idx.tree.Delete(rec) }
func (idx *RmapIndex) Len() int              { return idx.tree.Len() }

// QueryAll implements RmapSource, in key order.
func (idx *RmapIndex) QueryAll(fn func(RmapRecord) error) error {
	var err error
	idx.tree.Ascend(func(rec RmapRecord) bool {
		err = fn(rec)
		return err == nil
	})
	return err
}

// Records returns every record, in key order.
func (idx *RmapIndex) Records() []RmapRecord {
	ret := make([]RmapRecord, 0, idx.tree.Len())
	_ = idx.QueryAll(func(rec RmapRecord) error {
		ret = append(ret, rec)
		return nil
	})
	return ret
}

// FreeExtents returns the extents of [start, aglen) that no record
// covers, in block order.
func FreeExtents(src RmapSource, start xfsprim.AGBlock, aglen xfsprim.Extlen) ([]RmapRecord, error) {
	var used []RmapRecord
	if err := src.QueryAll(func(rec RmapRecord) error {
		used = append(used, rec)
		return nil
	}); err != nil {
		return nil, err
	}
	sorted := NewRmapIndex(used...).Records()

	var free []RmapRecord
	cursor := start
	for _, rec := range sorted {
		if rec.StartBlock > cursor {
			free = append(free, RmapRecord{
				StartBlock: cursor,
				BlockCount: xfsprim.Extlen(rec.StartBlock - cursor),
				Owner:      xfsprim.OwnNull,
			})
		}
		if end := rec.End(); end > cursor {
			cursor = end
		}
	}
	if end := xfsprim.AGBlock(aglen); end > cursor {
		free = append(free, RmapRecord{
			StartBlock: cursor,
			BlockCount: xfsprim.Extlen(end - cursor),
			Owner:      xfsprim.OwnNull,
		})
	}
	return free, nil
}
