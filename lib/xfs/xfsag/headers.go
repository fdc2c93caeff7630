// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag

import (
	"encoding/binary"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/google/uuid"

	"git.lukeshu.com/xfs-progs-ng/lib/binstruct"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// Group-relative locations of the group headers.  Block 0 holds the
// superblock copy.
const (
	SBBlock   = xfsprim.AGBlock(0)
	AGFBlock  = xfsprim.AGBlock(1)
	AGIBlock  = xfsprim.AGBlock(2)
	AGFLBlock = xfsprim.AGBlock(3)

	// FirstFreeBlock is the first block not occupied by headers.
	FirstFreeBlock = AGFLBlock + 1
)

// AGF ////////////////////////////////////////////////////////////////////////

// AGF is the free-space header of an allocation group.  It records
// the roots of the free-space, reverse-mapping and refcount trees.
type AGF struct {
	Magic         xfsprim.Magic    `bin:"off=0x00, siz=0x4"`
	Version       uint32           `bin:"off=0x04, siz=0x4"`
	SeqNo         xfsprim.AGNumber `bin:"off=0x08, siz=0x4"`
	Length        xfsprim.Extlen   `bin:"off=0x0c, siz=0x4"`
	BnoRoot       xfsprim.AGBlock  `bin:"off=0x10, siz=0x4"`
	CntRoot       xfsprim.AGBlock  `bin:"off=0x14, siz=0x4"`
	RmapRoot      xfsprim.AGBlock  `bin:"off=0x18, siz=0x4"`
	BnoLevel      uint32           `bin:"off=0x1c, siz=0x4"`
	CntLevel      uint32           `bin:"off=0x20, siz=0x4"`
	RmapLevel     uint32           `bin:"off=0x24, siz=0x4"`
	FLFirst       uint32           `bin:"off=0x28, siz=0x4"`
	FLLast        uint32           `bin:"off=0x2c, siz=0x4"`
	FLCount       uint32           `bin:"off=0x30, siz=0x4"`
	FreeBlocks    xfsprim.Extlen   `bin:"off=0x34, siz=0x4"`
	Longest       xfsprim.Extlen   `bin:"off=0x38, siz=0x4"`
	BtreeBlks     xfsprim.Extlen   `bin:"off=0x3c, siz=0x4"`
	UUID          uuid.UUID        `bin:"off=0x40, siz=0x10"`
	RmapBlocks    xfsprim.Extlen   `bin:"off=0x50, siz=0x4"`
	RefcBlocks    xfsprim.Extlen   `bin:"off=0x54, siz=0x4"`
	RefcRoot      xfsprim.AGBlock  `bin:"off=0x58, siz=0x4"`
	RefcLevel     uint32           `bin:"off=0x5c, siz=0x4"`
	Spare64       [14]uint64       `bin:"off=0x60, siz=0x70"`
	LSN           uint64           `bin:"off=0xd0, siz=0x8"`
	CRC           uint32           `bin:"off=0xd8, siz=0x4"` // [ignored-when-writing]
	Spare2        uint32           `bin:"off=0xdc, siz=0x4"`
	binstruct.End `bin:"off=0xe0"`
}

const (
	agfCRCOffset = 0xd8
	agfSize      = 0xe0
)

// Byte offsets of AGF fields, for logging partial updates.
const (
	AGFOffMagic    = 0x00
	AGFOffRoots    = 0x10
	AGFOffCounters = 0x34
	AGFOffRefc     = 0x50
	AGFOffEnd      = agfSize - 1
)

func (agf *AGF) UnmarshalBinary(dat []byte) error {
	_, err := binstruct.Unmarshal(dat, agf)
	return err
}

// PutBinary encodes the AGF in to dat and updates the checksum.
func (agf AGF) PutBinary(dat []byte) {
	putHeader(dat, agf, agfCRCOffset)
}

// putHeader encodes a group header in to the front of dat, then
// stamps the checksum at crcOff.
func putHeader(dat []byte, hdr any, crcOff int) {
	bs, err := binstruct.Marshal(hdr)
	if err != nil {
		panic(err)
	}
	copy(dat, bs)
	xfsbtree.SetChecksumAt(dat, crcOff)
}

func verifyAGF(b *xfsbuf.Buf) error {
	var agf AGF
	if err := agf.UnmarshalBinary(b.Data()); err != nil {
		return xfserr.Corruptf("%v", err)
	}
	if agf.Magic != xfsprim.MagicAGF {
		return xfserr.Corruptf("bad AGF magic: %v", agf.Magic)
	}
	var errs derror.MultiError
	if agf.UUID != b.Loc.UUID {
		errs = append(errs, fmt.Errorf("uuid=%v does not match filesystem uuid=%v", agf.UUID, b.Loc.UUID))
	}
	if agf.SeqNo != b.Loc.AGNo {
		errs = append(errs, fmt.Errorf("seqno=%v but read from ag=%v", agf.SeqNo, b.Loc.AGNo))
	}
	if agf.Length != b.Loc.AGLen {
		errs = append(errs, fmt.Errorf("length=%v but group has %v blocks", agf.Length, b.Loc.AGLen))
	}
	if agf.FreeBlocks > agf.Length || agf.Longest > agf.FreeBlocks {
		errs = append(errs, fmt.Errorf("free space counters freeblks=%v longest=%v are impossible in %v blocks",
			agf.FreeBlocks, agf.Longest, agf.Length))
	}
	if maxFL := AGFLSize(uint32(len(b.Data()))); agf.FLFirst >= maxFL || agf.FLLast >= maxFL || agf.FLCount > maxFL {
		errs = append(errs, fmt.Errorf("free list indexes first=%v last=%v count=%v out of range [0,%v)",
			agf.FLFirst, agf.FLLast, agf.FLCount, maxFL))
	}
	if len(errs) > 0 {
		return xfserr.Corruptf("agf: %v", errs)
	}
	return nil
}

var AGFOps = &xfsbuf.Ops{
	Name:         "agf",
	Magic:        xfsprim.MagicAGF,
	VerifyStruct: verifyAGF,
	VerifyRead: func(b *xfsbuf.Buf) error {
		if err := verifyAGF(b); err != nil {
			return err
		}
		if stored, calced := binary.BigEndian.Uint32(b.Data()[agfCRCOffset:]), xfsbtree.ChecksumAt(b.Data(), agfCRCOffset); stored != calced {
			return xfserr.Corruptf("agf: checksum mismatch: stored=%#08x calculated=%#08x", stored, calced)
		}
		return nil
	},
}

// AGI ////////////////////////////////////////////////////////////////////////

// AGI is the inode header of an allocation group.  It records the
// roots of the inode and free-inode trees, and the heads of the
// unlinked-inode buckets.
type AGI struct {
	Magic         xfsprim.Magic     `bin:"off=0x00, siz=0x4"`
	Version       uint32            `bin:"off=0x04, siz=0x4"`
	SeqNo         xfsprim.AGNumber  `bin:"off=0x08, siz=0x4"`
	Length        xfsprim.Extlen    `bin:"off=0x0c, siz=0x4"`
	Count         uint32            `bin:"off=0x10, siz=0x4"`
	Root          xfsprim.AGBlock   `bin:"off=0x14, siz=0x4"`
	Level         uint32            `bin:"off=0x18, siz=0x4"`
	FreeCount     uint32            `bin:"off=0x1c, siz=0x4"`
	NewIno        xfsprim.AGIno     `bin:"off=0x20, siz=0x4"`
	DirIno        xfsprim.AGIno     `bin:"off=0x24, siz=0x4"`
	Unlinked      [64]xfsprim.AGIno `bin:"off=0x28, siz=0x100"`
	UUID          uuid.UUID         `bin:"off=0x128, siz=0x10"`
	CRC           uint32            `bin:"off=0x138, siz=0x4"` // [ignored-when-writing]
	Pad32         uint32            `bin:"off=0x13c, siz=0x4"`
	LSN           uint64            `bin:"off=0x140, siz=0x8"`
	FreeRoot      xfsprim.AGBlock   `bin:"off=0x148, siz=0x4"`
	FreeLevel     uint32            `bin:"off=0x14c, siz=0x4"`
	IBlocks       xfsprim.Extlen    `bin:"off=0x150, siz=0x4"`
	FBlocks       xfsprim.Extlen    `bin:"off=0x154, siz=0x4"`
	binstruct.End `bin:"off=0x158"`
}

const (
	agiCRCOffset = 0x138
	agiSize      = 0x158
)

const (
	AGIOffMagic  = 0x00
	AGIOffCounts = 0x10
	AGIOffFree   = 0x148
	AGIOffEnd    = agiSize - 1
)

func (agi *AGI) UnmarshalBinary(dat []byte) error {
	_, err := binstruct.Unmarshal(dat, agi)
	return err
}

// PutBinary encodes the AGI in to dat and updates the checksum.
func (agi AGI) PutBinary(dat []byte) {
	putHeader(dat, agi, agiCRCOffset)
}

// ClearUnlinked resets every unlinked-inode bucket to "empty".
func (agi *AGI) ClearUnlinked() {
	for i := range agi.Unlinked {
		agi.Unlinked[i] = xfsprim.NullAGIno
	}
}

func verifyAGI(b *xfsbuf.Buf) error {
	var agi AGI
	if err := agi.UnmarshalBinary(b.Data()); err != nil {
		return xfserr.Corruptf("%v", err)
	}
	if agi.Magic != xfsprim.MagicAGI {
		return xfserr.Corruptf("bad AGI magic: %v", agi.Magic)
	}
	var errs derror.MultiError
	if agi.UUID != b.Loc.UUID {
		errs = append(errs, fmt.Errorf("uuid=%v does not match filesystem uuid=%v", agi.UUID, b.Loc.UUID))
	}
	if agi.SeqNo != b.Loc.AGNo {
		errs = append(errs, fmt.Errorf("seqno=%v but read from ag=%v", agi.SeqNo, b.Loc.AGNo))
	}
	if agi.Length != b.Loc.AGLen {
		errs = append(errs, fmt.Errorf("length=%v but group has %v blocks", agi.Length, b.Loc.AGLen))
	}
	if agi.FreeCount > agi.Count {
		errs = append(errs, fmt.Errorf("freecount=%v exceeds count=%v", agi.FreeCount, agi.Count))
	}
	if len(errs) > 0 {
		return xfserr.Corruptf("agi: %v", errs)
	}
	return nil
}

var AGIOps = &xfsbuf.Ops{
	Name:         "agi",
	Magic:        xfsprim.MagicAGI,
	VerifyStruct: verifyAGI,
	VerifyRead: func(b *xfsbuf.Buf) error {
		if err := verifyAGI(b); err != nil {
			return err
		}
		if stored, calced := binary.BigEndian.Uint32(b.Data()[agiCRCOffset:]), xfsbtree.ChecksumAt(b.Data(), agiCRCOffset); stored != calced {
			return xfserr.Corruptf("agi: checksum mismatch: stored=%#08x calculated=%#08x", stored, calced)
		}
		return nil
	},
}

// AGFL ///////////////////////////////////////////////////////////////////////

// The AGFL is the free-block staging list: a small circular array of
// blocks set aside for refilling the free-space trees.  Its contents
// are stale by definition.
type agflHeader struct {
	Magic         xfsprim.Magic    `bin:"off=0x00, siz=0x4"`
	SeqNo         xfsprim.AGNumber `bin:"off=0x04, siz=0x4"`
	UUID          uuid.UUID        `bin:"off=0x08, siz=0x10"`
	LSN           uint64           `bin:"off=0x18, siz=0x8"`
	CRC           uint32           `bin:"off=0x20, siz=0x4"` // [ignored-when-writing]
	binstruct.End `bin:"off=0x24"`
}

const (
	agflHeaderSize = 0x24
	agflCRCOffset  = 0x20
)

// AGFLSize returns how many block numbers an AGFL block holds.
func AGFLSize(blockSize uint32) uint32 {
	if blockSize <= agflHeaderSize {
		return 0
	}
	return (blockSize - agflHeaderSize) / 4
}

// FormatAGFL writes an AGFL header and the given slots to dat.
// Unused slots are set to null.
func FormatAGFL(dat []byte, agno xfsprim.AGNumber, fsUUID uuid.UUID, slots []xfsprim.AGBlock) {
	n := AGFLSize(uint32(len(dat)))
	for i := uint32(0); i < n; i++ {
		v := xfsprim.NullAGBlock
		if int(i) < len(slots) {
			v = slots[i]
		}
		binary.BigEndian.PutUint32(dat[agflHeaderSize+4*i:], uint32(v))
	}
	putHeader(dat, agflHeader{
		Magic: xfsprim.MagicAGFL,
		SeqNo: agno,
		UUID:  fsUUID,
	}, agflCRCOffset)
}

func agflSlot(dat []byte, i uint32) xfsprim.AGBlock {
	return xfsprim.AGBlock(binary.BigEndian.Uint32(dat[agflHeaderSize+4*i:]))
}

func verifyAGFL(b *xfsbuf.Buf) error {
	dat := b.Data()
	var hdr agflHeader
	if _, err := binstruct.Unmarshal(dat, &hdr); err != nil {
		return xfserr.Corruptf("agfl: %v", err)
	}
	if hdr.Magic != xfsprim.MagicAGFL {
		return xfserr.Corruptf("bad AGFL magic: %v", hdr.Magic)
	}
	var errs derror.MultiError
	if hdr.UUID != b.Loc.UUID {
		errs = append(errs, fmt.Errorf("uuid=%v does not match filesystem uuid=%v", hdr.UUID, b.Loc.UUID))
	}
	if hdr.SeqNo != b.Loc.AGNo {
		errs = append(errs, fmt.Errorf("seqno=%v but read from ag=%v", hdr.SeqNo, b.Loc.AGNo))
	}
	for i := uint32(0); i < AGFLSize(uint32(len(dat))); i++ {
		slot := agflSlot(dat, i)
		if slot != xfsprim.NullAGBlock && uint32(slot) >= uint32(b.Loc.AGLen) {
			errs = append(errs, fmt.Errorf("slot %v points at block %v beyond the group", i, slot))
		}
	}
	if len(errs) > 0 {
		return xfserr.Corruptf("agfl: %v", errs)
	}
	return nil
}

var AGFLOps = &xfsbuf.Ops{
	Name:         "agfl",
	Magic:        xfsprim.MagicAGFL,
	VerifyStruct: verifyAGFL,
	VerifyRead: func(b *xfsbuf.Buf) error {
		if err := verifyAGFL(b); err != nil {
			return err
		}
		if stored, calced := binary.BigEndian.Uint32(b.Data()[agflCRCOffset:]), xfsbtree.ChecksumAt(b.Data(), agflCRCOffset); stored != calced {
			return xfserr.Corruptf("agfl: checksum mismatch: stored=%#08x calculated=%#08x", stored, calced)
		}
		return nil
	},
}

// WalkAGFL calls fn for each block on the free list described by
// agf, in list order.  If fn returns an error the walk stops and the
// error is returned.  An AGF whose list indexes do not fit the AGFL
// is corrupt.
func WalkAGFL(agf AGF, agflBuf *xfsbuf.Buf, fn func(xfsprim.AGBlock) error) error {
	dat := agflBuf.Data()
	size := AGFLSize(uint32(len(dat)))
	if agf.FLCount == 0 {
		return nil
	}
	if agf.FLFirst >= size || agf.FLLast >= size || agf.FLCount > size {
		return xfserr.Corruptf("agfl: first=%v last=%v count=%v do not fit %v slots",
			agf.FLFirst, agf.FLLast, agf.FLCount, size)
	}
	i := agf.FLFirst
	for n := uint32(0); n < agf.FLCount; n++ {
		if err := fn(agflSlot(dat, i)); err != nil {
			return err
		}
		if i == agf.FLLast && n+1 != agf.FLCount {
			return xfserr.Corruptf("agfl: count=%v disagrees with first=%v last=%v",
				agf.FLCount, agf.FLFirst, agf.FLLast)
		}
		i = (i + 1) % size
	}
	return nil
}
