// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbtree

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"git.lukeshu.com/xfs-progs-ng/lib/binstruct"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// ShortHeaderSize is the size of a v5 short-form (group-rooted)
// B-tree block header.
const ShortHeaderSize = 0x38

const crcOffset = 0x34

// ShortHeader is the header of a B-tree block whose sibling pointers
// are group-relative.
type ShortHeader struct {
	Magic         xfsprim.Magic    `bin:"off=0x00, siz=0x4"`
	Level         uint16           `bin:"off=0x04, siz=0x2"` // 0 for leaves
	NumRecs       uint16           `bin:"off=0x06, siz=0x2"`
	LeftSib       xfsprim.AGBlock  `bin:"off=0x08, siz=0x4"`
	RightSib      xfsprim.AGBlock  `bin:"off=0x0c, siz=0x4"`
	Blkno         xfsprim.FSBlock  `bin:"off=0x10, siz=0x8"` // filesystem block of this block
	LSN           uint64           `bin:"off=0x18, siz=0x8"`
	UUID          uuid.UUID        `bin:"off=0x20, siz=0x10"`
	Owner         xfsprim.AGNumber `bin:"off=0x30, siz=0x4"` // group number
	CRC           uint32           `bin:"off=0x34, siz=0x4"`
	binstruct.End `bin:"off=0x38"`
}

// HasSiblings returns whether either sibling pointer is set.  A root
// block never has siblings.
func (h ShortHeader) HasSiblings() bool {
	return h.LeftSib != xfsprim.NullAGBlock || h.RightSib != xfsprim.NullAGBlock
}

func (h *ShortHeader) UnmarshalBinary(dat []byte) error {
	_, err := binstruct.Unmarshal(dat, h)
	return err
}

// PutBinary encodes the header in to the front of dat, which must be
// at least ShortHeaderSize bytes.
func (h ShortHeader) PutBinary(dat []byte) {
	bs, err := binstruct.Marshal(h)
	if err != nil {
		panic(err)
	}
	copy(dat, bs)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ChecksumAt computes the CRC32c of a metadata block whose 4-byte CRC
// field is at offset off, treating that field as zero.
func ChecksumAt(dat []byte, off int) uint32 {
	var zero [4]byte
	crc := crc32.Update(0, castagnoli, dat[:off])
	crc = crc32.Update(crc, castagnoli, zero[:])
	return crc32.Update(crc, castagnoli, dat[off+4:])
}

// SetChecksumAt stores the CRC32c of the block at offset off.
func SetChecksumAt(dat []byte, off int) {
	binary.BigEndian.PutUint32(dat[off:], ChecksumAt(dat, off))
}

// Checksum computes the CRC32c of a B-tree block.
func Checksum(dat []byte) uint32 { return ChecksumAt(dat, crcOffset) }

// SetChecksum stores the CRC32c of a B-tree block in to its header.
func SetChecksum(dat []byte) { SetChecksumAt(dat, crcOffset) }

// Block is a B-tree block that has passed structural validation.
type Block struct {
	Addr xfsprim.AGBlock
	Head ShortHeader
}

func (b Block) Level() int { return int(b.Head.Level) }

// FormatShort writes head to the front of dat, zeroes the rest of
// the block, and stamps the checksum.
func FormatShort(dat []byte, head ShortHeader) {
	for i := range dat {
		dat[i] = 0
	}
	head.PutBinary(dat)
	SetChecksum(dat)
}
