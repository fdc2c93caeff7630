// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbtree

import (
	"fmt"

	"github.com/datawire/dlib/derror"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// VerifyShort checks the format markers of a group-rooted block of
// type t: magic, UUID, self address, owning group, level, record
// count, and sibling pointers.  It does not verify the checksum.
func VerifyShort(t Type, b *xfsbuf.Buf) error {
	data := b.Data()
	var head ShortHeader
	if err := head.UnmarshalBinary(data); err != nil {
		return xfserr.Corruptf("%v", err)
	}
	// Garbage that merely has the wrong magic isn't worth
	// describing in detail.
	if head.Magic != t.Magic() {
		return xfserr.Corruptf("bad magic: expected %v but got %v", t.Magic(), head.Magic)
	}

	var errs derror.MultiError
	if head.UUID != b.Loc.UUID {
		errs = append(errs, fmt.Errorf("uuid=%v does not match filesystem uuid=%v",
			head.UUID, b.Loc.UUID))
	}
	if head.Blkno != b.Addr {
		errs = append(errs, fmt.Errorf("read from block %v but claims to be at block %v",
			b.Addr, head.Blkno))
	}
	if head.Owner != b.Loc.AGNo {
		errs = append(errs, fmt.Errorf("read from ag=%v but claims to belong to ag=%v",
			b.Loc.AGNo, head.Owner))
	}
	blockSize := uint32(len(data))
	if maxHeight := t.MaxHeight(blockSize, uint64(b.Loc.AGLen)); int(head.Level) >= maxHeight {
		errs = append(errs, fmt.Errorf("level=%v is impossible for a %v (max height %v)",
			head.Level, t, maxHeight))
	}
	if maxRecs := t.MaxRecs(blockSize, head.Level == 0); int(head.NumRecs) > maxRecs {
		errs = append(errs, fmt.Errorf("numrecs=%v exceeds maxrecs=%v",
			head.NumRecs, maxRecs))
	}
	for _, sib := range []struct {
		name string
		ptr  xfsprim.AGBlock
	}{
		{"leftsib", head.LeftSib},
		{"rightsib", head.RightSib},
	} {
		switch {
		case sib.ptr == xfsprim.NullAGBlock:
			// ok
		case sib.ptr == b.Loc.AGBno:
			errs = append(errs, fmt.Errorf("%s points at itself", sib.name))
		case uint32(sib.ptr) >= uint32(b.Loc.AGLen):
			errs = append(errs, fmt.Errorf("%s=%v is beyond the end of the group (length %v)",
				sib.name, sib.ptr, b.Loc.AGLen))
		}
	}
	if len(errs) > 0 {
		return xfserr.Corruptf("%v", errs)
	}
	return nil
}

// VerifyShortRead is VerifyShort plus checksum verification.
func VerifyShortRead(t Type, b *xfsbuf.Buf) error {
	if err := VerifyShort(t, b); err != nil {
		return err
	}
	var head ShortHeader
	_ = head.UnmarshalBinary(b.Data())
	if calced := Checksum(b.Data()); calced != head.CRC {
		return xfserr.Corruptf("checksum mismatch: stored=%#08x calculated=%#08x", head.CRC, calced)
	}
	return nil
}

func newShortOps(t Type) *xfsbuf.Ops {
	return &xfsbuf.Ops{
		Name:         t.String(),
		Magic:        t.Magic(),
		VerifyStruct: func(b *xfsbuf.Buf) error { return VerifyShort(t, b) },
		VerifyRead:   func(b *xfsbuf.Buf) error { return VerifyShortRead(t, b) },
	}
}

var shortOps = map[Type]*xfsbuf.Ops{
	BnoBT:  newShortOps(BnoBT),
	CntBT:  newShortOps(CntBT),
	InoBT:  newShortOps(InoBT),
	FinoBT: newShortOps(FinoBT),
	RmapBT: newShortOps(RmapBT),
	RefcBT: newShortOps(RefcBT),
}

// Ops returns the buffer validator for group-rooted blocks of type t.
// Every call returns the same pointer, so ops can be compared by
// identity.  It panics for the inode-rooted realtime trees.
func (t Type) Ops() *xfsbuf.Ops {
	ops, ok := shortOps[t]
	if !ok {
		panic(fmt.Errorf("%v blocks are not group-rooted", t))
	}
	return ops
}

// Decode returns the header of a block that has already passed
// validation.
func Decode(b *xfsbuf.Buf) Block {
	ret := Block{Addr: b.Loc.AGBno}
	if err := ret.Head.UnmarshalBinary(b.Data()); err != nil {
		panic(fmt.Errorf("should not happen: decode of validated %v: %w", b, err))
	}
	return ret
}
