// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbtree_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

var testUUID = uuid.MustParse("e3f5d2a4-6be1-4c0c-9d6a-0b4a5a1b2c3d")

func testBuf(typ xfsbtree.Type, mutate func(*xfsbtree.ShortHeader)) *xfsbuf.Buf {
	const (
		agno  = 1
		agbno = 10
		aglen = 1000
	)
	head := xfsbtree.ShortHeader{
		Magic:    typ.Magic(),
		Level:    1,
		NumRecs:  3,
		LeftSib:  xfsprim.NullAGBlock,
		RightSib: xfsprim.NullAGBlock,
		Blkno:    agno*aglen + agbno,
		UUID:     testUUID,
		Owner:    agno,
	}
	if mutate != nil {
		mutate(&head)
	}
	dat := make([]byte, 512)
	xfsbtree.FormatShort(dat, head)
	return xfsbuf.NewBuf(agno*aglen+agbno, xfsbuf.Loc{
		AGNo:  agno,
		AGBno: agbno,
		AGLen: aglen,
		UUID:  testUUID,
	}, dat)
}

func TestVerifyShort(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Mutate func(*xfsbtree.ShortHeader)
		OK     bool
	}
	testcases := map[string]TestCase{
		"valid":         {nil, true},
		"right-sibling": {func(h *xfsbtree.ShortHeader) { h.RightSib = 11 }, true},
		"magic":         {func(h *xfsbtree.ShortHeader) { h.Magic = xfsprim.MagicCntBT }, false},
		"uuid":          {func(h *xfsbtree.ShortHeader) { h.UUID = uuid.Nil }, false},
		"blkno":         {func(h *xfsbtree.ShortHeader) { h.Blkno++ }, false},
		"owner":         {func(h *xfsbtree.ShortHeader) { h.Owner = 2 }, false},
		"level":         {func(h *xfsbtree.ShortHeader) { h.Level = 40 }, false},
		"numrecs":       {func(h *xfsbtree.ShortHeader) { h.NumRecs = 500 }, false},
		"self-sibling":  {func(h *xfsbtree.ShortHeader) { h.LeftSib = 10 }, false},
		"far-sibling":   {func(h *xfsbtree.ShortHeader) { h.LeftSib = 1000 }, false},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			buf := testBuf(xfsbtree.BnoBT, tc.Mutate)
			err := xfsbtree.VerifyShort(xfsbtree.BnoBT, buf)
			if tc.OK {
				assert.NoError(t, err)
				assert.NoError(t, xfsbtree.VerifyShortRead(xfsbtree.BnoBT, buf))
			} else {
				assert.ErrorIs(t, err, xfserr.ErrCorrupt)
			}
		})
	}
}

func TestVerifyShortChecksum(t *testing.T) {
	t.Parallel()
	buf := testBuf(xfsbtree.RmapBT, nil)
	buf.Data()[200] ^= 0xff

	// Structural validation does not look at the checksum...
	assert.NoError(t, xfsbtree.VerifyShort(xfsbtree.RmapBT, buf))
	// ... but full validation does.
	assert.ErrorIs(t, xfsbtree.VerifyShortRead(xfsbtree.RmapBT, buf), xfserr.ErrCorrupt)

	xfsbtree.SetChecksum(buf.Data())
	assert.NoError(t, xfsbtree.VerifyShortRead(xfsbtree.RmapBT, buf))
}

func TestOpsIdentity(t *testing.T) {
	t.Parallel()
	assert.Same(t, xfsbtree.InoBT.Ops(), xfsbtree.InoBT.Ops())
	assert.NotSame(t, xfsbtree.InoBT.Ops(), xfsbtree.FinoBT.Ops())
	assert.Panics(t, func() { _ = xfsbtree.RTRmapBT.Ops() })

	buf := testBuf(xfsbtree.FinoBT, func(h *xfsbtree.ShortHeader) { h.LeftSib = 4 })
	assert.False(t, xfsbuf.TryInterpret(buf, xfsbtree.InoBT.Ops()))
	assert.True(t, xfsbuf.TryInterpret(buf, xfsbtree.FinoBT.Ops()))
	blk := xfsbtree.Decode(buf)
	assert.Equal(t, xfsprim.AGBlock(10), blk.Addr)
	assert.Equal(t, 1, blk.Level())
	assert.True(t, blk.Head.HasSiblings())
}
