// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/binstruct"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

var testUUID = uuid.MustParse("5d1c7f0e-29a4-4f5b-8c33-6e0e5b6f9a12")

const (
	testAGNo  = 2
	testAGLen = 1000
)

func testLoc(agbno xfsprim.AGBlock) xfsbuf.Loc {
	return xfsbuf.Loc{
		AGNo:  testAGNo,
		AGBno: agbno,
		AGLen: testAGLen,
		UUID:  testUUID,
	}
}

func goodAGF() xfsag.AGF {
	return xfsag.AGF{
		Magic:      xfsprim.MagicAGF,
		Version:    1,
		SeqNo:      testAGNo,
		Length:     testAGLen,
		BnoRoot:    5,
		CntRoot:    6,
		RmapRoot:   7,
		BnoLevel:   1,
		CntLevel:   1,
		RmapLevel:  1,
		FLFirst:    0,
		FLLast:     1,
		FLCount:    2,
		FreeBlocks: 900,
		Longest:    800,
		BtreeBlks:  2,
		UUID:       testUUID,
		RefcRoot:   8,
		RefcLevel:  1,
	}
}

func agfBuf(agf xfsag.AGF) *xfsbuf.Buf {
	dat := make([]byte, 512)
	agf.PutBinary(dat)
	return xfsbuf.NewBuf(testAGNo*testAGLen+1, testLoc(xfsag.AGFBlock), dat)
}

func TestAGFRoundTrip(t *testing.T) {
	t.Parallel()
	want := goodAGF()
	b := agfBuf(want)
	var got xfsag.AGF
	require.NoError(t, got.UnmarshalBinary(b.Data()))
	want.CRC = got.CRC
	assert.Equal(t, want, got)
	assert.NotZero(t, got.CRC)
	assert.NoError(t, xfsag.AGFOps.VerifyRead(b))
}

func TestHeaderLayout(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0xe0, binstruct.StaticSize(xfsag.AGF{}))
	assert.Equal(t, 0x158, binstruct.StaticSize(xfsag.AGI{}))

	agf := goodAGF()
	agf.LSN = 0x0102030405060708
	dat := make([]byte, 512)
	dat[0x1ff] = 0xaa
	agf.PutBinary(dat)
	assert.Equal(t, []byte("XAGF"), dat[0x00:0x04])
	assert.Equal(t, []byte{0, 0, 0, 8}, dat[0x58:0x5c])
	assert.Equal(t, testUUID[:], dat[0x40:0x50])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, dat[0xd0:0xd8])
	assert.Equal(t, byte(0xaa), dat[0x1ff])
}

func TestVerifyAGF(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Mutate func(*xfsag.AGF)
		OK     bool
	}
	testcases := map[string]TestCase{
		"valid":    {func(*xfsag.AGF) {}, true},
		"magic":    {func(agf *xfsag.AGF) { agf.Magic = xfsprim.MagicAGI }, false},
		"seqno":    {func(agf *xfsag.AGF) { agf.SeqNo = 3 }, false},
		"length":   {func(agf *xfsag.AGF) { agf.Length = 999 }, false},
		"uuid":     {func(agf *xfsag.AGF) { agf.UUID = uuid.Nil }, false},
		"freeblks": {func(agf *xfsag.AGF) { agf.FreeBlocks = 2000 }, false},
		"longest":  {func(agf *xfsag.AGF) { agf.Longest = 901 }, false},
		"flfirst":  {func(agf *xfsag.AGF) { agf.FLFirst = 1 << 20 }, false},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			agf := goodAGF()
			tc.Mutate(&agf)
			err := xfsag.AGFOps.VerifyStruct(agfBuf(agf))
			if tc.OK {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, xfserr.ErrCorrupt), "err=%v", err)
			}
		})
	}
}

func TestAGFChecksum(t *testing.T) {
	t.Parallel()
	b := agfBuf(goodAGF())
	b.Data()[0x100]++
	assert.NoError(t, xfsag.AGFOps.VerifyStruct(b))
	assert.ErrorIs(t, xfsag.AGFOps.VerifyRead(b), xfserr.ErrCorrupt)
}

func TestAGI(t *testing.T) {
	t.Parallel()
	agi := xfsag.AGI{
		Magic:     xfsprim.MagicAGI,
		Version:   1,
		SeqNo:     testAGNo,
		Length:    testAGLen,
		Count:     128,
		Root:      9,
		Level:     1,
		FreeCount: 60,
		NewIno:    xfsprim.NullAGIno,
		DirIno:    xfsprim.NullAGIno,
		UUID:      testUUID,
		FreeRoot:  10,
		FreeLevel: 1,
	}
	agi.ClearUnlinked()
	agi.Unlinked[5] = 77
	dat := make([]byte, 512)
	agi.PutBinary(dat)
	b := xfsbuf.NewBuf(testAGNo*testAGLen+2, testLoc(xfsag.AGIBlock), dat)
	assert.NoError(t, xfsag.AGIOps.VerifyRead(b))

	var got xfsag.AGI
	require.NoError(t, got.UnmarshalBinary(dat))
	agi.CRC = got.CRC
	assert.Equal(t, agi, got)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, dat[0x28:0x2c])
	assert.Equal(t, []byte{0, 0, 0, 77}, dat[0x3c:0x40])

	agi.FreeCount = 129
	agi.PutBinary(dat)
	assert.ErrorIs(t, xfsag.AGIOps.VerifyStruct(b), xfserr.ErrCorrupt)
}

func agflBuf(slots ...xfsprim.AGBlock) *xfsbuf.Buf {
	dat := make([]byte, 512)
	xfsag.FormatAGFL(dat, testAGNo, testUUID, slots)
	return xfsbuf.NewBuf(testAGNo*testAGLen+3, testLoc(xfsag.AGFLBlock), dat)
}

func TestAGFLSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint32(119), xfsag.AGFLSize(512))
	assert.Equal(t, uint32(1015), xfsag.AGFLSize(4096))
	assert.Equal(t, uint32(0), xfsag.AGFLSize(16))
}

func TestVerifyAGFL(t *testing.T) {
	t.Parallel()
	assert.NoError(t, xfsag.AGFLOps.VerifyRead(agflBuf(20, 21)))
	assert.ErrorIs(t, xfsag.AGFLOps.VerifyStruct(agflBuf(20, testAGLen)), xfserr.ErrCorrupt)
}

func TestWalkAGFL(t *testing.T) {
	t.Parallel()
	size := xfsag.AGFLSize(512)
	slots := make([]xfsprim.AGBlock, size)
	for i := range slots {
		slots[i] = xfsprim.AGBlock(100 + i)
	}
	b := agflBuf(slots...)
	walk := func(first, last, count uint32) ([]xfsprim.AGBlock, error) {
		agf := goodAGF()
		agf.FLFirst, agf.FLLast, agf.FLCount = first, last, count
		var ret []xfsprim.AGBlock
		err := xfsag.WalkAGFL(agf, b, func(bno xfsprim.AGBlock) error {
			ret = append(ret, bno)
			return nil
		})
		return ret, err
	}

	got, err := walk(3, 5, 3)
	assert.NoError(t, err)
	assert.Equal(t, []xfsprim.AGBlock{103, 104, 105}, got)

	got, err = walk(size-1, 1, 3)
	assert.NoError(t, err)
	assert.Equal(t, []xfsprim.AGBlock{xfsprim.AGBlock(100 + size - 1), 100, 101}, got)

	got, err = walk(0, 0, 0)
	assert.NoError(t, err)
	assert.Empty(t, got)

	_, err = walk(size, 0, 1)
	assert.ErrorIs(t, err, xfserr.ErrCorrupt)

	_, err = walk(3, 4, 5)
	assert.ErrorIs(t, err, xfserr.ErrCorrupt)

	stop := errors.New("stop")
	agf := goodAGF()
	agf.FLFirst, agf.FLLast, agf.FLCount = 0, 4, 5
	n := 0
	err = xfsag.WalkAGFL(agf, b, func(xfsprim.AGBlock) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 2, n)
}
