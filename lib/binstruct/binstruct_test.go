// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/binstruct"
)

type blockNo uint32

type testHeader struct {
	Magic         uint32          `bin:"off=0x0, siz=0x4"`
	Level         uint16          `bin:"off=0x4, siz=0x2"`
	Flags         binstruct.U8    `bin:"off=0x6, siz=0x1"`
	Pad           [1]byte         `bin:"off=0x7, siz=0x1"`
	Next          blockNo         `bin:"off=0x8, siz=0x4"`
	UUID          uuid.UUID       `bin:"off=0xc, siz=0x10"`
	LSN           binstruct.U64be `bin:"off=0x1c, siz=0x8"`
	binstruct.End `bin:"off=0x24"`
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	in := testHeader{
		Magic: 0x58414746,
		Level: 2,
		Flags: 0x80,
		Next:  0x01020304,
		UUID:  uuid.MustParse("5d1c7f0e-29a4-4f5b-8c33-6e0e5b6f9a12"),
		LSN:   0x1122334455667788,
	}
	assert.Equal(t, 0x24, binstruct.StaticSize(in))

	dat, err := binstruct.Marshal(in)
	require.NoError(t, err)
	require.Len(t, dat, 0x24)
	assert.Equal(t, []byte("XAGF"), dat[0x0:0x4])
	assert.Equal(t, []byte{0, 2, 0x80, 0}, dat[0x4:0x8])
	assert.Equal(t, []byte{1, 2, 3, 4}, dat[0x8:0xc])
	assert.Equal(t, in.UUID[:], dat[0xc:0x1c])
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, dat[0x1c:0x24])

	var out testHeader
	n, err := binstruct.Unmarshal(append(dat, 0xff, 0xff), &out)
	require.NoError(t, err)
	assert.Equal(t, 0x24, n)
	assert.Equal(t, in, out)
}

func TestShortInput(t *testing.T) {
	t.Parallel()
	var out testHeader
	_, err := binstruct.Unmarshal(make([]byte, 0x23), &out)
	assert.Error(t, err)
}

func TestBadTags(t *testing.T) {
	t.Parallel()
	type gap struct {
		A             uint32 `bin:"off=0x0, siz=0x4"`
		B             uint32 `bin:"off=0x8, siz=0x4"`
		binstruct.End `bin:"off=0xc"`
	}
	type wrongSize struct {
		A             uint64 `bin:"off=0x0, siz=0x4"`
		binstruct.End `bin:"off=0x4"`
	}
	type noEnd struct {
		A uint32 `bin:"off=0x0, siz=0x4"`
	}
	var err error
	_, err = binstruct.Marshal(gap{})
	assert.ErrorContains(t, err, "curOffset")
	_, err = binstruct.Marshal(wrongSize{})
	assert.ErrorContains(t, err, "siz=0x4")
	_, err = binstruct.Unmarshal(make([]byte, 4), &noEnd{})
	assert.ErrorContains(t, err, "binstruct.End")
	assert.Panics(t, func() { binstruct.StaticSize("string") })
}
