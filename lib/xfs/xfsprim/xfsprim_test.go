// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsprim_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

func TestOwner(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Owner   xfsprim.Owner
		Str     string
		IsInode bool
	}
	testcases := []TestCase{
		{xfsprim.OwnAG, "AG", false},
		{xfsprim.OwnInoBT, "INOBT", false},
		{xfsprim.OwnRefC, "REFC", false},
		{131, "ino:131", true},
		{xfsprim.OwnMin, "ino:18446744073709551606", true},
	}
	for _, tc := range testcases {
		tc := tc
		t.Run(tc.Str, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Str, tc.Owner.String())
			assert.Equal(t, tc.IsInode, tc.Owner.IsInode())
			txt, err := tc.Owner.MarshalText()
			require.NoError(t, err)
			var got xfsprim.Owner
			require.NoError(t, got.UnmarshalText(txt))
			assert.Equal(t, tc.Owner, got)
		})
	}
	var o xfsprim.Owner
	assert.Error(t, o.UnmarshalText([]byte("bogus")))
}

func TestFeatures(t *testing.T) {
	t.Parallel()
	f := xfsprim.FeatFinobt | xfsprim.FeatRmapbt
	assert.True(t, f.Has(xfsprim.FeatRmapbt))
	assert.False(t, f.Has(xfsprim.FeatRmapbt|xfsprim.FeatReflink))
	assert.Equal(t, "FINOBT|RMAPBT", f.String())

	txt, err := f.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "FINOBT,RMAPBT", string(txt))

	var got xfsprim.Features
	require.NoError(t, got.UnmarshalText([]byte("rmapbt, finobt")))
	assert.Equal(t, f, got)
	assert.Error(t, got.UnmarshalText([]byte("quota")))
}

func TestAddrFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0xa", fmt.Sprint(xfsprim.AGBlock(10)))
	assert.Equal(t, "null", fmt.Sprint(xfsprim.NullAGBlock))
	assert.Equal(t, "10", fmt.Sprintf("%d", xfsprim.AGBlock(10)))
	assert.Equal(t, "0x3e8", fmt.Sprint(xfsprim.FSBlock(1000)))
}

func TestGeometry(t *testing.T) {
	t.Parallel()
	geom := xfsprim.Geometry{BlockSize: 4096, InodeSize: 512, AGBlocks: 1000}
	addr := geom.FSBlock(3, 17)
	assert.Equal(t, xfsprim.FSBlock(3017), addr)
	agno, agbno := geom.Split(addr)
	assert.Equal(t, xfsprim.AGNumber(3), agno)
	assert.Equal(t, xfsprim.AGBlock(17), agbno)
	assert.Equal(t, uint32(8), geom.InodesPerBlock())
	assert.Equal(t, uint32(0), xfsprim.Geometry{}.InodesPerBlock())
}
