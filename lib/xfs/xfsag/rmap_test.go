// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

func TestRmapIndexOrder(t *testing.T) {
	t.Parallel()
	idx := xfsag.NewRmapIndex(
		xfsag.RmapRecord{StartBlock: 50, BlockCount: 1, Owner: xfsprim.OwnAG},
		xfsag.RmapRecord{StartBlock: 10, BlockCount: 6, Owner: xfsprim.OwnAG},
		xfsag.RmapRecord{StartBlock: 10, BlockCount: 2, Owner: 131, Offset: 4},
		xfsag.RmapRecord{StartBlock: 10, BlockCount: 2, Owner: 131, Offset: 0},
	)
	require.Equal(t, 4, idx.Len())
	got := idx.Records()
	assert.Equal(t, []xfsag.RmapRecord{
		{StartBlock: 10, BlockCount: 2, Owner: 131, Offset: 0},
		{StartBlock: 10, BlockCount: 2, Owner: 131, Offset: 4},
		{StartBlock: 10, BlockCount: 6, Owner: xfsprim.OwnAG},
		{StartBlock: 50, BlockCount: 1, Owner: xfsprim.OwnAG},
	}, got)

	assert.False(t, got[0].IsNonInode())
	assert.True(t, got[2].IsNonInode())

	idx.Delete(got[1])
	assert.Equal(t, 3, idx.Len())
}

func TestFreeExtents(t *testing.T) {
	t.Parallel()
	src := xfsag.RmapSlice{
		{StartBlock: 20, BlockCount: 5, Owner: xfsprim.OwnAG},
		{StartBlock: 0, BlockCount: 4, Owner: xfsprim.OwnFS},
		{StartBlock: 22, BlockCount: 10, Owner: 200},
		{StartBlock: 4, BlockCount: 2, Owner: xfsprim.OwnInoBT},
	}
	free, err := xfsag.FreeExtents(src, 0, 40)
	require.NoError(t, err)
	assert.Equal(t, []xfsag.RmapRecord{
		{StartBlock: 6, BlockCount: 14, Owner: xfsprim.OwnNull},
		{StartBlock: 32, BlockCount: 8, Owner: xfsprim.OwnNull},
	}, free)

	free, err = xfsag.FreeExtents(xfsag.RmapSlice{{StartBlock: 0, BlockCount: 40, Owner: 99}}, 0, 40)
	require.NoError(t, err)
	assert.Empty(t, free)
}
