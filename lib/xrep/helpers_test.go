// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep_test

import (
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbtree"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsmem"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

var testUUID = uuid.MustParse("3f2b8d6e-1c4a-4e7b-a5d9-0e8f7c6b5a41")

func sib(agbno xfsprim.AGBlock) containers.Optional[xfsprim.AGBlock] {
	return containers.OptionalValue(agbno)
}

// testImage is one 64-block group with every tree that the headers
// root.  The bnobt is two levels tall: root 10 over leaves 11 and 12.
//
// 13 blocks are in use: 4 headers, 2 on the free list, and 7 tree
// blocks.  That leaves 51 free, the longest run being 32-63.
func testImage() xfsmem.Image {
	return xfsmem.Image{
		Geometry: xfsprim.Geometry{
			BlockSize: 512,
			InodeSize: 256,
			AGBlocks:  64,
			UUID:      testUUID,
		},
		Features: xfsprim.FeatFinobt | xfsprim.FeatRmapbt,
		Groups: []xfsmem.ImageGroup{{
			Inodes:     64,
			FreeInodes: 60,
			FreeList:   []xfsprim.AGBlock{5, 6},
			Trees: []xfsmem.ImageTree{
				{Type: xfsbtree.BnoBT, Blocks: []xfsmem.ImageBlock{
					{AGBno: 10, Level: 1, NumRecs: 2},
					{AGBno: 11, RightSib: sib(12)},
					{AGBno: 12, LeftSib: sib(11)},
				}},
				{Type: xfsbtree.CntBT, Blocks: []xfsmem.ImageBlock{{AGBno: 20}}},
				{Type: xfsbtree.RmapBT, Blocks: []xfsmem.ImageBlock{{AGBno: 25}}},
				{Type: xfsbtree.InoBT, Blocks: []xfsmem.ImageBlock{{AGBno: 30}}},
				{Type: xfsbtree.FinoBT, Blocks: []xfsmem.ImageBlock{{AGBno: 31}}},
			},
		}},
	}
}

// damage returns testImage with some bytes of a header zeroed.
func damage(agbno xfsprim.AGBlock, off, n int) xfsmem.Image {
	img := testImage()
	img.Groups[0].Damage = []xfsmem.ImageDamage{{AGBno: agbno, Offset: off, Length: n}}
	return img
}

func newMount(t *testing.T, img xfsmem.Image) (*xfsmem.Volume, *xrep.Mount) {
	t.Helper()
	vol, err := xfsmem.Build(dlog.NewTestContext(t, true), img)
	require.NoError(t, err)
	m := xrep.NewMount(vol.Geom, vol.Features, vol, vol.Groups(), vol.RTGroups())
	return vol, m
}

// newScrub returns a scrub of group 0 with a transaction allocated
// and the headers locked.
func newScrub(t *testing.T, m *xrep.Mount, typ xrep.ScrubType, in xrep.InFlags) *xrep.Scrub {
	t.Helper()
	ctx := dlog.NewTestContext(t, true)
	sc := &xrep.Scrub{
		Mount: m,
		Type:  typ,
		In:    in,
	}
	tp, err := m.Svc.AllocTrans(ctx, 0)
	require.NoError(t, err)
	sc.Tp = tp
	require.NoError(t, xrep.InitAG(ctx, sc, nil, nil))
	return sc
}

func releaseScrub(t *testing.T, m *xrep.Mount, sc *xrep.Scrub) {
	t.Helper()
	ctx := dlog.NewTestContext(t, true)
	sc.SA.Release(m.Svc, sc.Tp)
	sc.Tp.Cancel(ctx)
}
