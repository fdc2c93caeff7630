// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsmem"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

// forkChecker stands in for the inode and fork scrubbers.  A part
// listed in damaged is corrupt until repaired; a part listed in
// stubborn stays corrupt.
type forkChecker struct {
	damaged  map[xrep.ScrubType]bool
	stubborn map[xrep.ScrubType]bool
	log      []string
}

func (fc *forkChecker) register(m *xrep.Mount) {
	for _, typ := range []xrep.ScrubType{xrep.TypeInode, xrep.TypeBMBTD, xrep.TypeBMBTA} {
		m.Register(typ, &xrep.ScrubOps{
			Kind:   xrep.KindInode,
			Setup:  xrep.SetupInode,
			Scrub:  fc.scrub,
			Repair: fc.repair,
		})
	}
}

func (fc *forkChecker) scrub(_ context.Context, sc *xrep.Scrub) error {
	fc.log = append(fc.log, "scrub "+sc.Type.String())
	if fc.damaged[sc.Type] {
		sc.Out |= xrep.OutCorrupt
	}
	return nil
}

func (fc *forkChecker) repair(_ context.Context, sc *xrep.Scrub) error {
	fc.log = append(fc.log, "repair "+sc.Type.String())
	if !fc.stubborn[sc.Type] {
		delete(fc.damaged, sc.Type)
	}
	return nil
}

func newMetafileScrub(t *testing.T, feats xfsprim.Features, ip *xfsmem.Inode) (*xfsmem.Volume, *xrep.Scrub) {
	t.Helper()
	img := testImage()
	img.Features |= feats
	vol, m := newMount(t, img)
	sc := &xrep.Scrub{
		Mount: m,
		Type:  xrep.TypeRTRmap,
		In:    xrep.InRepair,
		IP:    ip,
	}
	require.NoError(t, xrep.SetupInode(dlog.NewTestContext(t, true), sc))
	return vol, sc
}

func TestRepairMetadataInodeForks(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	ip := &xfsmem.Inode{Number: 131, Reflink: true, AttrFork: true}
	vol, sc := newMetafileScrub(t, 0, ip)
	fc := &forkChecker{
		damaged: map[xrep.ScrubType]bool{
			xrep.TypeInode: true,
			xrep.TypeBMBTD: true,
			xrep.TypeBMBTA: true,
		},
	}
	fc.register(sc.Mount)

	require.NoError(t, xrep.RepairMetadataInodeForks(ctx, sc))
	// Without a metadata directory tree the attribute fork is
	// reset, not checked.
	assert.Equal(t, []string{
		"scrub inode",
		"repair inode",
		"scrub inode",
		"scrub bmapbtd",
		"repair bmapbtd",
		"scrub bmapbtd",
	}, fc.log)
	assert.False(t, ip.Reflink)
	assert.False(t, ip.AttrFork)
	// One roll after each of the two repairs, and one for the
	// flag changes.
	assert.Equal(t, 3, vol.Commits())
	require.NoError(t, sc.Tp.Commit(ctx))
}

func TestRepairMetadataInodeForksClean(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	ip := &xfsmem.Inode{Number: 131}
	vol, sc := newMetafileScrub(t, 0, ip)
	fc := &forkChecker{}
	fc.register(sc.Mount)

	require.NoError(t, xrep.RepairMetadataInodeForks(ctx, sc))
	// No attribute fork, so no attribute fork check.
	assert.Equal(t, []string{"scrub inode", "scrub bmapbtd"}, fc.log)
	assert.Equal(t, 0, vol.Commits())
	sc.Tp.Cancel(ctx)
}

func TestRepairMetadataInodeForksResetsAttrFork(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	ip := &xfsmem.Inode{Number: 131, AttrFork: true}
	vol, sc := newMetafileScrub(t, 0, ip)
	fc := &forkChecker{
		damaged:  map[xrep.ScrubType]bool{xrep.TypeBMBTA: true},
		stubborn: map[xrep.ScrubType]bool{xrep.TypeBMBTA: true},
	}
	fc.register(sc.Mount)

	require.NoError(t, xrep.RepairMetadataInodeForks(ctx, sc))
	assert.Equal(t, []string{"scrub inode", "scrub bmapbtd"}, fc.log)
	assert.False(t, ip.AttrFork)
	assert.Equal(t, 1, vol.Commits())
	require.NoError(t, sc.Tp.Commit(ctx))
}

func TestRepairMetadataInodeForksMetadir(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	ip := &xfsmem.Inode{Number: 131, AttrFork: true}
	vol, sc := newMetafileScrub(t, xfsprim.FeatMetadir, ip)
	fc := &forkChecker{}
	fc.register(sc.Mount)

	require.NoError(t, xrep.RepairMetadataInodeForks(ctx, sc))
	assert.Equal(t, []string{"scrub inode", "scrub bmapbtd", "scrub bmapbta"}, fc.log)
	// Metadata files may have attributes here.
	assert.True(t, ip.AttrFork)
	assert.Equal(t, 0, vol.Commits())
	sc.Tp.Cancel(ctx)
}

func TestRepairMetadataInodeForksFailure(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Features xfsprim.Features
		Damaged  xrep.ScrubType
		Stubborn bool
		Missing  bool
		ExpErr   error
		ExpLog   []string
	}
	testcases := map[string]TestCase{
		"still-corrupt": {
			Damaged:  xrep.TypeBMBTD,
			Stubborn: true,
			ExpErr:   xfserr.ErrCorrupt,
			ExpLog:   []string{"scrub inode", "scrub bmapbtd", "repair bmapbtd", "scrub bmapbtd"},
		},
		"attr-still-corrupt": {
			Features: xfsprim.FeatMetadir,
			Damaged:  xrep.TypeBMBTA,
			Stubborn: true,
			ExpErr:   xfserr.ErrCorrupt,
			ExpLog:   []string{"scrub inode", "scrub bmapbtd", "scrub bmapbta", "repair bmapbta", "scrub bmapbta"},
		},
		"not-registered": {
			Features: xfsprim.FeatMetadir,
			Damaged:  xrep.TypeBMBTA,
			Missing:  true,
			ExpErr:   xfserr.ErrNotSupported,
			ExpLog:   []string{"scrub inode", "scrub bmapbtd"},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx := dlog.NewTestContext(t, true)
			ip := &xfsmem.Inode{Number: 131, Reflink: true, AttrFork: true}
			_, sc := newMetafileScrub(t, tc.Features, ip)
			fc := &forkChecker{
				damaged:  map[xrep.ScrubType]bool{tc.Damaged: true},
				stubborn: map[xrep.ScrubType]bool{tc.Damaged: tc.Stubborn},
			}
			fc.register(sc.Mount)
			if tc.Missing {
				sc.Mount.Register(tc.Damaged, nil)
			}

			err := xrep.RepairMetadataInodeForks(ctx, sc)
			assert.ErrorIs(t, err, tc.ExpErr)
			assert.Equal(t, tc.ExpLog, fc.log, fmt.Sprintf("err=%v", err))
			// Aborted before the flag changes.
			assert.True(t, ip.Reflink)
			sc.Tp.Cancel(ctx)
		})
	}
}
