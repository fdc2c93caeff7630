// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// metafileSubtypes are the parts of a metadata file that get
// checked and repaired, in order.  The inode record comes first,
// because the fork checks trust it.  The attribute fork is only
// repaired where metadata files may have one.
func metafileSubtypes(feats xfsprim.Features, ip MetaInode) []ScrubType {
	ret := []ScrubType{TypeInode, TypeBMBTD}
	if ip.HasAttrFork() && feats.Has(xfsprim.FeatMetadir) {
		ret = append(ret, TypeBMBTA)
	}
	return ret
}

// RepairMetadataInodeForks repairs the inode record and the fork
// mappings of the metadata file that sc is repairing.  On volumes
// without a metadata directory tree, metadata files may not have an
// attribute fork, so instead of being repaired it is reset.  Last,
// the reflink flag is cleared, since metadata files never share
// blocks.
//
// Each part is checked and, if damaged, repaired by its own
// registered functions, sharing sc's transaction.  If a part is still
// damaged after its repair, RepairMetadataInodeForks fails with
// xfserr.ErrCorrupt.
func RepairMetadataInodeForks(ctx context.Context, sc *Scrub) error {
	if sc.IP == nil {
		return fmt.Errorf("%v: no inode to repair", sc)
	}
	feats := sc.Mount.Features
	for _, typ := range metafileSubtypes(feats, sc.IP) {
		if err := repairSubtype(ctx, sc, typ); err != nil {
			return err
		}
	}

	dirty := false
	if sc.IP.HasAttrFork() && !feats.Has(xfsprim.FeatMetadir) {
		dlog.Debugf(ctx, "%v: resetting attribute fork", sc)
		sc.Tp.Ijoin(sc.IP)
		sc.IP.ResetAttrFork()
		sc.Tp.LogInode(sc.IP)
		dirty = true
	}
	if sc.IP.IsReflink() {
		sc.Tp.Ijoin(sc.IP)
		sc.IP.ClearReflink()
		sc.Tp.LogInode(sc.IP)
		dirty = true
	}
	if dirty {
		return RollInode(ctx, sc)
	}
	return nil
}

func repairSubtype(ctx context.Context, sc *Scrub, typ ScrubType) error {
	ops, ok := sc.Mount.lookupOps(typ)
	if !ok {
		return fmt.Errorf("%v: %v: %w", sc, typ, xfserr.ErrNotSupported)
	}
	sub := &Scrub{
		Mount: sc.Mount,
		Ops:   ops,
		Type:  typ,
		AGNo:  sc.AGNo,
		In:    sc.In,
		Tp:    sc.Tp,
		IP:    sc.IP,
	}
	ctx = dlog.WithField(ctx, "xrep.subtype", typ)
	err := func() error {
		if err := ops.Scrub(ctx, sub); err != nil {
			return err
		}
		if !WillAttempt(sub) {
			return nil
		}
		if ops.Repair == nil {
			return fmt.Errorf("%v: %w", sub, xfserr.ErrNotSupported)
		}
		if err := ops.Repair(ctx, sub); err != nil {
			return err
		}
		tp, err := sub.Tp.DeferFinish(ctx)
		sub.Tp = tp
		if err != nil {
			return err
		}
		if err := RollInode(ctx, sub); err != nil {
			return err
		}
		sub.Out &^= OutAll
		if err := ops.Scrub(ctx, sub); err != nil {
			return err
		}
		if sub.Out.Has(OutCorrupt) {
			return fmt.Errorf("%v: still damaged after repair: %w", sub, xfserr.ErrCorrupt)
		}
		return nil
	}()
	// The sub-scrub may have rolled; sc continues with whatever
	// transaction it ended on.
	sc.Tp = sub.Tp
	if err != nil {
		dlog.Debugf(ctx, "%v", err)
	}
	return err
}
