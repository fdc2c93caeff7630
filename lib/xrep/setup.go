// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

func allocTrans(ctx context.Context, sc *Scrub, resblks xfsprim.Extlen) error {
	tp, err := sc.Mount.Svc.AllocTrans(ctx, resblks)
	if err != nil {
		return fmt.Errorf("%v: %w", sc, err)
	}
	sc.Tp = tp
	return nil
}

// SetupAG allocates a transaction with enough reserved to rebuild
// any one tree of the scrub's group, and locks the group headers,
// validated.
func SetupAG(ctx context.Context, sc *Scrub) error {
	if err := allocTrans(ctx, sc, EstimateAGBudget(ctx, sc)); err != nil {
		return err
	}
	return InitAG(ctx, sc, xfsag.AGIOps, xfsag.AGFOps)
}

// SetupAGHeader is SetupAG for scrubs of the headers themselves,
// which are locked without validation.
func SetupAGHeader(ctx context.Context, sc *Scrub) error {
	if err := allocTrans(ctx, sc, EstimateAGBudget(ctx, sc)); err != nil {
		return err
	}
	return InitAG(ctx, sc, nil, nil)
}

// SetupInode allocates a transaction for repairing the scrub's file,
// sized for the scrub's group, and joins the file to it.
func SetupInode(ctx context.Context, sc *Scrub) error {
	if sc.IP == nil {
		return fmt.Errorf("%v: no inode to scrub", sc)
	}
	if err := allocTrans(ctx, sc, EstimateAGBudget(ctx, sc)); err != nil {
		return err
	}
	sc.Tp.Ijoin(sc.IP)
	return nil
}

// SetupRTGroup allocates a transaction for repairing something in
// the scrub's realtime group.
func SetupRTGroup(ctx context.Context, sc *Scrub) error {
	rtg, ok := sc.Mount.RTGroup(sc.AGNo)
	if !ok {
		return fmt.Errorf("%v: no such realtime group", sc)
	}
	sc.RTG = rtg
	return allocTrans(ctx, sc, EstimateRTGroupBudget(ctx, sc))
}

// InitAG locks the headers of the scrub's group in to its
// transaction, AGI first.
//
// Unless TryHarder is set, a header that is already locked fails
// with xfserr.ErrDeadlock rather than waiting.  If the group has
// intents in flight, InitAG fails with xfserr.ErrNeedDrain, or with
// NeedDrain set, waits for them to finish.
func InitAG(ctx context.Context, sc *Scrub, agiOps, agfOps *xfsbuf.Ops) error {
	g, ok := sc.Mount.Group(sc.AGNo)
	if !ok {
		return fmt.Errorf("%v: no such group", sc)
	}
	sc.SA.Group = g
	for {
		if err := readAGHeaders(ctx, sc, agiOps, agfOps); err != nil {
			return err
		}
		if !g.IntentsBusy() {
			return nil
		}
		if !sc.Flags.Has(NeedDrain) {
			return fmt.Errorf("%v: %w", g, xfserr.ErrNeedDrain)
		}
		dlog.Debugf(ctx, "%v: waiting for intents to drain", g)
		sc.SA.Release(sc.Mount.Svc, sc.Tp)
		if err := g.DrainIntents(ctx); err != nil {
			return fmt.Errorf("%v: drain: %w", g, err)
		}
	}
}

func readAGHeaders(ctx context.Context, sc *Scrub, agiOps, agfOps *xfsbuf.Ops) error {
	var flags xfsbuf.ReadFlags
	if !sc.Flags.Has(TryHarder) {
		flags |= xfsbuf.ReadTryLock
	}
	read := func(name string, agbno xfsprim.AGBlock, ops *xfsbuf.Ops) (*xfsbuf.Buf, error) {
		b, err := sc.Tp.ReadBuf(ctx, sc.Mount.Geom.FSBlock(sc.AGNo, agbno), ops, flags)
		switch {
		case err == nil:
			return b, nil
		case errors.Is(err, xfserr.ErrBusy):
			return nil, fmt.Errorf("%v: %s: %v: %w", sc.SA.Group, name, err, xfserr.ErrDeadlock)
		default:
			return nil, fmt.Errorf("%v: %s: %w", sc.SA.Group, name, err)
		}
	}
	var err error
	if sc.SA.AGI, err = read("agi", xfsag.AGIBlock, agiOps); err != nil {
		return err
	}
	if sc.SA.AGF, err = read("agf", xfsag.AGFBlock, agfOps); err != nil {
		return err
	}
	return nil
}
