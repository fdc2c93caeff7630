// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
)

// GroupHeaders are the locked header buffers of the group under
// repair.  From the moment a header is held until it is rejoined,
// nothing but Release may let go of it.
type GroupHeaders struct {
	Group *xfsag.Group
	AGF   *xfsbuf.Buf
	AGI   *xfsbuf.Buf
}

func (sa *GroupHeaders) each(fn func(b *xfsbuf.Buf, magicEnd int)) {
	if sa.AGI != nil {
		fn(sa.AGI, xfsag.AGIOffMagic+3)
	}
	if sa.AGF != nil {
		fn(sa.AGF, xfsag.AGFOffMagic+3)
	}
}

// hold logs each header's magic, so that the headers move forward in
// the log with the rest of the transaction, and holds them across
// the next commit.
func (sa *GroupHeaders) hold(tp xfsbuf.Trans) {
	sa.each(func(b *xfsbuf.Buf, magicEnd int) {
		tp.LogBuf(b, 0, magicEnd)
		tp.Bhold(b)
	})
}

func (sa *GroupHeaders) rejoin(tp xfsbuf.Trans) {
	sa.each(func(b *xfsbuf.Buf, _ int) {
		tp.Bjoin(b)
	})
}

func (sa *GroupHeaders) unhold(tp xfsbuf.Trans) {
	sa.each(func(b *xfsbuf.Buf, _ int) {
		tp.BholdRelease(b)
	})
}

// Release lets go of the headers.  A header still joined to tp is
// handed to tp, to be unlocked when tp commits or is cancelled; a
// header that a failed roll left unattached is unlocked now.
func (sa *GroupHeaders) Release(svc xfsbuf.Service, tp xfsbuf.Trans) {
	sa.each(func(b *xfsbuf.Buf, _ int) {
		if tp != nil && b.Trans() == tp {
			tp.BholdRelease(b)
			tp.Brelse(b)
		} else {
			svc.Relse(b)
		}
	})
	sa.AGF = nil
	sa.AGI = nil
}

// RollAG commits the scrub's transaction and continues in a new one,
// keeping the group headers locked throughout.
//
// If the commit fails, the error is returned and the headers stay
// held, for teardown to release.
func RollAG(ctx context.Context, sc *Scrub) error {
	sc.SA.hold(sc.Tp)
	tp, err := sc.Tp.Roll(ctx)
	sc.Tp = tp
	if err != nil {
		return err
	}
	sc.SA.rejoin(sc.Tp)
	return nil
}

// DeferFinish finishes the deferred work of the scrub's transaction,
// keeping the group headers locked throughout.
func DeferFinish(ctx context.Context, sc *Scrub) error {
	sc.SA.hold(sc.Tp)
	tp, err := sc.Tp.DeferFinish(ctx)
	sc.Tp = tp
	if err != nil {
		return err
	}
	sc.SA.unhold(sc.Tp)
	return nil
}

// RollInode commits the scrub's transaction and continues in a new
// one with the file under repair joined.
func RollInode(ctx context.Context, sc *Scrub) error {
	sc.Tp.Ijoin(sc.IP)
	sc.Tp.LogInode(sc.IP)
	tp, err := sc.Tp.Roll(ctx)
	sc.Tp = tp
	if err != nil {
		return err
	}
	sc.Tp.Ijoin(sc.IP)
	return nil
}
