// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsmem

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// Trans is a transaction against a Volume.  It implements
// xfsbuf.Trans.
type Trans struct {
	vol  *Volume
	id   uint64
	resv xfsprim.Extlen

	bufs     map[xfsprim.FSBlock]*xfsbuf.Buf
	inodes   []xfsbuf.Joinable
	deferred []xfsbuf.DeferredItem
	dirty    bool
	done     bool
}

var _ xfsbuf.Trans = (*Trans)(nil)

func (tp *Trans) String() string {
	return fmt.Sprintf("trans %d", tp.id)
}

// ID returns the transaction's sequence number.
func (tp *Trans) ID() uint64 { return tp.id }

func (tp *Trans) checkLive() {
	if tp.done {
		panic(fmt.Errorf("should not happen: use of finished %v", tp))
	}
}

func (tp *Trans) checkJoined(b *xfsbuf.Buf) {
	if b.Trans() != tp {
		panic(fmt.Errorf("should not happen: %v is not joined to %v", b, tp))
	}
}

// sortedBufs returns the joined buffers in address order, so that
// write-back and release are deterministic.
func (tp *Trans) sortedBufs() []*xfsbuf.Buf {
	addrs := maps.Keys(tp.bufs)
	slices.Sort(addrs)
	ret := make([]*xfsbuf.Buf, 0, len(addrs))
	for _, addr := range addrs {
		ret = append(ret, tp.bufs[addr])
	}
	return ret
}

// ReadBuf implements xfsbuf.Trans.
func (tp *Trans) ReadBuf(ctx context.Context, addr xfsprim.FSBlock, ops *xfsbuf.Ops, flags xfsbuf.ReadFlags) (*xfsbuf.Buf, error) {
	tp.checkLive()
	if b, ok := tp.bufs[addr]; ok {
		if err := verify(b, ops); err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := tp.vol.acquire(ctx, addr, flags)
	if err != nil {
		return nil, err
	}
	if err := verify(b, ops); err != nil {
		tp.vol.release(b)
		return nil, err
	}
	b.SetTrans(tp)
	tp.bufs[addr] = b
	return b, nil
}

// Brelse implements xfsbuf.Trans.  A buffer that is locked but not
// attached to any transaction (one held across a failed roll, say)
// is released outright.
func (tp *Trans) Brelse(b *xfsbuf.Buf) {
	switch b.Trans() {
	case nil:
		tp.vol.release(b)
	case tp:
		if b.IsDirty() || b.IsHeld() {
			return
		}
		delete(tp.bufs, b.Addr)
		tp.vol.release(b)
	default:
		panic(fmt.Errorf("should not happen: %v is joined to another transaction", b))
	}
}

// LogBuf implements xfsbuf.Trans.
func (tp *Trans) LogBuf(b *xfsbuf.Buf, first, last int) {
	tp.checkLive()
	tp.checkJoined(b)
	if first < 0 || last < first || last >= len(b.Data()) {
		panic(fmt.Errorf("should not happen: log of bytes [%d,%d] of %v", first, last, b))
	}
	b.LogRange(first, last)
	tp.dirty = true
}

// Bhold implements xfsbuf.Trans.
func (tp *Trans) Bhold(b *xfsbuf.Buf) {
	tp.checkJoined(b)
	b.SetHeld(true)
}

// BholdRelease implements xfsbuf.Trans.
func (tp *Trans) BholdRelease(b *xfsbuf.Buf) {
	tp.checkJoined(b)
	b.SetHeld(false)
}

// Bjoin implements xfsbuf.Trans.
func (tp *Trans) Bjoin(b *xfsbuf.Buf) {
	tp.checkLive()
	if !b.IsLocked() || b.Trans() != nil {
		panic(fmt.Errorf("should not happen: join of %v, which is not locked-and-detached", b))
	}
	b.SetTrans(tp)
	tp.bufs[b.Addr] = b
}

// Ijoin implements xfsbuf.Trans.
func (tp *Trans) Ijoin(ip xfsbuf.Joinable) {
	tp.checkLive()
	if !tp.hasInode(ip) {
		tp.inodes = append(tp.inodes, ip)
	}
}

func (tp *Trans) hasInode(ip xfsbuf.Joinable) bool {
	for _, have := range tp.inodes {
		if have == ip {
			return true
		}
	}
	return false
}

// LogInode implements xfsbuf.Trans.
func (tp *Trans) LogInode(ip xfsbuf.Joinable) {
	tp.checkLive()
	if !tp.hasInode(ip) {
		panic(fmt.Errorf("should not happen: log of inode %v, which is not joined to %v", ip.JoinName(), tp))
	}
	tp.dirty = true
}

// IsDirty implements xfsbuf.Trans.
func (tp *Trans) IsDirty() bool { return tp.dirty }

// DeferAdd implements xfsbuf.Trans.
func (tp *Trans) DeferAdd(item xfsbuf.DeferredItem) {
	tp.checkLive()
	tp.deferred = append(tp.deferred, item)
	tp.dirty = true
}

// AllocBlocks implements xfsbuf.Trans.
func (tp *Trans) AllocBlocks(n xfsprim.Extlen) error {
	tp.checkLive()
	if n > tp.resv {
		return fmt.Errorf("%v: allocate %v blocks with %v reserved: %w", tp, n, tp.resv, xfserr.ErrNoSpace)
	}
	tp.resv -= n
	return nil
}

// Reserved implements xfsbuf.Trans.
func (tp *Trans) Reserved() xfsprim.Extlen { return tp.resv }

// dup returns the transaction that continues this one after a roll:
// it inherits the remaining reservation and the deferred work.
func (tp *Trans) dup() *Trans {
	ntp := tp.vol.newTrans(tp.resv)
	tp.resv = 0
	ntp.deferred, tp.deferred = tp.deferred, nil
	return ntp
}

// Roll implements xfsbuf.Trans.
func (tp *Trans) Roll(ctx context.Context) (xfsbuf.Trans, error) {
	tp.checkLive()
	ntp := tp.dup()
	if err := tp.commit(ctx); err != nil {
		return ntp, err
	}
	return ntp, nil
}

// rollHolding rolls, carrying held buffers and joined inodes over to
// the new transaction.
func (tp *Trans) rollHolding(ctx context.Context) (*Trans, error) {
	var held []*xfsbuf.Buf
	for _, b := range tp.sortedBufs() {
		if b.IsHeld() {
			held = append(held, b)
		}
	}
	inodes := tp.inodes
	ntp := tp.dup()
	if err := tp.commit(ctx); err != nil {
		return ntp, err
	}
	for _, b := range held {
		ntp.Bjoin(b)
		ntp.Bhold(b)
	}
	ntp.inodes = inodes
	return ntp, nil
}

// DeferFinish implements xfsbuf.Trans.
func (tp *Trans) DeferFinish(ctx context.Context) (xfsbuf.Trans, error) {
	tp.checkLive()
	return tp.deferFinish(ctx)
}

func (tp *Trans) deferFinish(ctx context.Context) (*Trans, error) {
	var err error
	for len(tp.deferred) > 0 {
		if tp, err = tp.rollHolding(ctx); err != nil {
			return tp, err
		}
		items := tp.deferred
		tp.deferred = nil
		for _, item := range items {
			dlog.Tracef(ctx, "%v: finishing deferred %s", tp, item.Name())
			if err := item.Finish(ctx, tp); err != nil {
				return tp, fmt.Errorf("%v: finish deferred %s: %w", tp, item.Name(), err)
			}
		}
	}
	if tp.dirty {
		return tp.rollHolding(ctx)
	}
	return tp, nil
}

// Commit implements xfsbuf.Trans.
func (tp *Trans) Commit(ctx context.Context) error {
	tp.checkLive()
	if len(tp.deferred) > 0 {
		ntp, err := tp.deferFinish(ctx)
		if err != nil {
			ntp.Cancel(ctx)
			return err
		}
		tp = ntp
	}
	defer tp.unreserve()
	return tp.commit(ctx)
}

func (tp *Trans) unreserve() {
	tp.vol.unreserve(tp.resv)
	tp.resv = 0
}

// commit writes back dirty buffers and releases everything that is
// not held.  Held buffers stay locked, detached from any transaction.
// On failure nothing is written, and held buffers keep their hold.
func (tp *Trans) commit(ctx context.Context) error {
	tp.done = true
	bufs := tp.sortedBufs()
	tp.bufs = nil
	tp.inodes = nil

	if err := tp.vol.beginCommit(); err != nil {
		for _, b := range bufs {
			if b.IsDirty() {
				tp.vol.revert(b)
				b.ClearDirty()
			}
			b.SetTrans(nil)
			if !b.IsHeld() {
				tp.vol.release(b)
			}
		}
		return fmt.Errorf("%v: commit: %w", tp, err)
	}

	nDirty := 0
	for _, b := range bufs {
		if b.IsDirty() {
			tp.vol.writeBack(b)
			b.ClearDirty()
			nDirty++
		}
		b.SetTrans(nil)
		if b.IsHeld() {
			b.SetHeld(false)
		} else {
			tp.vol.release(b)
		}
	}
	dlog.Tracef(ctx, "%v: committed, wrote %d of %d buffers", tp, nDirty, len(bufs))
	return nil
}

// Cancel implements xfsbuf.Trans.  Modifications are discarded, and
// every joined buffer is released whether held or not.  Cancelling a
// finished transaction does nothing.
func (tp *Trans) Cancel(ctx context.Context) {
	if tp.done {
		return
	}
	tp.done = true
	for _, b := range tp.sortedBufs() {
		if b.IsDirty() {
			tp.vol.revert(b)
			b.ClearDirty()
		}
		tp.vol.release(b)
	}
	tp.bufs = nil
	tp.inodes = nil
	tp.deferred = nil
	tp.unreserve()
	dlog.Tracef(ctx, "%v: cancelled", tp)
}
