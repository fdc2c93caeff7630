// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xfsmem is an in-memory volume: a block store with a buffer
// cache and a journaled transaction service on top of it.
package xfsmem

import (
	"context"
	"fmt"
	"sync"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/textui"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

var cacheSize = textui.Tunable(1024)

type bufEntry struct {
	buf  *xfsbuf.Buf
	refs int
}

// Volume is an in-memory volume.  It implements xfsbuf.Service.
type Volume struct {
	Geom     xfsprim.Geometry
	Features xfsprim.Features

	groups   typedsync.Map[xfsprim.AGNumber, *xfsag.Group]
	rtgroups []*xfsag.RTGroup

	mu        sync.Mutex
	blocks    map[xfsprim.FSBlock][]byte
	bufs      map[xfsprim.FSBlock]*bufEntry // referenced buffers
	cache     *containers.LRUCache[xfsprim.FSBlock, *xfsbuf.Buf]
	free      xfsprim.Extlen
	nextTrans uint64
	attempts  int
	commits   int

	failCommit func(seq int) error
	failRead   func(addr xfsprim.FSBlock) error
}

var _ xfsbuf.Service = (*Volume)(nil)

// NewVolume returns an empty (all-zero) volume with free blocks
// available for reservations.  Groups must be added with AddGroup.
func NewVolume(geom xfsprim.Geometry, feats xfsprim.Features, free xfsprim.Extlen) *Volume {
	return &Volume{
		Geom:     geom,
		Features: feats,
		blocks:   make(map[xfsprim.FSBlock][]byte),
		bufs:     make(map[xfsprim.FSBlock]*bufEntry),
		cache:    containers.NewLRUCache[xfsprim.FSBlock, *xfsbuf.Buf](cacheSize),
		free:     free,
	}
}

func (v *Volume) AddGroup(g *xfsag.Group) {
	v.groups.Store(g.AGNo, g)
}

func (v *Volume) Group(agno xfsprim.AGNumber) (*xfsag.Group, bool) {
	return v.groups.Load(agno)
}

// Groups returns the allocation groups in order.
func (v *Volume) Groups() []*xfsag.Group {
	ret := make([]*xfsag.Group, 0, v.Geom.AGCount)
	for agno := xfsprim.AGNumber(0); agno < v.Geom.AGCount; agno++ {
		if g, ok := v.groups.Load(agno); ok {
			ret = append(ret, g)
		}
	}
	return ret
}

func (v *Volume) AddRTGroup(rtg *xfsag.RTGroup) {
	v.rtgroups = append(v.rtgroups, rtg)
}

func (v *Volume) RTGroups() []*xfsag.RTGroup {
	return v.rtgroups
}

// FreeBlocks returns how many blocks are available to new
// reservations.
func (v *Volume) FreeBlocks() xfsprim.Extlen {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.free
}

// Commits returns how many transactions have committed successfully.
func (v *Volume) Commits() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commits
}

// InjectCommitFailure arranges for fn to be consulted before every
// commit; seq counts commit attempts from 1.  A non-nil return fails
// that commit.  A nil fn removes the hook.
func (v *Volume) InjectCommitFailure(fn func(seq int) error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failCommit = fn
}

// InjectReadFailure arranges for fn to be consulted before every
// buffer read.  A non-nil return fails the read with an I/O error.
func (v *Volume) InjectReadFailure(fn func(addr xfsprim.FSBlock) error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failRead = fn
}

// Block returns a copy of the committed contents of a block.
func (v *Volume) Block(addr xfsprim.FSBlock) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.readBlockLocked(addr)
}

// WriteBlock replaces the committed contents of a block, bypassing
// transactions.  Any cached copy is discarded; the block must not be
// locked.
func (v *Volume) WriteBlock(addr xfsprim.FSBlock, dat []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkAddrLocked(addr); err != nil {
		return err
	}
	if int(v.Geom.BlockSize) != len(dat) {
		return fmt.Errorf("block %v: have %v bytes, want %v", addr, len(dat), v.Geom.BlockSize)
	}
	if _, busy := v.bufs[addr]; busy {
		return fmt.Errorf("block %v: %w", addr, xfserr.ErrBusy)
	}
	v.cache.Remove(addr)
	v.blocks[addr] = append([]byte(nil), dat...)
	return nil
}

func (v *Volume) checkAddrLocked(addr xfsprim.FSBlock) error {
	agno, agbno := v.Geom.Split(addr)
	g, ok := v.groups.Load(agno)
	if !ok || xfsprim.Extlen(agbno) >= g.Length {
		return &xfserr.IOError{Addr: uint64(addr), Err: fmt.Errorf("beyond end of volume")}
	}
	return nil
}

func (v *Volume) readBlockLocked(addr xfsprim.FSBlock) []byte {
	ret := make([]byte, v.Geom.BlockSize)
	copy(ret, v.blocks[addr])
	return ret
}

func (v *Volume) loc(addr xfsprim.FSBlock) xfsbuf.Loc {
	agno, agbno := v.Geom.Split(addr)
	loc := xfsbuf.Loc{
		AGNo:  agno,
		AGBno: agbno,
		UUID:  v.Geom.UUID,
	}
	if g, ok := v.groups.Load(agno); ok {
		loc.AGLen = g.Length
	}
	return loc
}

// Buffer cache ////////////////////////////////////////////////////////////////

func (v *Volume) getBuf(addr xfsprim.FSBlock) (*xfsbuf.Buf, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkAddrLocked(addr); err != nil {
		return nil, err
	}
	if v.failRead != nil {
		if err := v.failRead(addr); err != nil {
			return nil, &xfserr.IOError{Addr: uint64(addr), Err: err}
		}
	}
	if e, ok := v.bufs[addr]; ok {
		e.refs++
		return e.buf, nil
	}
	b, ok := v.cache.Take(addr)
	if !ok {
		b = xfsbuf.NewBuf(addr, v.loc(addr), v.readBlockLocked(addr))
	}
	v.bufs[addr] = &bufEntry{buf: b, refs: 1}
	return b, nil
}

func (v *Volume) putBuf(b *xfsbuf.Buf) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.bufs[b.Addr]
	if !ok || e.buf != b {
		panic(fmt.Errorf("should not happen: put of unreferenced %v", b))
	}
	e.refs--
	if e.refs == 0 {
		delete(v.bufs, b.Addr)
		v.cache.Add(b.Addr, b)
	}
}

// acquire returns the buffer for addr, locked.
func (v *Volume) acquire(ctx context.Context, addr xfsprim.FSBlock, flags xfsbuf.ReadFlags) (*xfsbuf.Buf, error) {
	b, err := v.getBuf(addr)
	if err != nil {
		return nil, err
	}
	if flags&xfsbuf.ReadTryLock != 0 {
		if !b.TryLock() {
			v.putBuf(b)
			return nil, fmt.Errorf("block %v: %w", addr, xfserr.ErrBusy)
		}
		return b, nil
	}
	if err := b.Lock(ctx); err != nil {
		v.putBuf(b)
		return nil, err
	}
	return b, nil
}

// release unlocks a buffer that is not attached to any transaction.
func (v *Volume) release(b *xfsbuf.Buf) {
	b.SetTrans(nil)
	b.SetHeld(false)
	b.Unlock()
	v.putBuf(b)
}

func (v *Volume) writeBack(b *xfsbuf.Buf) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blocks[b.Addr] = append([]byte(nil), b.Data()...)
}

func (v *Volume) revert(b *xfsbuf.Buf) {
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(b.Data(), v.readBlockLocked(b.Addr))
}

// verify binds ops to b, running the full verifier if b is not yet
// bound.
func verify(b *xfsbuf.Buf, ops *xfsbuf.Ops) error {
	if ops == nil {
		return nil
	}
	switch b.Ops() {
	case ops:
		return nil
	case nil:
		if err := ops.VerifyRead(b); err != nil {
			return fmt.Errorf("block %v: %w", b.Addr, err)
		}
		b.SetOps(ops)
		return nil
	default:
		return xfserr.Corruptf("block %v: read as %v, but it is %v", b.Addr, ops, b.Ops())
	}
}

// ReadBuf implements xfsbuf.Service.
func (v *Volume) ReadBuf(ctx context.Context, addr xfsprim.FSBlock, ops *xfsbuf.Ops, flags xfsbuf.ReadFlags) (*xfsbuf.Buf, error) {
	b, err := v.acquire(ctx, addr, flags)
	if err != nil {
		return nil, err
	}
	if err := verify(b, ops); err != nil {
		v.release(b)
		return nil, err
	}
	return b, nil
}

// Relse implements xfsbuf.Service.
func (v *Volume) Relse(b *xfsbuf.Buf) {
	if b.Trans() != nil {
		panic(fmt.Errorf("should not happen: Relse of %v, which is attached to a transaction", b))
	}
	v.release(b)
}

// Transactions ////////////////////////////////////////////////////////////////

// AllocTrans implements xfsbuf.Service.
func (v *Volume) AllocTrans(ctx context.Context, resblks xfsprim.Extlen) (xfsbuf.Trans, error) {
	v.mu.Lock()
	if resblks > v.free {
		free := v.free
		v.mu.Unlock()
		return nil, fmt.Errorf("reserve %v blocks with %v free: %w", resblks, free, xfserr.ErrNoSpace)
	}
	v.free -= resblks
	v.mu.Unlock()
	tp := v.newTrans(resblks)
	dlog.Tracef(ctx, "trans %d: allocated with %v blocks reserved", tp.id, resblks)
	return tp, nil
}

func (v *Volume) newTrans(resblks xfsprim.Extlen) *Trans {
	v.mu.Lock()
	v.nextTrans++
	id := v.nextTrans
	v.mu.Unlock()
	return &Trans{
		vol:  v,
		id:   id,
		resv: resblks,
		bufs: make(map[xfsprim.FSBlock]*xfsbuf.Buf),
	}
}

func (v *Volume) unreserve(n xfsprim.Extlen) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.free += n
}

func (v *Volume) beginCommit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attempts++
	if v.failCommit != nil {
		if err := v.failCommit(v.attempts); err != nil {
			return err
		}
	}
	v.commits++
	return nil
}
