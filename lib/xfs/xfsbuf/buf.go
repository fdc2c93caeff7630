// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xfsbuf defines metadata buffers, the validators ("ops")
// that give a buffer a type, and the interface of the transaction
// service that buffers are read and modified through.
package xfsbuf

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// Ops is a buffer validator: the typed interpretation of a block.
type Ops struct {
	Name  string
	Magic xfsprim.Magic

	// VerifyStruct checks the format markers (magic, UUID,
	// self-address, level and sibling sanity) without verifying
	// the checksum.  It must not modify the buffer.
	VerifyStruct func(*Buf) error
	// VerifyRead does everything VerifyStruct does, and also
	// verifies the checksum.
	VerifyRead func(*Buf) error
}

func (ops *Ops) String() string {
	if ops == nil {
		return "<unbound>"
	}
	return ops.Name
}

// Loc is where a buffer lives, as needed by verifiers.
type Loc struct {
	AGNo  xfsprim.AGNumber
	AGBno xfsprim.AGBlock
	AGLen xfsprim.Extlen // length of the containing group
	UUID  uuid.UUID      // expected metadata UUID
}

// Buf is a cached, lockable handle on one metadata block.
//
// The lock is a semaphore rather than a sync.Mutex because ownership
// moves between transactions: a buffer held across a roll stays
// locked while no transaction references it.
type Buf struct {
	Addr xfsprim.FSBlock
	Loc  Loc

	data []byte
	ops  *Ops

	sem chan struct{}

	// The following are only touched by whoever holds the lock.
	trans any
	hold  bool
	dirty bool
	logLo int
	logHi int
}

func NewBuf(addr xfsprim.FSBlock, loc Loc, data []byte) *Buf {
	return &Buf{
		Addr: addr,
		Loc:  loc,
		data: data,
		sem:  make(chan struct{}, 1),
	}
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf{ag:%v, agbno:%v, ops:%v}", b.Loc.AGNo, b.Loc.AGBno, b.ops)
}

func (b *Buf) Data() []byte { return b.data }
func (b *Buf) Ops() *Ops     { return b.ops }

// SetOps binds (or with nil, unbinds) a validator.  Only the owner of
// the lock may call it.
func (b *Buf) SetOps(ops *Ops) { b.ops = ops }

// Lock blocks until the buffer lock is acquired or ctx is done.
func (b *Buf) Lock(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the buffer lock if it is free.
func (b *Buf) TryLock() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *Buf) Unlock() {
	select {
	case <-b.sem:
	default:
		panic(fmt.Errorf("should not happen: unlock of unlocked %v", b))
	}
}

func (b *Buf) IsLocked() bool { return len(b.sem) > 0 }

// Transaction bookkeeping, for use by implementations of Trans.

func (b *Buf) Trans() any        { return b.trans }
func (b *Buf) SetTrans(tp any)   { b.trans = tp }
func (b *Buf) IsHeld() bool      { return b.hold }
func (b *Buf) SetHeld(hold bool) { b.hold = hold }
func (b *Buf) IsDirty() bool     { return b.dirty }

// LogRange marks bytes [first, last] as modified.
func (b *Buf) LogRange(first, last int) {
	if !b.dirty {
		b.logLo, b.logHi = first, last
		b.dirty = true
		return
	}
	if first < b.logLo {
		b.logLo = first
	}
	if last > b.logHi {
		b.logHi = last
	}
}

// LoggedRange returns the modified byte range, if any.
func (b *Buf) LoggedRange() (first, last int, ok bool) {
	return b.logLo, b.logHi, b.dirty
}

func (b *Buf) ClearDirty() {
	b.dirty = false
	b.logLo, b.logHi = 0, 0
}
