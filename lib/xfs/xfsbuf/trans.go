// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbuf

import (
	"context"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

type ReadFlags uint8

const (
	// ReadTryLock makes ReadBuf fail with xfserr.ErrBusy rather
	// than wait for a locked buffer.
	ReadTryLock = ReadFlags(1 << iota)
)

// DeferredItem is follow-on work queued on a transaction, finished
// before the transaction is considered complete (for example,
// freeing blocks that a rebuild made obsolete).
type DeferredItem interface {
	Name() string
	Finish(ctx context.Context, tp Trans) error
}

// Joinable is a non-buffer object (an inode) whose lock is carried
// by a transaction.
type Joinable interface {
	JoinName() string
}

// Trans is a journaled transaction.  A Trans is owned by exactly one
// goroutine; Roll and DeferFinish consume the receiver and return its
// replacement.
type Trans interface {
	// ReadBuf locks and returns the buffer at addr, joined to the
	// transaction.  With non-nil ops the buffer is fully verified
	// (checksum included) and bound to ops; with nil ops it is
	// returned as-is.
	ReadBuf(ctx context.Context, addr xfsprim.FSBlock, ops *Ops, flags ReadFlags) (*Buf, error)
	// Brelse releases a clean, non-held buffer early.  Dirty or
	// held buffers stay with the transaction.
	Brelse(*Buf)
	// LogBuf marks bytes [first, last] of b as modified.
	LogBuf(b *Buf, first, last int)
	// Bhold keeps b locked when the transaction commits.
	Bhold(*Buf)
	// BholdRelease undoes Bhold.
	BholdRelease(*Buf)
	// Bjoin attaches a buffer that is locked but not attached to
	// any transaction (typically one held across a roll).
	Bjoin(*Buf)
	// Ijoin attaches a locked inode.
	Ijoin(Joinable)
	// LogInode marks a joined inode as modified.
	LogInode(Joinable)
	// IsDirty returns whether anything has been logged since the
	// transaction began.
	IsDirty() bool

	DeferAdd(DeferredItem)
	// DeferFinish finishes every deferred item, rolling as
	// needed, and returns the transaction to continue with.
	// Held buffers are carried through those rolls and remain
	// joined and held.
	DeferFinish(ctx context.Context) (Trans, error)
	// Roll commits the transaction and returns a fresh one with
	// the remaining reservation and any deferred items.  Held
	// buffers remain locked but unattached, and no longer held;
	// the caller must Bjoin them.
	//
	// The returned transaction is non-nil even if the commit
	// fails, and must be committed or cancelled by the caller.
	Roll(ctx context.Context) (Trans, error)
	Commit(ctx context.Context) error
	Cancel(ctx context.Context)

	// AllocBlocks charges n blocks against the reservation.
	AllocBlocks(n xfsprim.Extlen) error
	Reserved() xfsprim.Extlen
}

// Service creates transactions.
type Service interface {
	// AllocTrans starts a transaction that may allocate up to
	// resblks blocks.  If the volume cannot cover that, it
	// returns xfserr.ErrNoSpace.
	AllocTrans(ctx context.Context, resblks xfsprim.Extlen) (Trans, error)
	// ReadBuf reads a buffer outside of any transaction.  It must
	// be released with Relse.
	ReadBuf(ctx context.Context, addr xfsprim.FSBlock, ops *Ops, flags ReadFlags) (*Buf, error)
	Relse(*Buf)
}
