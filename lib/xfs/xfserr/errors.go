// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xfserr defines the error conditions that the buffer layer,
// the transaction layer, and online repair use to talk to each other.
//
// Callers test for them with errors.Is; every layer wraps them with
// context, never replaces them.
package xfserr

import (
	"fmt"
)

type kindError struct {
	name string
	msg  string
}

func (e *kindError) Error() string  { return e.msg }
func (e *kindError) String() string { return e.name }

var (
	// ErrBusy is returned by try-lock operations when somebody
	// else holds the resource.
	ErrBusy error = &kindError{"EBUSY", "resource busy"}

	// ErrNeedDrain means that a group has intent items in flight;
	// the caller should wait for them to drain and try again.
	ErrNeedDrain error = &kindError{"ECHRNG", "pending intents must drain first"}

	// ErrDeadlock means that the locks needed could not be
	// gathered incrementally without risking a deadlock; the
	// caller should retry taking every lock up front.
	ErrDeadlock error = &kindError{"EDEADLOCK", "could not gather locks without blocking"}

	// ErrCorrupt means that a structure failed validation.
	ErrCorrupt error = &kindError{"EFSCORRUPTED", "structure needs cleaning"}

	// ErrNoSpace means that a transaction ran past its block
	// reservation.
	ErrNoSpace error = &kindError{"ENOSPC", "block reservation exhausted"}

	// ErrNotSupported means that the volume lacks a feature that
	// the operation requires.
	ErrNotSupported error = &kindError{"EOPNOTSUPP", "operation not supported by this volume"}
)

// IOError wraps a failure of the underlying storage.  It is never
// retried.
type IOError struct {
	Addr uint64
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("i/o error at block %#x: %v", e.Addr, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Corruptf returns an error that satisfies errors.Is(err, ErrCorrupt).
func Corruptf(format string, args ...any) error {
	return &corruptError{msg: fmt.Sprintf(format, args...)}
}

type corruptError struct {
	msg string
}

func (e *corruptError) Error() string { return ErrCorrupt.Error() + ": " + e.msg }
func (*corruptError) Is(target error) bool {
	return target == ErrCorrupt
}
