// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbuf

import (
	"errors"
	"fmt"
)

// ErrOtherOps is returned by Interpret when the buffer is already
// bound to a different validator.
var ErrOtherOps = errors.New("buffer already belongs to another structure")

// Interpret reports whether b could be interpreted as ops, without
// modifying b.
//
// A buffer bound to different ops is rejected without looking at its
// contents; a buffer already bound to ops was validated by somebody
// else and is accepted; an unbound buffer is run through the
// structural verifier.
func Interpret(b *Buf, ops *Ops) error {
	switch b.ops {
	case ops:
		return nil
	case nil:
		if err := ops.VerifyStruct(b); err != nil {
			return fmt.Errorf("%v: %w", ops.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("%v: %w (%v)", ops.Name, ErrOtherOps, b.ops.Name)
	}
}

// TryInterpret is Interpret, but binds ops to b on success.  On
// failure b is left exactly as it was, so that a later test against
// the correct validator is not prejudiced.
func TryInterpret(b *Buf, ops *Ops) bool {
	if err := Interpret(b, ops); err != nil {
		return false
	}
	b.ops = ops
	return true
}
