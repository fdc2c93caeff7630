// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsbuf_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
)

func opsWantingFirstByte(name string, want byte) *xfsbuf.Ops {
	return &xfsbuf.Ops{
		Name: name,
		VerifyStruct: func(b *xfsbuf.Buf) error {
			if b.Data()[0] != want {
				return errors.New("wrong first byte")
			}
			return nil
		},
	}
}

func TestTryInterpret(t *testing.T) {
	t.Parallel()
	opsA := opsWantingFirstByte("a", 'A')
	opsB := opsWantingFirstByte("b", 'B')

	data := []byte("A-block")
	buf := xfsbuf.NewBuf(7, xfsbuf.Loc{}, data)

	// A failed test leaves no trace.
	assert.False(t, xfsbuf.TryInterpret(buf, opsB))
	assert.Nil(t, buf.Ops())
	assert.Equal(t, []byte("A-block"), buf.Data())

	// A passing test binds the ops.
	assert.True(t, xfsbuf.TryInterpret(buf, opsA))
	assert.Same(t, opsA, buf.Ops())

	// Once bound, other ops are rejected without looking.
	err := xfsbuf.Interpret(buf, opsB)
	assert.ErrorIs(t, err, xfsbuf.ErrOtherOps)
	assert.Same(t, opsA, buf.Ops())

	// Once bound, the same ops are accepted without looking.
	copy(buf.Data(), "garbage")
	assert.True(t, xfsbuf.TryInterpret(buf, opsA))
	assert.True(t, bytes.Equal([]byte("garbage"), buf.Data()))
}

func TestLock(t *testing.T) {
	t.Parallel()
	buf := xfsbuf.NewBuf(1, xfsbuf.Loc{}, make([]byte, 8))

	require.True(t, buf.TryLock())
	assert.True(t, buf.IsLocked())
	assert.False(t, buf.TryLock())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, buf.Lock(ctx), context.DeadlineExceeded)

	buf.Unlock()
	assert.False(t, buf.IsLocked())
	assert.NoError(t, buf.Lock(context.Background()))
	buf.Unlock()
	assert.Panics(t, buf.Unlock)
}

func TestLogRange(t *testing.T) {
	t.Parallel()
	buf := xfsbuf.NewBuf(1, xfsbuf.Loc{}, make([]byte, 64))

	_, _, ok := buf.LoggedRange()
	assert.False(t, ok)

	buf.LogRange(8, 11)
	buf.LogRange(0, 3)
	buf.LogRange(20, 23)
	first, last, ok := buf.LoggedRange()
	assert.True(t, ok)
	assert.Equal(t, 0, first)
	assert.Equal(t, 23, last)

	buf.ClearDirty()
	assert.False(t, buf.IsDirty())
}
