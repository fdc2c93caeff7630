// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers_test

import (
	"bytes"
	"strings"
	"testing"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
)

func TestSetJSON(t *testing.T) {
	t.Parallel()
	set := containers.NewSet(30, 10, 20)
	var buf bytes.Buffer
	require.NoError(t, lowmemjson.Encode(&buf, set))
	assert.JSONEq(t, `[10,20,30]`, buf.String())

	var got containers.Set[int]
	require.NoError(t, lowmemjson.Decode(strings.NewReader(`[3,1]`), &got))
	assert.True(t, got.Has(1))
	assert.True(t, got.Has(3))
	assert.False(t, got.Has(2))

	require.NoError(t, lowmemjson.Decode(strings.NewReader(`null`), &got))
	assert.Nil(t, got)
}

func TestOptional(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, lowmemjson.Encode(&buf, containers.Optional[int]{}))
	assert.Equal(t, `null`, strings.TrimSpace(buf.String()))
	buf.Reset()
	require.NoError(t, lowmemjson.Encode(&buf, containers.OptionalValue(42)))
	assert.Equal(t, `42`, strings.TrimSpace(buf.String()))

	var got containers.Optional[int]
	require.NoError(t, lowmemjson.Decode(strings.NewReader(`7`), &got))
	assert.Equal(t, containers.OptionalValue(7), got)
	assert.Equal(t, "7", got.String())
	require.NoError(t, lowmemjson.Decode(strings.NewReader(`null`), &got))
	assert.False(t, got.OK)
	assert.Equal(t, "absent", got.String())
}

func TestLRUCache(t *testing.T) {
	t.Parallel()
	c := containers.NewLRUCache[int, string](2)
	c.Add(1, "a")
	c.Add(2, "b")
	v, ok := c.Take(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = c.Take(1)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Add(3, "c")
	c.Add(4, "d")
	assert.Equal(t, 2, c.Len())
	_, ok = c.Take(2)
	assert.False(t, ok, "oldest entry should have been evicted")

	c.Remove(3)
	v, ok = c.Take(4)
	assert.True(t, ok)
	assert.Equal(t, "d", v)
	assert.Equal(t, 0, c.Len())
}
