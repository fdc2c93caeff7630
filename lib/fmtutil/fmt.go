// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil contains helpers for implementing fmt.Formatter
// and fmt.Stringer.
package fmtutil

import (
	"fmt"
	"strconv"
)

// FmtStateString rebuilds the directive ("%-8d") that fmt was handed
// to produce st and verb, so that a Format method can pass it on.
func FmtStateString(st fmt.State, verb rune) string {
	dir := []byte{'%'}
	for _, flag := range "-+# 0" {
		if st.Flag(int(flag)) {
			dir = append(dir, byte(flag))
		}
	}
	if width, ok := st.Width(); ok {
		dir = strconv.AppendInt(dir, int64(width), 10)
	}
	if prec, ok := st.Precision(); ok {
		dir = append(dir, '.')
		if prec != 0 {
			dir = strconv.AppendInt(dir, int64(prec), 10)
		}
	}
	return string(append(dir, string(verb)...))
}
