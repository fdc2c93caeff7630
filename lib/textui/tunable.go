// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

// Tunable marks a constant (a progress interval, a cache size) that
// was picked without measurement.
func Tunable[T any](x T) T {
	return x
}
