// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fmtutil

import (
	"fmt"
	"math/bits"
	"strings"
)

// BitfieldString writes the set bits of flags as "NAME1|NAME2",
// lowest bit first, where names[i] names bit i.  Bits without a name
// are written as "(1<<i)", and no bits at all as "none".
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](flags T, names []string) string {
	if flags == 0 {
		return "none"
	}
	var parts []string
	for rest := uint64(flags); rest != 0; rest &= rest - 1 {
		i := bits.TrailingZeros64(rest)
		if i < len(names) {
			parts = append(parts, names[i])
		} else {
			parts = append(parts, fmt.Sprintf("(1<<%d)", i))
		}
	}
	return strings.Join(parts, "|")
}
