// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"git.lukeshu.com/xfs-progs-ng/lib/textui"
)

type Config struct {
	// MaxRetries bounds how many times ScrubMetadata goes around
	// again after contention, before giving up.
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: textui.Tunable(8),
	}
}
