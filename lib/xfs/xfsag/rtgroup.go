// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsag

import (
	"fmt"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// RTGroup is the in-core descriptor of one realtime group.  Realtime
// space is accounted in extents of Geometry.RTExtSize blocks.
type RTGroup struct {
	RGNo xfsprim.AGNumber
	// Extents is the group's size in realtime extents, as last
	// read from its header.  It may be stale.
	Extents uint32
}

func (rtg *RTGroup) String() string {
	return fmt.Sprintf("rtg%d", rtg.RGNo)
}

// Blocks returns the group's size in blocks, if Extents is plausible
// for the geometry.
func (rtg *RTGroup) Blocks(geom xfsprim.Geometry) (uint64, bool) {
	if rtg.Extents == 0 || rtg.Extents > geom.RGExtents {
		return 0, false
	}
	return uint64(rtg.Extents) * uint64(geom.RTExtSize), true
}
