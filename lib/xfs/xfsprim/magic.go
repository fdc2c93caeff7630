// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsprim

import (
	"encoding/binary"
	"fmt"
)

// Magic is a 4-byte on-disk magic number.
type Magic uint32

func MagicOf(str string) Magic {
	if len(str) != 4 {
		panic(fmt.Errorf("magic %q is not 4 bytes", str))
	}
	return Magic(binary.BigEndian.Uint32([]byte(str)))
}

var (
	MagicAGF  = MagicOf("XAGF")
	MagicAGI  = MagicOf("XAGI")
	MagicAGFL = MagicOf("XAFL")

	MagicBnoBT  = MagicOf("AB3B")
	MagicCntBT  = MagicOf("AB3C")
	MagicInoBT  = MagicOf("IAB3")
	MagicFinoBT = MagicOf("FIB3")
	MagicRmapBT = MagicOf("RMB3")
	MagicRefcBT = MagicOf("R3FC")
	MagicRTRmap = MagicOf("MAPR")
	MagicRTRefc = MagicOf("RCNT")
)

func (m Magic) String() string {
	var bs [4]byte
	binary.BigEndian.PutUint32(bs[:], uint32(m))
	for _, c := range bs {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%#08x", uint32(m))
		}
	}
	return string(bs[:])
}
