// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsprim

import (
	"fmt"
	"strings"

	"git.lukeshu.com/xfs-progs-ng/lib/fmtutil"
)

type Features uint32

const (
	FeatFinobt = Features(1 << iota)
	FeatSparseInodes
	FeatReflink
	FeatRmapbt
	FeatRTGroups
	FeatMetadir
)

var featureNames = []string{
	"FINOBT",
	"SPARSE_INODES",
	"REFLINK",
	"RMAPBT",
	"RTGROUPS",
	"METADIR",
}

func (f Features) Has(req Features) bool { return f&req == req }
func (f Features) String() string         { return fmtutil.BitfieldString(f, featureNames) }

func (f Features) MarshalText() ([]byte, error) {
	var names []string
	for i, name := range featureNames {
		if f.Has(1 << i) {
			names = append(names, name)
		}
	}
	if rest := f &^ (1<<len(featureNames) - 1); rest != 0 {
		return nil, fmt.Errorf("unknown feature bits: %#x", uint32(rest))
	}
	return []byte(strings.Join(names, ",")), nil
}

func (f *Features) UnmarshalText(dat []byte) error {
	*f = 0
	if len(dat) == 0 {
		return nil
	}
	for _, str := range strings.Split(string(dat), ",") {
		bit := -1
		for i, name := range featureNames {
			if strings.EqualFold(name, strings.TrimSpace(str)) {
				bit = i
				break
			}
		}
		if bit < 0 {
			return fmt.Errorf("unknown feature: %q", str)
		}
		*f |= 1 << bit
	}
	return nil
}
