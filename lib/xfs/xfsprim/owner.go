// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsprim

import (
	"fmt"
)

// Owner is the owner field of a reverse-mapping record: either an
// inode number, or one of the special (negative) owners below.
type Owner uint64

const maxUint64pp = 0x1_00000000_00000000

const (
	OwnNull    = Owner(maxUint64pp - 1) // no owner, for unallocated space
	OwnUnknown = Owner(maxUint64pp - 2) // unknown owner, for EFI recovery
	OwnFS      = Owner(maxUint64pp - 3) // static fs metadata
	OwnLog     = Owner(maxUint64pp - 4) // static fs metadata
	OwnAG      = Owner(maxUint64pp - 5) // AG metadata: free space trees, AGFL, rmap tree
	OwnInoBT   = Owner(maxUint64pp - 6) // inode trees
	OwnInodes  = Owner(maxUint64pp - 7) // inode chunks
	OwnRefC    = Owner(maxUint64pp - 8) // refcount tree
	OwnCOW     = Owner(maxUint64pp - 9) // copy-on-write staging
	OwnMin     = Owner(maxUint64pp - 10)
)

var ownerNames = map[Owner]string{
	OwnNull:    "NULL",
	OwnUnknown: "UNKNOWN",
	OwnFS:      "FS",
	OwnLog:     "LOG",
	OwnAG:      "AG",
	OwnInoBT:   "INOBT",
	OwnInodes:  "INODES",
	OwnRefC:    "REFC",
	OwnCOW:     "COW",
}

// IsInode returns whether the owner is a file (inode number) rather
// than one of the special metadata owners.
func (o Owner) IsInode() bool {
	return o <= OwnMin
}

func (o Owner) String() string {
	if name, ok := ownerNames[o]; ok {
		return name
	}
	if !o.IsInode() {
		return fmt.Sprintf("OWN_%d", int64(o))
	}
	return fmt.Sprintf("ino:%d", uint64(o))
}

func (o Owner) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Owner) UnmarshalText(dat []byte) error {
	str := string(dat)
	for k, v := range ownerNames {
		if v == str {
			*o = k
			return nil
		}
	}
	var ino uint64
	if _, err := fmt.Sscanf(str, "ino:%d", &ino); err != nil {
		return fmt.Errorf("invalid owner: %q", str)
	}
	*o = Owner(ino)
	return nil
}
