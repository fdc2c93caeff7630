// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xfsmem

import (
	"fmt"
)

// Inode is an in-memory metadata inode.  Only the properties that
// metadata-inode repair cares about are modeled.
type Inode struct {
	Number   uint64
	Reflink  bool `json:",omitempty"`
	AttrFork bool `json:",omitempty"`
}

func (ip *Inode) JoinName() string  { return fmt.Sprintf("ino:%d", ip.Number) }
func (ip *Inode) Ino() uint64       { return ip.Number }
func (ip *Inode) HasAttrFork() bool { return ip.AttrFork }
func (ip *Inode) IsReflink() bool   { return ip.Reflink }
func (ip *Inode) ClearReflink()     { ip.Reflink = false }
func (ip *Inode) ResetAttrFork()    { ip.AttrFork = false }
