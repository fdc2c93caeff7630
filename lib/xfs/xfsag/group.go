// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xfsag describes allocation groups: their headers, their
// cached counters, and their reverse-mapping records.
package xfsag

import (
	"context"
	"fmt"
	"sync"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// SpaceCounters are the in-core copies of the AGF counters.
type SpaceCounters struct {
	FreeBlocks xfsprim.Extlen
	Longest    xfsprim.Extlen
	FLCount    uint32
	BtreeBlks  xfsprim.Extlen
}

// InodeCounters are the in-core copies of the AGI counters.
type InodeCounters struct {
	Count     uint32
	FreeCount uint32
}

// Group is the in-core descriptor of one independently-lockable
// range of the volume.  The header buffers themselves are owned by
// the buffer layer; the repair that holds them excludes every other
// mutator of the group's space-management state.
type Group struct {
	AGNo   xfsprim.AGNumber
	Length xfsprim.Extlen

	// Rmap enumerates the group's reverse-mapping records.
	Rmap RmapSource

	mu      sync.Mutex
	space   containers.Optional[SpaceCounters]
	inodes  containers.Optional[InodeCounters]
	intents int
	drained chan struct{}
}

func NewGroup(agno xfsprim.AGNumber, length xfsprim.Extlen, rmap RmapSource) *Group {
	drained := make(chan struct{})
	close(drained)
	return &Group{
		AGNo:    agno,
		Length:  length,
		Rmap:    rmap,
		drained: drained,
	}
}

func (g *Group) String() string {
	return fmt.Sprintf("ag%d", g.AGNo)
}

// SpaceCounters returns the cached AGF counters, if they have been
// initialized from a good AGF.
func (g *Group) SpaceCounters() containers.Optional[SpaceCounters] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.space
}

func (g *Group) SetSpaceCounters(c SpaceCounters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.space = containers.Optional[SpaceCounters]{OK: true, Val: c}
}

// InodeCounters returns the cached AGI counters, if they have been
// initialized from a good AGI.
func (g *Group) InodeCounters() containers.Optional[InodeCounters] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inodes
}

func (g *Group) SetInodeCounters(c InodeCounters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inodes = containers.Optional[InodeCounters]{OK: true, Val: c}
}

// ForgetSpaceCounters drops the cached free space counters, as when
// the AGF they came from is found to be bad.
func (g *Group) ForgetSpaceCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.space = containers.Optional[SpaceCounters]{}
}

// InodeRange returns the lowest and highest group-relative inode
// numbers that could exist in this group.  Inodes are allocated in
// chunks, and never in the header blocks.
func (g *Group) InodeRange(geom xfsprim.Geometry) (lo, hi xfsprim.AGIno, ok bool) {
	inopb := geom.InodesPerBlock()
	if inopb == 0 {
		return 0, 0, false
	}
	roundUp := func(x uint64) uint64 {
		return (x + xfsprim.InodesPerChunk - 1) / xfsprim.InodesPerChunk * xfsprim.InodesPerChunk
	}
	first := roundUp(uint64(FirstFreeBlock) * uint64(inopb))
	end := uint64(g.Length) * uint64(inopb) / xfsprim.InodesPerChunk * xfsprim.InodesPerChunk
	if end <= first || end-1 >= uint64(xfsprim.NullAGIno) {
		return 0, 0, false
	}
	return xfsprim.AGIno(first), xfsprim.AGIno(end - 1), true
}

// Intent items ////////////////////////////////////////////////////////////////

// IntentHold records that a deferred operation touching this group is
// in flight.
func (g *Group) IntentHold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intents == 0 {
		g.drained = make(chan struct{})
	}
	g.intents++
}

// IntentRele records that a deferred operation has finished.
func (g *Group) IntentRele() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intents == 0 {
		panic(fmt.Errorf("should not happen: %v: intent count underflow", g))
	}
	g.intents--
	if g.intents == 0 {
		close(g.drained)
	}
}

// IntentsBusy returns whether any intents are in flight.
func (g *Group) IntentsBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents > 0
}

// DrainIntents waits until no intents are in flight.
func (g *Group) DrainIntents(ctx context.Context) error {
	g.mu.Lock()
	drained := g.drained
	g.mu.Unlock()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
