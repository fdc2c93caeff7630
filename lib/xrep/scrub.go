// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package xrep rebuilds damaged metadata of a mounted volume, using
// the reverse-mapping records as the ground truth.
//
// A scrub of one object (a group header, an inode fork) is checked
// by the object's Scrub function; if it is damaged and the caller
// asked for a repair, the Repair function runs, and the object is
// checked again.  ScrubMetadata drives that loop; Attempt decides,
// from what a Repair function returned, whether to stop or retry.
package xrep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/fmtutil"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsbuf"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// ScrubType ///////////////////////////////////////////////////////////////////

type ScrubType uint8

const (
	TypeAGF ScrubType = iota
	TypeAGI
	TypeInode // the inode record of a metadata file
	TypeBMBTD // data fork mapping
	TypeBMBTA // attribute fork mapping
	TypeRTRmap
	TypeRTRefc
)

var scrubTypeNames = []string{
	TypeAGF:    "agf",
	TypeAGI:    "agi",
	TypeInode:  "inode",
	TypeBMBTD:  "bmapbtd",
	TypeBMBTA:  "bmapbta",
	TypeRTRmap: "rtrmapbt",
	TypeRTRefc: "rtrefcountbt",
}

func (t ScrubType) String() string {
	if int(t) < len(scrubTypeNames) {
		return scrubTypeNames[t]
	}
	return fmt.Sprintf("scrub-type-%d", t)
}

func (t ScrubType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ScrubType) UnmarshalText(dat []byte) error {
	for i, name := range scrubTypeNames {
		if name == string(dat) {
			*t = ScrubType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scrub type: %q", dat)
}

// Kind says what a scrub type is attached to.
type Kind uint8

const (
	KindPerAG Kind = iota
	KindInode
	KindPerRTGroup
)

// Flags ///////////////////////////////////////////////////////////////////////

// InFlags are what the caller asked for.
type InFlags uint8

const (
	InRepair = InFlags(1 << iota)
	InForceRebuild
)

var inFlagNames = []string{
	"REPAIR",
	"FORCE_REBUILD",
}

func (f InFlags) Has(req InFlags) bool { return f&req == req }
func (f InFlags) String() string       { return fmtutil.BitfieldString(f, inFlagNames) }

// OutFlags are what a scrub found.
type OutFlags uint8

const (
	OutCorrupt = OutFlags(1 << iota)
	OutPreen
	OutXFail
	OutXCorrupt
	OutIncomplete
	OutWarning
	OutNoRepairNeeded

	// OutAll is every output flag; a repair attempt clears them
	// all before the object is checked again.
	OutAll = OutCorrupt | OutPreen | OutXFail | OutXCorrupt | OutIncomplete | OutWarning | OutNoRepairNeeded
	// OutNeedsRepair are the flags that a repair would address.
	OutNeedsRepair = OutCorrupt | OutPreen | OutXCorrupt
)

var outFlagNames = []string{
	"CORRUPT",
	"PREEN",
	"XFAIL",
	"XCORRUPT",
	"INCOMPLETE",
	"WARNING",
	"NO_REPAIR_NEEDED",
}

func (f OutFlags) Has(req OutFlags) bool { return f&req == req }
func (f OutFlags) String() string        { return fmtutil.BitfieldString(f, outFlagNames) }

func (f OutFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ScrubFlags are state that carries from one try of a scrub to the
// next.
type ScrubFlags uint8

const (
	// NeedDrain makes setup wait for a group's pending intents
	// instead of failing with xfserr.ErrNeedDrain.
	NeedDrain = ScrubFlags(1 << iota)
	// TryHarder makes setup wait for every lock instead of
	// giving up with xfserr.ErrDeadlock.
	TryHarder
	// AlreadyFixed means that a repair has been applied, and the
	// next check decides whether it worked.
	AlreadyFixed
)

var scrubFlagNames = []string{
	"NEED_DRAIN",
	"TRY_HARDER",
	"ALREADY_FIXED",
}

func (f ScrubFlags) Has(req ScrubFlags) bool { return f&req == req }
func (f ScrubFlags) String() string          { return fmtutil.BitfieldString(f, scrubFlagNames) }

// Mount ///////////////////////////////////////////////////////////////////////

// MetaInode is a metadata file whose own mappings can be repaired.
type MetaInode interface {
	xfsbuf.Joinable
	Ino() uint64
	HasAttrFork() bool
	IsReflink() bool
	ClearReflink()
	ResetAttrFork()
}

// ScrubOps are the check and rebuild functions of one scrub type.
type ScrubOps struct {
	Kind Kind
	// Setup allocates the transaction and takes the locks.
	Setup func(ctx context.Context, sc *Scrub) error
	// Scrub checks the object, and records what it found in
	// sc.Out.  It only returns an error if it could not finish
	// checking.
	Scrub func(ctx context.Context, sc *Scrub) error
	// Repair rebuilds the object.  Nil if the type cannot be
	// repaired.
	Repair func(ctx context.Context, sc *Scrub) error
}

// Mount is the mounted volume that scrubs run against.
type Mount struct {
	Geom     xfsprim.Geometry
	Features xfsprim.Features
	Svc      xfsbuf.Service
	Config   Config
	Stats    *Stats

	groups   map[xfsprim.AGNumber]*xfsag.Group
	rtgroups map[xfsprim.AGNumber]*xfsag.RTGroup

	opsMu sync.RWMutex
	ops   map[ScrubType]*ScrubOps

	needsRepair atomic.Bool
	alertOnce   sync.Once
}

// NewMount returns a Mount with the group header scrubbers
// registered.
func NewMount(geom xfsprim.Geometry, feats xfsprim.Features, svc xfsbuf.Service,
	groups []*xfsag.Group, rtgroups []*xfsag.RTGroup,
) *Mount {
	m := &Mount{
		Geom:     geom,
		Features: feats,
		Svc:      svc,
		Config:   DefaultConfig(),
		Stats:    NewStats(),
		groups:   make(map[xfsprim.AGNumber]*xfsag.Group, len(groups)),
		rtgroups: make(map[xfsprim.AGNumber]*xfsag.RTGroup, len(rtgroups)),
		ops: map[ScrubType]*ScrubOps{
			TypeAGF: agfOps,
			TypeAGI: agiOps,
		},
	}
	for _, g := range groups {
		m.groups[g.AGNo] = g
	}
	for _, rtg := range rtgroups {
		m.rtgroups[rtg.RGNo] = rtg
	}
	return m
}

func (m *Mount) Group(agno xfsprim.AGNumber) (*xfsag.Group, bool) {
	g, ok := m.groups[agno]
	return g, ok
}

func (m *Mount) RTGroup(rgno xfsprim.AGNumber) (*xfsag.RTGroup, bool) {
	rtg, ok := m.rtgroups[rgno]
	return rtg, ok
}

// Register sets (or with nil, removes) the functions for a scrub
// type.
func (m *Mount) Register(typ ScrubType, ops *ScrubOps) {
	m.opsMu.Lock()
	defer m.opsMu.Unlock()
	if ops == nil {
		delete(m.ops, typ)
		return
	}
	m.ops[typ] = ops
}

func (m *Mount) lookupOps(typ ScrubType) (*ScrubOps, bool) {
	m.opsMu.RLock()
	defer m.opsMu.RUnlock()
	ops, ok := m.ops[typ]
	return ops, ok
}

// NeedsOfflineRepair returns whether a repair has failed in a way
// that only an offline repair can fix.
func (m *Mount) NeedsOfflineRepair() bool {
	return m.needsRepair.Load()
}

// Scrub ///////////////////////////////////////////////////////////////////////

// Scrub is one scrub-and-maybe-repair of one object.  It is owned by
// a single goroutine.
type Scrub struct {
	Mount *Mount
	Ops   *ScrubOps
	Type  ScrubType
	AGNo  xfsprim.AGNumber // also the RT group number for KindPerRTGroup

	In    InFlags
	Out   OutFlags
	Flags ScrubFlags

	// Tp is replaced on every roll.
	Tp xfsbuf.Trans
	// SA are the group headers held by this scrub.
	SA GroupHeaders
	// RTG is the realtime group, for KindPerRTGroup types.
	RTG *xfsag.RTGroup
	// IP is the file under repair, for KindInode types.
	IP MetaInode
}

func (sc *Scrub) String() string {
	switch {
	case sc.Ops != nil && sc.Ops.Kind == KindInode && sc.IP != nil:
		return fmt.Sprintf("%v ino=%d", sc.Type, sc.IP.Ino())
	case sc.Ops != nil && sc.Ops.Kind == KindPerRTGroup:
		return fmt.Sprintf("%v rtg=%d", sc.Type, sc.AGNo)
	default:
		return fmt.Sprintf("%v ag=%d", sc.Type, sc.AGNo)
	}
}

// CouldRepair returns whether the caller asked for a repair that
// has not been applied yet.
func (sc *Scrub) CouldRepair() bool {
	return sc.In.Has(InRepair) && !sc.Flags.Has(AlreadyFixed)
}

// teardown releases everything the scrub holds: the group headers,
// then the transaction, which is committed if the scrub was a
// repair and nothing failed.  It returns err, or the commit error.
func (sc *Scrub) teardown(ctx context.Context, err error) error {
	sc.SA.Release(sc.Mount.Svc, sc.Tp)
	if sc.Tp != nil {
		if err == nil && sc.In.Has(InRepair) {
			err = sc.Tp.Commit(ctx)
		} else {
			sc.Tp.Cancel(ctx)
		}
		sc.Tp = nil
	}
	if err != nil {
		dlog.Debugf(ctx, "teardown: %v", err)
	}
	return err
}
