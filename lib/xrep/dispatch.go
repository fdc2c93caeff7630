// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"errors"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/containers"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

// ErrRetryLimit is returned by ScrubMetadata when a repair kept
// asking to be retried for more than Config.MaxRetries tries.
var ErrRetryLimit = errors.New("too many repair retries")

// Request is what to scrub.
type Request struct {
	Type  ScrubType
	AGNo  xfsprim.AGNumber // or the realtime group number
	Flags InFlags
	// Inode is the metadata file, for types attached to an inode.
	Inode MetaInode
}

// Report is how a ScrubMetadata call went.
type Report struct {
	Type ScrubType
	AGNo xfsprim.AGNumber
	Out  OutFlags
	// Outcome is how the last repair attempt went; absent if no
	// repair was attempted.
	Outcome  containers.Optional[Outcome]
	Attempts int
	Retries  int
}

// ScrubMetadata checks the object named by req and, if req asks for it
// and the check finds damage, repairs it and checks it again.
//
// Contention (xfserr.ErrDeadlock and xfserr.ErrNeedDrain) from setup,
// from the check, or from the repair, is handled by releasing
// everything and starting over with the matching ScrubFlags set, at
// most Config.MaxRetries times.  If a repair was applied but the
// object is still damaged, the mount is marked as needing an offline
// repair.
func ScrubMetadata(ctx context.Context, m *Mount, req Request) (Report, error) {
	report := Report{
		Type: req.Type,
		AGNo: req.AGNo,
	}
	ops, ok := m.lookupOps(req.Type)
	if !ok {
		return report, fmt.Errorf("%v: %w", req.Type, xfserr.ErrNotSupported)
	}
	if req.Flags.Has(InRepair) && ops.Repair == nil {
		return report, fmt.Errorf("%v: repair: %w", req.Type, xfserr.ErrNotSupported)
	}
	if ops.Kind == KindInode && req.Inode == nil {
		return report, fmt.Errorf("%v: no inode given", req.Type)
	}

	sc := &Scrub{
		Mount: m,
		Ops:   ops,
		Type:  req.Type,
		AGNo:  req.AGNo,
		In:    req.Flags,
		IP:    req.Inode,
	}
	ctx = dlog.WithField(ctx, "xrep.type", req.Type)
	switch ops.Kind {
	case KindPerAG:
		ctx = dlog.WithField(ctx, "xrep.ag", req.AGNo)
	case KindPerRTGroup:
		ctx = dlog.WithField(ctx, "xrep.rtg", req.AGNo)
	case KindInode:
		ctx = dlog.WithField(ctx, "xrep.ino", req.Inode.Ino())
	}

	err := scrubLoop(ctx, sc, &report)
	report.Out = sc.Out
	return report, err
}

// retryable maps a contention error to the flag that a retry needs.
func retryable(sc *Scrub, err error) (ScrubFlags, bool) {
	switch {
	case errors.Is(err, xfserr.ErrDeadlock) && !sc.Flags.Has(TryHarder):
		return TryHarder, true
	case errors.Is(err, xfserr.ErrNeedDrain) && !sc.Flags.Has(NeedDrain):
		return NeedDrain, true
	default:
		return 0, false
	}
}

func scrubLoop(ctx context.Context, sc *Scrub, report *Report) error {
	m := sc.Mount
	retry := func() error {
		if report.Retries >= m.Config.MaxRetries {
			return fmt.Errorf("%v: gave up after %d retries: %w", sc, report.Retries, ErrRetryLimit)
		}
		report.Retries++
		sc.Out &^= OutAll
		return nil
	}

	for {
		ctx := dlog.WithField(ctx, "xrep.attempt", report.Retries)

		// Setup and check.
		err := sc.Ops.Setup(ctx, sc)
		if err == nil {
			err = sc.Ops.Scrub(ctx, sc)
		}
		if err != nil {
			flag, ok := retryable(sc, err)
			_ = sc.teardown(ctx, nil)
			if !ok {
				return err
			}
			dlog.Debugf(ctx, "%v; retrying with %v", err, flag)
			sc.Flags |= flag
			if err := retry(); err != nil {
				return err
			}
			continue
		}
		if sc.Out.Has(OutIncomplete) {
			break
		}

		// Repair.
		if !sc.CouldRepair() {
			break
		}
		if !WillAttempt(sc) {
			sc.Out |= OutNoRepairNeeded
			break
		}
		outcome, err := Attempt(ctx, sc, sc.Ops.Repair)
		report.Attempts++
		report.Outcome = containers.OptionalValue(outcome)
		if err != nil {
			return sc.teardown(ctx, err)
		}
		if outcome.Retry() {
			if err := sc.teardown(ctx, nil); err != nil {
				Failure(ctx, m)
				return err
			}
			if outcome != Succeeded {
				if err := retry(); err != nil {
					return err
				}
			}
			continue
		}
		// Unrepairable: the damage stands, and is reported
		// below.
		break
	}

	if err := sc.teardown(ctx, nil); err != nil {
		return err
	}
	if sc.In.Has(InRepair) && sc.Out&(OutCorrupt|OutXCorrupt) != 0 {
		Failure(ctx, m)
	}
	return nil
}
