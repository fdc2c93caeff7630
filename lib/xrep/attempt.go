// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfserr"
)

// Outcome is what one repair attempt came to.
type Outcome uint8

const (
	// Succeeded means that the rebuild finished; the object must
	// be checked again to know whether it is fixed.
	Succeeded Outcome = iota
	// RetryDrain means that another actor had work in flight in
	// the group; retry after waiting for it.
	RetryDrain
	// RetryEscalate means that the locks could not be taken one at
	// a time; retry taking all of them up front.
	RetryEscalate
	// Unrepairable means that even with every lock taken, the
	// rebuild could not get what it needed.  The damage stands.
	Unrepairable
	// Fatal means that the rebuild failed for some other reason,
	// which is not retried.
	Fatal
)

var outcomeNames = []string{
	Succeeded:     "succeeded",
	RetryDrain:    "retry-drain",
	RetryEscalate: "retry-escalate",
	Unrepairable:  "unrepairable",
	Fatal:         "fatal",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome-%d", o)
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Retry returns whether the outcome calls for running the scrub
// again.
func (o Outcome) Retry() bool {
	return o == Succeeded || o == RetryDrain || o == RetryEscalate
}

// WillAttempt returns whether a repair should run, given what the
// caller asked for and what the check found.
func WillAttempt(sc *Scrub) bool {
	if !sc.In.Has(InRepair) {
		return false
	}
	if sc.In.Has(InForceRebuild) {
		return true
	}
	return sc.Out&OutNeedsRepair != 0
}

// Attempt runs one repair of the scrub's object, and classifies how
// it went.  The returned error is only non-nil for Fatal, and is then
// exactly what run returned.
func Attempt(ctx context.Context, sc *Scrub, run func(context.Context, *Scrub) error) (Outcome, error) {
	stats := sc.Mount.Stats
	stats.attempted(sc.Type)
	dlog.Debugf(ctx, "repair: start, out=%v flags=%v", sc.Out, sc.Flags)

	start := time.Now()
	err := run(ctx, sc)
	stats.observe(sc.Type, time.Since(start))

	switch {
	case err == nil:
		sc.Out &^= OutAll
		sc.Flags |= AlreadyFixed
		stats.succeeded(sc.Type)
		dlog.Debugf(ctx, "repair: done")
		return Succeeded, nil
	case errors.Is(err, xfserr.ErrNeedDrain):
		sc.Flags |= NeedDrain
		stats.retried(sc.Type)
		dlog.Debugf(ctx, "repair: %v; draining and retrying", err)
		return RetryDrain, nil
	case errors.Is(err, xfserr.ErrDeadlock):
		if sc.Flags.Has(TryHarder) {
			dlog.Debugf(ctx, "repair: %v, even trying harder; giving up", err)
			return Unrepairable, nil
		}
		sc.Flags |= TryHarder
		stats.retried(sc.Type)
		dlog.Debugf(ctx, "repair: %v; retrying harder", err)
		return RetryEscalate, nil
	default:
		dlog.Debugf(ctx, "repair: %v", err)
		return Fatal, err
	}
}

// Failure records that a repair did not fix the damage, and that the
// volume needs an offline repair.  The operator is alerted once per
// mount.
func Failure(ctx context.Context, m *Mount) {
	m.needsRepair.Store(true)
	m.alertOnce.Do(func() {
		dlog.Errorf(ctx, "Corruption not fixed during online repair.  Unmount and run xfs_repair.")
	})
}
