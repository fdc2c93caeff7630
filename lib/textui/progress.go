// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
)

// Progress logs the latest value passed to Set every interval, if
// its text changed.  Done logs the final value and stops.
type Progress[T fmt.Stringer] struct {
	ctx      context.Context //nolint:containedctx // for the logger
	lvl      dlog.LogLevel
	interval time.Duration
	stop     context.CancelFunc
	stopped  chan struct{}

	mu       sync.Mutex
	cur      T
	running  bool
	lastLine string
}

func NewProgress[T fmt.Stringer](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, stop := context.WithCancel(ctx)
	return &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,
		stop:     stop,
		stopped:  make(chan struct{}),
	}
}

func (p *Progress[T]) Set(val T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = val
	if !p.running {
		p.running = true
		go p.loop()
	}
}

func (p *Progress[T]) Done() {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	p.stop()
	if running {
		<-p.stopped
	}
}

func (p *Progress[T]) report(always bool) {
	p.mu.Lock()
	line := p.cur.String()
	changed := line != p.lastLine
	p.lastLine = line
	p.mu.Unlock()
	if always || changed {
		dlog.Log(p.ctx, p.lvl, line)
	}
}

func (p *Progress[T]) loop() {
	defer close(p.stopped)
	p.report(true)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.report(false)
			return
		case <-ticker.C:
			p.report(false)
		}
	}
}
