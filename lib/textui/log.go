// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"
)

// NewLogger returns a dlog.Logger that writes one line per message
// to out:
//
//	15:04:05.0000 INF ag=3 type=agf : message : other=fields
//
// Fields with a known position are written before the message, in
// that order; all others are written after it, sorted by key.
// Messages above lvl are discarded.
func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	return &logger{
		out: out,
		lvl: lvl,
	}
}

type logger struct {
	out io.Writer
	lvl dlog.LogLevel

	parent *logger // nil for the root
	key    string
	val    any
}

var _ dlog.OptimizedLogger = (*logger)(nil)

// Helper implements dlog.Logger.
func (*logger) Helper() {}

// WithField implements dlog.Logger.
func (l *logger) WithField(key string, value any) dlog.Logger {
	return &logger{
		out:    l.out,
		lvl:    l.lvl,
		parent: l,
		key:    key,
		val:    value,
	}
}

// StdLogger implements dlog.Logger.
func (l *logger) StdLogger(lvl dlog.LogLevel) *log.Logger {
	return log.New(stdWriter{l: l, lvl: lvl}, "", 0)
}

type stdWriter struct {
	l   *logger
	lvl dlog.LogLevel
}

// Write implements io.Writer.
func (w stdWriter) Write(p []byte) (int, error) {
	w.l.emit(w.lvl, func(buf *bytes.Buffer) {
		buf.Write(bytes.TrimSuffix(p, []byte("\n")))
	})
	return len(p), nil
}

// Log implements dlog.Logger.
func (l *logger) Log(lvl dlog.LogLevel, msg string) {
	l.emit(lvl, func(buf *bytes.Buffer) {
		buf.WriteString(msg)
	})
}

// UnformattedLog implements dlog.OptimizedLogger.
func (l *logger) UnformattedLog(lvl dlog.LogLevel, args ...any) {
	l.emit(lvl, func(buf *bytes.Buffer) {
		_, _ = printer.Fprint(buf, args...)
	})
}

// UnformattedLogln implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogln(lvl dlog.LogLevel, args ...any) {
	l.emit(lvl, func(buf *bytes.Buffer) {
		_, _ = printer.Fprintln(buf, args...)
		buf.Truncate(buf.Len() - 1)
	})
}

// UnformattedLogf implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogf(lvl dlog.LogLevel, format string, args ...any) {
	l.emit(lvl, func(buf *bytes.Buffer) {
		_, _ = printer.Fprintf(buf, format, args...)
	})
}

var (
	bufPool = typedsync.Pool[*bytes.Buffer]{
		New: func() *bytes.Buffer { return new(bytes.Buffer) },
	}
	outMu sync.Mutex
)

type logField struct {
	key string
	val any
	pos int
}

// fields returns the fields of l, innermost value winning, in the
// order that they are written.
func (l *logger) fields() []logField {
	seen := make(map[string]struct{})
	var ret []logField
	for f := l; f.parent != nil; f = f.parent {
		if _, dup := seen[f.key]; dup {
			continue
		}
		seen[f.key] = struct{}{}
		ret = append(ret, logField{key: f.key, val: f.val, pos: fieldPos(f.key)})
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].pos != ret[j].pos {
			return ret[i].pos < ret[j].pos
		}
		return ret[i].key < ret[j].key
	})
	return ret
}

func (l *logger) emit(lvl dlog.LogLevel, writeMsg func(*bytes.Buffer)) {
	if lvl > l.lvl {
		return
	}
	buf, _ := bufPool.Get()
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	buf.WriteString(time.Now().Format("15:04:05.0000"))
	buf.WriteByte(' ')
	buf.WriteString(levelShort(lvl))

	fields := l.fields()
	late := sort.Search(len(fields), func(i int) bool { return fields[i].pos >= latePos })
	for _, f := range fields[:late] {
		writeField(buf, f.key, f.val)
	}
	buf.WriteString(" : ")
	writeMsg(buf)
	if late < len(fields) {
		buf.WriteString(" :")
		for _, f := range fields[late:] {
			writeField(buf, f.key, f.val)
		}
	}
	buf.WriteByte('\n')

	outMu.Lock()
	defer outMu.Unlock()
	_, _ = l.out.Write(buf.Bytes())
}

// latePos is the position of fields that are written after the
// message.
const latePos = 1000

// earlyFields are the fields written before the message, outermost
// first.
var earlyFields = []string{
	"THREAD", // dgroup
	"xfs.read-json-file",
	"xrep.type",
	"xrep.ag",
	"xrep.rtg",
	"xrep.ino",
	"xrep.attempt",
	"xrep.subtype",
	"xrep.findroot.type",
	"xrep.findroot.owner",
	"xrep.findroot.agbno",
}

func fieldPos(key string) int {
	for i, early := range earlyFields {
		if key == early {
			return i
		}
	}
	return latePos
}

// fieldName is how a field key is written: the last component of
// keys belonging to this module, the dgroup goroutine name as
// "thread".
func fieldName(key string) string {
	switch {
	case key == "THREAD":
		return "thread"
	case strings.HasPrefix(key, "xrep."), strings.HasPrefix(key, "xfs."), strings.HasPrefix(key, "xfsmem."):
		return key[strings.LastIndexByte(key, '.')+1:]
	default:
		return key
	}
}

func writeField(buf *bytes.Buffer, key string, val any) {
	str := printer.Sprint(val)
	if key == "THREAD" {
		str = strings.TrimPrefix(strings.TrimPrefix(str, "/main"), "/")
		if str == "" {
			return
		}
	}
	if strings.HasPrefix(str, `"`) || strings.IndexFunc(str, func(r rune) bool {
		return r == ' ' || !unicode.IsPrint(r)
	}) >= 0 {
		str = fmt.Sprintf("%q", str)
	}
	fmt.Fprintf(buf, " %s=%s", fieldName(key), str)
}
