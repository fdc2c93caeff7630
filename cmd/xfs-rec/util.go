// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/xfs-progs-ng/lib/textui"
)

// progressReader reports how much of a file has been read, and stops
// reading once ctx is cancelled.
type progressReader struct {
	ctx      context.Context //nolint:containedctx // checked on every Read
	inner    io.Reader
	portion  textui.Portion[int64]
	progress *textui.Progress[textui.Portion[int64]]
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pr.inner.Read(p)
	pr.portion.N += int64(n)
	pr.progress.Set(pr.portion)
	return n, err
}

func readJSONFile[T any](ctx context.Context, filename string) (T, error) {
	var ret T
	fh, err := os.Open(filename)
	if err != nil {
		return ret, err
	}
	defer func() {
		_ = fh.Close()
	}()
	fi, err := fh.Stat()
	if err != nil {
		return ret, err
	}

	ctx = dlog.WithField(ctx, "xfs.read-json-file", filename)
	pr := &progressReader{
		ctx:      ctx,
		inner:    fh,
		portion:  textui.Portion[int64]{D: fi.Size()},
		progress: textui.NewProgress[textui.Portion[int64]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second)),
	}
	defer pr.progress.Done()

	if err := lowmemjson.DecodeThenEOF(bufio.NewReader(pr), &ret); err != nil {
		var zero T
		return zero, err
	}
	return ret, nil
}

// writeJSON writes obj to w as indented JSON.
func writeJSON(w io.Writer, obj any) error {
	buf := bufio.NewWriter(w)
	if err := lowmemjson.Encode(&lowmemjson.ReEncoder{
		Out: buf,

		Indent:                "\t",
		ForceTrailingNewlines: true,
	}, obj); err != nil {
		return err
	}
	return buf.Flush()
}
