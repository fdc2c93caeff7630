// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui formats text meant for people: log lines, progress
// reports, and numbers with digit grouping.
package textui

import (
	"fmt"
	"io"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer groups the digits of numbers ("12,345").
var printer = message.NewPrinter(language.English)

// Fprintf is fmt.Fprintf with digit grouping.  Calls to it mark
// output that is part of the user interface.
func Fprintf(w io.Writer, format string, a ...any) (int, error) {
	return printer.Fprintf(w, format, a...)
}

// Sprintf is fmt.Sprintf with digit grouping.
func Sprintf(format string, a ...any) string {
	return printer.Sprintf(format, a...)
}

// Portion is N out of D, written as a percentage followed by the
// exact fraction:
//
//	Portion[int]{N: 1, D: 12345} => "0% (1/12,345)"
//
// An empty whole counts as complete.
type Portion[T constraints.Integer] struct {
	N, D T
}

var _ fmt.Stringer = Portion[int]{}

// String implements fmt.Stringer.
func (p Portion[T]) String() string {
	n, d := uint64(p.N), uint64(p.D)
	pct := uint64(100)
	if d != 0 {
		pct = n * 100 / d
	}
	return printer.Sprintf("%d%% (%v/%v)", pct, n, d)
}
