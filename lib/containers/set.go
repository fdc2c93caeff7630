// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"io"

	"git.lukeshu.com/go/lowmemjson"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Set is a set of ordered values.  In JSON it is a sorted array.
type Set[T constraints.Ordered] map[T]struct{}

var (
	_ lowmemjson.Encodable = Set[int]{}
	_ lowmemjson.Decodable = (*Set[int])(nil)
)

func NewSet[T constraints.Ordered](members ...T) Set[T] {
	s := make(Set[T], len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func (s Set[T]) Insert(m T) {
	s[m] = struct{}{}
}

func (s Set[T]) Delete(m T) {
	delete(s, m)
}

func (s Set[T]) Has(m T) bool {
	_, ok := s[m]
	return ok
}

// Sorted returns the members, smallest first.
func (s Set[T]) Sorted() []T {
	ret := maps.Keys(s)
	slices.Sort(ret)
	return ret
}

// EncodeJSON implements lowmemjson.Encodable.
func (s Set[T]) EncodeJSON(w io.Writer) error {
	if s == nil {
		_, err := io.WriteString(w, "null")
		return err
	}
	return lowmemjson.Encode(w, s.Sorted())
}

// DecodeJSON implements lowmemjson.Decodable.
func (s *Set[T]) DecodeJSON(r io.RuneScanner) error {
	var members []T
	if err := lowmemjson.Decode(r, &members); err != nil {
		return err
	}
	if members == nil {
		*s = nil
		return nil
	}
	*s = NewSet(members...)
	return nil
}
