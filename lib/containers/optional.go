// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"fmt"
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

// Optional is a value that may be absent.  It encodes to JSON as the
// value, or as null when absent.
type Optional[T any] struct {
	OK  bool
	Val T
}

var (
	_ lowmemjson.Encodable = Optional[bool]{}
	_ lowmemjson.Decodable = (*Optional[bool])(nil)
	_ fmt.Stringer         = Optional[bool]{}
)

func OptionalValue[T any](val T) Optional[T] {
	return Optional[T]{OK: true, Val: val}
}

// EncodeJSON implements lowmemjson.Encodable.
func (o Optional[T]) EncodeJSON(w io.Writer) error {
	if !o.OK {
		_, err := io.WriteString(w, "null")
		return err
	}
	return lowmemjson.Encode(w, o.Val)
}

// DecodeJSON implements lowmemjson.Decodable.
func (o *Optional[T]) DecodeJSON(r io.RuneScanner) error {
	var val *T
	if err := lowmemjson.Decode(r, &val); err != nil {
		return err
	}
	if val == nil {
		*o = Optional[T]{}
	} else {
		*o = OptionalValue(*val)
	}
	return nil
}

func (o Optional[T]) String() string {
	if !o.OK {
		return "absent"
	}
	return fmt.Sprint(o.Val)
}
