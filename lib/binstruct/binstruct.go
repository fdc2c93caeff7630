// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binstruct encodes and decodes fixed-layout on-disk
// structures.  Plain integer fields are big-endian.  Struct fields
// carry a `bin:"off=...,siz=..."` tag that states their position, and
// a struct ends with an End field marking its size.
package binstruct

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"

	"git.lukeshu.com/xfs-progs-ng/lib/binstruct/binint"
)

type (
	U8    = binint.U8
	U16be = binint.U16be
	U32be = binint.U32be
	U64be = binint.U64be
)

type StaticSizer interface {
	BinaryStaticSize() int
}

// Marshaler is a type that encodes itself.  A type with a
// MarshalBinary method but no BinaryStaticSize (such as uuid.UUID) is
// encoded according to its kind instead.
type Marshaler interface {
	StaticSizer
	encoding.BinaryMarshaler
}

// Unmarshaler is a type that decodes itself from the front of a
// buffer, returning how many bytes it consumed.
type Unmarshaler interface {
	StaticSizer
	UnmarshalBinary([]byte) (int, error)
}

var (
	staticSizerType = reflect.TypeOf((*StaticSizer)(nil)).Elem()

	intKind2Type = map[reflect.Kind]reflect.Type{
		reflect.Uint8:  reflect.TypeOf(U8(0)),
		reflect.Uint16: reflect.TypeOf(U16be(0)),
		reflect.Uint32: reflect.TypeOf(U32be(0)),
		reflect.Uint64: reflect.TypeOf(U64be(0)),
	}
)

type InvalidTypeError struct {
	Type reflect.Type
	Err  error
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("%v: %v", e.Type, e.Err)
}
func (e *InvalidTypeError) Unwrap() error { return e.Err }

type UnmarshalError struct {
	Type   reflect.Type
	Method string
	Err    error
}

func (e *UnmarshalError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%v: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("(%v).%v: %v", e.Type, e.Method, e.Err)
}
func (e *UnmarshalError) Unwrap() error { return e.Err }

// StaticSize returns the encoded size of obj's type.  It panics if
// the type has no fixed size.
func StaticSize(obj any) int {
	sz, err := staticSize(reflect.TypeOf(obj))
	if err != nil {
		panic(err)
	}
	return sz
}

func staticSize(typ reflect.Type) (int, error) {
	if typ.Implements(staticSizerType) {
		return reflect.New(typ).Elem().Interface().(StaticSizer).BinaryStaticSize(), nil
	}
	if t, ok := intKind2Type[typ.Kind()]; ok {
		return staticSize(t)
	}
	switch typ.Kind() {
	case reflect.Array:
		elemSize, err := staticSize(typ.Elem())
		if err != nil {
			return 0, err
		}
		return elemSize * typ.Len(), nil
	case reflect.Struct:
		h, err := getStructHandler(typ)
		return h.Size, err
	default:
		return 0, &InvalidTypeError{
			Type: typ,
			Err:  fmt.Errorf("kind=%v is not a supported statically-sized kind", typ.Kind()),
		}
	}
}

func Marshal(obj any) ([]byte, error) {
	if mar, ok := obj.(Marshaler); ok {
		return mar.MarshalBinary()
	}
	val := reflect.ValueOf(obj)
	if t, ok := intKind2Type[val.Kind()]; ok {
		return Marshal(val.Convert(t).Interface())
	}
	switch val.Kind() {
	case reflect.Array:
		var ret []byte
		for i := 0; i < val.Len(); i++ {
			bs, err := Marshal(val.Index(i).Interface())
			ret = append(ret, bs...)
			if err != nil {
				return ret, err
			}
		}
		return ret, nil
	case reflect.Struct:
		h, err := getStructHandler(val.Type())
		if err != nil {
			return nil, err
		}
		return h.Marshal(val)
	default:
		return nil, &InvalidTypeError{
			Type: val.Type(),
			Err:  fmt.Errorf("kind=%v is not a supported statically-sized kind", val.Kind()),
		}
	}
}

// Unmarshal decodes the front of dat in to the object that dstPtr
// points to, returning the number of bytes consumed.
func Unmarshal(dat []byte, dstPtr any) (int, error) {
	if unmar, ok := dstPtr.(Unmarshaler); ok {
		n, err := unmar.UnmarshalBinary(dat)
		if err != nil {
			err = &UnmarshalError{
				Type:   reflect.TypeOf(dstPtr),
				Method: "UnmarshalBinary",
				Err:    err,
			}
		}
		return n, err
	}
	ptr := reflect.ValueOf(dstPtr)
	if ptr.Kind() != reflect.Ptr {
		return 0, &InvalidTypeError{
			Type: ptr.Type(),
			Err:  errors.New("not a pointer"),
		}
	}
	dst := ptr.Elem()
	if t, ok := intKind2Type[dst.Kind()]; ok {
		tmp := reflect.New(t)
		n, err := Unmarshal(dat, tmp.Interface())
		dst.Set(tmp.Elem().Convert(dst.Type()))
		return n, err
	}
	switch dst.Kind() {
	case reflect.Array:
		var n int
		for i := 0; i < dst.Len(); i++ {
			_n, err := Unmarshal(dat[n:], dst.Index(i).Addr().Interface())
			n += _n
			if err != nil {
				return n, err
			}
		}
		return n, nil
	case reflect.Struct:
		h, err := getStructHandler(dst.Type())
		if err != nil {
			return 0, err
		}
		return h.Unmarshal(dat, dst)
	default:
		return 0, &InvalidTypeError{
			Type: ptr.Type(),
			Err:  fmt.Errorf("kind=%v is not a supported statically-sized kind", dst.Kind()),
		}
	}
}
