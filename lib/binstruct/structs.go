// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"git.lukeshu.com/go/typedsync"
)

// End marks the end of a struct; its offset is the struct's size.
type End struct{}

var endType = reflect.TypeOf(End{})

type tag struct {
	off int
	siz int
}

func parseStructTag(str string) (tag, error) {
	var ret tag
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return tag{}, fmt.Errorf("option is not a key=value pair: %q", part)
		}
		n, err := strconv.ParseInt(val, 0, 0)
		if err != nil {
			return tag{}, fmt.Errorf("option %q: %w", key, err)
		}
		switch key {
		case "off":
			ret.off = int(n)
		case "siz":
			ret.siz = int(n)
		default:
			return tag{}, fmt.Errorf("unrecognized option %q", key)
		}
	}
	return ret, nil
}

type structField struct {
	name string
	tag
}

type structHandler struct {
	name   string
	Size   int
	fields []structField
}

func (sh structHandler) Unmarshal(dat []byte, dst reflect.Value) (int, error) {
	if len(dat) < sh.Size {
		return 0, fmt.Errorf("struct %q: need at least %v bytes, only have %v", sh.name, sh.Size, len(dat))
	}
	for i, field := range sh.fields {
		n, err := Unmarshal(dat[field.off:], dst.Field(i).Addr().Interface())
		if err != nil {
			return field.off, fmt.Errorf("struct %q field %v %q: %w", sh.name, i, field.name, err)
		}
		if n != field.siz {
			return field.off + n, fmt.Errorf("struct %q field %v %q: consumed %v bytes but should have consumed %v bytes",
				sh.name, i, field.name, n, field.siz)
		}
	}
	return sh.Size, nil
}

func (sh structHandler) Marshal(val reflect.Value) ([]byte, error) {
	ret := make([]byte, 0, sh.Size)
	for i, field := range sh.fields {
		bs, err := Marshal(val.Field(i).Interface())
		ret = append(ret, bs...)
		if err != nil {
			return ret, fmt.Errorf("struct %q field %v %q: %w", sh.name, i, field.name, err)
		}
	}
	return ret, nil
}

func genStructHandler(typ reflect.Type) (structHandler, error) {
	ret := structHandler{
		name: typ.String(),
	}
	fieldErr := func(i int, err error) error {
		return &InvalidTypeError{
			Type: typ,
			Err:  fmt.Errorf("field %v %q: %w", i, typ.Field(i).Name, err),
		}
	}

	var curOffset int
	sawEnd := false
	for i := 0; i < typ.NumField(); i++ {
		fieldInfo := typ.Field(i)
		if sawEnd {
			return ret, fieldErr(i, fmt.Errorf("field after binstruct.End"))
		}
		if fieldInfo.Anonymous && fieldInfo.Type != endType {
			return ret, fieldErr(i, fmt.Errorf("embedded fields are not supported"))
		}
		fieldTag, err := parseStructTag(fieldInfo.Tag.Get("bin"))
		if err != nil {
			return ret, fieldErr(i, err)
		}
		if fieldTag.off != curOffset {
			return ret, fieldErr(i, fmt.Errorf("tag says off=%#x but curOffset=%#x", fieldTag.off, curOffset))
		}
		fieldSize, err := staticSize(fieldInfo.Type)
		if err != nil {
			return ret, fieldErr(i, err)
		}
		if fieldTag.siz != fieldSize {
			return ret, fieldErr(i, fmt.Errorf("tag says siz=%#x but StaticSize(typ)=%#x", fieldTag.siz, fieldSize))
		}
		curOffset += fieldSize
		sawEnd = fieldInfo.Type == endType
		ret.fields = append(ret.fields, structField{
			name: fieldInfo.Name,
			tag:  fieldTag,
		})
	}
	if !sawEnd {
		return ret, &InvalidTypeError{
			Type: typ,
			Err:  fmt.Errorf("last field is not binstruct.End"),
		}
	}
	ret.Size = curOffset
	return ret, nil
}

var structCache typedsync.Map[reflect.Type, structHandler]

func getStructHandler(typ reflect.Type) (structHandler, error) {
	if typ == endType {
		return structHandler{name: typ.String()}, nil
	}
	if h, ok := structCache.Load(typ); ok {
		return h, nil
	}
	h, err := genStructHandler(typ)
	if err != nil {
		return h, err
	}
	structCache.Store(typ, h)
	return h, nil
}
