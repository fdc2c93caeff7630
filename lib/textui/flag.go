// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/pflag"
)

var levelNames = []struct {
	lvl   dlog.LogLevel
	name  string
	short string
}{
	{dlog.LogLevelError, "error", "ERR"},
	{dlog.LogLevelWarn, "warn", "WRN"},
	{dlog.LogLevelInfo, "info", "INF"},
	{dlog.LogLevelDebug, "debug", "DBG"},
	{dlog.LogLevelTrace, "trace", "TRC"},
}

func levelShort(lvl dlog.LogLevel) string {
	for _, ln := range levelNames {
		if ln.lvl == lvl {
			return ln.short
		}
	}
	return "???"
}

// LogLevelFlag is a pflag.Value naming a dlog.LogLevel.
type LogLevelFlag struct {
	Level dlog.LogLevel
}

var _ pflag.Value = (*LogLevelFlag)(nil)

// Type implements pflag.Value.
func (f *LogLevelFlag) Type() string { return "loglevel" }

// Set implements pflag.Value.
func (f *LogLevelFlag) Set(str string) error {
	str = strings.ToLower(str)
	if str == "warning" {
		str = "warn"
	}
	for _, ln := range levelNames {
		if ln.name == str {
			f.Level = ln.lvl
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %q", str)
}

// String implements pflag.Value.
func (f *LogLevelFlag) String() string {
	for _, ln := range levelNames {
		if ln.lvl == f.Level {
			return ln.name
		}
	}
	panic(fmt.Errorf("invalid log level: %#v", f.Level))
}
