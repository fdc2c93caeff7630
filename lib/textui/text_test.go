// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/xfs-progs-ng/lib/textui"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
)

func TestFprintf(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	_, _ = textui.Fprintf(&out, "%d blocks", 12345)
	assert.Equal(t, "12,345 blocks", out.String())
	assert.Equal(t, "1,000,000", textui.Sprintf("%d", 1000000))
}

func TestPortion(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		In  fmt.Stringer
		Exp string
	}
	testcases := map[string]TestCase{
		"empty":   {In: textui.Portion[int]{}, Exp: "100% (0/0)"},
		"rounds":  {In: textui.Portion[int]{N: 1, D: 12345}, Exp: "0% (1/12,345)"},
		"half":    {In: textui.Portion[xfsprim.Extlen]{N: 2, D: 4}, Exp: "50% (2/4)"},
		"done":    {In: textui.Portion[int64]{N: 4096, D: 4096}, Exp: "100% (4,096/4,096)"},
		"partial": {In: textui.Portion[uint32]{N: 2, D: 3}, Exp: "66% (2/3)"},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.Exp, tc.In.String())
		})
	}
}
