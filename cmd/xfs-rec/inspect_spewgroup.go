// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"git.lukeshu.com/xfs-progs-ng/lib/textui"
	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsag"
)

func init() {
	var agno uint32
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "spew-group",
			Short: "Spew the headers and reverse mappings of one group as parsed",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(vol *volume, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ag, err := vol.checkAG(agno)
			if err != nil {
				return err
			}
			g, _ := vol.Group(ag)

			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true

			textui.Fprintf(os.Stdout, "%v: %v blocks (%s)\n", g, g.Length,
				humanize.IBytes(uint64(g.Length)*uint64(vol.Geom.BlockSize)))

			var agf xfsag.AGF
			if err := agf.UnmarshalBinary(vol.Block(vol.Geom.FSBlock(ag, xfsag.AGFBlock))); err != nil {
				dlog.Errorf(ctx, "agf: %v", err)
			} else {
				textui.Fprintf(os.Stdout, "agf = ")
				spew.Dump(agf)
			}

			var agi xfsag.AGI
			if err := agi.UnmarshalBinary(vol.Block(vol.Geom.FSBlock(ag, xfsag.AGIBlock))); err != nil {
				dlog.Errorf(ctx, "agi: %v", err)
			} else {
				textui.Fprintf(os.Stdout, "agi = ")
				spew.Dump(agi)
			}

			return g.Rmap.QueryAll(func(rec xfsag.RmapRecord) error {
				textui.Fprintf(os.Stdout, "rmap %v = ", rec)
				spew.Dump(rec)
				return nil
			})
		},
	}
	agFlag(&cmd.Command, &agno)
	inspectors = append(inspectors, cmd)
}
