// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"git.lukeshu.com/xfs-progs-ng/lib/xfs/xfsprim"
	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

type budgetReport struct {
	AG     xfsprim.AGNumber
	Blocks xfsprim.Extlen
	Size   string
}

func init() {
	var agno uint32
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "estimate-budget",
			Short: "Print how many blocks a repair of one group would reserve",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(vol *volume, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ag, err := vol.checkAG(agno)
			if err != nil {
				return err
			}
			sc := &xrep.Scrub{
				Mount: vol.Mount,
				Type:  xrep.TypeAGF,
				AGNo:  ag,
				In:    xrep.InRepair,
			}
			blocks := xrep.EstimateAGBudget(ctx, sc)
			return writeJSON(os.Stdout, budgetReport{
				AG:     ag,
				Blocks: blocks,
				Size:   humanize.IBytes(uint64(blocks) * uint64(vol.Geom.BlockSize)),
			})
		},
	}
	agFlag(&cmd.Command, &agno)
	inspectors = append(inspectors, cmd)
}
