// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"git.lukeshu.com/xfs-progs-ng/lib/xrep"
)

type repairReport struct {
	xrep.Report
	Stats              xrep.TypeStats
	NeedsOfflineRepair bool
}

func init() {
	var agno uint32
	var typ xrep.ScrubType
	var force bool
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "ag",
			Short: "Check and, if damaged, rebuild one header of one group",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(vol *volume, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ag, err := vol.checkAG(agno)
			if err != nil {
				return err
			}
			switch typ {
			case xrep.TypeAGF, xrep.TypeAGI:
			default:
				return fmt.Errorf("--type=%v: not a group header", typ)
			}
			req := xrep.Request{
				Type:  typ,
				AGNo:  ag,
				Flags: xrep.InRepair,
			}
			if force {
				req.Flags |= xrep.InForceRebuild
			}
			report, err := xrep.ScrubMetadata(ctx, vol.Mount, req)
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "%v ag=%v: %v after %d attempts", typ, ag, report.Out, report.Attempts)
			return writeJSON(os.Stdout, repairReport{
				Report:             report,
				Stats:              vol.Mount.Stats.Get(typ),
				NeedsOfflineRepair: vol.Mount.NeedsOfflineRepair(),
			})
		},
	}
	agFlag(&cmd.Command, &agno)
	cmd.Flags().Var(scrubTypeFlag{&typ}, "type", "the header to repair: agf or agi")
	if err := cmd.MarkFlagRequired("type"); err != nil {
		panic(err)
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even if the header checks out")
	repairers = append(repairers, cmd)
}

// scrubTypeFlag is a pflag.Value for a xrep.ScrubType.
type scrubTypeFlag struct {
	typ *xrep.ScrubType
}

var _ pflag.Value = scrubTypeFlag{}

func (f scrubTypeFlag) Type() string   { return "scrubtype" }
func (f scrubTypeFlag) String() string { return f.typ.String() }
func (f scrubTypeFlag) Set(str string) error {
	return f.typ.UnmarshalText([]byte(str))
}
